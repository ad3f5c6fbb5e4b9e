// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package tunnel implements the Tunnel Session and Reconnect Supervisor
// (spec.md §4.4, §4.5): the reverse-tunnel WebSocket client, its
// receive/dispatch/send lifecycle, and the retry loop that owns it.
package tunnel

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cyberdesk-hq/cyberdriver/internal/forwarder"
	"github.com/cyberdesk-hq/cyberdriver/internal/frame"
	"github.com/cyberdesk-hq/cyberdriver/internal/idempotency"
	"github.com/cyberdesk-hq/cyberdriver/internal/keepalive"
)

// PingInterval, PingTimeout and CloseTimeout are the WebSocket options
// required for NAT/proxy survival (spec.md §4.4 step 3).
const (
	PingInterval = 20 * time.Second
	PingTimeout  = 20 * time.Second
	CloseTimeout = 3 * time.Second
)

// IncomingQueueBound is the depth of the channel between the receive loop
// and dispatch goroutines (spec.md §4.4 step 3, §5: "incoming-queue bound
// 32").
const IncomingQueueBound = 32

// Config is the Connection Config a Session dials with (spec.md §3).
type Config struct {
	Host               string
	Port               int
	Secret             string
	Fingerprint        string
	Version            string
	LoopbackPort       int
	RemoteKeepaliveFor string
}

// url returns the wss:// endpoint this Config dials (spec.md §6).
func (c Config) url() string {
	return fmt.Sprintf("wss://%s:%d/tunnel/ws", c.Host, c.Port)
}

func (c Config) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.Secret)
	h.Set("X-PIGLET-FINGERPRINT", c.Fingerprint)
	h.Set("X-PIGLET-VERSION", c.Version)
	if c.RemoteKeepaliveFor != "" {
		h.Set("X-Remote-Keepalive-For", c.RemoteKeepaliveFor)
	}
	return h
}

// Session is one WebSocket connection's lifetime (spec.md §4.4). Construct
// a fresh Session for every Supervisor attempt; it is not reusable after
// Run returns.
type Session struct {
	cfg         Config
	forwarder   *forwarder.Forwarder
	idempotency *idempotency.Cache
	coordinator *keepalive.Coordinator
	log         zerolog.Logger

	encoder *frame.Encoder
	sendMu  sync.Mutex // held for the duration of one whole response (spec.md §9)
	wsConn  *websocket.Conn

	// insecureSkipVerify is only ever set by tests dialing an
	// httptest.NewTLSServer, whose certificate isn't CA-signed.
	insecureSkipVerify bool
}

// NewSession returns a Session. coordinator is expected to be a singleton
// shared across reconnects (spec.md §2: "The Activity Coordinator ... is a
// singleton shared across sessions").
func NewSession(cfg Config, fwd *forwarder.Forwarder, cache *idempotency.Cache, coordinator *keepalive.Coordinator, log zerolog.Logger) *Session {
	return &Session{
		cfg:         cfg,
		forwarder:   fwd,
		idempotency: cache,
		coordinator: coordinator,
		log:         log.With().Str("component", "tunnel_session").Str("session_id", uuid.NewString()).Logger(),
		encoder:     frame.NewEncoder(),
	}
}

// Run dials, serves one connection to completion, and returns the
// Termination describing why it ended (spec.md §4.4 step 5). Cancelling
// ctx initiates a client close handshake bounded by CloseTimeout (spec.md
// §5).
func (s *Session) Run(ctx context.Context) Termination {
	start := time.Now()

	conn, term := s.dial(ctx)
	if conn == nil {
		term.Duration = time.Since(start)
		return term
	}
	defer conn.Close()
	s.wsConn = conn

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn.SetReadLimit(0) // unlimited max message size (spec.md §4.4 step 3)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(PingInterval + PingTimeout))
	})
	conn.SetReadDeadline(time.Now().Add(PingInterval + PingTimeout))

	// group owns the lifecycle of every goroutine this connection spawns
	// (ping, close-watch, and one per in-flight dispatch): Run doesn't
	// return until all of them have, bounding shutdown to the close
	// handshake's read-deadline cutoff (spec.md §5).
	var group errgroup.Group
	group.Go(func() error { s.pingLoop(connCtx, conn); return nil })
	group.Go(func() error { s.watchCancel(connCtx, conn); return nil })

	term = s.serve(connCtx, conn, &group)
	term.Duration = time.Since(start)

	// Cancel before waiting so pingLoop and watchCancel also stop when the
	// connection ended on its own (peer close, transport or protocol error).
	cancel()
	group.Wait()
	return term
}

// watchCancel initiates the client close handshake as soon as ctx is
// cancelled (spec.md §5: "Cancelling the Supervisor must... cancel the
// current Session, which initiates a client close handshake (<=3s)"),
// then bounds the blocked read in serve's loop to CloseTimeout so it
// unblocks even if the peer never answers.
func (s *Session) watchCancel(ctx context.Context, conn *websocket.Conn) {
	<-ctx.Done()
	s.closeHandshake(conn)
	conn.SetReadDeadline(time.Now().Add(CloseTimeout))
}

// dial performs the handshake (spec.md §4.4 step 1) with a fresh TLS
// configuration (step 2: "always create a fresh TLS configuration per
// attempt... do not reuse sessions across attempts").
func (s *Session) dial(ctx context.Context) (*websocket.Conn, Termination) {
	dialer := &websocket.Dialer{
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: s.insecureSkipVerify}, // fresh per attempt; never cached
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, s.cfg.url(), s.cfg.headers())
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			return nil, Termination{Kind: AuthFailed, Cause: err}
		}
		return nil, Termination{Kind: TransportError, Cause: fmt.Errorf("tunnel: dial: %w", err)}
	}
	return conn, Termination{}
}

// pingLoop sends an application-level ping every PingInterval until ctx is
// cancelled (spec.md §4.4 step 3). Failure to write a ping is left for the
// read loop's deadline to notice and surface as a TransportError.
func (s *Session) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(PingTimeout))
			s.sendMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// serve runs the receive loop, decoding frames and dispatching completed
// requests, until the connection ends (spec.md §4.4 step 4-5).
func (s *Session) serve(ctx context.Context, conn *websocket.Conn, group *errgroup.Group) Termination {
	decoder := frame.NewDecoder()
	var current frame.RequestMeta
	var body bytes.Buffer

	incoming := make(chan struct{}, IncomingQueueBound)
	defer close(incoming)

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Termination{Kind: Closed, Cause: ctx.Err()}
			}
			return classifyReadError(err)
		}

		var kind frame.MessageType
		switch msgType {
		case websocket.TextMessage:
			kind = frame.TextMessage
		case websocket.BinaryMessage:
			kind = frame.BinaryMessage
		default:
			continue
		}

		item, decErr := decoder.Feed(kind, payload)
		if decErr != nil {
			return Termination{Kind: ProtocolError, Cause: decErr}
		}

		switch item.Kind {
		case frame.KindMeta:
			current = item.Meta
			body.Reset()
		case frame.KindChunk:
			body.Write(item.Chunk)
		case frame.KindEnd:
			reqMeta := current
			reqBody := append([]byte(nil), body.Bytes()...)

			select {
			case incoming <- struct{}{}:
			case <-ctx.Done():
				return Termination{Kind: Closed}
			}

			group.Go(func() error {
				defer func() { <-incoming }()
				s.dispatch(ctx, reqMeta, reqBody)
				return nil
			})
		}
	}
}

// dispatch handles one fully-received request (spec.md §4.4 step 4):
// mark activity, wait until idle, consult the idempotency cache, forward,
// then encode the response back.
func (s *Session) dispatch(ctx context.Context, meta frame.RequestMeta, body []byte) {
	log := s.log.With().Str("request_id", meta.RequestID).Logger()

	s.coordinator.MarkActivity()
	if err := s.coordinator.WaitUntilIdle(ctx); err != nil {
		return
	}

	idemKey := headerValue(meta.Headers, "X-Idempotency-Key")
	if cached, ok := s.idempotency.Lookup(idemKey); ok {
		log.Debug().Str("method", meta.Method).Str("path", meta.Path).Msg("idempotency cache hit")
		s.writeResponse(ctx, frame.ResponseMeta{RequestID: meta.RequestID, Status: cached.Status, Headers: cached.Headers}, bytes.NewReader(cached.Body))
		return
	}

	resp := s.forwarder.Forward(ctx, forwarder.Request{
		Method:  meta.Method,
		Path:    meta.Path,
		Query:   meta.Query,
		Headers: meta.Headers,
		Body:    body,
	})
	defer resp.Body.Close()

	respMeta := frame.ResponseMeta{RequestID: meta.RequestID, Status: resp.Status, Headers: resp.Headers}

	log.Debug().Str("method", meta.Method).Str("path", meta.Path).Int("status", resp.Status).Msg("forwarded")

	if idemKey == "" {
		s.writeResponse(ctx, respMeta, resp.Body)
		return
	}

	var captured bytes.Buffer
	tee := io.TeeReader(resp.Body, &captured)
	if err := s.writeResponseErr(ctx, respMeta, tee); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
		return
	}
	s.idempotency.Store(idemKey, idempotency.Response{
		Status:  resp.Status,
		Headers: resp.Headers,
		Body:    captured.Bytes(),
	})
}

func (s *Session) writeResponse(ctx context.Context, meta frame.ResponseMeta, body io.Reader) {
	if err := s.writeResponseErr(ctx, meta, body); err != nil {
		s.log.Warn().Err(err).Str("request_id", meta.RequestID).Msg("failed to write response")
	}
}

// writeResponseErr serializes one full response (meta, chunks, end) behind
// sendMu so concurrent dispatches never interleave their frames on the
// wire (spec.md §4.4, §5, §9).
func (s *Session) writeResponseErr(ctx context.Context, meta frame.ResponseMeta, body io.Reader) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	w := connWriter{conn: s.wsConn}
	return s.encoder.EncodeResponseStream(w, meta, body)
}

func (s *Session) closeHandshake(conn *websocket.Conn) {
	s.sendMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(CloseTimeout))
	s.sendMu.Unlock()
}

// connWriter adapts a *websocket.Conn to frame.Writer.
type connWriter struct {
	conn *websocket.Conn
}

func (w connWriter) WriteText(data []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, data)
}
func (w connWriter) WriteBinary(data []byte) error {
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// classifyReadError maps a gorilla/websocket read error to a Termination
// (spec.md §4.5 step 3, §7).
func classifyReadError(err error) Termination {
	if ce, ok := err.(*websocket.CloseError); ok {
		switch ce.Code {
		case 4001:
			return Termination{Kind: AuthFailed, Cause: err}
		case 4008:
			return Termination{Kind: RateLimited, RateLimitSeconds: parseRateLimitSeconds(ce.Text), Cause: err}
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return Termination{Kind: Closed, Cause: err}
		}
		return Termination{Kind: Closed, Cause: err}
	}
	return Termination{Kind: TransportError, Cause: err}
}

// parseRateLimitSeconds extracts N from a close reason shaped like "Wait
// N seconds" (spec.md §4.5), defaulting to 60 if it can't be parsed.
func parseRateLimitSeconds(reason string) int {
	fields := strings.Fields(reason)
	for _, f := range fields {
		if n, err := strconv.Atoi(f); err == nil {
			return n
		}
	}
	return 60
}
