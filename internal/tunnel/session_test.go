package tunnel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/segmentio/encoding/json"

	"github.com/cyberdesk-hq/cyberdriver/internal/forwarder"
	"github.com/cyberdesk-hq/cyberdriver/internal/frame"
	"github.com/cyberdesk-hq/cyberdriver/internal/idempotency"
	"github.com/cyberdesk-hq/cyberdriver/internal/keepalive"
)

// cloudWriter adapts a *websocket.Conn to frame.Writer for the fake-cloud
// side of these tests.
type cloudWriter struct{ conn *websocket.Conn }

func (w cloudWriter) WriteText(data []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, data)
}
func (w cloudWriter) WriteBinary(data []byte) error {
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

// readResponse reads one full response (meta, chunks, end) off conn.
func readResponse(t *testing.T, conn *websocket.Conn) (frame.ResponseMeta, []byte) {
	t.Helper()
	var meta frame.ResponseMeta
	var body []byte
	var gotMeta bool
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read response: %v", err)
		}
		if msgType == websocket.TextMessage {
			if string(payload) == frame.EndMarker {
				return meta, body
			}
			if err := json.Unmarshal(payload, &meta); err != nil {
				t.Fatalf("unmarshal response meta: %v", err)
			}
			gotMeta = true
			continue
		}
		if !gotMeta {
			t.Fatalf("binary frame before meta")
		}
		body = append(body, payload...)
	}
}

// newTestEnv spins up a loopback origin and a fake-cloud TLS WebSocket
// server, then runs a Session against it until the returned cancel func is
// called. Returns the cloud-side *websocket.Conn for the test to drive.
func newTestEnv(t *testing.T, originHandler http.HandlerFunc) (*websocket.Conn, func()) {
	t.Helper()
	origin := httptest.NewServer(originHandler)

	connCh := make(chan *websocket.Conn, 1)
	cloud := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- conn
	}))

	host, portStr, _ := strings.Cut(strings.TrimPrefix(cloud.URL, "https://"), ":")
	port := 0
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}

	originPort := 0
	originHost, originPortStr, _ := strings.Cut(strings.TrimPrefix(origin.URL, "http://"), ":")
	_ = originHost
	for _, c := range originPortStr {
		originPort = originPort*10 + int(c-'0')
	}

	fwd := forwarder.New(originPort)
	cache := idempotency.New()
	coord := keepalive.New(time.Hour, keepalive.StubActuator{}, zerolog.Nop())

	cfg := Config{Host: host, Port: port, Secret: "s3cr3t", Fingerprint: "fp-1", Version: "1.0.0"}
	session := NewSession(cfg, fwd, cache, coord, zerolog.Nop())
	session.insecureSkipVerify = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Termination, 1)
	go func() { done <- session.Run(ctx) }()

	var cloudConn *websocket.Conn
	select {
	case cloudConn = <-connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("cloud server never saw a connection")
	}

	return cloudConn, func() {
		cancel()
		<-done
		cloud.Close()
		origin.Close()
	}
}

func TestSession_SimpleGET(t *testing.T) {
	cloudConn, cleanup := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/plain")
		w.Write([]byte("pong"))
	})
	defer cleanup()

	enc := frame.NewEncoder()
	err := enc.EncodeRequest(cloudWriter{cloudConn}, frame.RequestMeta{
		RequestID: "r1", Method: "GET", Path: "/ping", Query: "", Headers: map[string]string{},
	}, nil, 0)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}

	meta, body := readResponse(t, cloudConn)
	if meta.RequestID != "r1" || meta.Status != 200 {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if string(body) != "pong" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestSession_IdempotentDoubleSend(t *testing.T) {
	var calls int
	cloudConn, cleanup := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("hit"))
	})
	defer cleanup()

	enc := frame.NewEncoder()
	send := func(id string) (frame.ResponseMeta, []byte) {
		if err := enc.EncodeRequest(cloudWriter{cloudConn}, frame.RequestMeta{
			RequestID: id, Method: "GET", Path: "/x", Query: "",
			Headers: map[string]string{"X-Idempotency-Key": "abc"},
		}, nil, 0); err != nil {
			t.Fatalf("encode request: %v", err)
		}
		return readResponse(t, cloudConn)
	}

	_, body1 := send("r1")
	_, body2 := send("r2")

	if calls != 1 {
		t.Fatalf("expected origin invoked once, got %d", calls)
	}
	if string(body1) != string(body2) {
		t.Fatalf("responses differ: %q vs %q", body1, body2)
	}
}

func TestSession_ChunkedBody(t *testing.T) {
	payload := make([]byte, 40000)
	for i := range payload {
		payload[i] = byte(i)
	}
	cloudConn, cleanup := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})
	defer cleanup()

	enc := frame.NewEncoder()
	if err := enc.EncodeRequest(cloudWriter{cloudConn}, frame.RequestMeta{
		RequestID: "r1", Method: "GET", Path: "/blob", Query: "", Headers: map[string]string{},
	}, nil, 0); err != nil {
		t.Fatalf("encode request: %v", err)
	}

	_, body := readResponse(t, cloudConn)
	if len(body) != len(payload) {
		t.Fatalf("expected %d bytes, got %d", len(payload), len(body))
	}
	for i := range payload {
		if body[i] != payload[i] {
			t.Fatalf("body mismatch at byte %d", i)
		}
	}
}
