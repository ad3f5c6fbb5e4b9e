// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package forwarder issues streaming HTTP requests to the loopback local
// origin on behalf of a decoded remote request, and collects the response
// (spec.md §4.2).
package forwarder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/segmentio/encoding/json"
)

// DefaultTotalTimeout bounds the whole request/response round trip when the
// request isn't the shell-exec route (spec.md §4.2).
const DefaultTotalTimeout = 30 * time.Second

// ConnectTimeout bounds dialing the loopback origin.
const ConnectTimeout = 5 * time.Second

// ShellExecTimeoutMargin is added to a shell-exec request's own declared
// timeout to get the forwarder's read deadline (spec.md §4.2).
const ShellExecTimeoutMargin = 3 * time.Second

// ShellExecPath is the route whose JSON body's numeric "timeout" field
// extends the forwarder's read timeout.
const ShellExecPath = "/shell/exec"

// Request is everything the Forwarder needs to issue one loopback HTTP
// call (spec.md §4.2).
type Request struct {
	Method  string
	Path    string
	Query   string
	Headers map[string]string
	Body    []byte
}

// Response is the collected status/headers of a forwarded request. Body is
// a stream: the caller reads it (typically splitting into outbound WS
// chunks as it goes) and must Close it when done, so the origin's output
// is never buffered in full by the Forwarder itself (spec.md §4.2).
type Response struct {
	Status  int
	Headers map[string]string
	Body    io.ReadCloser
}

// Forwarder proxies decoded remote requests to a loopback HTTP origin.
type Forwarder struct {
	// Port is the loopback port the local origin listens on.
	Port int

	// transport is overridable in tests to avoid real dialing.
	transport http.RoundTripper
}

// New returns a Forwarder targeting http://127.0.0.1:<port>.
func New(port int) *Forwarder {
	return &Forwarder{
		Port: port,
		transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: ConnectTimeout}).DialContext,
		},
	}
}

// Forward issues req against the loopback origin and returns a streaming
// Response. It never returns an error: transport failures are turned into
// a synthetic 500 response (spec.md §4.2, §7 category 5), so the Tunnel
// Session can always encode something back to the cloud. The returned
// Response.Body is always non-nil and must be closed by the caller.
//
// ctx controls the whole round trip; its deadline is set per the timeout
// policy in spec.md §4.2 (readTimeout) before this call returns, so the
// caller's subsequent Body reads are bounded by the same deadline.
func (f *Forwarder) Forward(ctx context.Context, req Request) Response {
	ctx, cancel := context.WithTimeout(ctx, f.readTimeout(req))

	url := fmt.Sprintf("http://127.0.0.1:%d%s", f.Port, req.Path)
	if req.Query != "" {
		url += "?" + req.Query
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		cancel()
		return transportError(req, fmt.Errorf("forwarder: build request: %w", err))
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	client := &http.Client{Transport: f.transport}
	resp, err := client.Do(httpReq)
	if err != nil {
		cancel()
		return transportError(req, err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	body := &cancelingReadCloser{ReadCloser: resp.Body, cancel: cancel}

	if resp.StatusCode >= 400 {
		if enriched, ok := enrichIfEmpty(resp.StatusCode, req, body); ok {
			return Response{Status: resp.StatusCode, Headers: withJSONContentType(headers), Body: enriched}
		}
	}

	return Response{Status: resp.StatusCode, Headers: headers, Body: body}
}

// enrichIfEmpty peeks at body: if it is already exhausted (the origin sent
// an empty error body), it returns a synthetic JSON body instead and true.
// Otherwise it returns a ReadCloser equivalent to the original, untouched
// body and false, so the real content is streamed through unmodified.
func enrichIfEmpty(status int, req Request, body io.ReadCloser) (io.ReadCloser, bool) {
	peek := make([]byte, 1)
	n, err := io.ReadFull(body, peek)
	if n == 0 && err != nil {
		body.Close()
		return io.NopCloser(bytes.NewReader(enrichEmptyError(status, req))), true
	}
	// Body has content: reassemble a reader that replays the peeked byte
	// followed by the rest of the stream.
	return &prefixedReadCloser{prefix: peek[:n], rest: body}, false
}

func withJSONContentType(headers map[string]string) map[string]string {
	headers["content-type"] = "application/json"
	return headers
}

func enrichEmptyError(status int, req Request) []byte {
	detail := struct {
		Detail string `json:"detail"`
		Status int    `json:"status"`
		Method string `json:"method"`
		Path   string `json:"path"`
	}{
		Detail: http.StatusText(status),
		Status: status,
		Method: req.Method,
		Path:   req.Path,
	}
	data, err := json.Marshal(detail)
	if err != nil {
		// json.Marshal on a struct of plain fields cannot fail; this is
		// only reached if that invariant is ever violated.
		return []byte(`{"detail":"unknown error"}`)
	}
	return data
}

func transportError(req Request, err error) Response {
	msg := err.Error()
	return Response{
		Status:  http.StatusInternalServerError,
		Headers: map[string]string{"content-type": "text/plain"},
		Body:    io.NopCloser(bytes.NewReader([]byte(msg))),
	}
}

// readTimeout computes the per-request timeout policy (spec.md §4.2): the
// default, unless this is the shell-exec route with a numeric "timeout"
// field in the JSON body, in which case it's timeout+3s.
func (f *Forwarder) readTimeout(req Request) time.Duration {
	if req.Path != ShellExecPath {
		return DefaultTotalTimeout
	}
	var payload struct {
		Timeout *float64 `json:"timeout"`
	}
	if err := json.Unmarshal(req.Body, &payload); err != nil || payload.Timeout == nil {
		return DefaultTotalTimeout
	}
	return time.Duration(*payload.Timeout*float64(time.Second)) + ShellExecTimeoutMargin
}

// cancelingReadCloser cancels the request context once the body is closed,
// so the timeout context set up in Forward doesn't leak.
type cancelingReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelingReadCloser) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

// prefixedReadCloser replays prefix before reading the rest of the stream.
type prefixedReadCloser struct {
	prefix []byte
	rest   io.ReadCloser
}

func (p *prefixedReadCloser) Read(buf []byte) (int, error) {
	if len(p.prefix) > 0 {
		n := copy(buf, p.prefix)
		p.prefix = p.prefix[n:]
		return n, nil
	}
	return p.rest.Read(buf)
}

func (p *prefixedReadCloser) Close() error {
	return p.rest.Close()
}
