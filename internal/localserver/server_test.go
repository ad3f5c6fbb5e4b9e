package localserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyberdesk-hq/cyberdriver/internal/keepalive"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	coord := keepalive.New(time.Hour, keepalive.StubActuator{}, zerolog.Nop())
	srv := New(coord, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestControlEndpoints_Return204(t *testing.T) {
	_, ts := newTestServer(t)
	for _, path := range []string{
		"/internal/keepalive/remote/activity",
		"/internal/keepalive/remote/enable",
		"/internal/keepalive/remote/disable",
	} {
		resp, err := http.Post(ts.URL+path, "", nil)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("POST %s: status = %d, want 204", path, resp.StatusCode)
		}
	}
}

func TestNoBufferingHeaders(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/anything")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Accel-Buffering"); got != "no" {
		t.Errorf("X-Accel-Buffering = %q, want \"no\"", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q, want \"no-cache\"", got)
	}
}

func TestCatchAll_ReturnsNotImplemented(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/screen/capture")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", resp.StatusCode)
	}
}

func TestEnableEndpoint_WakesCoordinator(t *testing.T) {
	coord := keepalive.New(time.Millisecond, keepalive.StubActuator{}, zerolog.Nop())
	srv := New(coord, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	resp, err := http.Post(ts.URL+"/internal/keepalive/remote/enable", "", nil)
	if err != nil {
		t.Fatalf("POST enable: %v", err)
	}
	resp.Body.Close()

	// The endpoint enabling the coordinator should not itself error or
	// hang; WaitUntilIdle must still return promptly once any scheduled
	// action (if one ran) completes.
	idleCtx, idleCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer idleCancel()
	if err := coord.WaitUntilIdle(idleCtx); err != nil {
		t.Fatalf("WaitUntilIdle: %v", err)
	}
}
