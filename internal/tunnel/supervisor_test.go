package tunnel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cyberdesk-hq/cyberdriver/internal/forwarder"
	"github.com/cyberdesk-hq/cyberdriver/internal/idempotency"
	"github.com/cyberdesk-hq/cyberdriver/internal/keepalive"
)

// TestBackoffDelay_Invariant checks spec.md §8: "min(1*2^i,16) <= s_i <=
// 1.3*min(1*2^i,16)".
func TestBackoffDelay_Invariant(t *testing.T) {
	for i := 0; i < 10; i++ {
		base := MinBackoff
		for j := 0; j < i; j++ {
			base *= 2
			if base >= MaxBackoff {
				base = MaxBackoff
				break
			}
		}
		for trial := 0; trial < 50; trial++ {
			d := backoffDelay(i)
			if d < base {
				t.Fatalf("i=%d: delay %v below floor %v", i, d, base)
			}
			if d > time.Duration(float64(base)*1.3)+time.Millisecond {
				t.Fatalf("i=%d: delay %v above ceiling %v", i, d, time.Duration(float64(base)*1.3))
			}
		}
	}
}

// TestSupervisor_ReconnectsAndExitsOnAuthFailure drives a real Supervisor
// against a fake cloud server that closes the first connection normally
// (exercising the short-session backoff path) and rejects the second with
// close code 4001 (spec.md §4.5, §7 category 3).
func TestSupervisor_ReconnectsAndExitsOnAuthFailure(t *testing.T) {
	var connects int32

	cloud := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := atomic.AddInt32(&connects, 1)
		if n == 1 {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(4001, "invalid secret"),
			time.Now().Add(time.Second))
	}))
	defer cloud.Close()

	host, portStr, _ := strings.Cut(strings.TrimPrefix(cloud.URL, "https://"), ":")
	port := 0
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}

	cfg := Config{Host: host, Port: port, Secret: "s", Fingerprint: "fp", Version: "v"}
	fwd := forwarder.New(1)
	cache := idempotency.New()
	coord := keepalive.New(time.Hour, keepalive.StubActuator{}, zerolog.Nop())

	sup := NewSupervisor(cfg, fwd, cache, coord, zerolog.Nop())
	sup.sleep = func(ctx context.Context, d time.Duration) error { return nil } // skip real backoff sleeps
	sup.newSession = func() *Session {
		s := NewSession(cfg, fwd, cache, coord, zerolog.Nop())
		s.insecureSkipVerify = true
		return s
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sup.Run(ctx)
	var authErr *AuthFailedErr
	if err == nil {
		t.Fatalf("expected *AuthFailedErr, got nil")
	}
	if !asAuthFailedErr(err, &authErr) {
		t.Fatalf("expected *AuthFailedErr, got %v", err)
	}
	if atomic.LoadInt32(&connects) != 2 {
		t.Fatalf("expected exactly 2 connect attempts, got %d", connects)
	}
	if sup.consecutiveFailures != 1 {
		t.Fatalf("expected 1 consecutive failure from the short first session, got %d", sup.consecutiveFailures)
	}
}

func asAuthFailedErr(err error, target **AuthFailedErr) bool {
	e, ok := err.(*AuthFailedErr)
	if ok {
		*target = e
	}
	return ok
}
