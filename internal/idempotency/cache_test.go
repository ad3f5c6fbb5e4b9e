package idempotency

import (
	"fmt"
	"testing"
	"time"
)

func TestLookupMiss(t *testing.T) {
	c := New()
	if _, ok := c.Lookup("abc"); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestStoreThenLookup(t *testing.T) {
	c := New()
	resp := Response{Status: 200, Headers: map[string]string{"content-type": "text/plain"}, Body: []byte("pong")}
	c.Store("abc", resp)
	got, ok := c.Lookup("abc")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Status != 200 || string(got.Body) != "pong" {
		t.Errorf("unexpected cached response: %+v", got)
	}
}

func TestErrorsAreCached(t *testing.T) {
	c := New()
	c.Store("k", Response{Status: 500})
	got, ok := c.Lookup("k")
	if !ok || got.Status != 500 {
		t.Fatalf("expected 500 to be cached, got %+v ok=%v", got, ok)
	}
}

func TestExpiry(t *testing.T) {
	c := New()
	clock := time.Now()
	c.now = func() time.Time { return clock }
	c.Store("k", Response{Status: 200})

	clock = clock.Add(61 * time.Second)
	if _, ok := c.Lookup("k"); ok {
		t.Fatal("expected entry to have expired after 61s")
	}
}

func TestEvictionAtCapacity(t *testing.T) {
	c := New()
	clock := time.Now()
	c.now = func() time.Time { return clock }

	for i := 0; i < MaxEntries; i++ {
		c.Store(fmt.Sprintf("k%d", i), Response{Status: 200})
		clock = clock.Add(time.Millisecond)
	}
	if got := c.Len(); got != MaxEntries {
		t.Fatalf("expected %d entries, got %d", MaxEntries, got)
	}

	// One more insert should evict exactly 20% (200) of the oldest entries.
	c.Store("new-key", Response{Status: 200})
	if got, want := c.Len(), MaxEntries+1-200; got != want {
		t.Fatalf("expected %d entries after eviction, got %d", want, got)
	}
	if _, ok := c.Lookup("k0"); ok {
		t.Error("expected oldest entry k0 to have been evicted")
	}
	if _, ok := c.Lookup("new-key"); !ok {
		t.Error("expected newly stored key to survive eviction")
	}
}
