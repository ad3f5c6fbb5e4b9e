// Copyright 2026 The Cyberdriver Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package idempotency implements the TTL+LRU-bounded response memo keyed
// by the client-supplied X-Idempotency-Key header (spec.md §3, §4.3).
package idempotency

import (
	"sort"
	"sync"
	"time"
)

// TTL is how long a cached entry stays live (spec.md §3: "60 s").
const TTL = 60 * time.Second

// MaxEntries is the cache's size bound (spec.md §3: "1000").
const MaxEntries = 1000

// EvictFraction is the fraction of entries removed, oldest first, when the
// cache overflows MaxEntries (spec.md §3: "remove the oldest 20%").
const EvictFraction = 0.2

// Response is the cached shape of a forwarded response (spec.md §4.2's
// Local Forwarder output), stored verbatim so a replay is byte-identical.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

type entry struct {
	storedAt time.Time
	response Response
}

// Cache is a pure in-memory map keyed by X-Idempotency-Key. The zero value
// is not usable; construct with New. Safe for concurrent use — spec.md §5
// allows either single-threaded-only access or an explicit mutex, and a
// Tunnel Session dispatches requests concurrently (§4.4), so this cache
// takes the mutex.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time // overridable for tests
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Lookup sweeps expired entries, then returns the cached response for key,
// if any and still live. The bool is false on a miss or when key is empty
// (requests without an idempotency key are never deduplicated).
func (c *Cache) Lookup(key string) (Response, bool) {
	if key == "" {
		return Response{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	e, ok := c.entries[key]
	if !ok {
		return Response{}, false
	}
	return e.response, true
}

// Store records resp under key, evicting expired and (if over capacity)
// oldest entries first. A no-op when key is empty.
func (c *Cache) Store(key string, resp Response) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	c.entries[key] = entry{storedAt: c.now(), response: resp}
	c.evictOverflowLocked()
}

// Clear removes all entries. Called by the Reconnect Supervisor's
// pre-retry cleanup (spec.md §4.5 step 1, §4.3: "do not survive tunnel
// reconnects' pre-retry cleanup").
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len reports the current number of live entries (test/debug helper).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	return len(c.entries)
}

func (c *Cache) sweepLocked() {
	cutoff := c.now().Add(-TTL)
	for k, e := range c.entries {
		if e.storedAt.Before(cutoff) {
			delete(c.entries, k)
		}
	}
}

func (c *Cache) evictOverflowLocked() {
	if len(c.entries) <= MaxEntries {
		return
	}
	type keyed struct {
		key      string
		storedAt time.Time
	}
	all := make([]keyed, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, keyed{k, e.storedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].storedAt.Before(all[j].storedAt) })

	toEvict := int(float64(len(all)) * EvictFraction)
	for i := 0; i < toEvict; i++ {
		delete(c.entries, all[i].key)
	}
}
