// Package cache provides a small in-process TTL cache used by the HTTP layer
// to absorb repeated status reads between schedule changes. Entries are
// invalidated explicitly on writes (via the event bus) and lazily on expiry.
package cache

import (
	"sync"
	"time"
)

// TTL is a concurrency-safe key/value cache with per-entry expiry. The zero
// value is not usable; construct with New.
type TTL[V any] struct {
	mu  sync.RWMutex
	ttl time.Duration
	now func() time.Time
	m   map[string]entry[V]
}

type entry[V any] struct {
	val     V
	expires time.Time
}

// New returns a TTL cache whose entries live for ttl. now is the clock used
// for expiry checks; pass nil for the wall clock.
func New[V any](ttl time.Duration, now func() time.Time) *TTL[V] {
	if now == nil {
		now = time.Now
	}
	return &TTL[V]{
		ttl: ttl,
		now: now,
		m:   make(map[string]entry[V]),
	}
}

// Get returns the cached value for key, or false when absent or expired.
// Expired entries are removed on read.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expires) {
		c.mu.Lock()
		// Re-check under the write lock; a Set may have refreshed it.
		if cur, still := c.m[key]; still && c.now().After(cur.expires) {
			delete(c.m, key)
		}
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	return e.val, true
}

// Set stores val under key with a fresh TTL.
func (c *TTL[V]) Set(key string, val V) {
	c.mu.Lock()
	c.m[key] = entry[V]{val: val, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate drops the entry for key, if any.
func (c *TTL[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// Len reports the number of entries currently stored, including any that
// expired but were not read since.
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
