package cache

import (
	"sync"
	"time"
)

// TTL is a bounded in-process map whose entries expire after a fixed
// lifetime. Expiry is evaluated against the injected clock on access, so no
// background goroutine or timer is involved.
type TTL[V any] struct {
	mu      sync.Mutex
	entries map[string]ttlEntry[V]
	ttl     time.Duration
	max     int
	now     func() time.Time
}

type ttlEntry[V any] struct {
	value   V
	expires time.Time
	stored  time.Time
}

// NewTTL constructs a TTL cache holding at most maxEntries values.
// A non-positive maxEntries means unbounded.
func NewTTL[V any](ttl time.Duration, maxEntries int) *TTL[V] {
	return &TTL[V]{
		entries: make(map[string]ttlEntry[V]),
		ttl:     ttl,
		max:     maxEntries,
		now:     time.Now,
	}
}

// WithClock overrides the cache clock for testing.
func (c *TTL[V]) WithClock(fn func() time.Time) *TTL[V] {
	if fn != nil {
		c.now = fn
	}
	return c
}

// Get returns the live value for key. Expired entries stay in place for
// GetStale until evicted.
func (c *TTL[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if !c.now().Before(entry.expires) {
		return zero, false
	}
	return entry.value, true
}

// GetStale returns the value for key even when expired, along with the time
// it was stored. It backs last-known-good fallbacks.
func (c *TTL[V]) GetStale(key string) (V, time.Time, bool) {
	var zero V
	if c == nil {
		return zero, time.Time{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return zero, time.Time{}, false
	}
	return entry.value, entry.stored, true
}

// Set stores value under key, evicting expired entries and then the oldest
// entry when the cache is full.
func (c *TTL[V]) Set(key string, value V) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, exists := c.entries[key]; !exists && c.max > 0 && len(c.entries) >= c.max {
		c.evictLocked(now)
	}
	c.entries[key] = ttlEntry[V]{value: value, expires: now.Add(c.ttl), stored: now}
}

// Purge drops every entry.
func (c *TTL[V]) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]ttlEntry[V])
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired or not.
func (c *TTL[V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *TTL[V]) evictLocked(now time.Time) {
	oldestKey := ""
	var oldest time.Time
	for key, entry := range c.entries {
		if !now.Before(entry.expires) {
			delete(c.entries, key)
			continue
		}
		if oldestKey == "" || entry.stored.Before(oldest) {
			oldestKey, oldest = key, entry.stored
		}
	}
	if c.max > 0 && len(c.entries) >= c.max && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
