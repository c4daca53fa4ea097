package utils

import (
	"sync"
	"time"
)

// TTLCache is a bounded, time-expiring map. It is a latency hint only;
// callers must treat a miss as normal and fall back to the store.
type TTLCache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]ttlEntry[V]
}

type ttlEntry[V any] struct {
	value   V
	touched time.Time
}

func NewTTLCache[V any](ttl time.Duration, max int) *TTLCache[V] {
	return &TTLCache[V]{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]ttlEntry[V]),
	}
}

func (c *TTLCache[V]) Get(key string, now time.Time) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || now.Sub(entry.touched) > c.ttl {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return entry.value, true
}

func (c *TTLCache[V]) Set(key string, value V, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.max {
		c.evictLocked(now)
	}
	c.entries[key] = ttlEntry[V]{value: value, touched: now}
}

func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// evictLocked drops expired entries first, then the stalest live one if the
// cache is still full.
func (c *TTLCache[V]) evictLocked(now time.Time) {
	oldestKey := ""
	var oldest time.Time
	for key, entry := range c.entries {
		if now.Sub(entry.touched) > c.ttl {
			delete(c.entries, key)
			continue
		}
		if oldestKey == "" || entry.touched.Before(oldest) {
			oldestKey = key
			oldest = entry.touched
		}
	}
	if len(c.entries) >= c.max && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
