package utils

import (
	"sync"
	"time"
)

// Cooldown enforces a minimum interval per key.
type Cooldown struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
}

func NewCooldown(interval time.Duration) *Cooldown {
	return &Cooldown{interval: interval, last: make(map[string]time.Time)}
}

// Allow reports whether the key is outside its cooldown and, if so, starts a
// new one.
func (c *Cooldown) Allow(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interval <= 0 {
		return true
	}
	if last, ok := c.last[key]; ok && now.Sub(last) < c.interval {
		return false
	}
	c.last[key] = now
	return true
}
