package engine

import (
	"sync"
	"time"
)

// Cooldown remembers when each key last fired. Times come from the caller so
// replayed scans are judged by their own timestamps.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

func (c *Cooldown) AllowAt(key string, now time.Time, cooldown time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cooldown > 0 {
		if ts, ok := c.last[key]; ok && now.Sub(ts) < cooldown {
			return false
		}
	}
	c.last[key] = now
	return true
}

func (c *Cooldown) Last(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.last[key]
	return ts, ok
}

// Prune forgets keys whose cooldown has fully elapsed.
func (c *Cooldown) Prune(now time.Time, cooldown time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, ts := range c.last {
		if now.Sub(ts) >= cooldown {
			delete(c.last, k)
			removed++
		}
	}
	return removed
}

func (c *Cooldown) Reset() {
	c.mu.Lock()
	c.last = make(map[string]time.Time)
	c.mu.Unlock()
}
