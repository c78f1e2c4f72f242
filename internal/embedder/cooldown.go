package embedder

import (
	"sync"
	"time"
)

// Cooldown tracks a rate-limit cooldown shared by all callers of a provider.
type Cooldown struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

// NewCooldown creates a tracker reading time from now (time.Now when nil)
func NewCooldown(now func() time.Time) *Cooldown {
	if now == nil {
		now = time.Now
	}
	return &Cooldown{now: now}
}

// Extend starts a cooldown of d from now. An existing cooldown that ends
// later is kept.
func (c *Cooldown) Extend(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	until := c.now().Add(d)
	if until.After(c.until) {
		c.until = until
	}
}

// Remaining returns the time left, 0 when no cooldown is active
func (c *Cooldown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.until.Sub(c.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Active reports whether a cooldown is in effect
func (c *Cooldown) Active() bool {
	return c.Remaining() > 0
}

// Reset clears the cooldown
func (c *Cooldown) Reset() {
	c.mu.Lock()
	c.until = time.Time{}
	c.mu.Unlock()
}
