package clock

import (
	"sync"
	"time"
)

// Clock is the shared monotonic time base, in seconds. The metronome and all
// decks read the same Clock so their notion of "now" can never diverge.
type Clock interface {
	Now() float64
}

// SystemClock reads the runtime's monotonic clock, anchored at construction.
type SystemClock struct {
	epoch time.Time
}

// NewSystemClock returns a clock whose zero is the moment of the call.
func NewSystemClock() *SystemClock {
	return &SystemClock{epoch: time.Now()}
}

// Now returns seconds since the clock was created.
func (c *SystemClock) Now() float64 {
	return time.Since(c.epoch).Seconds()
}

// ManualClock is a hand-advanced Clock for deterministic tests.
type ManualClock struct {
	mu  sync.Mutex
	now float64
}

// Now returns the current manual time.
func (c *ManualClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d seconds.
func (c *ManualClock) Advance(d float64) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// Set jumps the clock to t seconds.
func (c *ManualClock) Set(t float64) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
