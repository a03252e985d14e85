// Package clock provides the time source used for period eligibility and rate-limit buckets.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// System returns a Clock backed by time.Now
func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Fixed is a settable Clock for tests and simulations
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed creates a clock frozen at t
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t}
}

func (c *Fixed) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t
func (c *Fixed) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d
func (c *Fixed) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
