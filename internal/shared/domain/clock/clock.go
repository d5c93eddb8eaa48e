// Package clock provides time abstraction for testability.
//
// Instead of calling time.Now() directly, code should call clock.Now().
// Quote expiry, transition timestamps and outbox scheduling all read the
// package clock so tests can pin or advance time.
//
// Usage:
//
//	// Production code (uses real time by default)
//	now := clock.Now()
//
//	// Tests (inject fixed time)
//	clock.Set(clock.FixedClock{Time: fixedTime})
//	t.Cleanup(clock.Reset)
//
//	// Tests that need time to pass (expiry sweeps)
//	manual := clock.NewManual(start)
//	clock.Set(manual)
//	manual.Advance(31 * 24 * time.Hour)
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

var (
	mu      sync.RWMutex
	current Clock = RealClock{}
)

// Now returns the current time from the active clock.
func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return current.Now()
}

// Set replaces the active clock.
func Set(c Clock) {
	mu.Lock()
	defer mu.Unlock()
	current = c
}

// Reset restores the real clock. Call in test cleanup.
func Reset() {
	Set(RealClock{})
}

// RealClock uses the actual system time.
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock returns a predetermined time.
type FixedClock struct {
	Time time.Time
}

func (c FixedClock) Now() time.Time {
	return c.Time
}

// ManualClock only moves when told to.
type ManualClock struct {
	mu   sync.Mutex
	time time.Time
}

// NewManual returns a ManualClock starting at t.
func NewManual(t time.Time) *ManualClock {
	return &ManualClock{time: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time = c.time.Add(d)
}
