package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant DeterministicClock.Now returns.
var Epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// DeterministicClock is a wall clock for tests: every call to Now advances
// it by one second from Epoch, so timestamps in golden files are stable.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a clock whose first Now is Epoch.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Now ticks the clock and returns Epoch plus one second per earlier tick.
// Pass it to engine.WithNow.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	n := c.seq
	c.seq++
	c.mu.Unlock()
	return Epoch.Add(time.Duration(n) * time.Second)
}
