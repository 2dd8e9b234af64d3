package engine

import "sync/atomic"

// Clock is a monotonic logical counter. The engine stamps each batch with
// Clock.Next() so that every log line of one ChangeMembers call, including
// its commit-time continuations, carries the same batch number.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}
