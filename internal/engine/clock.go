package engine

import "sync/atomic"

// Clock numbers the adapter fetches of one execution.
//
// Every fetch is stamped with a strictly increasing sequence number, which
// the fetch log and the quota use. Concurrent sibling branches share the
// clock, so numbers are unique but their order across branches follows
// scheduling.
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
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the number of values handed out so far.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
