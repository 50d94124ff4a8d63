package engine

import "sync/atomic"

// Clock issues the engine's monotonically increasing cycle sequence.
// Every evaluated cycle consumes exactly one tick, which orders the
// audit trail independently of wall time.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose first tick is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt returns a clock that resumes after seq, so the next tick
// is seq+1. Used when reopening an engine over an existing audit log.
func NewClockAt(seq int64) *Clock {
	c := &Clock{}
	c.seq.Store(seq)
	return c
}

// Next consumes and returns the next tick.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued tick without consuming one.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
