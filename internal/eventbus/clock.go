package eventbus

import "sync/atomic"

// Clock is the monotonic logical clock stamped into every event's meta.seq.
//
// History order and seq order always agree, which gives replay and storage a
// stable sort key that does not depend on wall-clock resolution.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// reset rewinds the clock to zero.
func (c *Clock) reset() {
	c.seq.Store(0)
}
