package phase

import "sync/atomic"

// FakeClock is a test Clock. Each Micros call returns the current value and
// then advances it by Step, so spin loops make progress.
type FakeClock struct {
	now  atomic.Uint32
	Step uint32
}

// NewFakeClock returns a clock reading start.
func NewFakeClock(start uint32) *FakeClock {
	c := &FakeClock{}
	c.now.Store(start)
	return c
}

// Micros returns the current reading.
func (c *FakeClock) Micros() uint32 {
	if c.Step == 0 {
		return c.now.Load()
	}
	return c.now.Add(c.Step) - c.Step
}

// Set moves the clock to us.
func (c *FakeClock) Set(us uint32) {
	c.now.Store(us)
}

// Advance moves the clock forward by us, wrapping at 2^32.
func (c *FakeClock) Advance(us uint32) {
	c.now.Add(us)
}
