package phase

import "sync/atomic"

// Channel is one phase-controlled output. The control loop is the only writer
// of level and delay; pending is set by ZeroCross.Edge and cleared by the
// Scheduler.
type Channel struct {
	delayUs atomic.Uint32
	level   atomic.Uint32
	pending atomic.Bool
}

// Set commands a new level and firing delay. A delay of 0 disables the
// channel. A fire already pending completes at whichever delay is current
// when the scheduler evaluates it.
func (c *Channel) Set(level uint8, delayUs uint32) {
	c.level.Store(uint32(level))
	c.delayUs.Store(delayUs)
}

// Disable turns the channel off.
func (c *Channel) Disable() {
	c.Set(0, 0)
}

// Delay returns the firing delay in microseconds (0 = disabled).
func (c *Channel) Delay() uint32 {
	return c.delayUs.Load()
}

// Level returns the last commanded level.
func (c *Channel) Level() uint8 {
	return uint8(c.level.Load())
}

// Pending reports whether a crossing is waiting to be fired.
func (c *Channel) Pending() bool {
	return c.pending.Load()
}

// NewChannels returns n disabled channels.
func NewChannels(n int) []*Channel {
	chs := make([]*Channel, n)
	for i := range chs {
		chs[i] = &Channel{}
	}
	return chs
}
