package phase

import "sync/atomic"

// ZeroCross turns edges on the mains reference input into crossing
// timestamps. Only falling edges count as crossings, so each channel is armed
// once per full AC cycle.
type ZeroCross struct {
	channels []*Channel

	// Written by Edge only.
	lastCrossUs atomic.Uint32
	lastRiseUs  atomic.Uint32
	lastFallUs  atomic.Uint32
	positiveUs  atomic.Uint32
	negativeUs  atomic.Uint32

	// Incremented by Edge, swapped to zero by SampleFrequency.
	crossCount atomic.Uint32

	// Owned by the SampleFrequency caller.
	lastSampleUs uint32
}

// NewZeroCross creates a detector that arms the given channels. nowUs seeds
// the frequency estimator.
func NewZeroCross(nowUs uint32, channels []*Channel) *ZeroCross {
	return &ZeroCross{
		channels:     channels,
		lastSampleUs: nowUs,
	}
}

// Edge records a transition on the reference input. It must stay cheap: it
// runs in the edge-event context.
func (z *ZeroCross) Edge(rising bool, nowUs uint32) {
	if rising {
		z.lastRiseUs.Store(nowUs)
		z.negativeUs.Store(nowUs - z.lastFallUs.Load())
		return
	}

	z.lastFallUs.Store(nowUs)
	z.positiveUs.Store(nowUs - z.lastRiseUs.Load())

	// Timestamp first: a scheduler that sees pending must see this crossing.
	z.lastCrossUs.Store(nowUs)
	for _, ch := range z.channels {
		if ch.Delay() > 0 {
			ch.pending.Store(true)
		}
	}
	z.crossCount.Add(1)
}

// LastCross returns the timestamp of the most recent crossing.
func (z *ZeroCross) LastCross() uint32 {
	return z.lastCrossUs.Load()
}

// Pulses returns the most recent positive and negative half-cycle widths.
func (z *ZeroCross) Pulses() (positiveUs, negativeUs uint32) {
	return z.positiveUs.Load(), z.negativeUs.Load()
}

// SampleFrequency returns the mains frequency in Hz over the interval since
// the previous call and restarts the count. It returns 0 if no time has
// passed; the count is then kept for the next sample.
func (z *ZeroCross) SampleFrequency(nowUs uint32) float64 {
	elapsed := nowUs - z.lastSampleUs
	if elapsed == 0 {
		return 0
	}
	count := z.crossCount.Swap(0)
	z.lastSampleUs = nowUs
	return float64(count) * 1e6 / float64(elapsed)
}

// Channels returns the channels armed by this detector.
func (z *ZeroCross) Channels() []*Channel {
	return z.channels
}
