package gpio

import "time"

// FakeGate is a test double that records pulses.
type FakeGate struct {
	// Pulses is the number of successful pulses.
	Pulses int

	// Widths records the width of each successful pulse.
	Widths []time.Duration

	// PulseError, if set, will be returned by Pulse.
	PulseError error
}

// NewFakeGates returns n fake gates.
func NewFakeGates(n int) []*FakeGate {
	gates := make([]*FakeGate, n)
	for i := range gates {
		gates[i] = &FakeGate{}
	}
	return gates
}

// Pulse records the pulse.
func (f *FakeGate) Pulse(width time.Duration) error {
	if f.PulseError != nil {
		return f.PulseError
	}
	f.Pulses++
	f.Widths = append(f.Widths, width)
	return nil
}

// Reset clears recorded pulses.
func (f *FakeGate) Reset() {
	f.Pulses = 0
	f.Widths = nil
	f.PulseError = nil
}

var _ Mains = (*FakeMains)(nil)

// FakeMains is a test double for the mains reference input. Edges are
// delivered synchronously to OnEdge.
type FakeMains struct {
	OnEdge EdgeFunc

	// High is the current level.
	High bool

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Level()
	ReadError error
}

// NewFakeMains creates a FakeMains delivering edges to onEdge.
func NewFakeMains(onEdge EdgeFunc) *FakeMains {
	return &FakeMains{OnEdge: onEdge, High: true}
}

// Fall drives the input low at tsUs.
func (f *FakeMains) Fall(tsUs uint32) {
	f.High = false
	if f.OnEdge != nil {
		f.OnEdge(false, tsUs)
	}
}

// Rise drives the input high at tsUs.
func (f *FakeMains) Rise(tsUs uint32) {
	f.High = true
	if f.OnEdge != nil {
		f.OnEdge(true, tsUs)
	}
}

// Cycles emits n full AC cycles of periodUs starting at startUs, falling edge
// first. It returns the timestamp following the last cycle.
func (f *FakeMains) Cycles(startUs, periodUs uint32, n int) uint32 {
	ts := startUs
	for i := 0; i < n; i++ {
		f.Fall(ts)
		f.Rise(ts + periodUs/2)
		ts += periodUs
	}
	return ts
}

// Level returns the current level.
func (f *FakeMains) Level() (bool, error) {
	if f.ReadError != nil {
		return false, f.ReadError
	}
	return f.High, nil
}

// Close marks the input as closed.
func (f *FakeMains) Close() error {
	f.Closed = true
	return nil
}
