// Package phase implements mains phase-angle control: zero-crossing capture
// and the periodic scheduler that fires TRIAC gates a set delay after each
// crossing.
//
// Three contexts share state here. The edge callback runs ZeroCross.Edge, the
// timer runs Scheduler.Tick and the control loop writes channel delays and
// samples the mains frequency. Every shared field is a sync/atomic value with
// a single writer; neither the edge nor the tick path takes a lock.
package phase

import (
	"context"
	"time"
)

// Clock is a free-running microsecond counter. It wraps at 2^32, so callers
// compare readings with unsigned subtraction only.
type Clock interface {
	Micros() uint32
}

// Gate drives one TRIAC gate output.
type Gate interface {
	// Pulse drives the gate active for width, then inactive.
	Pulse(width time.Duration) error
}

// Timer calls fn every period until ctx is done.
type Timer interface {
	Run(ctx context.Context, period time.Duration, fn func())
}

// DefaultPulseWidth latches a TRIAC without reaching into the next half-cycle.
const DefaultPulseWidth = 50 * time.Microsecond

// DefaultTickPeriod is the scheduler resolution.
const DefaultTickPeriod = 20 * time.Microsecond
