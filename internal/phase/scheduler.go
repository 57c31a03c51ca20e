package phase

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Scheduler fires each channel's gate once its delay has elapsed since the
// last crossing. It runs on a Timer, not in the edge callback, so the edge
// path stays short.
type Scheduler struct {
	clock Clock
	zc    *ZeroCross
	gates []Gate
	pulse time.Duration

	ticks      atomic.Uint64
	fires      atomic.Uint64
	gateErrors atomic.Uint64
}

// Stats counts scheduler activity since start.
type Stats struct {
	Ticks      uint64
	Fires      uint64
	GateErrors uint64
}

// NewScheduler binds one gate to each channel of zc.
func NewScheduler(clock Clock, zc *ZeroCross, gates []Gate, pulse time.Duration) (*Scheduler, error) {
	if len(gates) != len(zc.channels) {
		return nil, fmt.Errorf("phase: %d gates for %d channels", len(gates), len(zc.channels))
	}
	if pulse <= 0 {
		pulse = DefaultPulseWidth
	}
	return &Scheduler{
		clock: clock,
		zc:    zc,
		gates: gates,
		pulse: pulse,
	}, nil
}

// Tick evaluates every channel once and returns how many gates fired.
//
// A channel fires when it is enabled, armed, and strictly more than its delay
// has passed since the last crossing. The pending flag is cleared before the
// pulse so a crossing that lands during the pulse re-arms the channel instead
// of being lost. A missed tick only delays the fire to the next one.
func (s *Scheduler) Tick() int {
	fired := 0
	for i, ch := range s.zc.channels {
		delay := ch.Delay()
		if delay == 0 {
			ch.pending.Store(false)
			continue
		}
		if !ch.pending.Load() {
			continue
		}
		if s.clock.Micros()-s.zc.LastCross() <= delay {
			continue
		}
		if !ch.pending.CompareAndSwap(true, false) {
			continue
		}
		if err := s.gates[i].Pulse(s.pulse); err != nil {
			s.gateErrors.Add(1)
			continue
		}
		fired++
	}
	s.ticks.Add(1)
	s.fires.Add(uint64(fired))
	return fired
}

// Run drives Tick from timer until ctx is done. A non-positive period
// selects DefaultTickPeriod.
func (s *Scheduler) Run(ctx context.Context, timer Timer, period time.Duration) {
	if period <= 0 {
		period = DefaultTickPeriod
	}
	timer.Run(ctx, period, func() { s.Tick() })
}

// Stats returns a snapshot of the activity counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:      s.ticks.Load(),
		Fires:      s.fires.Load(),
		GateErrors: s.gateErrors.Load(),
	}
}
