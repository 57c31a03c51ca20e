//go:build linux

package gpio

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// RealLines drives the mains reference input and gate outputs on actual
// hardware using the Linux GPIO character device.
type RealLines struct {
	chip  *gpiocdev.Chip
	mains *gpiocdev.Line
	Gates []*RealGate
}

// RealGate is one gate output line.
type RealGate struct {
	line *gpiocdev.Line
	pin  int
}

// NewRealLines requests the mains input with edge detection on both edges and
// one output per gate pin. Edges are delivered to onEdge from the gpiocdev
// event goroutine. Gates start low.
func NewRealLines(chipName string, mainsPin int, gatePins []int, onEdge EdgeFunc) (*RealLines, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	r := &RealLines{chip: chip}

	handler := func(evt gpiocdev.LineEvent) {
		onEdge(evt.Type == gpiocdev.LineEventRisingEdge, micros(evt.Timestamp))
	}

	// Optocoupler zero-cross modules pull the line low; bias it up.
	mains, err := chip.RequestLine(mainsPin,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(handler))
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("request mains pin %d: %w", mainsPin, err)
	}
	r.mains = mains

	for _, pin := range gatePins {
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request gate pin %d: %w", pin, err)
		}
		r.Gates = append(r.Gates, &RealGate{line: line, pin: pin})
	}

	return r, nil
}

// Level returns the raw level of the mains reference input.
func (r *RealLines) Level() (bool, error) {
	v, err := r.mains.Value()
	if err != nil {
		return false, fmt.Errorf("read mains pin: %w", err)
	}
	return v == 1, nil
}

// Pulse drives the gate high for width. The wait spins: the pulse is tens of
// microseconds, below what the scheduler's sleep granularity can hold.
func (g *RealGate) Pulse(width time.Duration) error {
	if err := g.line.SetValue(1); err != nil {
		return fmt.Errorf("set gate pin %d: %w", g.pin, err)
	}
	start := time.Now()
	for time.Since(start) < width {
	}
	if err := g.line.SetValue(0); err != nil {
		return fmt.Errorf("clear gate pin %d: %w", g.pin, err)
	}
	return nil
}

// Close releases GPIO resources.
// Gates are driven low and every line is returned to input with pull-down
// (the Pi boot default) so a stopped daemon cannot leave a TRIAC latched.
func (r *RealLines) Close() error {
	var errs []error

	for _, g := range r.Gates {
		if err := g.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear gate pin %d: %w", g.pin, err))
		}
		if err := g.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure gate pin %d: %w", g.pin, err))
		}
		if err := g.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gate pin %d: %w", g.pin, err))
		}
	}
	if r.mains != nil {
		if err := r.mains.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close mains pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
