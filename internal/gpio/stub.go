//go:build !linux

package gpio

import (
	"errors"
	"time"
)

// RealLines is not available on non-Linux platforms.
type RealLines struct {
	Gates []*RealGate
}

// RealGate is not available on non-Linux platforms.
type RealGate struct{}

// NewRealLines returns an error on non-Linux platforms.
func NewRealLines(string, int, []int, EdgeFunc) (*RealLines, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Level is not implemented on non-Linux platforms.
func (r *RealLines) Level() (bool, error) {
	return false, errors.New("gpio: not supported")
}

// Pulse is not implemented on non-Linux platforms.
func (g *RealGate) Pulse(time.Duration) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealLines) Close() error {
	return nil
}
