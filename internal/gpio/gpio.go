// Package gpio provides the mains reference input and TRIAC gate outputs with
// hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "time"

// EdgeFunc receives a transition on the mains reference input. tsUs is the
// kernel event timestamp in microseconds (CLOCK_MONOTONIC, truncated to 32
// bits).
type EdgeFunc func(rising bool, tsUs uint32)

// Mains is the mains zero-crossing reference input.
type Mains interface {
	// Level returns the current raw level of the reference input.
	Level() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

var _ Mains = (*RealLines)(nil)

// micros converts a kernel event timestamp to the 32-bit microsecond base.
func micros(ts time.Duration) uint32 {
	return uint32(ts / time.Microsecond)
}
