//go:build !linux

package phase

import "time"

var epoch = time.Now()

// MonotonicClock counts microseconds since process start on platforms
// without CLOCK_MONOTONIC access.
type MonotonicClock struct{}

// Micros returns microseconds since process start, truncated to 32 bits.
func (MonotonicClock) Micros() uint32 {
	return uint32(time.Since(epoch) / time.Microsecond)
}

func setThreadNice(int) error {
	return nil
}
