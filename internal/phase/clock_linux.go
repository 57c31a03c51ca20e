//go:build linux

package phase

import "golang.org/x/sys/unix"

// MonotonicClock reads CLOCK_MONOTONIC, the same base the kernel uses for
// GPIO edge event timestamps.
type MonotonicClock struct{}

// Micros returns microseconds since boot, truncated to 32 bits.
func (MonotonicClock) Micros() uint32 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint32(ts.Nano() / 1000)
}

func setThreadNice(nice int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), nice)
}
