package phase

import (
	"context"
	"log"
	"runtime"
	"time"
)

// SpinTimer is a Timer that busy-waits on a Clock from a locked OS thread.
// Sleep-based timers cannot hold the tens-of-microseconds periods the
// scheduler needs.
type SpinTimer struct {
	Clock Clock

	// Nice is applied to the timer thread when non-zero (negative raises
	// priority and needs CAP_SYS_NICE).
	Nice int
}

// Run calls fn every period until ctx is done. When fn overruns by more than
// a period the schedule restarts from now rather than firing a burst.
func (t *SpinTimer) Run(ctx context.Context, period time.Duration, fn func()) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if t.Nice != 0 {
		if err := setThreadNice(t.Nice); err != nil {
			log.Printf("phase: set timer priority: %v", err)
		}
	}

	step := uint32(period / time.Microsecond)
	if step == 0 {
		step = 1
	}

	done := ctx.Done()
	next := t.Clock.Micros() + step
	for {
		select {
		case <-done:
			return
		default:
		}

		for int32(t.Clock.Micros()-next) < 0 {
		}
		fn()

		next += step
		if late := t.Clock.Micros() - next; int32(late) > int32(step) {
			next = t.Clock.Micros() + step
		}
	}
}
