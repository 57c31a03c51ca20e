package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/fan-controller/internal/gpio"
	"github.com/sweeney/fan-controller/internal/phase"
)

var stateWindow time.Duration

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the mains reference input and measured frequency, then exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		clock := phase.MonotonicClock{}
		zc := phase.NewZeroCross(clock.Micros(), nil)

		// Gates are left unrequested so a running daemon keeps them.
		lines, err := gpio.NewRealLines(cfg.GPIO.Chip, cfg.GPIO.MainsPin, nil, zc.Edge)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer lines.Close()

		time.Sleep(stateWindow)
		return reportState(cmd.OutOrStdout(), lines, zc, clock.Micros())
	},
}

// reportState prints the input level and what zc measured up to nowUs.
func reportState(w io.Writer, mains gpio.Mains, zc *phase.ZeroCross, nowUs uint32) error {
	hz := zc.SampleFrequency(nowUs)
	level, err := mains.Level()
	if err != nil {
		return fmt.Errorf("read mains: %w", err)
	}
	pos, neg := zc.Pulses()

	fmt.Fprintf(w, "mains: level=%s freq=%.2fHz half-cycles=%dus/%dus\n",
		levelString(level), hz, pos, neg)
	return nil
}

func init() {
	stateCmd.Flags().DurationVar(&stateWindow, "window", time.Second, "how long to count crossings")
}

func levelString(high bool) string {
	if high {
		return "HIGH"
	}
	return "LOW"
}
