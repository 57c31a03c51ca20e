package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sweeney/fan-controller/internal/config"
	"github.com/sweeney/fan-controller/internal/csc"
)

var decodeCmd = &cobra.Command{
	Use:   "decode HEX...",
	Short: "Decode CSC measurement packets and print speed",
	Long: "Decode CSC measurement packets, given as hex in the order received, and print\n" +
		"the speed and cadence each one yields using the configured wheel and units.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return decodePackets(cmd.OutOrStdout(), cfg.Sensor, args)
	},
}

// decodePackets feeds packets through one decoder so each line shows the
// speed derived from it and its predecessor. Bad packets are reported and
// skipped, as they would be live.
func decodePackets(w io.Writer, s config.Sensor, packets []string) error {
	scale, err := csc.UnitScale(s.Units)
	if err != nil {
		return err
	}
	units := s.Units
	if units == "" {
		units = "mph"
	}

	dec := csc.NewDecoder(s.WheelCircumferenceMM, scale)
	for i, arg := range packets {
		data, err := hex.DecodeString(strings.ReplaceAll(arg, ":", ""))
		if err != nil {
			return fmt.Errorf("packet %d: %w", i+1, err)
		}

		m, err := csc.ParseMeasurement(data)
		if err == nil {
			err = dec.Decode(data)
		}
		if err != nil {
			fmt.Fprintf(w, "%d: %v\n", i+1, err)
			continue
		}
		est := dec.Estimate()

		fmt.Fprintf(w, "%d: flags=%02x fresh=%02x", i+1, m.Flags, est.Flags)
		if m.HasWheel() {
			fmt.Fprintf(w, " wheel=%d/%d", m.WheelRevs, m.WheelTime)
		}
		if m.HasCrank() {
			fmt.Fprintf(w, " crank=%d/%d", m.CrankRevs, m.CrankTime)
		}
		if est.Valid {
			fmt.Fprintf(w, " speed=%.2f %s", est.WheelSpeed, units)
		} else {
			fmt.Fprint(w, " speed=-")
		}
		if est.CadenceValid {
			fmt.Fprintf(w, " cadence=%.1f rpm", est.Cadence)
		}
		fmt.Fprintln(w)
	}
	return nil
}
