// Package csc decodes Bluetooth cycling speed and cadence (CSC) and cycling
// power measurements into speed, cadence and power.
//
// Revolution counters and event times are cumulative and wrap at their field
// width, so every delta is taken with unsigned modular subtraction.
package csc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/exp/constraints"
)

// Measurement flag bits.
const (
	FlagWheel uint8 = 0x01 // wheel revolution data present
	FlagCrank uint8 = 0x02 // crank revolution data present
)

// TicksPerSecond is the resolution of CSC event times.
const TicksPerSecond = 1024

// Display unit scales from mm/s.
const (
	MMPerSecToMPH = 0.00223694
	MMPerSecToKPH = 0.0036
)

// ErrShortPacket is returned when a packet is shorter than its flags require.
var ErrShortPacket = errors.New("csc: packet too short")

// Measurement is one decoded CSC measurement notification.
type Measurement struct {
	Flags     uint8
	WheelRevs uint32
	WheelTime uint16
	CrankRevs uint16
	CrankTime uint16
}

// HasWheel reports whether the wheel fields were present.
func (m Measurement) HasWheel() bool { return m.Flags&FlagWheel != 0 }

// HasCrank reports whether the crank fields were present.
func (m Measurement) HasCrank() bool { return m.Flags&FlagCrank != 0 }

// ParseMeasurement decodes a CSC measurement: a flags byte, then optional
// wheel (uint32 revs, uint16 time) and crank (uint16 revs, uint16 time)
// fields, all little-endian.
func ParseMeasurement(data []byte) (Measurement, error) {
	if len(data) < 1 {
		return Measurement{}, ErrShortPacket
	}

	m := Measurement{Flags: data[0] & (FlagWheel | FlagCrank)}
	off := 1

	if m.HasWheel() {
		if len(data) < off+6 {
			return Measurement{}, fmt.Errorf("%w: wheel data needs %d bytes, got %d", ErrShortPacket, off+6, len(data))
		}
		m.WheelRevs = binary.LittleEndian.Uint32(data[off:])
		m.WheelTime = binary.LittleEndian.Uint16(data[off+4:])
		off += 6
	}

	if m.HasCrank() {
		if len(data) < off+4 {
			return Measurement{}, fmt.Errorf("%w: crank data needs %d bytes, got %d", ErrShortPacket, off+4, len(data))
		}
		m.CrankRevs = binary.LittleEndian.Uint16(data[off:])
		m.CrankTime = binary.LittleEndian.Uint16(data[off+2:])
	}

	return m, nil
}

// PowerMeasurement is the fixed head of a cycling power measurement.
type PowerMeasurement struct {
	Flags uint16
	Watts int16
}

// ParsePower decodes the flags and instantaneous power of a cycling power
// measurement. Optional trailing fields are ignored.
func ParsePower(data []byte) (PowerMeasurement, error) {
	if len(data) < 4 {
		return PowerMeasurement{}, fmt.Errorf("%w: power needs 4 bytes, got %d", ErrShortPacket, len(data))
	}
	return PowerMeasurement{
		Flags: binary.LittleEndian.Uint16(data),
		Watts: int16(binary.LittleEndian.Uint16(data[2:])),
	}, nil
}

// Delta returns cur - last modulo the width of T. A counter that wrapped
// from near its maximum yields the small forward distance.
func Delta[T constraints.Unsigned](cur, last T) T {
	return cur - last
}

// WheelSpeed converts a revolution and event-time delta to speed. scale
// converts mm/s to display units. No elapsed time means no new event, which
// reads as stopped.
func WheelSpeed(revs uint32, ticks uint16, circumferenceMM, scale float64) float64 {
	if ticks == 0 {
		return 0
	}
	seconds := float64(ticks) / TicksPerSecond
	return float64(revs) * circumferenceMM / seconds * scale
}

// Cadence converts a crank revolution and event-time delta to rpm.
func Cadence(revs, ticks uint16) float64 {
	if ticks == 0 {
		return 0
	}
	return float64(revs) * 60 * TicksPerSecond / float64(ticks)
}

// UnitScale returns the mm/s conversion for a display unit name.
func UnitScale(units string) (float64, error) {
	switch units {
	case "mph", "":
		return MMPerSecToMPH, nil
	case "kph":
		return MMPerSecToKPH, nil
	}
	return 0, fmt.Errorf("csc: unknown units %q", units)
}
