// Package logic contains the pure fan control law.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// MaxLevel is full output.
const MaxLevel = 255

// Config holds the control thresholds. Speeds are in display units.
//
// SpeedMin > SpeedMax is not rejected; the arithmetic decides.
type Config struct {
	SpeedMax       float64
	SpeedMin       float64
	SpeedThreshold float64

	// OnDelay is how long speed must stay at or above SpeedThreshold before
	// a stopped channel starts. Zero starts immediately.
	OnDelay time.Duration

	// OffDelay is the grace period after the last in-band reading before a
	// speed below SpeedThreshold forces every channel off.
	OffDelay time.Duration

	// MaxDelayUs is the firing delay for the lowest non-zero level.
	MaxDelayUs uint32

	// ProportionalFloor is the lowest level the proportional band yields.
	// Zero keeps the plain formula, which gives 0 (off) at SpeedMin; 1 keeps
	// a rider in the band from ever landing on off.
	ProportionalFloor uint8
}

// DefaultConfig returns the stock thresholds (mph).
func DefaultConfig() Config {
	return Config{
		SpeedMax:       20,
		SpeedMin:       5,
		SpeedThreshold: 2,
		OnDelay:        0,
		OffDelay:       30 * time.Second,
		MaxDelayUs:     6000,
	}
}

// Band identifies which speed band a control cycle fell into.
type Band string

const (
	BandFull         Band = "FULL"
	BandProportional Band = "PROPORTIONAL"
	BandMinimum      Band = "MINIMUM"
	BandHold         Band = "HOLD"
)

// Input is one control-cycle sample.
type Input struct {
	Speed float64
	Time  time.Time
}

// Output is the commanded state after one control cycle.
type Output struct {
	Band      Band
	ForcedOff bool // the off-delay safety net zeroed the levels this cycle
	Levels    []uint8
	DelaysUs  []uint32
}

// ChannelTelemetry is one channel's commanded state.
type ChannelTelemetry struct {
	Level   uint8
	DelayUs uint32
}

// Telemetry is the report produced by each control cycle.
type Telemetry struct {
	Timestamp time.Time
	MainsHz   float64

	Speed        float64
	SpeedValid   bool
	Cadence      float64
	Power        int16
	SensorFlags  uint8
	ConnMask     uint8
	Band         Band
	ForcedOff    bool
	Channels     []ChannelTelemetry
	GateFires    uint64
	GateErrors   uint64
	DecodeErrors uint64
}
