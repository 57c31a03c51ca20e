// Package status provides a thread-safe view of the fan controller's latest
// control cycle for the web server and lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/fan-controller/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Units           string
	SpeedMax        float64
	SpeedMin        float64
	SpeedThreshold  float64
	OnDelayMs       int64
	OffDelayMs      int64
	MaxDelayUs      uint32
	ControlPeriodMs int64
	Broker          string
	HTTPAddr        string
	BridgePort      string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type; safe to use after the lock is released.
type Snapshot struct {
	Telemetry     logic.Telemetry
	Cycles        uint64 // control cycles completed
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Ready reports whether at least one control cycle has run.
func (s Snapshot) Ready() bool {
	return s.Cycles > 0
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update records one control cycle's telemetry.
func (t *Tracker) Update(tel logic.Telemetry) {
	tel.Channels = append([]logic.ChannelTelemetry(nil), tel.Channels...)
	t.mu.Lock()
	t.snap.Telemetry = tel
	t.snap.Cycles++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	// Update never mutates a stored Channels slice, so sharing it is safe.
	s.Now = time.Now()
	return s
}
