// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/fan-controller/internal/logic"
)

// Topic is the MQTT topic for per-cycle telemetry.
const Topic = "fan/controller/telemetry"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "fan/controller/system"

// WillPayload is published by the broker if the connection drops uncleanly.
const WillPayload = "OFFLINE"

// Publisher publishes telemetry to MQTT.
type Publisher interface {
	// Publish sends one control cycle's telemetry to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(t logic.Telemetry) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (startup, shutdown, reconnect).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "RECONNECTED"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// Payload is the telemetry message.
type Payload struct {
	Fan FanPayload `json:"fan"`
}

// FanPayload contains one control cycle's state.
type FanPayload struct {
	Timestamp    string           `json:"timestamp"`
	MainsHz      float64          `json:"mains_hz"`
	Speed        float64          `json:"speed"`
	SpeedValid   bool             `json:"speed_valid"`
	Cadence      float64          `json:"cadence"`
	Power        int16            `json:"power"`
	SensorFlags  uint8            `json:"sensor_flags"`
	ConnMask     uint8            `json:"conn_mask"`
	Band         string           `json:"band"`
	ForcedOff    bool             `json:"forced_off"`
	Channels     []ChannelPayload `json:"channels"`
	GateFires    uint64           `json:"gate_fires"`
	GateErrors   uint64           `json:"gate_errors"`
	DecodeErrors uint64           `json:"decode_errors"`
}

// ChannelPayload is one output channel.
type ChannelPayload struct {
	Level   uint8  `json:"level"`
	DelayUs uint32 `json:"delay_us"`
}

// NewFanPayload converts telemetry to its wire form.
func NewFanPayload(t logic.Telemetry) FanPayload {
	channels := make([]ChannelPayload, len(t.Channels))
	for i, ch := range t.Channels {
		channels[i] = ChannelPayload{Level: ch.Level, DelayUs: ch.DelayUs}
	}
	return FanPayload{
		Timestamp:    t.Timestamp.UTC().Format(time.RFC3339),
		MainsHz:      t.MainsHz,
		Speed:        t.Speed,
		SpeedValid:   t.SpeedValid,
		Cadence:      t.Cadence,
		Power:        t.Power,
		SensorFlags:  t.SensorFlags,
		ConnMask:     t.ConnMask,
		Band:         string(t.Band),
		ForcedOff:    t.ForcedOff,
		Channels:     channels,
		GateFires:    t.GateFires,
		GateErrors:   t.GateErrors,
		DecodeErrors: t.DecodeErrors,
	}
}

// FormatPayload creates the JSON payload for a telemetry message.
func FormatPayload(t logic.Telemetry) ([]byte, error) {
	return json.Marshal(Payload{Fan: NewFanPayload(t)})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
