package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Ready         bool       `json:"ready"`
	Cycles        uint64     `json:"cycles"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Fan           FanJSON    `json:"fan"`
	Config        ConfigJSON `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// FanJSON is the latest control cycle.
type FanJSON struct {
	Updated      string        `json:"updated,omitempty"`
	MainsHz      float64       `json:"mains_hz"`
	Speed        float64       `json:"speed"`
	SpeedValid   bool          `json:"speed_valid"`
	Cadence      float64       `json:"cadence"`
	Power        int16         `json:"power"`
	SensorCSC    bool          `json:"sensor_csc"`
	SensorPower  bool          `json:"sensor_power"`
	Band         string        `json:"band"`
	ForcedOff    bool          `json:"forced_off"`
	Channels     []ChannelJSON `json:"channels"`
	GateFires    uint64        `json:"gate_fires"`
	GateErrors   uint64        `json:"gate_errors"`
	DecodeErrors uint64        `json:"decode_errors"`
}

// ChannelJSON is one output channel.
type ChannelJSON struct {
	Level   uint8  `json:"level"`
	Percent int    `json:"percent"`
	DelayUs uint32 `json:"delay_us"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Units           string  `json:"units"`
	SpeedMax        float64 `json:"speed_max"`
	SpeedMin        float64 `json:"speed_min"`
	SpeedThreshold  float64 `json:"speed_threshold"`
	OnDelayMs       int64   `json:"on_delay_ms"`
	OffDelayMs      int64   `json:"off_delay_ms"`
	MaxDelayUs      uint32  `json:"max_delay_us"`
	ControlPeriodMs int64   `json:"control_period_ms"`
	Broker          string  `json:"broker"`
	HTTPAddr        string  `json:"http_addr"`
	BridgePort      string  `json:"bridge_port"`
}

// Percent converts a level to a rounded percentage of full output.
func Percent(level uint8) int {
	return (int(level)*100 + 127) / 255
}

func buildFan(snap Snapshot) FanJSON {
	tel := snap.Telemetry
	band := string(tel.Band)
	if band == "" {
		band = "UNKNOWN"
	}

	channels := make([]ChannelJSON, len(tel.Channels))
	for i, ch := range tel.Channels {
		channels[i] = ChannelJSON{Level: ch.Level, Percent: Percent(ch.Level), DelayUs: ch.DelayUs}
	}

	fan := FanJSON{
		MainsHz:      tel.MainsHz,
		Speed:        tel.Speed,
		SpeedValid:   tel.SpeedValid,
		Cadence:      tel.Cadence,
		Power:        tel.Power,
		SensorCSC:    tel.ConnMask&1 != 0,
		SensorPower:  tel.ConnMask&2 != 0,
		Band:         band,
		ForcedOff:    tel.ForcedOff,
		Channels:     channels,
		GateFires:    tel.GateFires,
		GateErrors:   tel.GateErrors,
		DecodeErrors: tel.DecodeErrors,
	}
	if !tel.Timestamp.IsZero() {
		fan.Updated = tel.Timestamp.UTC().Format(time.RFC3339)
	}
	return fan
}

func buildInner(snap Snapshot) StatusInner {
	c := snap.Config
	return StatusInner{
		Ready:         snap.Ready(),
		Cycles:        snap.Cycles,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: c.Broker},
		Fan:           buildFan(snap),
		Config: ConfigJSON{
			Units:           c.Units,
			SpeedMax:        c.SpeedMax,
			SpeedMin:        c.SpeedMin,
			SpeedThreshold:  c.SpeedThreshold,
			OnDelayMs:       c.OnDelayMs,
			OffDelayMs:      c.OffDelayMs,
			MaxDelayUs:      c.MaxDelayUs,
			ControlPeriodMs: c.ControlPeriodMs,
			Broker:          c.Broker,
			HTTPAddr:        c.HTTPAddr,
			BridgePort:      c.BridgePort,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
