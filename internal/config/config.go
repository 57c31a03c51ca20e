// Package config loads the controller's TOML configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/sweeney/fan-controller/internal/csc"
	"github.com/sweeney/fan-controller/internal/logic"
)

//go:embed fan.toml
var defaultConfigData []byte

// Duration is a time.Duration written as a string ("30s", "20us") in TOML.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the whole configuration file.
type Config struct {
	Control Control `toml:"control"`
	Sensor  Sensor  `toml:"sensor"`
	GPIO    GPIO    `toml:"gpio"`
	Phase   Phase   `toml:"phase"`
	MQTT    MQTT    `toml:"mqtt"`
	HTTP    HTTP    `toml:"http"`
	Bridge  Bridge  `toml:"bridge"`
}

type Control struct {
	SpeedMax       float64  `toml:"speed_max"`
	SpeedMin       float64  `toml:"speed_min"`
	SpeedThreshold float64  `toml:"speed_threshold"`
	OnDelay        Duration `toml:"on_delay"`
	OffDelay       Duration `toml:"off_delay"`
	MaxDelayUs     uint32   `toml:"max_delay_us"`
	PropFloor      uint8    `toml:"proportional_floor"`
	Period         Duration `toml:"period"`
}

type Sensor struct {
	WheelCircumferenceMM float64 `toml:"wheel_circumference_mm"`
	Units                string  `toml:"units"`
}

type GPIO struct {
	Chip     string `toml:"chip"`
	MainsPin int    `toml:"mains_pin"`
	GatePins []int  `toml:"gate_pins"`
}

type Phase struct {
	TickPeriod Duration `toml:"tick_period"`
	PulseWidth Duration `toml:"pulse_width"`
	Nice       int      `toml:"nice"`
}

type MQTT struct {
	Broker   string `toml:"broker"`
	ClientID string `toml:"client_id"`
}

type HTTP struct {
	Addr string `toml:"addr"`
}

type Bridge struct {
	Port string `toml:"port"`
	Baud int    `toml:"baud"`
}

// Default returns the embedded default configuration.
func Default() Config {
	var c Config
	if _, err := toml.Decode(string(defaultConfigData), &c); err != nil {
		panic(fmt.Sprintf("config: embedded default: %v", err))
	}
	return c
}

// Load reads path over the defaults. An empty path or a missing file yields
// the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return c, nil
	}

	// Arrays replace rather than merge, so a file listing one gate pin
	// gets one channel.
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Validate checks the values the runtime cannot work without. Speed
// thresholds are taken as given.
func (c Config) Validate() error {
	if c.Phase.TickPeriod <= 0 {
		return fmt.Errorf("phase.tick_period must be positive, got %s", time.Duration(c.Phase.TickPeriod))
	}
	if c.Phase.PulseWidth <= 0 {
		return fmt.Errorf("phase.pulse_width must be positive, got %s", time.Duration(c.Phase.PulseWidth))
	}
	if c.Control.Period <= 0 {
		return fmt.Errorf("control.period must be positive, got %s", time.Duration(c.Control.Period))
	}
	if len(c.GPIO.GatePins) == 0 {
		return errors.New("gpio.gate_pins must list at least one pin")
	}
	if _, err := csc.UnitScale(c.Sensor.Units); err != nil {
		return fmt.Errorf("sensor.units: %w", err)
	}
	return nil
}

// Logic returns the control-law parameters.
func (c Config) Logic() logic.Config {
	return logic.Config{
		SpeedMax:       c.Control.SpeedMax,
		SpeedMin:       c.Control.SpeedMin,
		SpeedThreshold: c.Control.SpeedThreshold,
		OnDelay:        time.Duration(c.Control.OnDelay),
		OffDelay:       time.Duration(c.Control.OffDelay),
		MaxDelayUs:     c.Control.MaxDelayUs,

		ProportionalFloor: c.Control.PropFloor,
	}
}

// Write encodes c as TOML.
func (c Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
