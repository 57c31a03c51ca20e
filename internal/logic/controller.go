package logic

import (
	"math"
	"time"
)

// Controller maps the latest speed to a level per channel. It is owned by the
// control loop and is not safe for concurrent use.
type Controller struct {
	cfg           Config
	levels        []uint8
	offTimerStart time.Time
	aboveSince    time.Time
}

// NewController creates a controller for n channels, all off. The off timer
// starts at start.
func NewController(cfg Config, n int, start time.Time) *Controller {
	return &Controller{
		cfg:           cfg,
		levels:        make([]uint8, n),
		offTimerStart: start,
	}
}

// Process runs one control cycle.
//
// At or above SpeedMax every channel goes to full; between SpeedMin and
// SpeedMax the level is proportional; between SpeedThreshold and SpeedMin it
// is the minimum non-zero level. Each of these resets the off timer. Below
// SpeedThreshold a level is held, unless the off timer has run for longer
// than OffDelay, in which case every channel is forced off.
func (c *Controller) Process(in Input) Output {
	band := c.band(in.Speed)

	if in.Speed >= c.cfg.SpeedThreshold {
		if c.aboveSince.IsZero() {
			c.aboveSince = in.Time
		}
	} else {
		c.aboveSince = time.Time{}
	}

	if band != BandHold {
		c.offTimerStart = in.Time
		target := c.target(band, in.Speed)
		for i, lvl := range c.levels {
			if lvl == 0 && !c.onDelayElapsed(in.Time) {
				continue
			}
			c.levels[i] = target
		}
	}

	out := Output{Band: band}
	if in.Time.Sub(c.offTimerStart) > c.cfg.OffDelay && in.Speed < c.cfg.SpeedThreshold {
		for i := range c.levels {
			c.levels[i] = 0
		}
		out.ForcedOff = true
	}

	out.Levels = c.Levels()
	out.DelaysUs = make([]uint32, len(c.levels))
	for i, lvl := range c.levels {
		out.DelaysUs[i] = LevelToDelay(lvl, c.cfg.MaxDelayUs)
	}
	return out
}

// Levels returns a copy of the current levels.
func (c *Controller) Levels() []uint8 {
	out := make([]uint8, len(c.levels))
	copy(out, c.levels)
	return out
}

func (c *Controller) band(speed float64) Band {
	switch {
	case speed >= c.cfg.SpeedMax:
		return BandFull
	case speed >= c.cfg.SpeedMin:
		return BandProportional
	case speed >= c.cfg.SpeedThreshold:
		return BandMinimum
	}
	return BandHold
}

// target returns the level for a non-hold band. The proportional band
// divides by SpeedMax rather than the band width and is floored at
// ProportionalFloor. Out-of-order thresholds can push it past the level
// range; it then saturates at MaxLevel.
func (c *Controller) target(band Band, speed float64) uint8 {
	switch band {
	case BandFull:
		return MaxLevel
	case BandProportional:
		v := math.Round(MaxLevel * (speed - c.cfg.SpeedMin) / c.cfg.SpeedMax)
		floor := float64(c.cfg.ProportionalFloor)
		if math.IsNaN(v) || v < floor {
			return c.cfg.ProportionalFloor
		}
		if v > MaxLevel {
			return MaxLevel
		}
		return uint8(v)
	}
	return 1
}

func (c *Controller) onDelayElapsed(now time.Time) bool {
	if c.cfg.OnDelay <= 0 {
		return true
	}
	return !c.aboveSince.IsZero() && now.Sub(c.aboveSince) >= c.cfg.OnDelay
}

// LevelToDelay converts a level to a firing delay. Level 0 maps to 0
// (disabled); any other level maps to at least 1 so that 0 stays
// unambiguous.
func LevelToDelay(level uint8, maxDelayUs uint32) uint32 {
	if level == 0 {
		return 0
	}
	d := uint64(maxDelayUs) - uint64(maxDelayUs)*uint64(level)/MaxLevel
	if d == 0 {
		return 1
	}
	return uint32(d)
}
