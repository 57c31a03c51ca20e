package csc

import "sync/atomic"

// Estimate is the latest decoded state. Consumers read it at their own pace.
type Estimate struct {
	WheelSpeed float64 // display units
	Cadence    float64 // rpm
	Power      int16   // watts

	// Valid is set once a wheel speed has been computed from two samples.
	Valid        bool
	CadenceValid bool
	PowerValid   bool

	// Flags records which CSC fields the most recent packet refreshed, so a
	// consumer can tell "stopped" from "not reporting". A priming sample
	// refreshes nothing.
	Flags uint8
}

// Stats counts decoder activity.
type Stats struct {
	Packets uint64
	Errors  uint64
}

// Decoder turns successive measurements into an Estimate. Decode,
// DecodePower and Reset must be called from one goroutine; Estimate may be
// called from any.
type Decoder struct {
	circumferenceMM float64
	scale           float64

	wheelPrimed   bool
	lastWheelRevs uint32
	lastWheelTime uint16

	crankPrimed   bool
	lastCrankRevs uint16
	lastCrankTime uint16

	cur    Estimate
	latest atomic.Pointer[Estimate]

	packets atomic.Uint64
	errors  atomic.Uint64
}

// NewDecoder creates a decoder for a wheel of the given circumference. scale
// converts mm/s to display units (see UnitScale).
func NewDecoder(circumferenceMM, scale float64) *Decoder {
	d := &Decoder{
		circumferenceMM: circumferenceMM,
		scale:           scale,
	}
	d.latest.Store(&Estimate{})
	return d
}

// Decode applies a CSC measurement notification. A packet that fails to
// parse leaves the estimate untouched.
func (d *Decoder) Decode(data []byte) error {
	m, err := ParseMeasurement(data)
	if err != nil {
		d.errors.Add(1)
		return err
	}

	est := d.cur
	est.Flags = 0

	if m.HasWheel() {
		if d.wheelPrimed {
			revs := Delta(m.WheelRevs, d.lastWheelRevs)
			ticks := Delta(m.WheelTime, d.lastWheelTime)
			est.WheelSpeed = WheelSpeed(revs, ticks, d.circumferenceMM, d.scale)
			est.Valid = true
			est.Flags |= FlagWheel
		}
		d.lastWheelRevs, d.lastWheelTime = m.WheelRevs, m.WheelTime
		d.wheelPrimed = true
	}

	if m.HasCrank() {
		if d.crankPrimed {
			est.Cadence = Cadence(Delta(m.CrankRevs, d.lastCrankRevs), Delta(m.CrankTime, d.lastCrankTime))
			est.CadenceValid = true
			est.Flags |= FlagCrank
		}
		d.lastCrankRevs, d.lastCrankTime = m.CrankRevs, m.CrankTime
		d.crankPrimed = true
	}

	d.publish(est)
	return nil
}

// DecodePower applies a cycling power measurement notification.
func (d *Decoder) DecodePower(data []byte) error {
	p, err := ParsePower(data)
	if err != nil {
		d.errors.Add(1)
		return err
	}

	est := d.cur
	est.Power = p.Watts
	est.PowerValid = true
	d.publish(est)
	return nil
}

// Reset forgets previous CSC samples and publishes zero speed and cadence.
// Used when the sensor disconnects so the controller sees a stopped wheel.
// The power reading is kept.
func (d *Decoder) Reset() {
	d.wheelPrimed = false
	d.crankPrimed = false
	est := Estimate{Power: d.cur.Power, PowerValid: d.cur.PowerValid}
	d.cur = est
	d.latest.Store(&est)
}

// ResetPower clears the power reading.
func (d *Decoder) ResetPower() {
	est := d.cur
	est.Power = 0
	est.PowerValid = false
	d.cur = est
	d.latest.Store(&est)
}

// Estimate returns the most recent estimate.
func (d *Decoder) Estimate() Estimate {
	return *d.latest.Load()
}

// Stats returns packet and error counts.
func (d *Decoder) Stats() Stats {
	return Stats{
		Packets: d.packets.Load(),
		Errors:  d.errors.Load(),
	}
}

func (d *Decoder) publish(est Estimate) {
	d.cur = est
	d.latest.Store(&est)
	d.packets.Add(1)
}
