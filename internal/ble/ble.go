// Package ble routes Bluetooth sensor notifications to the measurement
// decoder. Scanning, GATT discovery and notification setup happen on a
// BLE-to-serial bridge; this side only sees a characteristic name and raw
// bytes.
package ble

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sweeney/fan-controller/internal/csc"
)

// Characteristic names a notifying characteristic.
type Characteristic string

const (
	CharCSC   Characteristic = "csc"   // cycling speed and cadence measurement
	CharPower Characteristic = "power" // cycling power measurement
)

// Connection mask bits reported in telemetry.
const (
	ConnCSC   uint8 = 1 << 0
	ConnPower uint8 = 1 << 1
)

// ErrUnknownCharacteristic is returned for a characteristic with no decoder.
var ErrUnknownCharacteristic = errors.New("ble: unknown characteristic")

// Notification is one characteristic value notification.
type Notification struct {
	Char Characteristic
	Data []byte
}

// Handler receives bridge events.
type Handler interface {
	Notify(n Notification) error
	Connected(c Characteristic) error
	Disconnected(c Characteristic) error
}

// Dispatcher feeds notifications to a csc.Decoder and tracks which
// characteristics are connected.
type Dispatcher struct {
	decoder *csc.Decoder
	conn    atomic.Uint32
}

// NewDispatcher returns a Dispatcher for decoder.
func NewDispatcher(decoder *csc.Decoder) *Dispatcher {
	return &Dispatcher{decoder: decoder}
}

// Notify decodes a notification. A decode error leaves the last estimate in
// place.
func (d *Dispatcher) Notify(n Notification) error {
	switch n.Char {
	case CharCSC:
		return d.decoder.Decode(n.Data)
	case CharPower:
		return d.decoder.DecodePower(n.Data)
	}
	return fmt.Errorf("%w: %q", ErrUnknownCharacteristic, n.Char)
}

// Connected marks a characteristic as connected.
func (d *Dispatcher) Connected(c Characteristic) error {
	bit, err := connBit(c)
	if err != nil {
		return err
	}
	d.conn.Or(uint32(bit))
	return nil
}

// Disconnected marks a characteristic as gone and zeroes its readings.
func (d *Dispatcher) Disconnected(c Characteristic) error {
	bit, err := connBit(c)
	if err != nil {
		return err
	}
	d.conn.And(^uint32(bit))
	switch c {
	case CharCSC:
		d.decoder.Reset()
	case CharPower:
		d.decoder.ResetPower()
	}
	return nil
}

// DisconnectAll marks every characteristic disconnected. The bridge calls
// for this when the serial link itself is lost, so no stale reading
// outlives it.
func (d *Dispatcher) DisconnectAll() {
	d.conn.Store(0)
	d.decoder.Reset()
	d.decoder.ResetPower()
}

// ConnMask returns the connected-characteristic bitmask.
func (d *Dispatcher) ConnMask() uint8 {
	return uint8(d.conn.Load())
}

func connBit(c Characteristic) (uint8, error) {
	switch c {
	case CharCSC:
		return ConnCSC, nil
	case CharPower:
		return ConnPower, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCharacteristic, c)
}
