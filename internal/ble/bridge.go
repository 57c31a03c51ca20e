package ble

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaud is the bridge's UART rate.
const DefaultBaud = 115200

// ErrBadLine is returned for a line that does not follow the bridge protocol.
var ErrBadLine = errors.New("ble: bad bridge line")

// Line kinds of the bridge protocol.
const (
	KindNotify     = 'N'
	KindConnect    = 'C'
	KindDisconnect = 'D'
)

// Line is one parsed bridge line.
type Line struct {
	Kind byte
	Char Characteristic
	Data []byte
}

// ParseLine parses one line of the bridge protocol:
//
//	N <char> <hex>   notification payload
//	C <char>         sensor connected, notifications enabled
//	D <char>         sensor disconnected
func ParseLine(s string) (Line, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 || len(fields[0]) != 1 {
		return Line{}, fmt.Errorf("%w: %q", ErrBadLine, s)
	}

	l := Line{Kind: fields[0][0], Char: Characteristic(strings.ToLower(fields[1]))}
	switch l.Kind {
	case KindNotify:
		if len(fields) != 3 {
			return Line{}, fmt.Errorf("%w: %q", ErrBadLine, s)
		}
		data, err := hex.DecodeString(fields[2])
		if err != nil {
			return Line{}, fmt.Errorf("%w: %q: %v", ErrBadLine, s, err)
		}
		l.Data = data
	case KindConnect, KindDisconnect:
		if len(fields) != 2 {
			return Line{}, fmt.Errorf("%w: %q", ErrBadLine, s)
		}
	default:
		return Line{}, fmt.Errorf("%w: %q", ErrBadLine, s)
	}
	return l, nil
}

// Bridge reads the line protocol from r and hands events to h. Malformed
// lines and decode failures are logged and skipped.
type Bridge struct {
	r io.Reader
	h Handler
}

// NewBridge creates a Bridge.
func NewBridge(r io.Reader, h Handler) *Bridge {
	return &Bridge{r: r, h: h}
}

// Run reads until r is exhausted, fails, or ctx is done. Blank lines and
// lines starting with '#' are ignored. Closing r unblocks a pending read.
func (b *Bridge) Run(ctx context.Context) error {
	sc := bufio.NewScanner(b.r)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		if err := b.handle(text); err != nil {
			log.Printf("ble: %v", err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read bridge: %w", err)
	}
	return nil
}

func (b *Bridge) handle(text string) error {
	l, err := ParseLine(text)
	if err != nil {
		return err
	}

	switch l.Kind {
	case KindConnect:
		log.Printf("ble: %s connected", l.Char)
		return b.h.Connected(l.Char)
	case KindDisconnect:
		log.Printf("ble: %s disconnected", l.Char)
		return b.h.Disconnected(l.Char)
	}
	if err := b.h.Notify(Notification{Char: l.Char, Data: l.Data}); err != nil {
		return fmt.Errorf("%s notification % X: %w", l.Char, l.Data, err)
	}
	return nil
}

// AutoPort is the port name that selects the first USB serial device.
const AutoPort = "auto"

// ErrNoBridge is returned when no USB serial device is present.
var ErrNoBridge = errors.New("ble: no USB serial bridge found")

// DetectPort returns the first USB serial port, which on the controller
// board is the BLE bridge.
func DetectPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("list serial ports: %w", err)
	}
	for _, p := range ports {
		if p.IsUSB {
			return p.Name, nil
		}
	}
	return "", ErrNoBridge
}

// OpenSerial opens the bridge's serial port. AutoPort picks one with
// DetectPort.
func OpenSerial(name string, baud int) (serial.Port, error) {
	if name == AutoPort {
		detected, err := DetectPort()
		if err != nil {
			return nil, err
		}
		log.Printf("ble: detected bridge on %s", detected)
		name = detected
	}

	if baud <= 0 {
		baud = DefaultBaud
	}
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open bridge %s: %w", name, err)
	}
	return port, nil
}
