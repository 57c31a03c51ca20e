package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/fan-controller/internal/ble"
	"github.com/sweeney/fan-controller/internal/config"
	"github.com/sweeney/fan-controller/internal/csc"
	"github.com/sweeney/fan-controller/internal/gpio"
	"github.com/sweeney/fan-controller/internal/logic"
	"github.com/sweeney/fan-controller/internal/mqtt"
	"github.com/sweeney/fan-controller/internal/phase"
	"github.com/sweeney/fan-controller/internal/status"
	"github.com/sweeney/fan-controller/internal/web"
)

// loop holds what runLoop reads and writes each control cycle.
type loop struct {
	decoder    *csc.Decoder
	conn       interface{ ConnMask() uint8 }
	zc         *phase.ZeroCross
	clock      phase.Clock
	scheduler  *phase.Scheduler
	controller *logic.Controller
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus // may be nil
	tracker    *status.Tracker       // may be nil
}

func run(cfg config.Config) error {
	scale, err := csc.UnitScale(cfg.Sensor.Units)
	if err != nil {
		return err
	}

	clock := phase.MonotonicClock{}
	channels := phase.NewChannels(len(cfg.GPIO.GatePins))
	zc := phase.NewZeroCross(clock.Micros(), channels)

	// Initialize GPIO; mains edges go straight to the crossing detector.
	lines, err := gpio.NewRealLines(cfg.GPIO.Chip, cfg.GPIO.MainsPin, cfg.GPIO.GatePins, zc.Edge)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer lines.Close()

	gates := make([]phase.Gate, len(lines.Gates))
	for i, g := range lines.Gates {
		gates[i] = g
	}
	sched, err := phase.NewScheduler(clock, zc, gates, time.Duration(cfg.Phase.PulseWidth))
	if err != nil {
		return err
	}

	// Deferred after lines.Close so it runs first: no pulse may be in flight
	// when the gates are released.
	stopScheduler := startScheduler(sched, &phase.SpinTimer{Clock: clock, Nice: cfg.Phase.Nice}, time.Duration(cfg.Phase.TickPeriod))
	defer stopScheduler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// BLE bridge
	decoder := csc.NewDecoder(cfg.Sensor.WheelCircumferenceMM, scale)
	dispatcher := ble.NewDispatcher(decoder)
	port, err := ble.OpenSerial(cfg.Bridge.Port, cfg.Bridge.Baud)
	if err != nil {
		// Keep the mains side up; with no sensor the fans stay off.
		log.Printf("ble: %v, running without a speed sensor", err)
	} else {
		defer port.Close()
		go runBridge(ctx, port, dispatcher)
	}

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	tracker := status.NewTracker(time.Now(), statusConfig(cfg))

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: channels=%d tick=%v pulse=%v period=%v broker=%s bridge=%s",
		len(channels), time.Duration(cfg.Phase.TickPeriod), time.Duration(cfg.Phase.PulseWidth),
		time.Duration(cfg.Control.Period), cfg.MQTT.Broker, cfg.Bridge.Port)

	ticker := time.NewTicker(time.Duration(cfg.Control.Period))
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	l := loop{
		decoder:    decoder,
		conn:       dispatcher,
		zc:         zc,
		clock:      clock,
		scheduler:  sched,
		controller: logic.NewController(cfg.Logic(), len(channels), time.Now()),
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
	}
	return runLoop(l, time.Now, ticker.C, sigCh)
}

// startScheduler runs sched on timer until the returned stop is called.
// stop returns only after the last tick has finished.
func startScheduler(sched *phase.Scheduler, timer phase.Timer, period time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(ctx, timer, period)
	}()
	return func() {
		cancel()
		<-done
	}
}

// runBridge relays bridge events until the link ends. A lost link drops
// every sensor, so the control loop sees a stopped wheel and the off delay
// applies.
func runBridge(ctx context.Context, r io.Reader, d *ble.Dispatcher) {
	err := ble.NewBridge(r, d).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		log.Printf("ble: bridge stopped: %v", err)
	} else {
		log.Printf("ble: bridge closed")
	}
	d.DisconnectAll()
}

func statusConfig(cfg config.Config) status.Config {
	return status.Config{
		Units:           cfg.Sensor.Units,
		SpeedMax:        cfg.Control.SpeedMax,
		SpeedMin:        cfg.Control.SpeedMin,
		SpeedThreshold:  cfg.Control.SpeedThreshold,
		OnDelayMs:       time.Duration(cfg.Control.OnDelay).Milliseconds(),
		OffDelayMs:      time.Duration(cfg.Control.OffDelay).Milliseconds(),
		MaxDelayUs:      cfg.Control.MaxDelayUs,
		ControlPeriodMs: time.Duration(cfg.Control.Period).Milliseconds(),
		Broker:          cfg.MQTT.Broker,
		HTTPAddr:        cfg.HTTP.Addr,
		BridgePort:      cfg.Bridge.Port,
	}
}

// runLoop runs one control cycle per tick until a signal arrives. On a
// signal every channel is disabled before the shutdown event goes out.
func runLoop(l loop, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	l.publishSystem(now(), "STARTUP", "")

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			for _, ch := range l.zc.Channels() {
				ch.Disable()
			}

			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			l.publishSystem(now(), "SHUTDOWN", signalName)
			return nil

		case <-tick:
			tel := l.cycle(now())
			log.Printf("cycle: speed=%.1f band=%s levels=%v mains=%.1fHz conn=%02b",
				tel.Speed, tel.Band, levels(tel.Channels), tel.MainsHz, tel.ConnMask)

			if err := l.publisher.Publish(tel); err != nil {
				log.Printf("publish error: %v", err)
			}
			if l.tracker != nil {
				l.tracker.Update(tel)
				if l.mqttStatus != nil {
					l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
				}
			}
		}
	}
}

// cycle samples the sensor and mains, runs the control law and writes the
// new delays to the channels.
func (l loop) cycle(t time.Time) logic.Telemetry {
	est := l.decoder.Estimate()
	hz := l.zc.SampleFrequency(l.clock.Micros())

	out := l.controller.Process(logic.Input{Speed: est.WheelSpeed, Time: t})

	channels := l.zc.Channels()
	chTel := make([]logic.ChannelTelemetry, len(channels))
	for i, ch := range channels {
		ch.Set(out.Levels[i], out.DelaysUs[i])
		chTel[i] = logic.ChannelTelemetry{Level: out.Levels[i], DelayUs: out.DelaysUs[i]}
	}

	stats := l.scheduler.Stats()
	return logic.Telemetry{
		Timestamp:    t,
		MainsHz:      hz,
		Speed:        est.WheelSpeed,
		SpeedValid:   est.Valid,
		Cadence:      est.Cadence,
		Power:        est.Power,
		SensorFlags:  est.Flags,
		ConnMask:     l.conn.ConnMask(),
		Band:         out.Band,
		ForcedOff:    out.ForcedOff,
		Channels:     chTel,
		GateFires:    stats.Fires,
		GateErrors:   stats.GateErrors,
		DecodeErrors: l.decoder.Stats().Errors,
	}
}

// publishSystem sends a lifecycle event, carrying a full status snapshot
// when a tracker is available. Failures are logged only.
func (l loop) publishSystem(t time.Time, event, reason string) {
	ev := mqtt.SystemEvent{
		Timestamp: t,
		Event:     event,
		Reason:    reason,
		Retained:  true,
	}
	if l.tracker != nil {
		if l.mqttStatus != nil {
			l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
		}
		ev.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), event, reason)
	}
	if err := l.publisher.PublishSystem(ev); err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
		return
	}
	log.Printf("published %s event", event)
}

func levels(chs []logic.ChannelTelemetry) []uint8 {
	out := make([]uint8, len(chs))
	for i, ch := range chs {
		out[i] = ch.Level
	}
	return out
}
