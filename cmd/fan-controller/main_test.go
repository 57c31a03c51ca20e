package main

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/fan-controller/internal/ble"
	"github.com/sweeney/fan-controller/internal/config"
	"github.com/sweeney/fan-controller/internal/csc"
	"github.com/sweeney/fan-controller/internal/gpio"
	"github.com/sweeney/fan-controller/internal/logic"
	"github.com/sweeney/fan-controller/internal/mqtt"
	"github.com/sweeney/fan-controller/internal/phase"
	"github.com/sweeney/fan-controller/internal/status"
)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

var testStart = time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)

type testRig struct {
	loop     loop
	clock    *phase.FakeClock
	mains    *gpio.FakeMains
	channels []*phase.Channel
	disp     *ble.Dispatcher
	pub      *mqtt.FakePublisher
	tracker  *status.Tracker
}

// newTestRig wires a two-channel loop to fakes, with the default control
// thresholds in mph.
func newTestRig(t *testing.T) *testRig {
	t.Helper()
	clock := phase.NewFakeClock(0)
	channels := phase.NewChannels(2)
	zc := phase.NewZeroCross(0, channels)

	fakes := gpio.NewFakeGates(2)
	gates := make([]phase.Gate, len(fakes))
	for i, g := range fakes {
		gates[i] = g
	}
	sched, err := phase.NewScheduler(clock, zc, gates, phase.DefaultPulseWidth)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	decoder := csc.NewDecoder(2105, csc.MMPerSecToMPH)
	disp := ble.NewDispatcher(decoder)
	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(testStart, status.Config{Units: "mph"})

	return &testRig{
		loop: loop{
			decoder:    decoder,
			conn:       disp,
			zc:         zc,
			clock:      clock,
			scheduler:  sched,
			controller: logic.NewController(logic.DefaultConfig(), 2, testStart),
			publisher:  pub,
			mqttStatus: pub,
			tracker:    tracker,
		},
		clock:    clock,
		mains:    gpio.NewFakeMains(zc.Edge),
		channels: channels,
		disp:     disp,
		pub:      pub,
		tracker:  tracker,
	}
}

// ride feeds two wheel packets one second apart with revs revolutions
// between them.
func (r *testRig) ride(t *testing.T, revs uint32) {
	t.Helper()
	r.disp.Connected(ble.CharCSC)
	for _, data := range [][]byte{
		{csc.FlagWheel, 0, 0, 0, 0, 0, 0},
		{csc.FlagWheel, byte(revs), 0, 0, 0, 0x00, 0x04},
	} {
		if err := r.disp.Notify(ble.Notification{Char: ble.CharCSC, Data: data}); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
}

// runRunLoop drives runLoop through nTicks control cycles and then signal.
func runRunLoop(t *testing.T, l loop, clock func() time.Time, nTicks int, signal os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(l, clock, tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal

	return <-errCh
}

func TestRunLoopStartupAndShutdown(t *testing.T) {
	rig := newTestRig(t)

	err := runRunLoop(t, rig.loop, fakeClock(testStart, time.Second), 0, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(rig.pub.Telemetry) != 0 {
		t.Errorf("expected no telemetry, got %d", len(rig.pub.Telemetry))
	}
	if len(rig.pub.SystemEvents) != 2 {
		t.Fatalf("expected 2 system events, got %d", len(rig.pub.SystemEvents))
	}
	if ev := rig.pub.SystemEvents[0]; ev.Event != "STARTUP" || !ev.Retained {
		t.Errorf("first event = %+v, want retained STARTUP", ev)
	}
	if ev := rig.pub.SystemEvents[1]; ev.Event != "SHUTDOWN" || ev.Reason != "SIGTERM" {
		t.Errorf("second event = %+v, want SHUTDOWN/SIGTERM", ev)
	}
	if !strings.Contains(string(rig.pub.SystemPayloads[1]), `"reason":"SIGTERM"`) {
		t.Errorf("shutdown payload lacks reason: %s", rig.pub.SystemPayloads[1])
	}
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	rig := newTestRig(t)

	if err := runRunLoop(t, rig.loop, fakeClock(testStart, time.Second), 1, syscall.SIGINT); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	last := rig.pub.SystemEvents[len(rig.pub.SystemEvents)-1]
	if last.Reason != "SIGINT" {
		t.Errorf("reason = %q, want SIGINT", last.Reason)
	}
}

func TestRunLoopProportional(t *testing.T) {
	rig := newTestRig(t)
	rig.ride(t, 2) // 4210 mm/s, about 9.42 mph

	if err := runRunLoop(t, rig.loop, fakeClock(testStart, 5*time.Second), 1, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(rig.pub.Telemetry) != 1 {
		t.Fatalf("expected 1 telemetry report, got %d", len(rig.pub.Telemetry))
	}
	tel := rig.pub.Telemetry[0]

	wantSpeed := 4210 * csc.MMPerSecToMPH
	if math.Abs(tel.Speed-wantSpeed) > 1e-9 || !tel.SpeedValid {
		t.Errorf("speed = %v valid=%v, want %v", tel.Speed, tel.SpeedValid, wantSpeed)
	}
	if tel.Band != logic.BandProportional {
		t.Errorf("band = %s, want PROPORTIONAL", tel.Band)
	}
	wantLevel := uint8(math.Round(255 * (wantSpeed - 5) / 20))
	for i, ch := range tel.Channels {
		if ch.Level != wantLevel || ch.DelayUs != logic.LevelToDelay(wantLevel, 6000) {
			t.Errorf("channel %d = %+v, want level %d", i, ch, wantLevel)
		}
	}
	if tel.ConnMask != ble.ConnCSC {
		t.Errorf("conn mask = %b, want %b", tel.ConnMask, ble.ConnCSC)
	}

	// Shutdown disables every channel.
	for i, ch := range rig.channels {
		if ch.Delay() != 0 {
			t.Errorf("channel %d delay after shutdown = %d, want 0", i, ch.Delay())
		}
	}
}

func TestRunLoopWritesChannelDelays(t *testing.T) {
	rig := newTestRig(t)
	rig.ride(t, 5) // about 23.5 mph

	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- runLoop(rig.loop, fakeClock(testStart, 5*time.Second), tick, sig) }()

	tick <- time.Time{}
	// The next tick is only received once the first cycle has finished.
	tick <- time.Time{}

	for i, ch := range rig.channels {
		if ch.Level() != logic.MaxLevel || ch.Delay() != 1 {
			t.Errorf("channel %d level=%d delay=%d, want full", i, ch.Level(), ch.Delay())
		}
	}

	sig <- syscall.SIGTERM
	if err := <-done; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

func TestRunLoopOffDelay(t *testing.T) {
	rig := newTestRig(t)
	// Channels start at a level so the forced-off transition shows.
	rig.loop.controller.Process(logic.Input{Speed: 20, Time: testStart})

	// STARTUP consumes t0; cycles run at 10s, 20s, 30s, 40s with no speed.
	if err := runRunLoop(t, rig.loop, fakeClock(testStart, 10*time.Second), 4, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	tels := rig.pub.Telemetry
	if len(tels) != 4 {
		t.Fatalf("expected 4 reports, got %d", len(tels))
	}
	for i := 0; i < 3; i++ {
		if tels[i].ForcedOff || tels[i].Channels[0].Level != logic.MaxLevel {
			t.Errorf("cycle %d: forced=%v level=%d, want held at full", i, tels[i].ForcedOff, tels[i].Channels[0].Level)
		}
	}
	if !tels[3].ForcedOff || tels[3].Channels[0].Level != 0 || tels[3].Channels[0].DelayUs != 0 {
		t.Errorf("cycle 3: %+v, want forced off", tels[3])
	}
	if tels[3].Band != logic.BandHold {
		t.Errorf("band = %s, want HOLD", tels[3].Band)
	}
}

// dyingReader serves data, then blocks until release is closed and fails
// the way an unplugged serial device does.
type dyingReader struct {
	data    *strings.Reader
	release chan struct{}
}

func (r *dyingReader) Read(p []byte) (int, error) {
	if r.data.Len() > 0 {
		return r.data.Read(p)
	}
	<-r.release
	return 0, errors.New("read /dev/ttyACM0: input/output error")
}

func TestBridgeLossForcesOff(t *testing.T) {
	rig := newTestRig(t)

	// 10 rev/s, well above SpeedMax.
	r := &dyingReader{
		data:    strings.NewReader("C csc\nN csc 01000000000000\nN csc 010a0000000004\n"),
		release: make(chan struct{}),
	}
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		runBridge(context.Background(), r, rig.disp)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !rig.loop.decoder.Estimate().Valid {
		if time.Now().After(deadline) {
			t.Fatal("bridge never delivered a speed")
		}
		time.Sleep(time.Millisecond)
	}

	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	done := make(chan error, 1)
	// STARTUP consumes t0; cycles run every 10s from 10s to 60s. The 20s
	// cycle may or may not see the link drop, so the off delay has expired
	// by 60s either way.
	go func() { done <- runLoop(rig.loop, fakeClock(testStart, 10*time.Second), tick, sig) }()

	tick <- time.Time{}
	tick <- time.Time{} // first cycle has finished once this is received
	close(r.release)
	<-bridgeDone
	for i := 0; i < 4; i++ {
		tick <- time.Time{}
	}
	sig <- syscall.SIGTERM
	if err := <-done; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	tels := rig.pub.Telemetry
	if len(tels) != 6 {
		t.Fatalf("expected 6 reports, got %d", len(tels))
	}
	if tels[0].Band != logic.BandFull || tels[0].Channels[0].Level != logic.MaxLevel {
		t.Errorf("cycle 0: %+v, want full", tels[0])
	}
	last := tels[5]
	if last.Speed != 0 || last.ConnMask != 0 {
		t.Errorf("after bridge loss: speed=%v conn=%b, want 0 and 0", last.Speed, last.ConnMask)
	}
	if !last.ForcedOff || last.Channels[0].Level != 0 || last.Channels[1].DelayUs != 0 {
		t.Errorf("last cycle: %+v, want forced off", last)
	}
}

func TestRunBridgeCancelKeepsSensors(t *testing.T) {
	rig := newTestRig(t)
	rig.ride(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runBridge(ctx, strings.NewReader("N csc 01040000000008\n"), rig.disp)

	if rig.disp.ConnMask() != ble.ConnCSC || !rig.loop.decoder.Estimate().Valid {
		t.Error("shutdown should not drop sensors")
	}
}

// lingeringTimer keeps working for a while after ctx is done, like a tick
// that is mid-pulse when shutdown starts.
type lingeringTimer struct {
	ticks  atomic.Int64
	exited atomic.Bool
}

func (l *lingeringTimer) Run(ctx context.Context, period time.Duration, fn func()) {
	for ctx.Err() == nil {
		fn()
		l.ticks.Add(1)
	}
	time.Sleep(20 * time.Millisecond)
	fn()
	l.exited.Store(true)
}

func TestStopSchedulerWaitsForLastTick(t *testing.T) {
	rig := newTestRig(t)
	timer := &lingeringTimer{}

	stop := startScheduler(rig.loop.scheduler, timer, time.Microsecond)
	deadline := time.Now().Add(2 * time.Second)
	for timer.ticks.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduler never ticked")
		}
		time.Sleep(time.Millisecond)
	}

	stop()
	if !timer.exited.Load() {
		t.Fatal("stop returned while the timer was still running")
	}
	ticks := rig.loop.scheduler.Stats().Ticks
	time.Sleep(10 * time.Millisecond)
	if got := rig.loop.scheduler.Stats().Ticks; got != ticks {
		t.Errorf("ticks after stop: %d, want %d", got, ticks)
	}
}

func TestRunLoopMainsFrequency(t *testing.T) {
	rig := newTestRig(t)
	rig.mains.Cycles(0, 20000, 50)
	rig.clock.Set(1_000_000)

	if err := runRunLoop(t, rig.loop, fakeClock(testStart, time.Second), 1, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if hz := rig.pub.Telemetry[0].MainsHz; math.Abs(hz-50) > 1e-9 {
		t.Errorf("mains = %v Hz, want 50", hz)
	}
}

func TestRunLoopPublishError(t *testing.T) {
	rig := newTestRig(t)
	rig.pub.PublishError = errors.New("broker unreachable")
	rig.pub.PublishSystemError = errors.New("broker unreachable")
	rig.ride(t, 2)

	if err := runRunLoop(t, rig.loop, fakeClock(testStart, time.Second), 3, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop should not fail on publish errors: %v", err)
	}

	snap := rig.tracker.Snapshot()
	if snap.Cycles != 3 {
		t.Errorf("tracker cycles = %d, want 3", snap.Cycles)
	}
}

func TestRunLoopUpdatesTracker(t *testing.T) {
	rig := newTestRig(t)
	rig.pub.Connected = true
	rig.ride(t, 2)

	if err := runRunLoop(t, rig.loop, fakeClock(testStart, time.Second), 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	snap := rig.tracker.Snapshot()
	if !snap.Ready() || snap.Cycles != 2 {
		t.Errorf("Ready=%v Cycles=%d", snap.Ready(), snap.Cycles)
	}
	if !snap.MQTTConnected {
		t.Error("expected MQTT connected in tracker")
	}
	if snap.Telemetry.Band != logic.BandProportional {
		t.Errorf("tracker band = %s", snap.Telemetry.Band)
	}
	if !strings.Contains(string(rig.pub.SystemPayloads[1]), `"cycles":2`) {
		t.Errorf("shutdown snapshot missing cycles: %s", rig.pub.SystemPayloads[1])
	}
}

func TestRunLoopWithoutTracker(t *testing.T) {
	rig := newTestRig(t)
	rig.loop.tracker = nil
	rig.loop.mqttStatus = nil

	if err := runRunLoop(t, rig.loop, fakeClock(testStart, time.Second), 1, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if !strings.Contains(string(rig.pub.SystemPayloads[1]), `"system"`) {
		t.Errorf("expected plain system payload, got %s", rig.pub.SystemPayloads[1])
	}
}

func TestDecodePackets(t *testing.T) {
	var buf bytes.Buffer
	err := decodePackets(&buf, config.Sensor{WheelCircumferenceMM: 2105, Units: "kph"}, []string{
		"01000000000000",
		"01:02:00:00:00:00:04",
		"01",
		"03040000000008" + "0a00" + "0004",
	})
	if err != nil {
		t.Fatalf("decodePackets: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "speed=-") || !strings.Contains(lines[0], "fresh=00") {
		t.Errorf("first packet should only prime: %q", lines[0])
	}
	if !strings.Contains(lines[1], "speed=15.16 kph") || !strings.Contains(lines[1], "fresh=01") {
		t.Errorf("second packet: %q", lines[1])
	}
	if !strings.Contains(lines[2], "too short") {
		t.Errorf("short packet should report an error: %q", lines[2])
	}
	if !strings.Contains(lines[3], "crank=10/1024") {
		t.Errorf("crank fields missing: %q", lines[3])
	}
}

func TestDecodePacketsBadHex(t *testing.T) {
	err := decodePackets(&bytes.Buffer{}, config.Default().Sensor, []string{"zz"})
	if err == nil {
		t.Error("expected error for bad hex")
	}
}

func TestConfigCommandAppliesFlags(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.toml")

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"config", "--config", missing, "--broker", "tcp://10.0.0.5:1883", "--http", "off"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `broker = "tcp://10.0.0.5:1883"`) {
		t.Errorf("broker override missing:\n%s", out)
	}
	if !strings.Contains(out, `addr = ""`) {
		t.Errorf("http should be disabled:\n%s", out)
	}
	if !strings.Contains(out, `units = "mph"`) {
		t.Errorf("defaults missing:\n%s", out)
	}
}

func TestReportState(t *testing.T) {
	zc := phase.NewZeroCross(0, nil)
	mains := gpio.NewFakeMains(zc.Edge)
	end := mains.Cycles(0, 20000, 50) // one second at 50 Hz

	var buf bytes.Buffer
	if err := reportState(&buf, mains, zc, end); err != nil {
		t.Fatalf("reportState: %v", err)
	}
	want := "mains: level=HIGH freq=50.00Hz half-cycles=10000us/10000us\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestReportStateReadError(t *testing.T) {
	zc := phase.NewZeroCross(0, nil)
	mains := gpio.NewFakeMains(zc.Edge)
	mains.ReadError = errors.New("line released")

	if err := reportState(&bytes.Buffer{}, mains, zc, 1000); err == nil {
		t.Error("expected read error")
	}
}

func TestStatusConfig(t *testing.T) {
	sc := statusConfig(config.Default())
	if sc.OffDelayMs != 30000 || sc.ControlPeriodMs != 5000 || sc.Units != "mph" {
		t.Errorf("statusConfig = %+v", sc)
	}
}
