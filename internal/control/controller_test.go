package control

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sweeney/soil-pump/internal/adc"
	"github.com/sweeney/soil-pump/internal/gpio"
	"github.com/sweeney/soil-pump/internal/link"
	"github.com/sweeney/soil-pump/internal/logging"
	"github.com/sweeney/soil-pump/internal/metrics"
	"github.com/sweeney/soil-pump/internal/mqtt"
	"github.com/sweeney/soil-pump/internal/protocol"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	clock   *FakeClock
	link    *link.FakeLink
	dialer  *mqtt.FakeDialer
	sensor  *adc.FakeReader
	pump    *gpio.FakeOutput
	led     *gpio.FakeOutput
	metrics *metrics.Metrics
	ctrl    *Controller
}

func testSettings() Settings {
	return Settings{
		SSID:     "garden-ap",
		Password: "pw",
		Session: mqtt.Options{
			ClientID:          "soil-pump",
			Host:              "broker.test",
			Port:              1883,
			CommandTopic:      protocol.DefaultCommandTopic,
			AvailabilityTopic: protocol.DefaultAvailabilityTopic,
		},
		TelemetryTopic:    protocol.DefaultTelemetryTopic,
		Tick:              time.Second,
		TelemetryInterval: 10 * time.Second,
		PumpMaxRuntime:    60 * time.Second,
		WatchdogSilence:   3600 * time.Second,
		ReconnectBackoff:  5 * time.Second,
	}
}

// newHarness builds a controller whose clock starts at start with the link up.
func newHarness(t *testing.T, start time.Time) *harness {
	t.Helper()
	h := &harness{
		clock:   NewFakeClock(start),
		link:    &link.FakeLink{Connected: true},
		dialer:  &mqtt.FakeDialer{},
		sensor:  adc.NewFakeReader(1873),
		pump:    gpio.NewFakeOutput(),
		led:     gpio.NewFakeOutput(),
		metrics: metrics.New(),
	}
	h.ctrl = New(testSettings(), Deps{
		Link:      h.link,
		Dialer:    h.dialer,
		Sensor:    h.sensor,
		Pump:      h.pump,
		Indicator: h.led,
		Clock:     h.clock,
		Logger:    logging.Discard(),
		Metrics:   h.metrics,
	})
	return h
}

// tickAt moves the clock to t0+offset and runs one tick.
func (h *harness) tickAt(t *testing.T, offset time.Duration) {
	t.Helper()
	h.clock.Set(t0.Add(offset))
	if err := h.ctrl.Tick(context.Background()); err != nil {
		t.Fatalf("tick at %v: %v", offset, err)
	}
}

// deliver queues a command on the current session.
func (h *harness) deliver(t *testing.T, payload string) {
	t.Helper()
	s := h.dialer.Last()
	if s == nil || s.Closed {
		t.Fatal("no open session to deliver to")
	}
	s.Deliver(protocol.DefaultCommandTopic, payload)
}

func (h *harness) published() []mqtt.Message {
	var all []mqtt.Message
	for _, s := range h.dialer.Sessions {
		all = append(all, s.Published...)
	}
	return all
}

func TestFirstTickConnects(t *testing.T) {
	h := newHarness(t, t0)
	h.tickAt(t, 0)

	if h.dialer.Dials != 1 {
		t.Fatalf("expected 1 dial, got %d", h.dialer.Dials)
	}
	if h.led.On {
		t.Error("indicator should be off with a session")
	}
	if len(h.published()) != 0 {
		t.Error("telemetry should not be published before one interval has passed")
	}
	if got := h.dialer.Last().Options.CommandTopic; got != "garden/water" {
		t.Errorf("dialed with command topic %q", got)
	}
	if !h.ctrl.State().SessionConnected {
		t.Error("state should report session connected")
	}
}

func TestTelemetryPublishedAfterInterval(t *testing.T) {
	h := newHarness(t, t0)
	h.tickAt(t, 0)
	h.tickAt(t, 9*time.Second)
	if len(h.published()) != 0 {
		t.Fatal("published early")
	}

	h.tickAt(t, 10*time.Second)
	msgs := h.published()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(msgs))
	}
	if msgs[0].Topic != "garden/moisture" || string(msgs[0].Payload) != "1873" {
		t.Errorf("got %s=%q", msgs[0].Topic, msgs[0].Payload)
	}

	st := h.ctrl.State()
	if !st.LastPublish.Equal(t0.Add(10*time.Second)) || !st.LastSuccess.Equal(st.LastPublish) {
		t.Errorf("timers not advanced: %+v", st)
	}
	if st.Moisture != 1873 || !st.HaveMoisture {
		t.Errorf("moisture: got %d", st.Moisture)
	}
	if got := testutil.ToFloat64(h.metrics.Publishes.WithLabelValues(metrics.ResultOK)); got != 1 {
		t.Errorf("publish metric: got %v", got)
	}
}

func TestTelemetryAtMostOncePerInterval(t *testing.T) {
	h := newHarness(t, t0)

	var times []time.Time
	for i := 0; i <= 100; i++ {
		before := len(h.published())
		h.tickAt(t, time.Duration(i)*time.Second)
		if len(h.published()) > before {
			times = append(times, h.clock.Now())
		}
	}

	if len(times) != 10 {
		t.Fatalf("expected 10 publishes in 100s, got %d", len(times))
	}
	last := t0
	for _, ts := range times {
		if gap := ts.Sub(last); gap < 10*time.Second {
			t.Errorf("publish at %v only %v after previous", ts.Sub(t0), gap)
		}
		last = ts
	}
}

func TestPublishFailureDropsSession(t *testing.T) {
	h := newHarness(t, t0)
	h.dialer.PublishError = errors.New("broken pipe")

	h.tickAt(t, 0)
	first := h.dialer.Last()

	h.tickAt(t, 10*time.Second)
	if !first.Closed {
		t.Error("failed session should be closed")
	}
	if h.ctrl.State().SessionConnected {
		t.Error("session should be absent after publish failure")
	}
	if !h.led.On {
		t.Error("indicator should be on while the session is absent")
	}
	if st := h.ctrl.State(); !st.LastPublish.Equal(t0) {
		t.Errorf("LastPublish must not advance on failure, got %v", st.LastPublish.Sub(t0))
	}

	// Reconnect on the very next tick, and telemetry is retried because it is still due.
	h.tickAt(t, 11*time.Second)
	if h.dialer.Dials != 2 {
		t.Errorf("expected reconnect on next tick, dials=%d", h.dialer.Dials)
	}
	if got := h.ctrl.State().Counts.PublishFailures; got != 2 {
		t.Errorf("publish failures: got %d, want 2", got)
	}
}

func TestScenarioThreeConsecutivePublishFailures(t *testing.T) {
	h := newHarness(t, t0)
	h.dialer.PublishError = errors.New("broker gone")
	h.tickAt(t, 0)

	// Broker unreachable from the first failure on.
	for interval := 1; interval <= 3; interval++ {
		h.tickAt(t, time.Duration(interval)*10*time.Second)
		h.dialer.DialError = errors.New("connection refused")

		if h.ctrl.State().SessionConnected {
			t.Fatalf("interval %d: session should be absent", interval)
		}
		if !h.led.On {
			t.Fatalf("interval %d: indicator should be on", interval)
		}
	}

	// First failure at 10s dropped the session; every later tick redialed once
	// and backed off 5s.
	if got := h.ctrl.State().Counts.PublishFailures; got != 1 {
		t.Errorf("publish failures: got %d, want 1", got)
	}
	if h.dialer.Dials != 3 {
		t.Errorf("dials: got %d, want 3 (initial, 20s, 30s)", h.dialer.Dials)
	}
	if len(h.clock.Sleeps) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %v", h.clock.Sleeps)
	}
	for _, d := range h.clock.Sleeps {
		if d != 5*time.Second {
			t.Errorf("backoff: got %v, want 5s", d)
		}
	}
}

func TestReconnectEveryTickWithBackoff(t *testing.T) {
	h := newHarness(t, t0)
	h.dialer.DialError = errors.New("connection refused")

	for i := 0; i < 5; i++ {
		if err := h.ctrl.Tick(context.Background()); err != nil {
			t.Fatal(err)
		}
		if !h.led.On {
			t.Fatalf("tick %d: indicator should be on", i)
		}
		h.clock.Advance(time.Second)
	}

	if h.dialer.Dials != 5 {
		t.Errorf("dials: got %d, want 5", h.dialer.Dials)
	}
	if len(h.clock.Sleeps) != 5 {
		t.Errorf("sleeps: got %v", h.clock.Sleeps)
	}
	if got := testutil.ToFloat64(h.metrics.SessionDials.WithLabelValues(metrics.ResultError)); got != 5 {
		t.Errorf("dial error metric: got %v", got)
	}
}

func TestScenarioPumpCutoff(t *testing.T) {
	h := newHarness(t, t0.Add(-time.Second))
	h.tickAt(t, -time.Second)

	h.deliver(t, "ON")
	h.tickAt(t, 0)
	ps := h.ctrl.PumpState()
	if !h.pump.On || !ps.Running || !ps.Since.Equal(t0) {
		t.Fatalf("after ON: relay=%v state=%+v", h.pump.On, ps)
	}

	h.tickAt(t, 59*time.Second)
	if !h.pump.On || !h.ctrl.PumpState().Running {
		t.Fatal("pump should still be running at 59s")
	}

	h.tickAt(t, 61*time.Second)
	if h.pump.On || h.ctrl.PumpState().Running {
		t.Fatal("pump should be cut off at 61s without any command")
	}
	if got := h.ctrl.State().Counts.Cutoffs; got != 1 {
		t.Errorf("cutoffs: got %d", got)
	}
	if got := testutil.ToFloat64(h.metrics.PumpCutoffs); got != 1 {
		t.Errorf("cutoff metric: got %v", got)
	}
}

func TestRepeatedOnRestartsRuntime(t *testing.T) {
	h := newHarness(t, t0.Add(-time.Second))
	h.tickAt(t, -time.Second)

	h.deliver(t, "ON")
	h.tickAt(t, 0)
	h.deliver(t, "ON")
	h.tickAt(t, 30*time.Second)
	if got := h.ctrl.PumpState().Since; !got.Equal(t0.Add(30 * time.Second)) {
		t.Errorf("second ON should move Since to 30s, got %v", got.Sub(t0))
	}

	h.tickAt(t, 61*time.Second)
	if !h.pump.On || !h.ctrl.PumpState().Running {
		t.Error("pump should still run 31s after the second ON")
	}

	h.tickAt(t, 90*time.Second)
	if h.pump.On || h.ctrl.PumpState().Running {
		t.Error("pump should be off 60s after the second ON")
	}
	if got := h.ctrl.State().Counts.Cutoffs; got != 1 {
		t.Errorf("cutoffs: got %d", got)
	}
}

func TestOnQueuedInCutoffTickRestartsPump(t *testing.T) {
	h := newHarness(t, t0.Add(-time.Second))
	h.tickAt(t, -time.Second)
	h.deliver(t, "ON")
	h.tickAt(t, 0)

	h.deliver(t, "ON")
	h.tickAt(t, 61*time.Second)
	ps := h.ctrl.PumpState()
	if !h.pump.On || !ps.Running {
		t.Fatalf("fresh ON should keep the pump on: relay=%v state=%+v", h.pump.On, ps)
	}
	if !ps.Since.Equal(t0.Add(61 * time.Second)) {
		t.Errorf("Since: got %v, want 61s", ps.Since.Sub(t0))
	}

	h.tickAt(t, 121*time.Second)
	if h.pump.On {
		t.Error("pump should be cut off 60s after the fresh ON")
	}
}

func TestOffCommand(t *testing.T) {
	h := newHarness(t, t0.Add(-time.Second))
	h.tickAt(t, -time.Second)
	h.deliver(t, "ON")
	h.tickAt(t, 0)
	h.deliver(t, "OFF")
	h.tickAt(t, 5*time.Second)

	if h.pump.On || h.ctrl.PumpState().Running {
		t.Error("pump should be off")
	}
	want := []bool{true, false}
	if len(h.pump.Writes) != len(want) {
		t.Fatalf("relay writes: got %v, want %v", h.pump.Writes, want)
	}
	st := h.ctrl.State()
	if st.Counts.CommandsOn != 1 || st.Counts.CommandsOff != 1 || st.Counts.Cutoffs != 0 {
		t.Errorf("counts: %+v", st.Counts)
	}
}

func TestNonExactPayloadsIgnored(t *testing.T) {
	payloads := []string{"on", "Off", "ON ", " OFF", "ON\n", "", "1", "TRUE", "{\"state\":\"ON\"}"}

	for _, p := range payloads {
		t.Run(p, func(t *testing.T) {
			h := newHarness(t, t0)
			h.tickAt(t, 0)
			h.deliver(t, p)
			h.tickAt(t, time.Second)

			if len(h.pump.Writes) != 0 {
				t.Errorf("relay written: %v", h.pump.Writes)
			}
			if h.ctrl.PumpState().Running {
				t.Error("pump state changed")
			}
			if got := h.ctrl.State().Counts.Ignored; got != 1 {
				t.Errorf("ignored: got %d", got)
			}
		})
	}
}

func TestOtherTopicIgnored(t *testing.T) {
	h := newHarness(t, t0)
	h.tickAt(t, 0)
	h.dialer.Last().Deliver("garden/other", "ON")
	h.tickAt(t, time.Second)

	if h.pump.On || len(h.pump.Writes) != 0 {
		t.Error("message on another topic should not drive the pump")
	}
}

func TestPollFailureAppliesDeliveredThenDrops(t *testing.T) {
	h := newHarness(t, t0)
	h.tickAt(t, 0)
	s := h.dialer.Last()
	s.Deliver(protocol.DefaultCommandTopic, "ON")
	s.PollError = errors.New("eof")

	h.tickAt(t, time.Second)
	if !h.pump.On {
		t.Error("command delivered before the failure should be applied")
	}
	if !s.Closed || h.ctrl.State().SessionConnected {
		t.Error("session should be dropped after poll failure")
	}
	if !h.led.On {
		t.Error("indicator should be on")
	}
}

func TestLinkFailureSkipsSession(t *testing.T) {
	h := newHarness(t, t0)
	h.link.Connected = false
	h.link.ConnectError = &link.Error{Op: "associate", Attempts: 5, Err: link.ErrAssociationFailed}

	h.tickAt(t, 0)
	if h.dialer.Dials != 0 {
		t.Error("session must not be dialed without a link")
	}
	if !h.led.On {
		t.Error("indicator should be on")
	}
	if len(h.clock.Sleeps) != 0 {
		t.Errorf("link failure should not add a session backoff, got %v", h.clock.Sleeps)
	}
	if got := testutil.ToFloat64(h.metrics.LinkReconnects.WithLabelValues(metrics.ResultError)); got != 1 {
		t.Errorf("link reconnect metric: got %v", got)
	}

	h.link.ConnectError = nil
	h.tickAt(t, time.Second)
	if h.dialer.Dials != 1 {
		t.Error("session should be dialed once the link is back")
	}
	if h.led.On {
		t.Error("indicator should clear once connected")
	}
}

func TestCutoffWhileDisconnected(t *testing.T) {
	h := newHarness(t, t0.Add(-time.Second))
	h.tickAt(t, -time.Second)
	h.deliver(t, "ON")
	h.tickAt(t, 0)

	h.link.Connected = false
	h.link.ConnectError = &link.Error{Op: "associate", Attempts: 5, Err: link.ErrAssociationFailed}
	for s := 1; s <= 61; s++ {
		h.tickAt(t, time.Duration(s)*time.Second)
	}

	if h.pump.On || h.ctrl.PumpState().Running {
		t.Error("cutoff must run without connectivity")
	}
	if h.ctrl.State().SessionConnected {
		t.Error("session should have been dropped with the link")
	}
}

func TestCutoffWhileLinkConnectBlocks(t *testing.T) {
	h := newHarness(t, t0.Add(-time.Second))
	h.tickAt(t, -time.Second)
	h.deliver(t, "ON")
	h.tickAt(t, 0)

	var deadline time.Duration
	h.link.Connected = false
	h.link.ConnectFunc = func(ctx context.Context) error {
		d, ok := ctx.Deadline()
		if !ok {
			t.Fatal("connect should be bounded while the pump runs")
		}
		deadline = time.Until(d)
		<-ctx.Done()
		h.clock.Set(t0.Add(60 * time.Second))
		return &link.Error{Op: "associate", Attempts: 3, Err: ctx.Err()}
	}

	start := time.Now()
	h.clock.Set(t0.Add(59*time.Second + 950*time.Millisecond))
	if err := h.ctrl.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("tick blocked for %v", elapsed)
	}
	if deadline > 50*time.Millisecond {
		t.Errorf("connect deadline %v exceeds the remaining runtime", deadline)
	}
	if h.pump.On || h.ctrl.PumpState().Running {
		t.Error("pump should be cut off as soon as the bounded connect returns")
	}
}

func TestCutoffBetweenLinkRetries(t *testing.T) {
	h := newHarness(t, t0.Add(-time.Second))
	h.tickAt(t, -time.Second)
	h.deliver(t, "ON")
	h.tickAt(t, 0)

	// Each attempt takes 20s of clock time; the supervisor calls the retry hook between them.
	var onAfter []bool
	h.link.Connected = false
	h.link.ConnectFunc = func(ctx context.Context) error {
		for attempt := 1; attempt <= 5; attempt++ {
			h.clock.Advance(20 * time.Second)
			h.ctrl.OnLinkRetry(attempt, link.ErrNotAssociated, time.Second)
			onAfter = append(onAfter, h.pump.On)
		}
		return &link.Error{Op: "associate", Attempts: 5, Err: link.ErrAssociationFailed}
	}

	h.tickAt(t, time.Second)

	want := []bool{true, true, false, false, false}
	for i := range want {
		if onAfter[i] != want[i] {
			t.Errorf("after attempt %d (t=%ds): relay on=%v, want %v", i+1, 1+20*(i+1), onAfter[i], want[i])
		}
	}
	if got := h.ctrl.State().Counts.Cutoffs; got != 1 {
		t.Errorf("cutoffs: got %d", got)
	}
}

func TestCutoffDuringReconnectBackoff(t *testing.T) {
	h := newHarness(t, t0.Add(-time.Second))
	h.tickAt(t, -time.Second)
	h.deliver(t, "ON")
	h.tickAt(t, 0)

	h.dialer.Last().PollError = errors.New("eof")
	h.tickAt(t, time.Second)
	h.dialer.DialError = errors.New("connection refused")

	h.tickAt(t, 58*time.Second)
	if h.pump.On || h.ctrl.PumpState().Running {
		t.Fatal("pump should be cut off inside the 5s backoff")
	}
	if want := []time.Duration{2 * time.Second, 3 * time.Second}; len(h.clock.Sleeps) != 2 ||
		h.clock.Sleeps[0] != want[0] || h.clock.Sleeps[1] != want[1] {
		t.Errorf("backoff should split at the cutoff, got %v", h.clock.Sleeps)
	}
}

func TestCutoffRetriedAfterRelayError(t *testing.T) {
	h := newHarness(t, t0.Add(-time.Second))
	h.tickAt(t, -time.Second)
	h.deliver(t, "ON")
	h.tickAt(t, 0)

	h.pump.SetError = errors.New("gpio busy")
	h.tickAt(t, 60*time.Second)
	if !h.ctrl.PumpState().Running {
		t.Fatal("state should stay Running until the relay write succeeds")
	}

	h.pump.SetError = nil
	h.tickAt(t, 61*time.Second)
	if h.pump.On || h.ctrl.PumpState().Running {
		t.Error("cutoff should succeed on the next tick")
	}
}

func TestPumpRuntimeBoundedUnderRandomTraffic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h := newHarness(t, t0)
	max := testSettings().PumpMaxRuntime
	tick := testSettings().Tick

	for i := 0; i < 2000; i++ {
		switch rng.Intn(10) {
		case 0:
			h.link.Connected = false
			h.link.ConnectError = &link.Error{Op: "associate", Attempts: 1, Err: link.ErrAssociationFailed}
		case 1:
			h.link.ConnectError = nil
		case 2:
			h.dialer.PublishError = errors.New("flaky")
		case 3:
			h.dialer.PublishError = nil
		}
		if s := h.dialer.Last(); s != nil && !s.Closed {
			switch rng.Intn(4) {
			case 0:
				s.Deliver(protocol.DefaultCommandTopic, "ON")
			case 1:
				s.Deliver(protocol.DefaultCommandTopic, "OFF")
			}
		}

		if err := h.ctrl.Tick(context.Background()); err != nil && !errors.Is(err, ErrWatchdogRestart) {
			t.Fatalf("tick %d: %v", i, err)
		}

		now := h.clock.Now()
		if ran := h.ctrl.PumpState().RunningFor(now); ran > max+tick {
			t.Fatalf("tick %d: pump running for %v exceeds %v", i, ran, max+tick)
		}
		if h.ctrl.PumpState().Running != h.pump.On {
			t.Fatalf("tick %d: state %v disagrees with relay %v", i, h.ctrl.PumpState().Running, h.pump.On)
		}
		h.clock.Advance(tick)
	}
}

func TestScenarioWatchdog(t *testing.T) {
	h := newHarness(t, t0)
	h.link.Connected = false
	h.link.ConnectError = &link.Error{Op: "associate", Attempts: 1, Err: link.ErrAssociationFailed}

	ctx := context.Background()

	h.clock.Set(t0.Add(3600 * time.Second))
	if err := h.ctrl.Tick(ctx); err != nil {
		t.Fatalf("at 3600s: %v", err)
	}

	h.clock.Set(t0.Add(3601 * time.Second))
	if err := h.ctrl.Tick(ctx); !errors.Is(err, ErrWatchdogRestart) {
		t.Fatalf("at 3601s: expected ErrWatchdogRestart, got %v", err)
	}

	for s := 3602; s < 3700; s++ {
		h.clock.Set(t0.Add(time.Duration(s) * time.Second))
		if err := h.ctrl.Tick(ctx); err != nil {
			t.Fatalf("watchdog fired again at %ds: %v", s, err)
		}
	}
}

func TestWatchdogNewEpisodeAfterSuccess(t *testing.T) {
	h := newHarness(t, t0)
	h.link.Connected = false
	h.link.ConnectError = &link.Error{Op: "associate", Attempts: 1, Err: link.ErrAssociationFailed}
	ctx := context.Background()

	h.clock.Set(t0.Add(3601 * time.Second))
	if err := h.ctrl.Tick(ctx); !errors.Is(err, ErrWatchdogRestart) {
		t.Fatalf("expected first episode to fire, got %v", err)
	}

	// Connectivity returns and a publish succeeds.
	h.link.ConnectError = nil
	h.tickAt(t, 3700*time.Second)
	if len(h.published()) != 1 {
		t.Fatalf("expected a publish after recovery, got %d", len(h.published()))
	}

	h.link.Connected = false
	h.link.ConnectError = &link.Error{Op: "associate", Attempts: 1, Err: link.ErrAssociationFailed}
	h.clock.Set(t0.Add((3700 + 3601) * time.Second))
	if err := h.ctrl.Tick(ctx); !errors.Is(err, ErrWatchdogRestart) {
		t.Fatalf("expected second episode to fire, got %v", err)
	}
}

func TestRunReturnsWatchdog(t *testing.T) {
	h := newHarness(t, t0)
	h.link.Connected = false
	h.link.ConnectError = &link.Error{Op: "associate", Attempts: 1, Err: link.ErrAssociationFailed}

	ticks := 0
	h.ctrl.OnTick = func(State) { ticks++ }

	err := h.ctrl.Run(context.Background())
	if !errors.Is(err, ErrWatchdogRestart) {
		t.Fatalf("expected ErrWatchdogRestart, got %v", err)
	}
	if got := h.clock.Now().Sub(t0); got != 3601*time.Second {
		t.Errorf("fired at %v, want 3601s", got)
	}
	if ticks != 3602 {
		t.Errorf("observer calls: got %d, want 3602", ticks)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, t0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.ctrl.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRecoveryOnSensorError(t *testing.T) {
	h := newHarness(t, t0)
	h.tickAt(t, 0)
	first := h.dialer.Last()

	h.sensor.ReadError = errors.New("i2c timeout")
	h.tickAt(t, 10*time.Second)

	if !first.Closed || h.ctrl.State().SessionConnected {
		t.Error("recovery should drop the session")
	}
	if !h.led.On {
		t.Error("indicator should be on after recovery")
	}
	if len(h.clock.Sleeps) != 1 || h.clock.Sleeps[0] != 5*time.Second {
		t.Errorf("expected one 5s backoff, got %v", h.clock.Sleeps)
	}
	if got := testutil.ToFloat64(h.metrics.Recoveries); got != 1 {
		t.Errorf("recoveries metric: got %v", got)
	}

	h.sensor.ReadError = nil
	h.tickAt(t, 16*time.Second)
	if h.dialer.Dials != 2 || len(h.published()) != 1 {
		t.Errorf("expected rebuild and publish, dials=%d published=%d", h.dialer.Dials, len(h.published()))
	}
}

type panickingReader struct{}

func (panickingReader) ReadMoisture() (int, error) { panic("adc driver bug") }
func (panickingReader) Close() error               { return nil }

func TestRecoveryOnPanic(t *testing.T) {
	h := newHarness(t, t0)
	h.ctrl.sensor = panickingReader{}
	h.tickAt(t, 0)

	h.tickAt(t, 10*time.Second)
	if got := h.ctrl.State().Counts.Recoveries; got != 1 {
		t.Errorf("recoveries: got %d, want 1", got)
	}
	if h.ctrl.State().SessionConnected {
		t.Error("session should be dropped")
	}
}

func TestRecoveryOnRelayError(t *testing.T) {
	h := newHarness(t, t0)
	h.tickAt(t, 0)
	h.pump.SetError = errors.New("gpio gone")
	h.deliver(t, "ON")
	h.tickAt(t, time.Second)

	if h.ctrl.PumpState().Running {
		t.Error("pump state must not change when the relay write fails")
	}
	if got := h.ctrl.State().Counts.Recoveries; got != 1 {
		t.Errorf("recoveries: got %d", got)
	}
}

func TestShutdown(t *testing.T) {
	h := newHarness(t, t0)
	h.tickAt(t, 0)
	h.deliver(t, "ON")
	h.tickAt(t, time.Second)
	s := h.dialer.Last()

	if err := h.ctrl.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if h.pump.On || h.ctrl.PumpState().Running {
		t.Error("pump should be off")
	}
	if h.led.On {
		t.Error("indicator should be off")
	}
	if !s.Closed {
		t.Error("session should be closed")
	}
}

func TestShutdownReportsErrors(t *testing.T) {
	h := newHarness(t, t0)
	h.pump.SetError = errors.New("gpio gone")

	if err := h.ctrl.Shutdown(); err == nil {
		t.Error("expected error")
	}
}
