package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweeney/soil-pump/internal/adc"
	"github.com/sweeney/soil-pump/internal/config"
	"github.com/sweeney/soil-pump/internal/gpio"
	"github.com/sweeney/soil-pump/internal/link"
	"github.com/sweeney/soil-pump/internal/metrics"
	"github.com/sweeney/soil-pump/internal/mqtt"
	"github.com/sweeney/soil-pump/internal/protocol"
)

// Settings are the controller's immutable parameters.
type Settings struct {
	SSID     string
	Password string

	Session        mqtt.Options
	TelemetryTopic string

	Tick              time.Duration
	TelemetryInterval time.Duration
	PumpMaxRuntime    time.Duration
	WatchdogSilence   time.Duration
	ReconnectBackoff  time.Duration
}

// SettingsFromConfig derives Settings from the loaded configuration.
func SettingsFromConfig(cfg *config.Config, bootID string) Settings {
	return Settings{
		SSID:              cfg.WiFi.SSID,
		Password:          cfg.WiFi.Password,
		Session:           mqtt.NewOptions(cfg.MQTT, bootID),
		TelemetryTopic:    cfg.MQTT.Topics.Telemetry,
		Tick:              cfg.Timing.Tick.D(),
		TelemetryInterval: cfg.Timing.TelemetryInterval.D(),
		PumpMaxRuntime:    cfg.Timing.PumpMaxRuntime.D(),
		WatchdogSilence:   cfg.Timing.WatchdogSilence.D(),
		ReconnectBackoff:  cfg.Timing.ReconnectBackoff.D(),
	}
}

// Deps are the controller's collaborators.
type Deps struct {
	Link      link.Link
	Dialer    mqtt.Dialer
	Sensor    adc.MoistureReader
	Pump      gpio.Output
	Indicator gpio.Output
	Clock     Clock
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Controller owns the link, the broker session and the pump.
type Controller struct {
	settings Settings

	link      link.Link
	dialer    mqtt.Dialer
	session   mqtt.Session // nil while absent
	sensor    adc.MoistureReader
	pump      gpio.Output
	indicator gpio.Output
	clock     Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics

	pumpState PumpState
	scheduler Scheduler
	watchdog  Watchdog

	pending      []protocol.Command
	moisture     int
	haveMoisture bool
	counts       Counts

	// OnTick, if set, is called by Run after every tick.
	OnTick func(State)
}

// New creates a Controller. The telemetry schedule and the watchdog both
// start at the current clock time.
func New(settings Settings, deps Deps) *Controller {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}

	start := clock.Now()
	return &Controller{
		settings:  settings,
		link:      deps.Link,
		dialer:    deps.Dialer,
		sensor:    deps.Sensor,
		pump:      deps.Pump,
		indicator: deps.Indicator,
		clock:     clock,
		logger:    logger.With("component", "control"),
		metrics:   m,
		scheduler: Scheduler{LastPublish: start, Interval: settings.TelemetryInterval},
		watchdog:  Watchdog{LastSuccess: start, MaxSilence: settings.WatchdogSilence},
	}
}

// Run ticks until ctx is cancelled or the watchdog fires.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("control loop started",
		"tick", c.settings.Tick,
		"telemetry_interval", c.settings.TelemetryInterval,
		"pump_max_runtime", c.settings.PumpMaxRuntime,
		"watchdog_silence", c.settings.WatchdogSilence,
	)
	for {
		err := c.Tick(ctx)
		if c.OnTick != nil {
			c.OnTick(c.State())
		}
		if err != nil {
			return err
		}
		if err := c.clock.Sleep(ctx, c.settings.Tick); err != nil {
			return err
		}
	}
}

// Tick runs one iteration of the loop. It returns ErrWatchdogRestart once
// per silence episode, or ctx.Err() when cancelled. Every other failure is
// absorbed.
func (c *Controller) Tick(ctx context.Context) error {
	if err := c.guard(func() error { return c.step(ctx) }); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.cutoff()
		if err := c.recoverFrom(ctx, err); err != nil {
			return err
		}
	}

	// The cutoff runs every tick, connected or not.
	c.cutoff()

	c.setIndicator(c.session == nil)

	if c.watchdog.Check(c.clock.Now()) {
		c.logger.Error("no successful publish within watchdog threshold",
			"last_success", c.watchdog.LastSuccess,
			"max_silence", c.watchdog.MaxSilence,
		)
		return ErrWatchdogRestart
	}
	return nil
}

// step performs the connectivity and control work of a tick. A non-nil
// return is an unexpected failure for the recovery path.
func (c *Controller) step(ctx context.Context) error {
	if err := c.enforceCutoff(c.clock.Now()); err != nil {
		return err
	}

	if !c.link.IsConnected() {
		connectCtx, cancel := c.runtimeBound(ctx)
		err := c.link.Connect(connectCtx, c.settings.SSID, c.settings.Password)
		cancel()
		c.metrics.LinkReconnects.WithLabelValues(metrics.Result(err)).Inc()
		if cerr := c.enforceCutoff(c.clock.Now()); cerr != nil {
			return cerr
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var linkErr *link.Error
			if errors.As(err, &linkErr) {
				c.logger.Warn("wifi connect failed", "error", err)
				c.setIndicator(true)
				c.dropSession()
				return nil
			}
			return fmt.Errorf("wifi connect: %w", err)
		}
	}

	if c.session == nil {
		if err := c.dial(ctx); err != nil {
			return err
		}
	}

	if c.session == nil || !c.link.IsConnected() {
		return nil
	}

	now := c.clock.Now()
	if err := c.enforceCutoff(now); err != nil {
		return err
	}
	if c.scheduler.Due(now) {
		if err := c.publishTelemetry(now); err != nil {
			return err
		}
	}

	if c.session != nil {
		if err := c.pollCommands(); err != nil {
			return err
		}
	}
	return nil
}

// dial opens a session. A session failure lights the indicator and waits out
// the reconnect backoff; only ctx cancellation is returned.
func (c *Controller) dial(ctx context.Context) error {
	c.counts.Dials++
	dialCtx, cancel := c.runtimeBound(ctx)
	session, err := c.dialer.Dial(dialCtx, c.settings.Session, c.handleMessage)
	cancel()
	c.metrics.SessionDials.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.counts.DialFailures++
		c.logger.Warn("mqtt connect failed",
			"broker", c.settings.Session.Address(),
			"error", err,
			"backoff", c.settings.ReconnectBackoff,
		)
		c.setIndicator(true)
		return c.pause(ctx, c.settings.ReconnectBackoff)
	}

	c.session = session
	metrics.SetBool(c.metrics.SessionConnected, true)
	c.logger.Info("mqtt connected",
		"broker", c.settings.Session.Address(),
		"client_id", c.settings.Session.ClientID,
		"command_topic", c.settings.Session.CommandTopic,
	)
	return nil
}

// publishTelemetry reads the sensor and publishes the raw value. A sensor
// error is returned; a publish error drops the session.
func (c *Controller) publishTelemetry(now time.Time) error {
	value, err := c.sensor.ReadMoisture()
	if err != nil {
		return fmt.Errorf("read moisture: %w", err)
	}
	c.moisture = value
	c.haveMoisture = true
	c.metrics.MoistureRaw.Set(float64(value))

	err = c.session.Publish(c.settings.TelemetryTopic, protocol.FormatTelemetry(value))
	c.metrics.Publishes.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		c.counts.PublishFailures++
		c.logger.Warn("telemetry publish failed", "topic", c.settings.TelemetryTopic, "error", err)
		c.dropSession()
		return nil
	}

	c.counts.Publishes++
	c.scheduler.LastPublish = now
	c.watchdog.Feed(now)
	c.logger.Debug("telemetry published", "topic", c.settings.TelemetryTopic, "moisture", value)
	return nil
}

// pollCommands drains inbound messages and applies the decoded commands in
// arrival order. A poll error drops the session after applying whatever was
// delivered.
func (c *Controller) pollCommands() error {
	pollErr := c.session.Poll()

	pending := c.pending
	c.pending = nil
	for _, cmd := range pending {
		if err := c.applyCommand(cmd, c.clock.Now()); err != nil {
			return err
		}
	}

	if pollErr != nil {
		c.logger.Warn("mqtt poll failed", "error", pollErr)
		c.dropSession()
	}
	return nil
}

// handleMessage is the session's Handler. It only queues; commands are
// applied by pollCommands once Poll returns.
func (c *Controller) handleMessage(topic string, payload []byte) {
	if topic != c.settings.Session.CommandTopic {
		c.logger.Debug("ignoring message on unexpected topic", "topic", topic)
		return
	}
	cmd, ok := protocol.ParseCommand(payload)
	if !ok {
		c.counts.Ignored++
		c.metrics.Commands.WithLabelValues("invalid").Inc()
		c.logger.Info("ignoring unknown command", "payload", string(payload))
		return
	}
	c.pending = append(c.pending, cmd)
}

func (c *Controller) applyCommand(cmd protocol.Command, now time.Time) error {
	c.metrics.Commands.WithLabelValues(string(cmd)).Inc()

	switch cmd {
	case protocol.CommandOn:
		c.counts.CommandsOn++
		if err := c.pump.Set(true); err != nil {
			return fmt.Errorf("pump on: %w", err)
		}
		if c.pumpState.Running {
			c.logger.Info("pump on again, runtime restarted", "ran_for", c.pumpState.RunningFor(now))
		} else {
			c.logger.Info("pump on", "max_runtime", c.settings.PumpMaxRuntime)
		}
		c.pumpState = PumpState{Running: true, Since: now}
		metrics.SetBool(c.metrics.PumpRunning, true)

	case protocol.CommandOff:
		c.counts.CommandsOff++
		if err := c.pump.Set(false); err != nil {
			return fmt.Errorf("pump off: %w", err)
		}
		if c.pumpState.Running {
			c.logger.Info("pump off", "ran_for", c.pumpState.RunningFor(now))
		}
		c.pumpState = PumpState{}
		metrics.SetBool(c.metrics.PumpRunning, false)
	}
	return nil
}

// enforceCutoff forces the pump off once it has run for PumpMaxRuntime. The
// state only changes after the relay write succeeds, so a failed write is
// retried on the next call.
func (c *Controller) enforceCutoff(now time.Time) error {
	ran := c.pumpState.RunningFor(now)
	if !c.pumpState.Running || ran < c.settings.PumpMaxRuntime {
		return nil
	}
	if err := c.pump.Set(false); err != nil {
		return fmt.Errorf("pump cutoff: %w", err)
	}
	c.pumpState = PumpState{}
	c.counts.Cutoffs++
	c.metrics.PumpCutoffs.Inc()
	metrics.SetBool(c.metrics.PumpRunning, false)
	c.logger.Warn("pump max runtime reached, forced off", "ran_for", ran, "max_runtime", c.settings.PumpMaxRuntime)
	return nil
}

// cutoff runs enforceCutoff outside the recovery path; a failed relay write
// is logged and retried on the next call.
func (c *Controller) cutoff() {
	if err := c.guard(func() error { return c.enforceCutoff(c.clock.Now()) }); err != nil {
		c.logger.Error("pump cutoff failed", "error", err)
	}
}

// OnLinkRetry enforces the cutoff between association attempts. Chain it into
// the link supervisor's retry hook.
func (c *Controller) OnLinkRetry(attempt int, err error, next time.Duration) {
	c.cutoff()
}

// runtimeBound derives a context that expires when a running pump reaches
// its max runtime, so a blocking connect returns in time for the cutoff.
func (c *Controller) runtimeBound(ctx context.Context) (context.Context, context.CancelFunc) {
	if !c.pumpState.Running {
		return context.WithCancel(ctx)
	}
	remaining := c.settings.PumpMaxRuntime - c.pumpState.RunningFor(c.clock.Now())
	return context.WithTimeout(ctx, max(remaining, 0))
}

// pause sleeps for d. A running pump that reaches its max runtime during the
// pause is cut off on time.
func (c *Controller) pause(ctx context.Context, d time.Duration) error {
	if c.pumpState.Running {
		remaining := c.settings.PumpMaxRuntime - c.pumpState.RunningFor(c.clock.Now())
		if remaining < d {
			if remaining > 0 {
				if err := c.clock.Sleep(ctx, remaining); err != nil {
					return err
				}
				d -= remaining
			}
			c.cutoff()
		}
	}
	return c.clock.Sleep(ctx, d)
}

// recoverFrom handles a failure nothing else claimed: drop the session, light
// the indicator and back off. Only ctx cancellation is returned.
func (c *Controller) recoverFrom(ctx context.Context, err error) error {
	c.counts.Recoveries++
	c.metrics.Recoveries.Inc()
	c.logger.Error("unexpected control loop failure, rebuilding session",
		"error", err,
		"backoff", c.settings.ReconnectBackoff,
	)
	c.setIndicator(true)
	c.dropSession()
	return c.pause(ctx, c.settings.ReconnectBackoff)
}

// guard converts a panic in fn into an error.
func (c *Controller) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}

func (c *Controller) dropSession() {
	if c.session == nil {
		return
	}
	if err := c.session.Close(); err != nil {
		c.logger.Debug("closing mqtt session", "error", err)
	}
	c.session = nil
	c.pending = nil
	metrics.SetBool(c.metrics.SessionConnected, false)
}

func (c *Controller) setIndicator(on bool) {
	if err := c.indicator.Set(on); err != nil {
		c.logger.Warn("status led write failed", "error", err)
	}
}

// Shutdown stops the pump, clears the indicator and closes the session,
// which announces offline availability.
func (c *Controller) Shutdown() error {
	var errs []error
	if err := c.pump.Set(false); err != nil {
		errs = append(errs, fmt.Errorf("pump off: %w", err))
	} else if c.pumpState.Running {
		c.logger.Info("pump off for shutdown", "ran_for", c.pumpState.RunningFor(c.clock.Now()))
		c.pumpState = PumpState{}
		metrics.SetBool(c.metrics.PumpRunning, false)
	}
	if err := c.indicator.Set(false); err != nil {
		errs = append(errs, fmt.Errorf("status led off: %w", err))
	}
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close mqtt session: %w", err))
		}
		c.session = nil
		metrics.SetBool(c.metrics.SessionConnected, false)
	}
	return errors.Join(errs...)
}

// PumpState returns the current pump state.
func (c *Controller) PumpState() PumpState {
	return c.pumpState
}

// State returns a snapshot for status reporting.
func (c *Controller) State() State {
	return State{
		LinkConnected:    c.link.IsConnected(),
		SessionConnected: c.session != nil,
		Pump:             c.pumpState,
		Moisture:         c.moisture,
		HaveMoisture:     c.haveMoisture,
		LastPublish:      c.scheduler.LastPublish,
		LastSuccess:      c.watchdog.LastSuccess,
		Counts:           c.counts,
	}
}
