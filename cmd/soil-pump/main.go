// Command soil-pump reports soil moisture to an MQTT broker and drives a
// water pump on command, forcing the pump off after a maximum runtime.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/soil-pump/internal/adc"
	"github.com/sweeney/soil-pump/internal/config"
	"github.com/sweeney/soil-pump/internal/control"
	"github.com/sweeney/soil-pump/internal/gpio"
	"github.com/sweeney/soil-pump/internal/link"
	"github.com/sweeney/soil-pump/internal/logging"
	"github.com/sweeney/soil-pump/internal/metrics"
	"github.com/sweeney/soil-pump/internal/mqtt"
	"github.com/sweeney/soil-pump/internal/restart"
	"github.com/sweeney/soil-pump/internal/status"
	"github.com/sweeney/soil-pump/internal/web"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults and SOILPUMP_* env vars apply without one)")
	printState := flag.Bool("print-state", false, "Read the moisture sensor once, print it and exit")
	httpAddr := flag.String("http", "", `HTTP status address override ("off" disables)`)

	flag.Parse()

	if err := run(*configPath, *printState, *httpAddr); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, printState bool, httpAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	switch httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = httpAddr
	}

	logger := logging.New(cfg.Logging, os.Stderr)
	bootID := uuid.NewString()

	// Initialize sensor
	sensor, err := newSensor(cfg.Hardware.ADC)
	if err != nil {
		return fmt.Errorf("init moisture sensor: %w", err)
	}
	defer sensor.Close()

	// Print state mode
	if printState {
		v, err := sensor.ReadMoisture()
		if err != nil {
			return fmt.Errorf("read moisture: %w", err)
		}
		fmt.Printf("moisture: %d\n", v)
		return nil
	}

	// Initialize outputs
	pump, err := gpio.NewRealOutput(cfg.Hardware.GPIOChip, cfg.Hardware.PumpPin, cfg.Hardware.PumpActiveLow, "relay")
	if err != nil {
		return fmt.Errorf("init pump relay: %w", err)
	}
	defer pump.Close()

	led, err := gpio.NewRealOutput(cfg.Hardware.GPIOChip, cfg.Hardware.LEDPin, cfg.Hardware.LEDActiveLow, "led")
	if err != nil {
		return fmt.Errorf("init status led: %w", err)
	}
	defer led.Close()

	// Network link
	supervisor := link.NewSupervisor(newAssociator(cfg.WiFi), retryPolicy(cfg.WiFi.Retry), logger.With("component", "link"))

	m := metrics.New()
	ctrl := control.New(control.SettingsFromConfig(cfg, bootID), control.Deps{
		Link:      supervisor,
		Dialer:    mqtt.NewDialer(cfg.MQTT.ProtocolVersion, logger.With("component", "mqtt")),
		Sensor:    sensor,
		Pump:      pump,
		Indicator: led,
		Clock:     control.SystemClock{},
		Logger:    logger,
		Metrics:   m,
	})

	supervisor.OnRetry = chainRetry(retryBlinker(led, logger), ctrl.OnLinkRetry)

	// Status tracker, refreshed after every tick
	tracker := status.NewTracker(time.Now(), statusConfig(cfg, bootID))
	tracker.SetNetwork(readNetworkInfo(cfg.WiFi))
	ctrl.OnTick = trackState(tracker, cfg.WiFi)

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, m.Handler())
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server error", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http status server listening", "addr", cfg.HTTP.Addr)
	}

	logger.Info("started",
		"boot_id", bootID,
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
		"protocol_version", cfg.MQTT.ProtocolVersion,
		"wifi_mode", cfg.WiFi.Mode,
		"adc", cfg.Hardware.ADC.Driver,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runLoop(ctx, ctrl, restart.New(cfg.Restart, logger), logger)
}

// runLoop runs the controller until a signal or the watchdog stops it. The
// pump is always switched off before returning or restarting.
func runLoop(ctx context.Context, ctrl *control.Controller, restarter restart.Restarter, logger *slog.Logger) error {
	err := ctrl.Run(ctx)

	if shutdownErr := ctrl.Shutdown(); shutdownErr != nil {
		logger.Error("shutdown incomplete", "error", shutdownErr)
	}

	switch {
	case errors.Is(err, control.ErrWatchdogRestart):
		return restarter.Restart(context.Background(), err.Error())
	case errors.Is(err, context.Canceled):
		logger.Info("received signal, shut down")
		return nil
	default:
		return err
	}
}

func newSensor(cfg config.ADCConfig) (adc.MoistureReader, error) {
	if cfg.Driver == "ads1115" {
		r, err := adc.NewADS1115Reader(cfg.I2CBus, cfg.I2CAddress, cfg.Channel)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	r, err := adc.NewIIOReader(cfg.IIOPath)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func newAssociator(cfg config.WiFiConfig) link.Associator {
	if cfg.Mode == "static" {
		return link.NewStatic(cfg.Interface)
	}
	return link.NewNMCLI(cfg.Interface, link.ExecRunner)
}

func retryPolicy(cfg config.RetryConfig) link.RetryPolicy {
	return link.RetryPolicy{
		InitialInterval: cfg.InitialInterval.D(),
		MaxInterval:     cfg.MaxInterval.D(),
		MaxElapsed:      cfg.MaxElapsed.D(),
		MaxAttempts:     cfg.MaxAttempts,
	}
}

// retryBlinker toggles the status LED on every failed association attempt.
func retryBlinker(led gpio.Output, logger *slog.Logger) func(int, error, time.Duration) {
	on := false
	return func(int, error, time.Duration) {
		on = !on
		if err := led.Set(on); err != nil {
			logger.Warn("status led write failed", "error", err)
		}
	}
}

// chainRetry calls each link retry hook in order.
func chainRetry(hooks ...func(int, error, time.Duration)) func(int, error, time.Duration) {
	return func(attempt int, err error, next time.Duration) {
		for _, h := range hooks {
			h(attempt, err, next)
		}
	}
}

func statusConfig(cfg *config.Config, bootID string) status.Config {
	opts := mqtt.NewOptions(cfg.MQTT, bootID)
	return status.Config{
		BootID:              bootID,
		ClientID:            opts.ClientID,
		Broker:              opts.Address(),
		ProtocolVersion:     cfg.MQTT.ProtocolVersion,
		CommandTopic:        cfg.MQTT.Topics.Command,
		TelemetryTopic:      cfg.MQTT.Topics.Telemetry,
		AvailabilityTopic:   cfg.MQTT.Topics.Availability,
		TickMs:              cfg.Timing.Tick.D().Milliseconds(),
		TelemetryIntervalMs: cfg.Timing.TelemetryInterval.D().Milliseconds(),
		PumpMaxRuntimeMs:    cfg.Timing.PumpMaxRuntime.D().Milliseconds(),
		WatchdogSilenceMs:   cfg.Timing.WatchdogSilence.D().Milliseconds(),
		HTTPAddr:            cfg.HTTP.Addr,
	}
}

// trackState copies controller state into the tracker, re-reading the
// interface address whenever the link comes up or goes down.
func trackState(tracker *status.Tracker, wifi config.WiFiConfig) func(control.State) {
	linkUp := false
	return func(st control.State) {
		if st.LinkConnected != linkUp {
			linkUp = st.LinkConnected
			tracker.SetNetwork(readNetworkInfo(wifi))
		}
		tracker.Update(st)
	}
}

func readNetworkInfo(cfg config.WiFiConfig) *status.NetworkInfo {
	info := &status.NetworkInfo{
		Mode:      cfg.Mode,
		Interface: cfg.Interface,
		IP:        link.InterfaceIP(cfg.Interface),
	}
	if cfg.Mode != "static" {
		info.SSID = cfg.SSID
	}
	return info
}
