// Package config loads the soil-pump daemon configuration.
//
// Configuration is process-wide and immutable once loaded. The loading order is:
//  1. Built-in defaults
//  2. YAML file values (optional)
//  3. Environment variable overrides (SOILPUMP_*)
//
// The result is validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/soil-pump/internal/protocol"
)

// Config is the root configuration structure.
type Config struct {
	WiFi     WiFiConfig     `yaml:"wifi"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Timing   TimingConfig   `yaml:"timing"`
	Hardware HardwareConfig `yaml:"hardware"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
	Restart  RestartConfig  `yaml:"restart"`
}

// WiFiConfig contains the wireless association settings.
type WiFiConfig struct {
	// Mode selects the associator: "nmcli" drives NetworkManager,
	// "static" only observes an interface brought up elsewhere.
	Mode      string      `yaml:"mode"`
	Interface string      `yaml:"interface"`
	SSID      string      `yaml:"ssid"`
	Password  string      `yaml:"password"`
	Retry     RetryConfig `yaml:"retry"`
}

// RetryConfig bounds the exponential backoff used while associating.
// MaxElapsed and MaxAttempts of zero mean unbounded.
type RetryConfig struct {
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	MaxElapsed      Duration `yaml:"max_elapsed"`
	MaxAttempts     int      `yaml:"max_attempts"`
}

// MQTTConfig contains broker session settings.
type MQTTConfig struct {
	Host            string       `yaml:"host"`
	Port            int          `yaml:"port"`
	ClientID        string       `yaml:"client_id"`
	UniqueClientID  bool         `yaml:"unique_client_id"` // append a per-boot suffix
	Username        string       `yaml:"username"`
	Password        string       `yaml:"password"`
	KeepAlive       Duration     `yaml:"keepalive"`
	ProtocolVersion int          `yaml:"protocol_version"` // 4 = MQTT 3.1.1, 5 = MQTT 5
	QoS             int          `yaml:"qos"`
	ConnectTimeout  Duration     `yaml:"connect_timeout"`
	PublishTimeout  Duration     `yaml:"publish_timeout"`
	InboxSize       int          `yaml:"inbox_size"`
	Topics          TopicsConfig `yaml:"topics"`
}

// TopicsConfig names the topics used on the broker.
type TopicsConfig struct {
	Command      string `yaml:"command"`
	Telemetry    string `yaml:"telemetry"`
	Availability string `yaml:"availability"`
}

// TimingConfig holds the control loop thresholds.
type TimingConfig struct {
	Tick              Duration `yaml:"tick"`
	TelemetryInterval Duration `yaml:"telemetry_interval"`
	PumpMaxRuntime    Duration `yaml:"pump_max_runtime"`
	WatchdogSilence   Duration `yaml:"watchdog_silence"`
	ReconnectBackoff  Duration `yaml:"reconnect_backoff"`
}

// HardwareConfig describes the pins and converter wiring.
type HardwareConfig struct {
	GPIOChip      string    `yaml:"gpio_chip"`
	PumpPin       int       `yaml:"pump_pin"`
	PumpActiveLow bool      `yaml:"pump_active_low"`
	LEDPin        int       `yaml:"led_pin"`
	LEDActiveLow  bool      `yaml:"led_active_low"`
	ADC           ADCConfig `yaml:"adc"`
}

// ADCConfig selects the moisture converter.
type ADCConfig struct {
	// Driver is "iio" (Linux IIO sysfs) or "ads1115" (I2C converter).
	Driver     string `yaml:"driver"`
	IIOPath    string `yaml:"iio_path"`
	I2CBus     int    `yaml:"i2c_bus"`
	I2CAddress int    `yaml:"i2c_address"`
	Channel    int    `yaml:"channel"`
}

// HTTPConfig contains the status server settings. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RestartConfig controls what a watchdog restart does.
type RestartConfig struct {
	// Mode is "exit" (leave it to the service manager) or "reboot".
	Mode     string   `yaml:"mode"`
	Delay    Duration `yaml:"delay"`
	ExitCode int      `yaml:"exit_code"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "5s".
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// String implements fmt.Stringer.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML accepts either a duration string or an integer number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	if secs, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Environment variable names recognised by Load.
const (
	EnvWiFiSSID     = "SOILPUMP_WIFI_SSID"
	EnvWiFiPassword = "SOILPUMP_WIFI_PASSWORD"
	EnvMQTTHost     = "SOILPUMP_MQTT_HOST"
	EnvMQTTPort     = "SOILPUMP_MQTT_PORT"
	EnvMQTTUsername = "SOILPUMP_MQTT_USERNAME"
	EnvMQTTPassword = "SOILPUMP_MQTT_PASSWORD"
	EnvMQTTClientID = "SOILPUMP_MQTT_CLIENT_ID"
	EnvLogLevel     = "SOILPUMP_LOG_LEVEL"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Load reads configuration from the YAML file at path (skipped when path is
// empty), applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		WiFi: WiFiConfig{
			Mode:      "nmcli",
			Interface: "wlan0",
			Retry: RetryConfig{
				InitialInterval: Duration(time.Second),
				MaxInterval:     Duration(30 * time.Second),
				MaxElapsed:      Duration(2 * time.Minute),
			},
		},
		MQTT: MQTTConfig{
			Host:            "broker.emqx.io",
			Port:            1883,
			ClientID:        "soil-pump",
			KeepAlive:       Duration(60 * time.Second),
			ProtocolVersion: 4,
			ConnectTimeout:  Duration(10 * time.Second),
			PublishTimeout:  Duration(5 * time.Second),
			InboxSize:       32,
			Topics: TopicsConfig{
				Command:      protocol.DefaultCommandTopic,
				Telemetry:    protocol.DefaultTelemetryTopic,
				Availability: protocol.DefaultAvailabilityTopic,
			},
		},
		Timing: TimingConfig{
			Tick:              Duration(time.Second),
			TelemetryInterval: Duration(10 * time.Second),
			PumpMaxRuntime:    Duration(60 * time.Second),
			WatchdogSilence:   Duration(time.Hour),
			ReconnectBackoff:  Duration(5 * time.Second),
		},
		Hardware: HardwareConfig{
			GPIOChip: "gpiochip0",
			PumpPin:  13,
			LEDPin:   2,
			ADC: ADCConfig{
				Driver:     "iio",
				IIOPath:    "/sys/bus/iio/devices/iio:device0/in_voltage0_raw",
				I2CBus:     1,
				I2CAddress: 0x48,
			},
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Restart: RestartConfig{
			Mode:     "exit",
			Delay:    Duration(5 * time.Second),
			ExitCode: 3,
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvWiFiSSID); v != "" {
		cfg.WiFi.SSID = v
	}
	if v := os.Getenv(EnvWiFiPassword); v != "" {
		cfg.WiFi.Password = v
	}
	if v := os.Getenv(EnvMQTTHost); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv(EnvMQTTPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMQTTPort, err)
		}
		cfg.MQTT.Port = port
	}
	if v := os.Getenv(EnvMQTTUsername); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv(EnvMQTTPassword); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv(EnvMQTTClientID); v != "" {
		cfg.MQTT.ClientID = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks the configuration for values the daemon cannot run with.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch c.WiFi.Mode {
	case "nmcli":
		if c.WiFi.SSID == "" {
			bad("wifi.ssid is required in nmcli mode")
		}
	case "static":
		if c.WiFi.Interface == "" {
			bad("wifi.interface is required in static mode")
		}
	default:
		bad("wifi.mode %q (want nmcli or static)", c.WiFi.Mode)
	}
	if c.WiFi.Retry.InitialInterval <= 0 {
		bad("wifi.retry.initial_interval must be positive")
	}
	if c.WiFi.Retry.MaxAttempts < 0 {
		bad("wifi.retry.max_attempts must not be negative")
	}

	if c.MQTT.Host == "" {
		bad("mqtt.host is required")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		bad("mqtt.port %d out of range", c.MQTT.Port)
	}
	if c.MQTT.ClientID == "" {
		bad("mqtt.client_id is required")
	}
	if c.MQTT.KeepAlive <= 0 {
		bad("mqtt.keepalive must be positive")
	}
	if c.MQTT.ProtocolVersion != 4 && c.MQTT.ProtocolVersion != 5 {
		bad("mqtt.protocol_version %d (want 4 or 5)", c.MQTT.ProtocolVersion)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		bad("mqtt.qos %d (want 0, 1 or 2)", c.MQTT.QoS)
	}
	if c.MQTT.InboxSize < 1 {
		bad("mqtt.inbox_size must be at least 1")
	}
	if c.MQTT.Topics.Command == "" || c.MQTT.Topics.Telemetry == "" {
		bad("mqtt.topics.command and mqtt.topics.telemetry are required")
	} else if c.MQTT.Topics.Command == c.MQTT.Topics.Telemetry {
		bad("mqtt.topics.command and mqtt.topics.telemetry must differ")
	}

	if c.Timing.Tick <= 0 {
		bad("timing.tick must be positive")
	}
	if c.Timing.TelemetryInterval <= 0 {
		bad("timing.telemetry_interval must be positive")
	}
	if c.Timing.PumpMaxRuntime <= 0 {
		bad("timing.pump_max_runtime must be positive")
	}
	if c.Timing.WatchdogSilence <= 0 {
		bad("timing.watchdog_silence must be positive")
	} else if c.Timing.WatchdogSilence <= c.Timing.TelemetryInterval {
		bad("timing.watchdog_silence must exceed timing.telemetry_interval")
	}
	if c.Timing.ReconnectBackoff < 0 {
		bad("timing.reconnect_backoff must not be negative")
	}

	if c.Hardware.PumpPin < 0 || c.Hardware.LEDPin < 0 {
		bad("hardware pins must not be negative")
	} else if c.Hardware.PumpPin == c.Hardware.LEDPin {
		bad("hardware.pump_pin and hardware.led_pin must differ")
	}
	switch c.Hardware.ADC.Driver {
	case "iio":
		if c.Hardware.ADC.IIOPath == "" {
			bad("hardware.adc.iio_path is required for the iio driver")
		}
	case "ads1115":
		if c.Hardware.ADC.Channel < 0 || c.Hardware.ADC.Channel > 3 {
			bad("hardware.adc.channel %d (want 0-3)", c.Hardware.ADC.Channel)
		}
	default:
		bad("hardware.adc.driver %q (want iio or ads1115)", c.Hardware.ADC.Driver)
	}

	switch c.Restart.Mode {
	case "exit", "reboot":
	default:
		bad("restart.mode %q (want exit or reboot)", c.Restart.Mode)
	}

	return errors.Join(errs...)
}
