package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Ready          bool         `json:"ready"`
	Pump           PumpJSON     `json:"pump"`
	Moisture       *int         `json:"moisture,omitempty"`
	LastPublish    string       `json:"last_publish,omitempty"`
	SilenceSeconds int64        `json:"silence_seconds"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	StartTime      string       `json:"start_time"`
	Timestamp      string       `json:"timestamp"`
	Link           LinkStatus   `json:"link"`
	MQTT           MQTTStatus   `json:"mqtt"`
	Counts         CountsJSON   `json:"counts"`
	Network        *NetworkJSON `json:"network,omitempty"`
	Config         ConfigJSON   `json:"config"`
}

// PumpJSON reports the pump state.
type PumpJSON struct {
	State          string `json:"state"`
	Since          string `json:"since,omitempty"`
	RunningSeconds int64  `json:"running_seconds"`
}

// LinkStatus reports Wi-Fi association state.
type LinkStatus struct {
	Connected bool `json:"connected"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	ClientID  string `json:"client_id"`
}

// CountsJSON is the JSON representation of loop counters.
type CountsJSON struct {
	Publishes       int `json:"publishes"`
	PublishFailures int `json:"publish_failures"`
	Dials           int `json:"dials"`
	DialFailures    int `json:"dial_failures"`
	CommandsOn      int `json:"commands_on"`
	CommandsOff     int `json:"commands_off"`
	Ignored         int `json:"ignored"`
	Cutoffs         int `json:"cutoffs"`
	Recoveries      int `json:"recoveries"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Mode      string `json:"mode"`
	Interface string `json:"interface"`
	SSID      string `json:"ssid"`
	IP        string `json:"ip"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	BootID              string `json:"boot_id"`
	Broker              string `json:"broker"`
	ProtocolVersion     int    `json:"protocol_version"`
	CommandTopic        string `json:"command_topic"`
	TelemetryTopic      string `json:"telemetry_topic"`
	AvailabilityTopic   string `json:"availability_topic,omitempty"`
	TickMs              int64  `json:"tick_ms"`
	TelemetryIntervalMs int64  `json:"telemetry_interval_ms"`
	PumpMaxRuntimeMs    int64  `json:"pump_max_runtime_ms"`
	WatchdogSilenceMs   int64  `json:"watchdog_silence_ms"`
	HTTPAddr            string `json:"http_addr"`
}

func seconds(d time.Duration) int64 {
	return int64(d.Truncate(time.Second).Seconds())
}

func buildInner(snap Snapshot) StatusInner {
	pump := PumpJSON{State: "OFF"}
	if snap.Pump.Running {
		pump.State = "ON"
		pump.Since = snap.Pump.Since.UTC().Format(time.RFC3339)
		pump.RunningSeconds = seconds(snap.Pump.RunningFor(snap.Now))
	}

	inner := StatusInner{
		Ready:          snap.Ready,
		Pump:           pump,
		SilenceSeconds: seconds(snap.Silence()),
		UptimeSeconds:  seconds(snap.Uptime()),
		StartTime:      snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:      snap.Now.UTC().Format(time.RFC3339),
		Link:           LinkStatus{Connected: snap.LinkConnected},
		MQTT: MQTTStatus{
			Connected: snap.MQTTConnected,
			Broker:    snap.Config.Broker,
			ClientID:  snap.Config.ClientID,
		},
		Counts: CountsJSON(snap.Counts),
		Config: ConfigJSON{
			BootID:              snap.Config.BootID,
			Broker:              snap.Config.Broker,
			ProtocolVersion:     snap.Config.ProtocolVersion,
			CommandTopic:        snap.Config.CommandTopic,
			TelemetryTopic:      snap.Config.TelemetryTopic,
			AvailabilityTopic:   snap.Config.AvailabilityTopic,
			TickMs:              snap.Config.TickMs,
			TelemetryIntervalMs: snap.Config.TelemetryIntervalMs,
			PumpMaxRuntimeMs:    snap.Config.PumpMaxRuntimeMs,
			WatchdogSilenceMs:   snap.Config.WatchdogSilenceMs,
			HTTPAddr:            snap.Config.HTTPAddr,
		},
	}
	if snap.HaveMoisture {
		m := snap.Moisture
		inner.Moisture = &m
	}
	if !snap.LastPublish.IsZero() && snap.Counts.Publishes > 0 {
		inner.LastPublish = snap.LastPublish.UTC().Format(time.RFC3339)
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Mode:      snap.Network.Mode,
			Interface: snap.Network.Interface,
			SSID:      snap.Network.SSID,
			IP:        snap.Network.IP,
		}
	}
	return inner
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
