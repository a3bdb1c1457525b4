// Package status provides a thread-safe status tracker for the soil-pump daemon.
// The control loop writes to it after every tick; HTTP handlers read from it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/soil-pump/internal/control"
)

// NetworkInfo describes the network interface the link runs on.
type NetworkInfo struct {
	Mode      string
	Interface string
	SSID      string
	IP        string
}

// Config contains daemon configuration for display.
type Config struct {
	BootID              string
	ClientID            string
	Broker              string
	ProtocolVersion     int
	CommandTopic        string
	TelemetryTopic      string
	AvailabilityTopic   string
	TickMs              int64
	TelemetryIntervalMs int64
	PumpMaxRuntimeMs    int64
	WatchdogSilenceMs   int64
	HTTPAddr            string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Ready         bool // at least one tick has completed
	LinkConnected bool
	MQTTConnected bool
	Pump          control.PumpState
	Moisture      int
	HaveMoisture  bool
	LastPublish   time.Time
	LastSuccess   time.Time
	Counts        control.Counts
	StartTime     time.Time
	Now           time.Time
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Silence returns the time since the last successful publish.
func (s Snapshot) Silence() time.Duration {
	return s.Now.Sub(s.LastSuccess)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime:   startTime,
			LastSuccess: startTime,
			Config:      cfg,
		},
		now: time.Now,
	}
}

// Update copies the controller state. Called after every tick.
func (t *Tracker) Update(st control.State) {
	t.mu.Lock()
	t.snap.Ready = true
	t.snap.LinkConnected = st.LinkConnected
	t.snap.MQTTConnected = st.SessionConnected
	t.snap.Pump = st.Pump
	t.snap.Moisture = st.Moisture
	t.snap.HaveMoisture = st.HaveMoisture
	t.snap.LastPublish = st.LastPublish
	t.snap.LastSuccess = st.LastSuccess
	t.snap.Counts = st.Counts
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
