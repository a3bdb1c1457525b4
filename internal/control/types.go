// Package control runs the pump controller's reconnect-and-control loop.
//
// The loop is single-threaded: every device and network operation happens
// inside Tick. Time comes from an injected Clock so the timers (telemetry
// schedule, pump cutoff, watchdog) can be driven by tests.
package control

import (
	"errors"
	"time"
)

// ErrWatchdogRestart is returned by Tick and Run when no telemetry publish has
// succeeded for longer than the watchdog threshold. The caller must restart
// the device; no in-process state survives it.
var ErrWatchdogRestart = errors.New("control: watchdog expired, restart required")

// ErrPanic wraps a panic recovered inside a tick.
var ErrPanic = errors.New("control: recovered panic")

// PumpState is Off (Running false) or Running since a point in time.
type PumpState struct {
	Running bool
	Since   time.Time
}

// RunningFor returns how long the pump has been running at now, or zero.
func (p PumpState) RunningFor(now time.Time) time.Duration {
	if !p.Running {
		return 0
	}
	return now.Sub(p.Since)
}

// Scheduler decides when telemetry is due. LastPublish only advances on a
// successful publish.
type Scheduler struct {
	LastPublish time.Time
	Interval    time.Duration
}

// Due reports whether at least Interval has passed since LastPublish.
func (s Scheduler) Due(now time.Time) bool {
	return now.Sub(s.LastPublish) >= s.Interval
}

// Watchdog tracks time since the last successful publish. It fires once per
// silence episode; Feed ends the episode.
type Watchdog struct {
	LastSuccess time.Time
	MaxSilence  time.Duration
	fired       bool
}

// Expired reports whether the silence exceeds MaxSilence.
func (w Watchdog) Expired(now time.Time) bool {
	return now.Sub(w.LastSuccess) > w.MaxSilence
}

// Check returns true exactly once per silence episode, the first time the
// watchdog is seen expired.
func (w *Watchdog) Check(now time.Time) bool {
	if w.fired || !w.Expired(now) {
		return false
	}
	w.fired = true
	return true
}

// Feed records a successful publish.
func (w *Watchdog) Feed(now time.Time) {
	w.LastSuccess = now
	w.fired = false
}

// Counts tracks loop outcomes since startup.
type Counts struct {
	Publishes       int
	PublishFailures int
	Dials           int
	DialFailures    int
	CommandsOn      int
	CommandsOff     int
	Ignored         int
	Cutoffs         int
	Recoveries      int
}

// State is a point-in-time view of the controller for status reporting.
type State struct {
	LinkConnected    bool
	SessionConnected bool
	Pump             PumpState
	Moisture         int
	HaveMoisture     bool
	LastPublish      time.Time
	LastSuccess      time.Time
	Counts           Counts
}
