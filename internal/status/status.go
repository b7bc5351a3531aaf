// Package status provides a thread-safe status tracker for the box-counter daemon.
// It is read by the HTTP handlers and written by the control loop.
package status

import (
	"sync"
	"time"
)

// Config contains daemon configuration for display.
type Config struct {
	DelayMs     int64
	TelemetryMs int64
	Broker      string
	HTTPAddr    string
	ConfigPath  string
	ConfigURL   string // empty = in-process poller disabled
	Motor       string // "sim" or "pwm"
	Sensor      string // "sim" or "ir"
}

// Loop is the control loop's view of the machine after a cycle.
type Loop struct {
	State         string // running, stopped, error
	BoxCount      int
	Speed         float64
	DesiredSpeed  int
	PowerOn       bool
	Cycles        uint64
	LastTelemetry time.Time
	LastError     string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Loop         Loop
	StartTime    time.Time
	Now          time.Time
	BusConnected bool
	Config       Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
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
			Loop:      Loop{State: "stopped"},
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// UpdateLoop replaces the loop state. Called by the control loop after
// every cycle and on every state change.
func (t *Tracker) UpdateLoop(l Loop) {
	t.mu.Lock()
	t.snap.Loop = l
	t.mu.Unlock()
}

// SetBusConnected sets the event bus connection status.
func (t *Tracker) SetBusConnected(connected bool) {
	t.mu.Lock()
	t.snap.BusConnected = connected
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
