// Package status provides a thread-safe status tracker for the pulse-osc
// daemon. It is written by the session runner and read by HTTP handlers
// and telemetry payloads.
package status

import (
	"sync"
	"time"
)

// staleThreshold mirrors the session package's freshness window. This is
// a local copy to avoid importing internal/session from status.
const staleThreshold = 30 * time.Second

// Counts tracks session totals. Local copy of the session counters, same
// reason as above.
type Counts struct {
	Samples       int
	DroppedFrames int
	ZeroRate      int
	Reconnects    int
	Resolves      int
}

// Config contains daemon configuration for display.
type Config struct {
	WidgetID  string
	OSCTarget string
	Broker    string // MQTT telemetry broker (empty = disabled)
	HTTPAddr  string
	RPCURL    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type — safe to use after the lock is released.
type Snapshot struct {
	Phase            string
	LastSampleAt     time.Time
	LastBPM          int
	ReconnectAttempt int
	Counts           Counts
	StartTime        time.Time
	Now              time.Time
	MQTTConnected    bool
	Config           Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Fresh reports whether live data was arriving at snapshot time.
func (s Snapshot) Fresh() bool {
	if s.LastSampleAt.IsZero() {
		return false
	}
	return s.Now.Sub(s.LastSampleAt) < staleThreshold
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Phase:     "RESOLVING",
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets the session view. Called by the runner after every event.
func (t *Tracker) Update(phase string, lastSampleAt time.Time, lastBPM, reconnectAttempt int, counts Counts) {
	t.mu.Lock()
	t.snap.Phase = phase
	t.snap.LastSampleAt = lastSampleAt
	t.snap.LastBPM = lastBPM
	t.snap.ReconnectAttempt = reconnectAttempt
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetMQTTConnected sets the telemetry broker connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
