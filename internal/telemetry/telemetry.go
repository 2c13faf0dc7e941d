// Package telemetry publishes heart-rate samples and session lifecycle
// events to an optional MQTT broker. Publishing is fire-and-forget from
// the session's point of view: a missing or flaky broker never affects
// the OSC path.
package telemetry

import (
	"encoding/json"
	"time"
)

// TopicSamples is the MQTT topic for accepted heart-rate samples.
const TopicSamples = "heartrate/pulse-osc/samples"

// TopicSystem is the MQTT topic for session lifecycle events.
const TopicSystem = "heartrate/pulse-osc/system"

// Publisher publishes telemetry to MQTT.
type Publisher interface {
	// PublishSample sends one accepted heart-rate sample.
	// Returns error if publishing fails (should not crash the process).
	PublishSample(sample Sample) error

	// PublishSystem sends a session lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Sample is one accepted heart-rate reading.
type Sample struct {
	Timestamp time.Time
	BPM       int
}

// SystemEvent represents a session lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "RECONNECTED"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SamplePayload is the MQTT message payload for one sample.
type SamplePayload struct {
	Heartrate SampleInner `json:"heartrate"`
}

// SampleInner contains the sample details.
type SampleInner struct {
	Timestamp string `json:"timestamp"`
	BPM       int    `json:"bpm"`
}

// FormatSamplePayload creates the JSON payload for a sample.
func FormatSamplePayload(sample Sample) ([]byte, error) {
	payload := SamplePayload{
		Heartrate: SampleInner{
			Timestamp: sample.Timestamp.UTC().Format(time.RFC3339),
			BPM:       sample.BPM,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload is the MQTT message payload for simple system events that
// don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full
// status snapshots built by the status package).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
