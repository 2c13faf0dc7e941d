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
	Event            string     `json:"event,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	Phase            string     `json:"phase"`
	Connected        bool       `json:"connected"`
	LastBPM          int        `json:"last_bpm"`
	LastSampleAt     string     `json:"last_sample_at,omitempty"`
	ReconnectAttempt int        `json:"reconnect_attempt"`
	UptimeSeconds    int64      `json:"uptime_seconds"`
	StartTime        string     `json:"start_time"`
	Timestamp        string     `json:"timestamp"`
	MQTT             MQTTStatus `json:"mqtt"`
	Counts           CountsJSON `json:"counts"`
	Config           ConfigJSON `json:"config"`
}

// MQTTStatus reports telemetry broker connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
}

// CountsJSON is the JSON representation of session counters.
type CountsJSON struct {
	Samples       int `json:"samples"`
	DroppedFrames int `json:"dropped_frames"`
	ZeroRate      int `json:"zero_rate_frames"`
	Reconnects    int `json:"reconnects"`
	Resolves      int `json:"resolves"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	WidgetID  string `json:"widget_id"`
	OSCTarget string `json:"osc_target"`
	Broker    string `json:"broker,omitempty"`
	HTTPAddr  string `json:"http_addr,omitempty"`
	RPCURL    string `json:"rpc_url"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Phase:            snap.Phase,
		Connected:        snap.Fresh(),
		LastBPM:          snap.LastBPM,
		ReconnectAttempt: snap.ReconnectAttempt,
		UptimeSeconds:    int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:        snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:        snap.Now.UTC().Format(time.RFC3339),
		MQTT:             MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Samples:       snap.Counts.Samples,
			DroppedFrames: snap.Counts.DroppedFrames,
			ZeroRate:      snap.Counts.ZeroRate,
			Reconnects:    snap.Counts.Reconnects,
			Resolves:      snap.Counts.Resolves,
		},
		Config: ConfigJSON{
			WidgetID:  snap.Config.WidgetID,
			OSCTarget: snap.Config.OSCTarget,
			Broker:    snap.Config.Broker,
			HTTPAddr:  snap.Config.HTTPAddr,
			RPCURL:    snap.Config.RPCURL,
		},
	}
	if !snap.LastSampleAt.IsZero() {
		inner.LastSampleAt = snap.LastSampleAt.UTC().Format(time.RFC3339)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for a telemetry system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
