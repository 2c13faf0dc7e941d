package session

import (
	"errors"
	"testing"
	"time"

	"github.com/dwren/pulse-osc/internal/config"
	"github.com/dwren/pulse-osc/internal/pulsoid"
)

var testStart = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func testSpecs(t *testing.T) []config.ParameterSpec {
	t.Helper()
	specs, err := config.Parse([]byte(`{"parameters": [
		{"name": "HR", "address": "/avatar/parameters/HR", "type": "int", "value": "heartRate"},
		{"name": "HeartBeatToggle", "address": "/avatar/parameters/HeartBeatToggle", "type": "bool", "value": "toggle"}
	]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return specs
}

// streamingMachine walks a fresh machine into the Streaming phase.
func streamingMachine(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine(testSpecs(t))
	m.Handle(EvStart{}, testStart)
	m.Handle(EvResolved{Endpoint: pulsoid.Endpoint{URL: "wss://stream.example/abc"}}, testStart)
	m.Handle(EvStreamOpened{}, testStart)
	if m.Phase() != PhaseStreaming {
		t.Fatalf("setup: phase %v, want STREAMING", m.Phase())
	}
	return m
}

func hasEffect[T Effect](effects []Effect) bool {
	for _, fx := range effects {
		if _, ok := fx.(T); ok {
			return true
		}
	}
	return false
}

func findEffect[T Effect](t *testing.T, effects []Effect) T {
	t.Helper()
	for _, fx := range effects {
		if typed, ok := fx.(T); ok {
			return typed
		}
	}
	var zero T
	t.Fatalf("effect %T not found in %v", zero, effects)
	return zero
}

func TestStartTriggersResolve(t *testing.T) {
	m := NewMachine(testSpecs(t))
	effects := m.Handle(EvStart{}, testStart)
	if !hasEffect[FxResolve](effects) {
		t.Errorf("expected FxResolve, got %v", effects)
	}
	if m.Phase() != PhaseResolving {
		t.Errorf("phase %v, want RESOLVING", m.Phase())
	}
}

func TestResolveSuccessMovesToConnecting(t *testing.T) {
	m := NewMachine(testSpecs(t))
	m.Handle(EvStart{}, testStart)

	effects := m.Handle(EvResolved{Endpoint: pulsoid.Endpoint{URL: "wss://stream.example/abc"}}, testStart)
	if m.Phase() != PhaseConnecting {
		t.Errorf("phase %v, want CONNECTING", m.Phase())
	}
	open := findEffect[FxOpenStream](t, effects)
	if open.URL != "wss://stream.example/abc" {
		t.Errorf("open URL %q", open.URL)
	}
}

func TestResolveFailureRetriesOnFixedTimer(t *testing.T) {
	m := NewMachine(testSpecs(t))
	m.Handle(EvStart{}, testStart)

	for _, kind := range []pulsoid.FailureKind{
		pulsoid.FailureNetwork, pulsoid.FailureNotFound, pulsoid.FailureInactive, pulsoid.FailureOther,
	} {
		err := &pulsoid.ResolveError{Kind: kind, Err: errors.New("boom")}
		effects := m.Handle(EvResolveFailed{Err: err}, testStart)
		if m.Phase() != PhaseResolving {
			t.Errorf("%v: phase %v, want RESOLVING", kind, m.Phase())
		}
		sched := findEffect[FxScheduleResolve](t, effects)
		if sched.Delay != ResolveRetryInterval {
			t.Errorf("%v: delay %v, want %v", kind, sched.Delay, ResolveRetryInterval)
		}
		effects = m.Handle(EvRetryResolve{}, testStart)
		if !hasEffect[FxResolve](effects) {
			t.Errorf("%v: retry did not resolve again", kind)
		}
	}
}

func TestStreamOpenStartsTimersAndResetsBackoff(t *testing.T) {
	m := NewMachine(testSpecs(t))
	m.Handle(EvStart{}, testStart)
	m.Handle(EvResolved{Endpoint: pulsoid.Endpoint{URL: "wss://s"}}, testStart)

	effects := m.Handle(EvStreamOpened{}, testStart)
	if m.Phase() != PhaseStreaming {
		t.Fatalf("phase %v, want STREAMING", m.Phase())
	}
	if !hasEffect[FxStartStreamTimers](effects) {
		t.Errorf("expected FxStartStreamTimers, got %v", effects)
	}
	if m.ReconnectAttempt() != 0 {
		t.Errorf("reconnect attempt %d, want 0", m.ReconnectAttempt())
	}
}

func TestBackoffDelaySequence(t *testing.T) {
	want := []time.Duration{
		5 * time.Second, 10 * time.Second, 15 * time.Second,
		20 * time.Second, 25 * time.Second, 30 * time.Second,
		30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		if got := BackoffDelay(i + 1); got != w {
			t.Errorf("attempt %d: delay %v, want %v", i+1, got, w)
		}
	}
}

func TestConsecutiveFailuresWidenBackoff(t *testing.T) {
	m := NewMachine(testSpecs(t))
	m.Handle(EvStart{}, testStart)
	m.Handle(EvResolved{Endpoint: pulsoid.Endpoint{URL: "wss://s"}}, testStart)

	want := []time.Duration{
		5 * time.Second, 10 * time.Second, 15 * time.Second,
		20 * time.Second, 25 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		effects := m.Handle(EvStreamOpenFailed{Err: errors.New("refused")}, testStart)
		if m.Phase() != PhaseReconnecting {
			t.Fatalf("attempt %d: phase %v, want RECONNECTING", i+1, m.Phase())
		}
		sched := findEffect[FxScheduleReconnect](t, effects)
		if sched.Delay != w {
			t.Errorf("attempt %d: delay %v, want %v", i+1, sched.Delay, w)
		}

		// Endpoint is still cached, so backoff completion re-dials.
		effects = m.Handle(EvBackoffDone{}, testStart)
		if m.Phase() != PhaseConnecting {
			t.Fatalf("attempt %d: phase %v, want CONNECTING", i+1, m.Phase())
		}
		if !hasEffect[FxOpenStream](effects) {
			t.Fatalf("attempt %d: expected FxOpenStream", i+1)
		}
	}

	// A successful connect resets the counter; the next failure starts
	// the ladder over at 5s.
	m.Handle(EvStreamOpened{}, testStart)
	if m.ReconnectAttempt() != 0 {
		t.Fatalf("reconnect attempt %d after success, want 0", m.ReconnectAttempt())
	}
	effects := m.Handle(EvStreamClosed{Err: errors.New("reset by peer")}, testStart)
	sched := findEffect[FxScheduleReconnect](t, effects)
	if sched.Delay != 5*time.Second {
		t.Errorf("post-success delay %v, want 5s", sched.Delay)
	}
}

func TestValidSampleEvaluatesAndPublishes(t *testing.T) {
	m := streamingMachine(t)
	now := testStart.Add(time.Second)

	effects := m.Handle(EvFrame{Raw: []byte(`{"data":{"heart_rate":72}}`)}, now)

	send := findEffect[FxSendOutputs](t, effects)
	if len(send.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(send.Outputs))
	}
	if got := send.Outputs[0].Value.(int); got != 72 {
		t.Errorf("HR output %v, want 72", got)
	}
	pub := findEffect[FxPublishSample](t, effects)
	if pub.BPM != 72 || !pub.At.Equal(now) {
		t.Errorf("published %+v", pub)
	}
	if !m.LastSampleAt().Equal(now) {
		t.Errorf("lastSampleAt %v, want %v", m.LastSampleAt(), now)
	}
	if m.Counters().Samples != 1 {
		t.Errorf("samples counter %d, want 1", m.Counters().Samples)
	}
}

func TestToggleAlternatesAcrossSamples(t *testing.T) {
	m := streamingMachine(t)

	want := false
	for i := 0; i < 4; i++ {
		now := testStart.Add(time.Duration(i+1) * time.Second)
		effects := m.Handle(EvFrame{Raw: []byte(`{"data":{"heart_rate":70}}`)}, now)
		send := findEffect[FxSendOutputs](t, effects)
		got := send.Outputs[1].Value.(bool)
		if got != want {
			t.Errorf("sample %d: toggle %v, want %v", i, got, want)
		}
		want = !want
	}
}

func TestMalformedFrameIsDroppedInPlace(t *testing.T) {
	m := streamingMachine(t)

	effects := m.Handle(EvFrame{Raw: []byte(`not json`)}, testStart.Add(time.Second))
	if len(effects) != 0 {
		t.Errorf("expected no effects for malformed frame, got %v", effects)
	}
	if m.Phase() != PhaseStreaming {
		t.Errorf("phase %v, want STREAMING", m.Phase())
	}
	if !m.LastSampleAt().IsZero() {
		t.Error("malformed frame must not count as a sample")
	}
	if m.Counters().DroppedFrames != 1 {
		t.Errorf("dropped counter %d, want 1", m.Counters().DroppedFrames)
	}
}

func TestZeroRateFrameIsNotASample(t *testing.T) {
	m := streamingMachine(t)

	effects := m.Handle(EvFrame{Raw: []byte(`{"data":{"heart_rate":0}}`)}, testStart.Add(time.Second))
	if len(effects) != 0 {
		t.Errorf("expected no effects for zero-rate frame, got %v", effects)
	}
	if !m.LastSampleAt().IsZero() {
		t.Error("zero-rate frame must not update lastSampleAt")
	}
	if m.Counters().ZeroRate != 1 {
		t.Errorf("zero-rate counter %d, want 1", m.Counters().ZeroRate)
	}
}

func TestStatusTickPushesFreshness(t *testing.T) {
	m := streamingMachine(t)

	effects := m.Handle(EvStatusTick{}, testStart)
	st := findEffect[FxSendStatus](t, effects)
	if st.Connected {
		t.Error("no samples yet: expected connected=false")
	}

	m.Handle(EvFrame{Raw: []byte(`{"data":{"heart_rate":70}}`)}, testStart.Add(time.Second))

	effects = m.Handle(EvStatusTick{}, testStart.Add(2*time.Second))
	st = findEffect[FxSendStatus](t, effects)
	if !st.Connected {
		t.Error("fresh sample: expected connected=true")
	}

	effects = m.Handle(EvStatusTick{}, testStart.Add(40*time.Second))
	st = findEffect[FxSendStatus](t, effects)
	if st.Connected {
		t.Error("sample 39s old: expected connected=false")
	}
}

func TestStreamCloseReconnectsAndPushesDisconnected(t *testing.T) {
	m := streamingMachine(t)

	effects := m.Handle(EvStreamClosed{Err: errors.New("reset by peer")}, testStart.Add(time.Minute))
	if m.Phase() != PhaseReconnecting {
		t.Errorf("phase %v, want RECONNECTING", m.Phase())
	}
	if !hasEffect[FxStopStreamTimers](effects) {
		t.Error("expected FxStopStreamTimers")
	}
	st := findEffect[FxSendStatus](t, effects)
	if st.Connected {
		t.Error("expected disconnected status push")
	}
	if m.Endpoint() == "" {
		t.Error("generic close must keep the cached endpoint")
	}
}

func TestAuthExpirySkipsBackoffAndReResolves(t *testing.T) {
	m := streamingMachine(t)

	effects := m.Handle(EvStreamClosed{Err: errors.New("token expired"), AuthExpired: true}, testStart.Add(time.Minute))
	if m.Phase() != PhaseResolving {
		t.Errorf("phase %v, want RESOLVING", m.Phase())
	}
	if m.Endpoint() != "" {
		t.Error("auth expiry must invalidate the cached endpoint")
	}
	if !hasEffect[FxResolve](effects) {
		t.Error("expected immediate FxResolve, no backoff")
	}
	if hasEffect[FxScheduleReconnect](effects) {
		t.Error("auth expiry must not schedule a backoff")
	}
	if !hasEffect[FxStopStreamTimers](effects) {
		t.Error("expected FxStopStreamTimers")
	}
}

func TestAuthRejectedDialReResolves(t *testing.T) {
	m := NewMachine(testSpecs(t))
	m.Handle(EvStart{}, testStart)
	m.Handle(EvResolved{Endpoint: pulsoid.Endpoint{URL: "wss://s"}}, testStart)

	effects := m.Handle(EvStreamOpenFailed{Err: errors.New("401"), AuthExpired: true}, testStart)
	if m.Phase() != PhaseResolving {
		t.Errorf("phase %v, want RESOLVING", m.Phase())
	}
	if m.Endpoint() != "" {
		t.Error("expected endpoint invalidated")
	}
	if !hasEffect[FxResolve](effects) {
		t.Error("expected FxResolve")
	}
}

func TestBackoffRedialsCachedEndpoint(t *testing.T) {
	m := streamingMachine(t)

	// Auth expiry clears the endpoint; a fresh resolve caches a new one,
	// and the dial failure after it enters Reconnecting with that cache.
	m.Handle(EvStreamClosed{AuthExpired: true}, testStart)
	m.Handle(EvResolved{Endpoint: pulsoid.Endpoint{URL: "wss://new"}}, testStart)
	m.Handle(EvStreamOpenFailed{Err: errors.New("refused")}, testStart)
	if m.Phase() != PhaseReconnecting {
		t.Fatalf("phase %v, want RECONNECTING", m.Phase())
	}

	effects := m.Handle(EvBackoffDone{}, testStart)
	if m.Phase() != PhaseConnecting {
		t.Errorf("phase %v, want CONNECTING (endpoint cached)", m.Phase())
	}
	if !hasEffect[FxOpenStream](effects) {
		t.Error("expected FxOpenStream")
	}
}

func TestStaleWarningCadence(t *testing.T) {
	m := streamingMachine(t)

	// No sample ever arrives; warnings fire on ticks 1, 3, 9, 15, ...
	wantWarn := map[int]bool{1: true, 3: true, 9: true, 15: true, 21: true}
	for tick := 1; tick <= 21; tick++ {
		if got := warnOnStaleTick(tick); got != wantWarn[tick] {
			t.Errorf("tick %d: warn=%v, want %v", tick, got, wantWarn[tick])
		}
	}

	// A sample resets the streak.
	for i := 0; i < 4; i++ {
		m.Handle(EvStaleTick{}, testStart.Add(time.Duration(i)*10*time.Second))
	}
	m.Handle(EvFrame{Raw: []byte(`{"data":{"heart_rate":70}}`)}, testStart.Add(time.Minute))
	if m.staleTicks != 0 {
		t.Errorf("staleTicks %d after sample, want 0", m.staleTicks)
	}
}

func TestShutdownFromAnyPhase(t *testing.T) {
	// From Streaming: timers stopped, disconnected pushed, stream closed.
	m := streamingMachine(t)
	effects := m.Handle(EvShutdown{}, testStart)
	if m.Phase() != PhaseShuttingDown {
		t.Errorf("phase %v, want SHUTTING_DOWN", m.Phase())
	}
	if !hasEffect[FxStopStreamTimers](effects) {
		t.Error("expected FxStopStreamTimers")
	}
	st := findEffect[FxSendStatus](t, effects)
	if st.Connected {
		t.Error("final push must be disconnected")
	}
	if !hasEffect[FxCloseStream](effects) || !hasEffect[FxTerminate](effects) {
		t.Errorf("expected close+terminate, got %v", effects)
	}

	// From Resolving: same final sequence, no stream timers to stop.
	m2 := NewMachine(testSpecs(t))
	m2.Handle(EvStart{}, testStart)
	effects = m2.Handle(EvShutdown{}, testStart)
	if !hasEffect[FxTerminate](effects) {
		t.Error("expected FxTerminate")
	}
	if hasEffect[FxStopStreamTimers](effects) {
		t.Error("no stream timers to stop outside Streaming")
	}

	// Events after shutdown are ignored.
	if got := m.Handle(EvFrame{Raw: []byte(`{"heartRate":70}`)}, testStart); got != nil {
		t.Errorf("post-shutdown event produced effects: %v", got)
	}
}

func TestStaleEventsInWrongPhaseAreDropped(t *testing.T) {
	m := NewMachine(testSpecs(t))
	m.Handle(EvStart{}, testStart)

	// Still resolving: stream events and timer fires must do nothing.
	events := []Event{
		EvFrame{Raw: []byte(`{"heartRate":70}`)},
		EvStreamClosed{},
		EvStreamOpened{},
		EvStatusTick{},
		EvStaleTick{},
		EvBackoffDone{},
	}
	for _, ev := range events {
		if effects := m.Handle(ev, testStart); len(effects) != 0 {
			t.Errorf("%T in RESOLVING produced %v", ev, effects)
		}
	}
	if m.Phase() != PhaseResolving {
		t.Errorf("phase %v, want RESOLVING", m.Phase())
	}
}
