// Package session contains the connection lifecycle engine: a pure
// (state, event) -> effects reducer plus a runner that owns the timers
// and executes effects. The split keeps the whole state machine testable
// without a socket, a clock, or a network.
package session

import (
	"log"
	"time"

	"github.com/dwren/pulse-osc/internal/config"
	"github.com/dwren/pulse-osc/internal/eval"
	"github.com/dwren/pulse-osc/internal/pulsoid"
)

// Phase is the session lifecycle state.
type Phase int

const (
	PhaseResolving Phase = iota
	PhaseConnecting
	PhaseStreaming
	PhaseReconnecting
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseResolving:
		return "RESOLVING"
	case PhaseConnecting:
		return "CONNECTING"
	case PhaseStreaming:
		return "STREAMING"
	case PhaseReconnecting:
		return "RECONNECTING"
	default:
		return "SHUTTING_DOWN"
	}
}

// Timer intervals and backoff parameters.
const (
	StatusPushInterval     = 5 * time.Second
	StalenessCheckInterval = 10 * time.Second
	ResolveRetryInterval   = 10 * time.Second

	backoffStep = 5 * time.Second
	backoffCap  = 30 * time.Second
)

// BackoffDelay computes the reconnect delay for the given attempt number
// (attempts start at 1): 5s, 10s, 15s, ... capped at 30s.
func BackoffDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * backoffStep
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// Counters tracks session totals since startup.
type Counters struct {
	Samples       int
	DroppedFrames int
	ZeroRate      int
	Reconnects    int
	Resolves      int
}

// Machine is the session state machine. It is mutated only through
// Handle, which the runner serializes; there are no concurrent writers.
type Machine struct {
	specs []config.ParameterSpec

	phase            Phase
	endpoint         string
	lastSampleAt     time.Time
	lastBPM          int
	reconnectAttempt int
	toggle           bool

	// noDataNoted suppresses repeated zero-rate notes until the next
	// accepted sample.
	noDataNoted bool

	// staleTicks counts staleness-check ticks since the last accepted
	// sample (or stream open); warnings fire on a widening cadence.
	staleTicks int

	counters Counters
}

// NewMachine creates a machine in the Resolving phase with the given
// validated parameter set.
func NewMachine(specs []config.ParameterSpec) *Machine {
	return &Machine{specs: specs, phase: PhaseResolving}
}

// Phase returns the current lifecycle phase.
func (m *Machine) Phase() Phase { return m.phase }

// Endpoint returns the cached transient endpoint URL, or "".
func (m *Machine) Endpoint() string { return m.endpoint }

// LastSampleAt returns the arrival time of the last accepted sample, or
// the zero time if none has arrived.
func (m *Machine) LastSampleAt() time.Time { return m.lastSampleAt }

// LastBPM returns the last accepted sample value, or 0 if none.
func (m *Machine) LastBPM() int { return m.lastBPM }

// Toggle returns the current toggle bit.
func (m *Machine) Toggle() bool { return m.toggle }

// ReconnectAttempt returns the current backoff attempt counter.
func (m *Machine) ReconnectAttempt() int { return m.reconnectAttempt }

// Counters returns a snapshot of the session totals.
func (m *Machine) Counters() Counters { return m.counters }

// Handle applies one event at the given time and returns the effects to
// execute. Events that do not belong to the current phase (stale timer
// fires, late stream callbacks) are dropped.
func (m *Machine) Handle(ev Event, now time.Time) []Effect {
	if m.phase == PhaseShuttingDown {
		return nil
	}

	switch ev := ev.(type) {
	case EvStart:
		return []Effect{FxResolve{}}

	case EvResolved:
		if m.phase != PhaseResolving {
			return nil
		}
		m.endpoint = ev.Endpoint.URL
		m.counters.Resolves++
		m.phase = PhaseConnecting
		log.Printf("session: endpoint resolved (status %q), connecting", ev.Endpoint.Status)
		return []Effect{FxOpenStream{URL: m.endpoint}}

	case EvResolveFailed:
		if m.phase != PhaseResolving {
			return nil
		}
		m.logResolveFailure(ev.Err)
		return []Effect{FxScheduleResolve{Delay: ResolveRetryInterval}}

	case EvRetryResolve:
		if m.phase != PhaseResolving {
			return nil
		}
		return []Effect{FxResolve{}}

	case EvStreamOpened:
		if m.phase != PhaseConnecting {
			return nil
		}
		m.phase = PhaseStreaming
		m.reconnectAttempt = 0
		m.staleTicks = 0
		m.noDataNoted = false
		log.Printf("session: stream open, waiting for samples")
		return []Effect{FxStartStreamTimers{}}

	case EvStreamOpenFailed:
		if m.phase != PhaseConnecting {
			return nil
		}
		if ev.AuthExpired {
			log.Printf("session: endpoint rejected (%v), re-resolving", ev.Err)
			m.endpoint = ""
			m.phase = PhaseResolving
			return []Effect{FxResolve{}}
		}
		log.Printf("session: stream open failed: %v", ev.Err)
		return m.enterReconnecting()

	case EvFrame:
		if m.phase != PhaseStreaming {
			return nil
		}
		return m.handleFrame(ev.Raw, now)

	case EvStreamClosed:
		if m.phase != PhaseStreaming {
			return nil
		}
		effects := []Effect{FxStopStreamTimers{}, FxSendStatus{Connected: false}}
		if ev.AuthExpired {
			// Expired endpoints never come back; skip the backoff and go
			// straight to resolution.
			log.Printf("session: stream closed, endpoint expired (%v), re-resolving", ev.Err)
			m.endpoint = ""
			m.phase = PhaseResolving
			return append(effects, FxResolve{})
		}
		if ev.Err != nil {
			log.Printf("session: stream closed: %v", ev.Err)
		} else {
			log.Printf("session: stream closed")
		}
		return append(effects, m.enterReconnecting()...)

	case EvStatusTick:
		if m.phase != PhaseStreaming {
			return nil
		}
		return []Effect{FxSendStatus{Connected: Fresh(m.lastSampleAt, now)}}

	case EvStaleTick:
		if m.phase != PhaseStreaming {
			return nil
		}
		m.handleStaleTick(now)
		return nil

	case EvBackoffDone:
		if m.phase != PhaseReconnecting {
			return nil
		}
		if m.endpoint != "" {
			m.phase = PhaseConnecting
			return []Effect{FxOpenStream{URL: m.endpoint}}
		}
		m.phase = PhaseResolving
		return []Effect{FxResolve{}}

	case EvShutdown:
		log.Printf("session: shutting down")
		var effects []Effect
		if m.phase == PhaseStreaming {
			effects = append(effects, FxStopStreamTimers{})
		}
		m.phase = PhaseShuttingDown
		// The final status push is best-effort: the peer may already be
		// gone, and a failure must not delay exit.
		return append(effects, FxSendStatus{Connected: false}, FxCloseStream{}, FxTerminate{})

	default:
		return nil
	}
}

func (m *Machine) handleFrame(raw []byte, now time.Time) []Effect {
	bpm, ok, err := pulsoid.DecodeFrame(raw)
	if err != nil {
		m.counters.DroppedFrames++
		log.Printf("session: dropping malformed frame: %v", err)
		return nil
	}
	if !ok {
		m.counters.ZeroRate++
		if !m.noDataNoted {
			log.Printf("session: stream is up but frames carry no heart rate yet")
			m.noDataNoted = true
		}
		return nil
	}

	m.lastSampleAt = now
	m.lastBPM = bpm
	m.noDataNoted = false
	m.staleTicks = 0
	m.counters.Samples++

	outputs, flip := eval.Evaluate(m.specs, bpm, m.toggle, Fresh(m.lastSampleAt, now))
	if flip {
		// Flipped only after the whole batch evaluated: all toggle
		// consumers in one sample observe the same pre-flip value.
		m.toggle = !m.toggle
	}
	return []Effect{
		FxSendOutputs{Outputs: outputs},
		FxPublishSample{BPM: bpm, At: now},
	}
}

func (m *Machine) handleStaleTick(now time.Time) {
	if !m.lastSampleAt.IsZero() && Fresh(m.lastSampleAt, now) {
		m.staleTicks = 0
		return
	}
	m.staleTicks++
	if !warnOnStaleTick(m.staleTicks) {
		return
	}
	if m.lastSampleAt.IsZero() {
		log.Printf("session: no heart-rate sample received yet (stream open, check the widget is active)")
	} else {
		log.Printf("session: no heart-rate sample for %v", now.Sub(m.lastSampleAt).Truncate(time.Second))
	}
}

// warnOnStaleTick implements the widening warning cadence: first tick,
// third tick, then every sixth tick after that. Keeps a persistent
// condition visible without flooding the log.
func warnOnStaleTick(tick int) bool {
	if tick == 1 || tick == 3 {
		return true
	}
	return tick > 3 && (tick-3)%6 == 0
}

func (m *Machine) enterReconnecting() []Effect {
	m.phase = PhaseReconnecting
	m.reconnectAttempt++
	m.counters.Reconnects++
	delay := BackoffDelay(m.reconnectAttempt)
	log.Printf("session: reconnect attempt %d in %v", m.reconnectAttempt, delay)
	return []Effect{FxScheduleReconnect{Delay: delay}}
}

func (m *Machine) logResolveFailure(err error) {
	switch pulsoid.KindOf(err) {
	case pulsoid.FailureNetwork:
		log.Printf("session: cannot reach the heart-rate service, will retry: %v", err)
	case pulsoid.FailureNotFound:
		log.Printf("session: widget ID not recognized by the service, will retry: %v", err)
	case pulsoid.FailureInactive:
		log.Printf("session: widget exists but is not streaming (open the widget page?), will retry: %v", err)
	default:
		log.Printf("session: endpoint resolution failed, will retry: %v", err)
	}
}
