package session

import (
	"context"
	"log"
	"time"

	"github.com/dwren/pulse-osc/internal/config"
	"github.com/dwren/pulse-osc/internal/eval"
	"github.com/dwren/pulse-osc/internal/osc"
	"github.com/dwren/pulse-osc/internal/pulsoid"
	"github.com/dwren/pulse-osc/internal/status"
	"github.com/dwren/pulse-osc/internal/telemetry"
)

// defaultShutdownGrace is how long the runner lingers after the final
// status push so the fire-and-forget UDP datagram leaves the process.
const defaultShutdownGrace = 250 * time.Millisecond

// RunnerConfig wires a Runner. Telemetry, TelemetryStatus, and Tracker
// are optional; intervals and Now default when zero.
type RunnerConfig struct {
	WidgetID string
	Specs    []config.ParameterSpec
	Resolver pulsoid.Resolver
	Dialer   pulsoid.Dialer
	Sink     osc.Sink

	Telemetry       telemetry.Publisher
	TelemetryStatus telemetry.ConnectionStatus
	Tracker         *status.Tracker

	// Intervals are overridable for tests; zero means the production
	// constants. BackoffInterval zero means the machine's computed delay.
	StatusInterval  time.Duration
	StaleInterval   time.Duration
	ResolveInterval time.Duration
	BackoffInterval time.Duration
	ShutdownGrace   time.Duration

	Now func() time.Time
}

// Runner drives the state machine: it serializes every event (stream
// callbacks, timer fires, resolver results, shutdown) through a single
// loop goroutine and executes the machine's effects. All SessionState
// mutation happens on that goroutine.
type Runner struct {
	cfg     RunnerConfig
	machine *Machine

	events chan Event
	done   chan struct{}

	stream pulsoid.EventStream

	resolveTimer *time.Timer
	backoffTimer *time.Timer
	statusTicker *time.Ticker
	staleTicker  *time.Ticker
}

// NewRunner creates a Runner over a fresh machine.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.StatusInterval == 0 {
		cfg.StatusInterval = StatusPushInterval
	}
	if cfg.StaleInterval == 0 {
		cfg.StaleInterval = StalenessCheckInterval
	}
	if cfg.ResolveInterval == 0 {
		cfg.ResolveInterval = ResolveRetryInterval
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{
		cfg:     cfg,
		machine: NewMachine(cfg.Specs),
		events:  make(chan Event, 32),
		done:    make(chan struct{}),
	}
}

// Machine exposes the underlying state machine for inspection in tests.
func (r *Runner) Machine() *Machine { return r.machine }

// Run executes the session until ctx is cancelled. It always performs
// the shutdown sequence (final status push, stream close, grace delay)
// before returning.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)

	r.dispatch(ctx, EvStart{})

	terminated := false
	for !terminated {
		var resolveC, backoffC, statusC, staleC <-chan time.Time
		if r.resolveTimer != nil {
			resolveC = r.resolveTimer.C
		}
		if r.backoffTimer != nil {
			backoffC = r.backoffTimer.C
		}
		if r.statusTicker != nil {
			statusC = r.statusTicker.C
		}
		if r.staleTicker != nil {
			staleC = r.staleTicker.C
		}

		select {
		case <-ctx.Done():
			terminated = r.dispatch(ctx, EvShutdown{})
		case ev := <-r.events:
			terminated = r.dispatch(ctx, ev)
		case <-resolveC:
			r.resolveTimer = nil
			terminated = r.dispatch(ctx, EvRetryResolve{})
		case <-backoffC:
			r.backoffTimer = nil
			terminated = r.dispatch(ctx, EvBackoffDone{})
		case <-statusC:
			terminated = r.dispatch(ctx, EvStatusTick{})
		case <-staleC:
			terminated = r.dispatch(ctx, EvStaleTick{})
		}
	}

	r.stopAllTimers()
	// Grace delay so the final disconnected push can flush.
	time.Sleep(r.cfg.ShutdownGrace)
	return nil
}

// post delivers an event from an auxiliary goroutine (resolver, dialer,
// stream forwarder) without blocking past the runner's lifetime.
func (r *Runner) post(ev Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// evStreamReady is a runner-internal event: a dial succeeded and the
// stream handle must be adopted on the loop goroutine before the machine
// hears about it.
type evStreamReady struct{ stream pulsoid.EventStream }

func (evStreamReady) isEvent() {}

func (r *Runner) dispatch(ctx context.Context, ev Event) (terminate bool) {
	// Stream bookkeeping happens here, on the loop goroutine, so the
	// machine stays free of I/O handles.
	switch ev := ev.(type) {
	case evStreamReady:
		if !r.adoptStream(ev.stream) {
			return false
		}
		return r.dispatch(ctx, EvStreamOpened{})
	case EvStreamClosed:
		r.dropStream()
	}

	prevPhase := r.machine.Phase()
	effects := r.machine.Handle(ev, r.cfg.Now())
	if prevPhase != PhaseStreaming && r.machine.Phase() == PhaseStreaming && r.machine.Counters().Reconnects > 0 {
		r.publishSystem("RECONNECTED", "")
	}
	for _, fx := range effects {
		switch fx := fx.(type) {
		case FxResolve:
			r.startResolve(ctx)
		case FxScheduleResolve:
			r.stopTimer(&r.resolveTimer)
			r.resolveTimer = time.NewTimer(r.cfg.ResolveInterval)
		case FxOpenStream:
			r.startDial(ctx, fx.URL)
		case FxScheduleReconnect:
			delay := fx.Delay
			if r.cfg.BackoffInterval != 0 {
				delay = r.cfg.BackoffInterval
			}
			r.stopTimer(&r.backoffTimer)
			r.backoffTimer = time.NewTimer(delay)
		case FxStartStreamTimers:
			r.startStreamTimers()
		case FxStopStreamTimers:
			r.stopStreamTimers()
		case FxCloseStream:
			r.dropStream()
		case FxSendOutputs:
			r.sendOutputs(fx.Outputs)
		case FxSendStatus:
			if err := r.cfg.Sink.SendStatus(fx.Connected); err != nil {
				// Peer may not be running; expected, not an error state.
				log.Printf("session: status push failed (peer gone?): %v", err)
			}
		case FxPublishSample:
			if r.cfg.Telemetry != nil {
				sample := telemetry.Sample{Timestamp: fx.At, BPM: fx.BPM}
				if err := r.cfg.Telemetry.PublishSample(sample); err != nil {
					log.Printf("session: telemetry publish failed: %v", err)
				}
			}
		case FxTerminate:
			terminate = true
		}
	}

	r.updateTracker()
	return terminate
}

// publishSystem emits a lifecycle event to telemetry, if configured.
func (r *Runner) publishSystem(event, reason string) {
	if r.cfg.Telemetry == nil {
		return
	}
	ev := telemetry.SystemEvent{Timestamp: r.cfg.Now(), Event: event, Reason: reason}
	if err := r.cfg.Telemetry.PublishSystem(ev); err != nil {
		log.Printf("session: telemetry %s publish failed: %v", event, err)
	}
}

func (r *Runner) startResolve(ctx context.Context) {
	go func() {
		ep, err := r.cfg.Resolver.Resolve(ctx, r.cfg.WidgetID)
		if err != nil {
			r.post(EvResolveFailed{Err: err})
			return
		}
		r.post(EvResolved{Endpoint: ep})
	}()
}

func (r *Runner) startDial(ctx context.Context, url string) {
	go func() {
		st, err := r.cfg.Dialer.Dial(ctx, url)
		if err != nil {
			r.post(EvStreamOpenFailed{Err: err, AuthExpired: pulsoid.IsAuthError(err)})
			return
		}
		r.post(evStreamReady{stream: st})
	}()
}

// adoptStream takes ownership of a freshly dialed stream and starts the
// forwarder that turns its events into machine events.
func (r *Runner) adoptStream(st pulsoid.EventStream) bool {
	// A late dial result can race a shutdown or a newer connection; the
	// superseded stream is closed rather than adopted.
	if r.stream != nil || r.machine.Phase() != PhaseConnecting {
		st.Close()
		return false
	}
	r.stream = st
	go func() {
		for se := range st.Events() {
			switch se.Kind {
			case pulsoid.StreamMessage:
				r.post(EvFrame{Raw: se.Data})
			case pulsoid.StreamClosed:
				r.post(EvStreamClosed{Err: se.Err, AuthExpired: se.AuthExpired})
			}
		}
	}()
	return true
}

func (r *Runner) dropStream() {
	if r.stream == nil {
		return
	}
	r.stream.Close()
	r.stream = nil
}

func (r *Runner) sendOutputs(outputs []eval.Output) {
	for _, out := range outputs {
		if err := r.cfg.Sink.SendParameter(out.Address, out.Type, out.Value); err != nil {
			log.Printf("session: send %s failed (peer gone?): %v", out.Address, err)
		}
	}
}

func (r *Runner) startStreamTimers() {
	r.stopStreamTimers()
	r.statusTicker = time.NewTicker(r.cfg.StatusInterval)
	r.staleTicker = time.NewTicker(r.cfg.StaleInterval)
}

func (r *Runner) stopStreamTimers() {
	if r.statusTicker != nil {
		r.statusTicker.Stop()
		r.statusTicker = nil
	}
	if r.staleTicker != nil {
		r.staleTicker.Stop()
		r.staleTicker = nil
	}
}

func (r *Runner) stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (r *Runner) stopAllTimers() {
	r.stopTimer(&r.resolveTimer)
	r.stopTimer(&r.backoffTimer)
	r.stopStreamTimers()
}

func (r *Runner) updateTracker() {
	if r.cfg.Tracker == nil {
		return
	}
	c := r.machine.Counters()
	r.cfg.Tracker.Update(r.machine.Phase().String(), r.machine.LastSampleAt(), r.machine.LastBPM(),
		r.machine.ReconnectAttempt(), status.Counts{
			Samples:       c.Samples,
			DroppedFrames: c.DroppedFrames,
			ZeroRate:      c.ZeroRate,
			Reconnects:    c.Reconnects,
			Resolves:      c.Resolves,
		})
	if r.cfg.TelemetryStatus != nil {
		r.cfg.Tracker.SetMQTTConnected(r.cfg.TelemetryStatus.IsConnected())
	}
}
