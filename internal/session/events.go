package session

import (
	"time"

	"github.com/dwren/pulse-osc/internal/eval"
	"github.com/dwren/pulse-osc/internal/pulsoid"
)

// Event is one input to the state machine: a stream callback, a timer
// tick, a resolver result, or a shutdown request. All events funnel
// through a single serialized Handle call, so the machine never sees two
// at once.
type Event interface{ isEvent() }

// EvStart kicks off the session; emitted once by the runner.
type EvStart struct{}

// EvResolved carries a successful endpoint resolution.
type EvResolved struct{ Endpoint pulsoid.Endpoint }

// EvResolveFailed carries a classified resolution failure.
type EvResolveFailed struct{ Err error }

// EvRetryResolve is the fixed resolve-retry timer firing.
type EvRetryResolve struct{}

// EvStreamOpened reports a successful stream open.
type EvStreamOpened struct{}

// EvStreamOpenFailed reports a failed stream open. AuthExpired means the
// cached endpoint is dead and must be re-resolved.
type EvStreamOpenFailed struct {
	Err         error
	AuthExpired bool
}

// EvFrame carries one raw inbound frame.
type EvFrame struct{ Raw []byte }

// EvStreamClosed reports the stream ending for any reason.
type EvStreamClosed struct {
	Err         error
	AuthExpired bool
}

// EvStatusTick is the 5s status-push timer firing.
type EvStatusTick struct{}

// EvStaleTick is the 10s staleness-check timer firing.
type EvStaleTick struct{}

// EvBackoffDone is the reconnect backoff delay elapsing.
type EvBackoffDone struct{}

// EvShutdown is the external termination signal.
type EvShutdown struct{}

func (EvStart) isEvent()            {}
func (EvResolved) isEvent()         {}
func (EvResolveFailed) isEvent()    {}
func (EvRetryResolve) isEvent()     {}
func (EvStreamOpened) isEvent()     {}
func (EvStreamOpenFailed) isEvent() {}
func (EvFrame) isEvent()            {}
func (EvStreamClosed) isEvent()     {}
func (EvStatusTick) isEvent()       {}
func (EvStaleTick) isEvent()        {}
func (EvBackoffDone) isEvent()      {}
func (EvShutdown) isEvent()         {}

// Effect is one action the machine wants performed. The machine itself
// does no I/O; the runner executes effects in order.
type Effect interface{ isEffect() }

// FxResolve starts an endpoint resolution now.
type FxResolve struct{}

// FxScheduleResolve arms the resolve-retry timer.
type FxScheduleResolve struct{ Delay time.Duration }

// FxOpenStream dials the given endpoint URL.
type FxOpenStream struct{ URL string }

// FxScheduleReconnect arms the backoff timer.
type FxScheduleReconnect struct{ Delay time.Duration }

// FxStartStreamTimers arms the status-push and staleness-check timers.
type FxStartStreamTimers struct{}

// FxStopStreamTimers disarms both streaming timers. Unconditional on
// every Streaming exit so a stale timer can never fire into a new state.
type FxStopStreamTimers struct{}

// FxCloseStream closes the open stream, if any.
type FxCloseStream struct{}

// FxSendOutputs delivers one evaluated batch to the sink.
type FxSendOutputs struct{ Outputs []eval.Output }

// FxSendStatus delivers the connection-status boolean to the sink.
type FxSendStatus struct{ Connected bool }

// FxPublishSample hands an accepted sample to telemetry.
type FxPublishSample struct {
	BPM int
	At  time.Time
}

// FxTerminate ends the session after the shutdown grace delay.
type FxTerminate struct{}

func (FxResolve) isEffect()           {}
func (FxScheduleResolve) isEffect()   {}
func (FxOpenStream) isEffect()        {}
func (FxScheduleReconnect) isEffect() {}
func (FxStartStreamTimers) isEffect() {}
func (FxStopStreamTimers) isEffect()  {}
func (FxCloseStream) isEffect()       {}
func (FxSendOutputs) isEffect()       {}
func (FxSendStatus) isEffect()        {}
func (FxPublishSample) isEffect()     {}
func (FxTerminate) isEffect()         {}
