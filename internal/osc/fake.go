package osc

import (
	"sync"

	"github.com/dwren/pulse-osc/internal/config"
)

// ParamSend records one SendParameter call.
type ParamSend struct {
	Address string
	Type    config.OutputType
	Value   any
}

// FakeSink records sends for test assertions.
type FakeSink struct {
	mu sync.Mutex

	// Params contains all parameter sends, in order.
	Params []ParamSend

	// Statuses contains all status sends, in order.
	Statuses []bool

	// SendError, if set, is returned by both send methods. Sessions must
	// treat this the same as a missing peer: log and carry on.
	SendError error

	// Closed tracks whether Close was called.
	Closed bool
}

// NewFakeSink creates a FakeSink for testing.
func NewFakeSink() *FakeSink {
	return &FakeSink{}
}

// SendParameter records the send.
func (f *FakeSink) SendParameter(address string, typ config.OutputType, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendError != nil {
		return f.SendError
	}
	f.Params = append(f.Params, ParamSend{Address: address, Type: typ, Value: value})
	return nil
}

// SendStatus records the status send.
func (f *FakeSink) SendStatus(connected bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendError != nil {
		return f.SendError
	}
	f.Statuses = append(f.Statuses, connected)
	return nil
}

// Close marks the sink closed.
func (f *FakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// ParamsFor returns the recorded sends for one address.
func (f *FakeSink) ParamsFor(address string) []ParamSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ParamSend
	for _, p := range f.Params {
		if p.Address == address {
			out = append(out, p)
		}
	}
	return out
}

// LastStatus returns the most recent status send, or false if none.
func (f *FakeSink) LastStatus() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Statuses) == 0 {
		return false, false
	}
	return f.Statuses[len(f.Statuses)-1], true
}
