package pulsoid

import (
	"context"
	"sync"
)

// FakeResolver returns scripted resolution results for tests.
type FakeResolver struct {
	mu sync.Mutex

	// Endpoint is returned when Err is nil.
	Endpoint Endpoint

	// Err, if set, is returned by Resolve.
	Err error

	// Calls counts Resolve invocations.
	Calls int

	// WidgetIDs records the identifier passed to each call.
	WidgetIDs []string
}

// Resolve records the call and returns the scripted result.
func (f *FakeResolver) Resolve(_ context.Context, widgetID string) (Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	f.WidgetIDs = append(f.WidgetIDs, widgetID)
	if f.Err != nil {
		return Endpoint{}, f.Err
	}
	return f.Endpoint, nil
}

// CallCount returns the number of Resolve calls. Safe to call while a
// session is running.
func (f *FakeResolver) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls
}

// FakeStream is a scripted EventStream: tests push events into it and the
// session consumes them exactly as it would from a real socket.
type FakeStream struct {
	events    chan StreamEvent
	closeOnce sync.Once
	closed    chan struct{}
}

// NewFakeStream creates an open fake stream.
func NewFakeStream() *FakeStream {
	return &FakeStream{
		events: make(chan StreamEvent, 16),
		closed: make(chan struct{}),
	}
}

// Events returns the scripted event channel.
func (f *FakeStream) Events() <-chan StreamEvent { return f.events }

// Push delivers a raw frame to the consumer.
func (f *FakeStream) Push(data []byte) {
	f.events <- StreamEvent{Kind: StreamMessage, Data: data}
}

// Fail delivers a closed event (with optional auth classification) and
// closes the event channel, like a real read loop.
func (f *FakeStream) Fail(err error, authExpired bool) {
	f.closeOnce.Do(func() {
		f.events <- StreamEvent{Kind: StreamClosed, Err: err, AuthExpired: authExpired}
		close(f.events)
		close(f.closed)
	})
}

// Close simulates a local close: the read loop surfaces it as a closed
// event, mirroring the real Stream.
func (f *FakeStream) Close() error {
	f.Fail(nil, false)
	return nil
}

// Closed reports whether the stream has terminated.
func (f *FakeStream) Closed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// FakeDialer hands out scripted streams, or a scripted error.
type FakeDialer struct {
	mu sync.Mutex

	// Streams are returned in order; when exhausted, new fake streams
	// are created on demand.
	Streams []*FakeStream

	// Err, if set, is returned by Dial.
	Err error

	// Dialed records every URL passed to Dial.
	Dialed []string
}

// DialCount returns the number of Dial calls. Safe to call while a
// session is running.
func (f *FakeDialer) DialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Dialed)
}

// Dial records the URL and returns the next scripted stream.
func (f *FakeDialer) Dial(_ context.Context, url string) (EventStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Dialed = append(f.Dialed, url)
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.Streams) > 0 {
		s := f.Streams[0]
		f.Streams = f.Streams[1:]
		return s, nil
	}
	return NewFakeStream(), nil
}
