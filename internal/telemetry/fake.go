package telemetry

import "sync"

// FakePublisher records published telemetry for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Samples contains all samples that were published.
	Samples []Sample

	// SamplePayloads contains the JSON payloads for samples.
	SamplePayloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, is returned by both publish methods.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Connected: true}
}

// PublishSample records the sample.
func (f *FakePublisher) PublishSample(sample Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	f.Samples = append(f.Samples, sample)

	payload, err := FormatSamplePayload(sample)
	if err != nil {
		return err
	}
	f.SamplePayloads = append(f.SamplePayloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// SampleCount returns the number of published samples. Safe to call
// while a session is running.
func (f *FakePublisher) SampleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Samples)
}

// SystemEventCount returns the number of published system events. Safe
// to call while a session is running.
func (f *FakePublisher) SystemEventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.SystemEvents)
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}
