// Package osc delivers evaluated parameters to the local OSC consumer.
// The peer application may not be running; every send failure is the
// caller's to ignore, never a session-affecting condition.
package osc

import (
	"github.com/dwren/pulse-osc/internal/config"
)

// StatusAddress receives the dedicated connection-status boolean.
const StatusAddress = "/avatar/parameters/isHRConnected"

// Sink sends typed parameter values and connection status.
type Sink interface {
	// SendParameter delivers one evaluated value. value is int, float64,
	// or bool, matching typ.
	SendParameter(address string, typ config.OutputType, value any) error

	// SendStatus delivers the connection-status boolean to StatusAddress.
	SendStatus(connected bool) error

	// Close releases the sink.
	Close() error
}
