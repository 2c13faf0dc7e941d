package osc

import (
	"fmt"

	goosc "github.com/hypebeast/go-osc/osc"

	"github.com/dwren/pulse-osc/internal/config"
)

// UDPSink sends OSC messages over UDP using the go-osc client. OSC's
// numeric types are 32-bit, so values are narrowed on the way out.
type UDPSink struct {
	client *goosc.Client
}

// NewUDPSink creates a sink targeting the given host and port (VRChat
// listens on 127.0.0.1:9000 by default).
func NewUDPSink(host string, port int) *UDPSink {
	return &UDPSink{client: goosc.NewClient(host, port)}
}

// SendParameter delivers one evaluated value.
func (s *UDPSink) SendParameter(address string, typ config.OutputType, value any) error {
	msg, err := buildMessage(address, typ, value)
	if err != nil {
		return err
	}
	return s.client.Send(msg)
}

// SendStatus delivers the connection-status boolean.
func (s *UDPSink) SendStatus(connected bool) error {
	msg := goosc.NewMessage(StatusAddress)
	msg.Append(connected)
	return s.client.Send(msg)
}

// Close is a no-op; the client dials per send.
func (s *UDPSink) Close() error { return nil }

// buildMessage converts an evaluated value into an OSC message. Split out
// so message construction is testable without a UDP socket.
func buildMessage(address string, typ config.OutputType, value any) (*goosc.Message, error) {
	msg := goosc.NewMessage(address)
	switch typ {
	case config.TypeInt:
		v, ok := value.(int)
		if !ok {
			return nil, fmt.Errorf("osc: %s: int parameter carries %T", address, value)
		}
		msg.Append(int32(v))
	case config.TypeFloat:
		v, ok := value.(float64)
		if !ok {
			return nil, fmt.Errorf("osc: %s: float parameter carries %T", address, value)
		}
		msg.Append(float32(v))
	case config.TypeBool:
		v, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("osc: %s: bool parameter carries %T", address, value)
		}
		msg.Append(v)
	default:
		return nil, fmt.Errorf("osc: %s: unknown output type %q", address, typ)
	}
	return msg, nil
}
