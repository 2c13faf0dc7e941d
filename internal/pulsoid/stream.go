package pulsoid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// dialTimeout bounds the websocket handshake.
const dialTimeout = 10 * time.Second

// StreamEventKind tags events emitted by a Stream.
type StreamEventKind int

const (
	// StreamMessage carries one raw inbound frame.
	StreamMessage StreamEventKind = iota
	// StreamClosed is the final event; the event channel is closed after it.
	StreamClosed
)

// StreamEvent is one event from the stream read loop.
type StreamEvent struct {
	Kind        StreamEventKind
	Data        []byte
	Err         error
	AuthExpired bool
}

// DialError is a failed stream open. StatusCode is the HTTP handshake
// status when one was received, 0 otherwise.
type DialError struct {
	StatusCode int
	Err        error
}

func (e *DialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("open stream (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("open stream: %v", e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// IsAuthError reports whether a dial failure means the transient endpoint
// has expired, in which case the session must re-resolve rather than
// retry the same URL.
func IsAuthError(err error) bool {
	var de *DialError
	if errors.As(err, &de) {
		return de.StatusCode == http.StatusUnauthorized || de.StatusCode == http.StatusForbidden
	}
	return false
}

// Stream is an open websocket delivering frames as events. Events are
// emitted on a single channel which is closed after the StreamClosed
// event, so a ranging consumer terminates cleanly.
type Stream struct {
	conn      *websocket.Conn
	events    chan StreamEvent
	closeOnce sync.Once
}

// Dialer opens a Stream. The production implementation is DialStream;
// tests substitute a scripted fake.
type Dialer interface {
	Dial(ctx context.Context, url string) (EventStream, error)
}

// EventStream is the consumer-facing surface of an open stream.
type EventStream interface {
	Events() <-chan StreamEvent
	Close() error
}

// WebsocketDialer is the production Dialer.
type WebsocketDialer struct{}

func (WebsocketDialer) Dial(ctx context.Context, url string) (EventStream, error) {
	return DialStream(ctx, url)
}

// DialStream opens the websocket and starts the read loop. The handshake
// is bounded by dialTimeout.
func DialStream(ctx context.Context, url string) (*Stream, error) {
	d := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := d.DialContext(ctx, url, nil)
	if err != nil {
		de := &DialError{Err: err}
		if resp != nil {
			de.StatusCode = resp.StatusCode
		}
		return nil, de
	}
	s := &Stream{
		conn:   conn,
		events: make(chan StreamEvent, 16),
	}
	go s.readLoop()
	return s, nil
}

// Events returns the stream's event channel.
func (s *Stream) Events() <-chan StreamEvent { return s.events }

func (s *Stream) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.events <- StreamEvent{
				Kind:        StreamClosed,
				Err:         err,
				AuthExpired: isAuthClose(err),
			}
			close(s.events)
			return
		}
		s.events <- StreamEvent{Kind: StreamMessage, Data: data}
	}
}

// isAuthClose classifies a read error as endpoint expiry: a policy
// violation close (1008) or an application close code in the 4000 range,
// which the upstream uses for token expiry.
func isAuthClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	if ce.Code == websocket.ClosePolicyViolation {
		return true
	}
	return ce.Code >= 4000 && ce.Code <= 4099
}

// Close shuts the connection down. A best-effort close frame is written
// first so the peer sees a clean departure; the read loop then surfaces
// the close as a StreamClosed event.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = s.conn.Close()
	})
	return err
}
