package clients

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is one message delivered by an event source.
type Event struct {
	Data []byte
}

// EventSource is a live subscription to a websocket event stream. Events
// arrive on Events until the stream ends or Close is called.
type EventSource struct {
	conn   *websocket.Conn
	log    *zap.Logger
	events chan Event
	done   chan struct{}

	closeOnce sync.Once
}

// Events delivers incoming messages; the channel closes when the stream
// ends.
func (s *EventSource) Events() <-chan Event { return s.events }

// Close terminates the stream. Idempotent.
func (s *EventSource) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = s.conn.Close()
	})
}

func (s *EventSource) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("event stream ended", zap.Error(err))
			}
			return
		}
		// A consumer may Close without draining; never park on the send.
		select {
		case s.events <- Event{Data: data}:
		case <-s.done:
			return
		}
	}
}

// EventSourceBuilder opens websocket event streams.
type EventSourceBuilder struct {
	dialer *websocket.Dialer
	log    *zap.Logger
}

// NewEventSourceBuilder creates a builder with default dial settings.
func NewEventSourceBuilder(log *zap.Logger) *EventSourceBuilder {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventSourceBuilder{
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log,
	}
}

// Connect dials url and starts delivering its messages.
func (b *EventSourceBuilder) Connect(ctx context.Context, url string) (*EventSource, error) {
	conn, _, err := b.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect event source %s: %w", url, err)
	}
	s := &EventSource{
		conn:   conn,
		log:    b.log,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}
