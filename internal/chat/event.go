package chat

import (
	"context"
	"sync/atomic"

	"github.com/hyperjump/guidechat/internal/errs"
)

// EventType names an event on the wire.
type EventType string

const (
	EventMessage EventType = "message"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one item of a chat stream. Exactly one of Chunk, Done or Err is meaningful,
// according to Type.
type Event struct {
	Type  EventType
	Chunk string
	Done  *DonePayload
	Err   *ErrorPayload
}

// MessagePayload is the data of a message event.
type MessagePayload struct {
	Chunk string `json:"chunk"`
}

// DonePayload is the data of the done event.
type DonePayload struct {
	MessageID          string   `json:"messageId"`
	SessionID          string   `json:"sessionId"`
	ReferencedBlockIDs []string `json:"referencedBlockIds"`
}

// ErrorPayload is the data of the error event.
type ErrorPayload struct {
	Code    errs.Code `json:"code"`
	Message string    `json:"message"`
}

// Data returns the JSON-encodable payload of the event.
func (e Event) Data() any {
	switch e.Type {
	case EventDone:
		return e.Done
	case EventError:
		return e.Err
	default:
		return MessagePayload{Chunk: e.Chunk}
	}
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

func errorEvent(e *errs.Error) Event {
	return Event{Type: EventError, Err: &ErrorPayload{Code: e.Code, Message: e.Message}}
}

// Stream is the event sequence of one chat request. It is closed after the terminal event,
// or without one when the request context ends first.
type Stream struct {
	sessionID string
	events    chan Event
	state     atomic.Int32
}

func newStream(sessionID string) *Stream {
	return &Stream{sessionID: sessionID, events: make(chan Event, 16)}
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// SessionID returns the session the request belongs to, generated when the caller sent none.
func (s *Stream) SessionID() string {
	return s.sessionID
}

// State returns the request's current state.
func (s *Stream) State() State {
	return State(s.state.Load())
}

func (s *Stream) setState(st State) {
	s.state.Store(int32(st))
}

// send delivers ev unless ctx ends first.
func (s *Stream) send(ctx context.Context, ev Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
