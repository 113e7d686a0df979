package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrUnknownFrame = errors.New("unknown frame type")

// Frame is the wire shape of every websocket message in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Push event kinds.
const (
	EventReceiveDirectMessage      = "ReceiveDirectMessage"
	EventReceiveDirectMessageError = "ReceiveDirectMessageError"
	EventReceiveEventAnnouncement  = "ReceiveEventAnnouncement"
	EventError                     = "Error"
)

// Event is a push notification delivered to connections.
type Event interface {
	EventType() string
}

// DirectMessageEvent is pushed to both participants after a message is stored.
type DirectMessageEvent struct {
	ConversationID uuid.UUID `json:"conversationId"`
	FromUserID     string    `json:"fromUserId"`
	ToUserID       string    `json:"toUserId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	MessageID      uuid.UUID `json:"messageId"`
}

func (DirectMessageEvent) EventType() string { return EventReceiveDirectMessage }

// DirectMessageErrorEvent reports a rejected send to the sender only.
type DirectMessageErrorEvent struct {
	ToUserID string `json:"toUserId"`
	Message  string `json:"message"`
}

func (DirectMessageErrorEvent) EventType() string { return EventReceiveDirectMessageError }

// EventAnnouncement is broadcast to everyone subscribed to an event topic.
type EventAnnouncement struct {
	EventID      uuid.UUID `json:"eventId"`
	AuthorUserID string    `json:"authorUserId"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (EventAnnouncement) EventType() string { return EventReceiveEventAnnouncement }

// ErrorEvent reports a rejected non-send operation.
type ErrorEvent struct {
	Operation string `json:"operation"`
	Message   string `json:"message"`
}

func (ErrorEvent) EventType() string { return EventError }

// EncodeEvent wraps the event in a Frame.
func EncodeEvent(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.EventType(), err)
	}
	return json.Marshal(Frame{Type: e.EventType(), Payload: payload})
}

// DecodeEvent parses a Frame produced by EncodeEvent.
func DecodeEvent(data []byte) (Event, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	var event Event
	switch frame.Type {
	case EventReceiveDirectMessage:
		event = &DirectMessageEvent{}
	case EventReceiveDirectMessageError:
		event = &DirectMessageErrorEvent{}
	case EventReceiveEventAnnouncement:
		event = &EventAnnouncement{}
	case EventError:
		event = &ErrorEvent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, frame.Type)
	}
	if err := json.Unmarshal(frame.Payload, event); err != nil {
		return nil, fmt.Errorf("decode %s: %w", frame.Type, err)
	}
	return derefEvent(event), nil
}

func derefEvent(e Event) Event {
	switch v := e.(type) {
	case *DirectMessageEvent:
		return *v
	case *DirectMessageErrorEvent:
		return *v
	case *EventAnnouncement:
		return *v
	case *ErrorEvent:
		return *v
	}
	return e
}
