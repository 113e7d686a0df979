package observability

import (
	"time"

	"context"
	"go.opentelemetry.io/otel/trace"
)

// Routing keys for events published to the bus.
const (
	RoutingWSEvents          = "ws_events.messaging"
	RoutingDirectMessageSent = "messaging.direct_message.sent"
	RoutingAnnouncement      = "messaging.event_announcement.sent"
)

type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	OccurredAt time.Time   `json:"occurred_at"`
	RequestID  string      `json:"request_id,omitempty"`
	TraceID    string      `json:"trace_id,omitempty"`
	Payload    interface{} `json:"payload"`
}

// NewEnvelope stamps the envelope with the current time and the trace id
// carried by ctx, if any.
func NewEnvelope(ctx context.Context, eventType, eventName, requestID string, payload interface{}) EventEnvelope {
	env := EventEnvelope{
		EventType:  eventType,
		EventName:  eventName,
		OccurredAt: time.Now().UTC(),
		RequestID:  requestID,
		Payload:    payload,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env
}
