package telemetry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	keys   []string
	events []any
}

func (c *capturePublisher) Publish(_ context.Context, routingKey string, event any) error {
	c.keys = append(c.keys, routingKey)
	c.events = append(c.events, event)
	return nil
}

func TestEmitPublishesEnvelope(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewAuditEmitter(pub, "audit.messaging", "messaging-service", "test", zerolog.Nop())
	userID := "alice"

	emitter.Emit(context.Background(), "INFO", "user blocked", "req-1", &userID)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "audit.messaging", pub.keys[0])
	env, ok := pub.events[0].(AuditEnvelope)
	require.True(t, ok)
	assert.Equal(t, "audit_log", env.EventType)
	assert.Equal(t, "req-1", env.RequestID)
	assert.Equal(t, "user blocked", env.Payload.Text)
	require.NotNil(t, env.UserID)
	assert.Equal(t, "alice", *env.UserID)
}

func TestEmitOnNilEmitter(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "INFO", "x", "", nil)
	})
}
