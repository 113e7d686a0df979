package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/models"
)

type delivery struct {
	group string
	event models.Event
}

type fakeLocal struct {
	mu        sync.Mutex
	joins     map[string][]string
	sent      map[string][]models.Event
	delivered []delivery
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{joins: map[string][]string{}, sent: map[string][]models.Event{}}
}

func (f *fakeLocal) Join(connID, group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins[connID] = append(f.joins[connID], group)
}

func (f *fakeLocal) Send(connID string, event models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[connID] = append(f.sent[connID], event)
	return nil
}

func (f *fakeLocal) Deliver(group string, payload []byte) int {
	event, err := models.DecodeEvent(payload)
	if err != nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, delivery{group: group, event: event})
	return 1
}

func (f *fakeLocal) deliveries() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.delivered...)
}

func startRelay(t *testing.T, ctx context.Context, addr string, local LocalBroker) *RedisRelay {
	t.Helper()
	client, err := NewRedisClient(ctx, "redis://"+addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	relay := NewRedisRelay(client, local, "", zerolog.Nop())
	require.NoError(t, relay.Start(ctx, 2*time.Second))
	return relay
}

func TestRelayDeliversAcrossInstances(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	localA, localB := newFakeLocal(), newFakeLocal()
	relayA := startRelay(t, ctx, srv.Addr(), localA)
	startRelay(t, ctx, srv.Addr(), localB)

	event := models.ErrorEvent{Operation: "SubscribeEvent", Message: "invalid event id"}
	require.NoError(t, relayA.Push(ctx, "user:bob", event))

	want := []delivery{{group: "user:bob", event: event}}
	require.Eventually(t, func() bool { return len(localB.deliveries()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(localA.deliveries()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, localB.deliveries())
	assert.Equal(t, want, localA.deliveries())
}

func TestRelayKeepsJoinAndSendLocal(t *testing.T) {
	local := newFakeLocal()
	relay := NewRedisRelay(nil, local, "", zerolog.Nop())

	relay.Join("c1", "user:alice")
	require.NoError(t, relay.Send("c1", models.ErrorEvent{Message: "x"}))

	assert.Equal(t, []string{"user:alice"}, local.joins["c1"])
	assert.Len(t, local.sent["c1"], 1)
}

func TestRelayFallsBackToLocalWhenPublishFails(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	srv.Close()

	local := newFakeLocal()
	relay := NewRedisRelay(client, local, "", zerolog.Nop())

	err := relay.Push(context.Background(), "user:alice", models.ErrorEvent{Message: "x"})
	require.Error(t, err)
	assert.Len(t, local.deliveries(), 1)
}

func TestRelayIgnoresMalformedEnvelope(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := newFakeLocal()
	relay := startRelay(t, ctx, srv.Addr(), local)

	srv.Publish(DefaultChannel, "not json")
	require.NoError(t, relay.Push(ctx, "event:x", models.ErrorEvent{Message: "after"}))

	require.Eventually(t, func() bool { return len(local.deliveries()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "event:x", local.deliveries()[0].group)
}

func TestRelayStartFailsWhenSubscribeFails(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	srv.Close()

	relay := NewRedisRelay(client, newFakeLocal(), "", zerolog.Nop())

	err := relay.Start(context.Background(), 2*time.Second)
	require.Error(t, err)
	select {
	case <-relay.Ready():
		t.Fatal("relay reported ready without a subscription")
	default:
	}
}

func TestNewRedisClientRejectsBadURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "")
	require.Error(t, err)

	_, err = NewRedisClient(context.Background(), "://nope")
	require.Error(t, err)
}
