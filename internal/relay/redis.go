package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"messaging-service/internal/models"
)

const DefaultChannel = "messaging:push"

// LocalBroker is the in-process group registry the relay delivers into.
type LocalBroker interface {
	Join(connID, group string)
	Send(connID string, event models.Event) error
	Deliver(group string, payload []byte) int
}

// NewRedisClient parses url and verifies the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redis: url is empty")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return c, nil
}

type envelope struct {
	Group string          `json:"group"`
	Frame json.RawMessage `json:"frame"`
}

// RedisRelay fans group pushes out to every service instance over a Redis
// pub/sub channel. Joins and single-connection sends stay local since a
// connection only lives on one instance.
type RedisRelay struct {
	client  *redis.Client
	local   LocalBroker
	channel string
	log     zerolog.Logger
	ready   chan struct{}
}

// NewRedisRelay wraps local. Run must be started for pushes to be delivered.
func NewRedisRelay(client *redis.Client, local LocalBroker, channel string, logger zerolog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{
		client:  client,
		local:   local,
		channel: channel,
		log:     logger,
		ready:   make(chan struct{}),
	}
}

func (r *RedisRelay) Join(connID, group string) {
	r.local.Join(connID, group)
}

func (r *RedisRelay) Send(connID string, event models.Event) error {
	return r.local.Send(connID, event)
}

// Push publishes the encoded event for every instance, this one included.
// When Redis is unavailable the event is still delivered locally.
func (r *RedisRelay) Push(ctx context.Context, group string, event models.Event) error {
	frame, err := models.EncodeEvent(event)
	if err != nil {
		return err
	}
	body, err := json.Marshal(envelope{Group: group, Frame: frame})
	if err != nil {
		return fmt.Errorf("marshal relay envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		r.local.Deliver(group, frame)
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Ready is closed once the subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Start runs the relay in the background and waits until it is subscribed.
// It fails when the subscription errors or takes longer than timeout, in
// which case the relay must not be used as a broker.
func (r *RedisRelay) Start(ctx context.Context, timeout time.Duration) error {
	runCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(runCtx) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.ready:
	case err := <-errCh:
		cancel()
		if err == nil {
			err = errors.New("redis relay: stopped before subscribing")
		}
		return err
	case <-timer.C:
		cancel()
		return fmt.Errorf("redis relay: not subscribed after %s", timeout)
	}

	go func() {
		defer cancel()
		if err := <-errCh; err != nil {
			r.log.Error().Err(err).Msg("redis relay stopped")
		}
	}()
	return nil
}

// Run subscribes to the relay channel and delivers incoming frames to the
// local broker until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	close(r.ready)
	r.log.Info().Str("channel", r.channel).Msg("relay subscribed")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.Group == "" {
				r.log.Warn().Err(err).Msg("relay dropped malformed envelope")
				continue
			}
			r.local.Deliver(env.Group, env.Frame)
		}
	}
}
