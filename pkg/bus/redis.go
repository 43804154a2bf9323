package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/junctionhq/junction/pkg/log"
)

// Reconnect backoff for the subscribe loop.
const (
	redisBackoffInitial = 50 * time.Millisecond
	redisBackoffMax     = 2 * time.Second
)

// RedisTransport fans events out over a Redis pub/sub channel. Every hub
// process publishes to and subscribes from the same channel; receivers
// deduplicate by event source.
type RedisTransport struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisTransport creates a transport on the given address and channel.
func NewRedisTransport(addr, channel string) *RedisTransport {
	return &RedisTransport{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
		logger:  log.WithComponent("bus-redis"),
	}
}

// Publish sends ev to the shared channel as JSON.
func (t *RedisTransport) Publish(ctx context.Context, ev *Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return t.client.Publish(ctx, t.channel, payload).Err()
}

// Run subscribes to the channel and delivers decoded events until ctx is
// done. Connection loss triggers exponential-backoff reconnects starting
// at 50ms and capped at 2s.
func (t *RedisTransport) Run(ctx context.Context, deliver func(*Event)) error {
	backoff := redisBackoffInitial

	for {
		if err := t.receive(ctx, deliver); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.logger.Warn().Err(err).Dur("backoff", backoff).Msg("transport disconnected")
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff *= 2
		if backoff > redisBackoffMax {
			backoff = redisBackoffMax
		}
	}
}

// receive runs one subscribe session until it errors or ctx is done.
func (t *RedisTransport) receive(ctx context.Context, deliver func(*Event)) error {
	pubsub := t.client.Subscribe(ctx, t.channel)
	defer func() { _ = pubsub.Close() }()

	// Confirm the subscription before consuming
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				t.logger.Debug().Err(err).Msg("dropping undecodable remote event")
				continue
			}
			deliver(&ev)
		case <-ctx.Done():
			return nil
		}
	}
}

// Close releases the Redis client.
func (t *RedisTransport) Close() error {
	return t.client.Close()
}
