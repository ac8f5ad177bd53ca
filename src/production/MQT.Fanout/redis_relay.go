package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
)

// relayMessage is what travels over the Redis channel
type relayMessage struct {
	Group string          `json:"group"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RedisRelay publishes events through a Redis channel so every server instance
// delivers them to its own connections
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   Publisher
	logger  *logger.Logger

	// set while this instance holds a live subscription
	subscribed atomic.Bool
	newBackOff func() backoff.BackOff
}

func NewRedisRelay(client *redis.Client, channel string, local Publisher, log *logger.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		local:   local,
		logger:  log.WithComponent("redis-relay"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Publish sends the event to Redis. Without a live subscription, or when Redis
// is unreachable, this instance delivers it locally.
func (r *RedisRelay) Publish(key string, event mqtmodels.Event) {
	payload, err := encodeRelay(key, event)
	if err != nil {
		r.logger.Logger.Error().Err(err).Str("event", event.Name).Msg("Failed to encode relay message")
		return
	}

	if !r.subscribed.Load() {
		r.local.Publish(key, event)
		if err := r.client.Publish(context.Background(), r.channel, payload).Err(); err != nil {
			r.logger.Logger.Debug().Err(err).Str("event", event.Name).Msg("Redis publish failed while unsubscribed")
		}
		return
	}

	if err := r.client.Publish(context.Background(), r.channel, payload).Err(); err != nil {
		r.logger.Logger.Warn().Err(err).Str("event", event.Name).Msg("Redis publish failed, delivering locally")
		r.local.Publish(key, event)
	}
}

// Run consumes the channel until ctx is done, resubscribing with exponential
// backoff whenever the subscription cannot be established or is lost.
func (r *RedisRelay) Run(ctx context.Context) error {
	b := r.newBackOff()
	err := backoff.RetryNotify(func() error {
		return r.consume(ctx, b)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		r.logger.Logger.Warn().Err(err).Dur("retry_in", wait).Msg("Relay not subscribed, delivering locally")
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (r *RedisRelay) consume(ctx context.Context, b backoff.BackOff) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.subscribed.Store(true)
	defer r.subscribed.Store(false)
	b.Reset()
	r.logger.Logger.Info().Str("channel", r.channel).Msg("Relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s closed", r.channel)
			}
			key, event, err := decodeRelay([]byte(msg.Payload))
			if err != nil {
				r.logger.Logger.Warn().Err(err).Msg("Dropping malformed relay message")
				continue
			}
			r.local.Publish(key, event)
		}
	}
}

// Ping checks the Redis connection
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func encodeRelay(key string, event mqtmodels.Event) ([]byte, error) {
	data, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(relayMessage{Group: key, Event: event.Name, Data: data})
}

func decodeRelay(raw []byte) (string, mqtmodels.Event, error) {
	var msg relayMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", mqtmodels.Event{}, err
	}
	if msg.Group == "" || msg.Event == "" {
		return "", mqtmodels.Event{}, fmt.Errorf("relay message missing group or event")
	}
	return msg.Group, mqtmodels.Event{Name: msg.Event, Payload: msg.Data}, nil
}
