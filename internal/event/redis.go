package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisChannel is the pub/sub channel used when none is configured.
const DefaultRedisChannel = "opsdesk:events"

// envelope is the wire form on the Redis channel.
type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisRelay fans events out across server instances. Publish delivers to the
// local hub and forwards to Redis; Run feeds events from other instances into
// the local hub. A Redis failure never fails Publish.
type RedisRelay struct {
	client   redis.UniversalClient
	channel  string
	local    Publisher
	instance string
	logger   zerolog.Logger
}

// NewRedisRelay wraps local with cross-instance delivery over channel.
func NewRedisRelay(client redis.UniversalClient, channel string, local Publisher, logger zerolog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisRelay{
		client:   client,
		channel:  channel,
		local:    local,
		instance: uuid.New().String(),
		logger:   logger.With().Str("component", "event_relay").Str("channel", channel).Logger(),
	}
}

// Instance returns the ID stamped on events this relay forwards.
func (r *RedisRelay) Instance() string { return r.instance }

// Publish implements Publisher.
func (r *RedisRelay) Publish(ev Event) {
	r.local.Publish(ev)

	body, err := json.Marshal(envelope{Origin: r.instance, Event: ev})
	if err != nil {
		r.logger.Error().Err(err).Str("type", string(ev.Type)).Msg("encoding event for relay")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		r.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("relay publish failed")
	}
}

// Run subscribes to the channel and delivers remote events locally until ctx
// is cancelled. Messages from this instance are skipped; types this build does
// not know are forwarded untouched for subscribers to ignore.
// The ready channel, if non-nil, is closed once the subscription is live.
func (r *RedisRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}
	r.logger.Info().Str("instance", r.instance).Msg("event relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn().Err(err).Msg("discarding malformed relay message")
				continue
			}
			if env.Origin == r.instance || env.Event.Type == "" {
				continue
			}
			r.local.Publish(env.Event)
		}
	}
}
