package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultChannel = "rx:ws:events"

// RedisBridge relays hub events through a Redis channel so a session
// connected to any instance receives them.
type RedisBridge struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	logger  zerolog.Logger
}

func NewRedisBridge(rdb *redis.Client, channel string, hub *Hub, logger zerolog.Logger) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBridge{
		rdb:     rdb,
		channel: channel,
		hub:     hub,
		logger:  logger.With().Str("component", "ws_bridge").Str("channel", channel).Logger(),
	}
}

func (b *RedisBridge) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal bridge event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", b.channel, err)
	}
	return nil
}

// Start subscribes and relays messages to the local hub until ctx is done.
// It returns once the subscription is confirmed.
func (b *RedisBridge) Start(ctx context.Context) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info().Msg("subscribed")

	go b.listen(ctx, pubsub)
	return nil
}

func (b *RedisBridge) listen(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn().Err(err).Msg("discarding malformed bridge message")
				continue
			}
			b.hub.Deliver(ev)
		}
	}
}
