package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBridge carries events between store replicas over a Redis pub/sub channel.
type RedisBridge struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisBridge creates a bridge bound to channel.
func NewRedisBridge(client *redis.Client, channel string, logger *zap.Logger) *RedisBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{client: client, channel: channel, logger: logger}
}

// Publish sends event to every subscribed replica.
func (b *RedisBridge) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Run subscribes to the channel and hands every decoded event to handle until
// ctx is cancelled. Undecodable messages are logged and skipped.
func (b *RedisBridge) Run(ctx context.Context, handle func(context.Context, Event)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("subscribed to event channel", zap.String("channel", b.channel))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			event, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("dropping malformed event", zap.Error(err))
				continue
			}
			handle(ctx, event)
		}
	}
}

// DecodeEvent parses an event; the payload is kept as raw JSON.
func DecodeEvent(data []byte) (Event, error) {
	var wire struct {
		Event
		Payload json.RawMessage `json:"payload,omitempty"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	event := wire.Event
	if len(wire.Payload) > 0 {
		event.Payload = wire.Payload
	}
	if event.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing type")
	}
	return event, nil
}
