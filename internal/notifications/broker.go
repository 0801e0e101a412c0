package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/homecare-visits/pkg/logging"
)

// Broker carries live events to every instance's hub.
type Broker interface {
	Publish(ctx context.Context, evt LiveEvent) error
}

// LocalBroker feeds the hub directly. Used when Redis is not configured.
type LocalBroker struct {
	hub *Hub
}

func NewLocalBroker(hub *Hub) *LocalBroker {
	return &LocalBroker{hub: hub}
}

func (b *LocalBroker) Publish(ctx context.Context, evt LiveEvent) error {
	b.hub.Broadcast(evt)
	return nil
}

// RedisBroker fans events out over a pub/sub channel. Each instance runs Run
// to rebroadcast what it hears into its own hub.
type RedisBroker struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *logging.Logger
}

func NewRedisBroker(client *redis.Client, channel string, hub *Hub, logger *logging.Logger) *RedisBroker {
	if client == nil {
		panic("notifications: redis client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if channel == "" {
		channel = "visits:live"
	}
	return &RedisBroker{client: client, channel: channel, hub: hub, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, evt LiveEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notifications: marshal live event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("notifications: redis publish: %w", err)
	}
	return nil
}

// Run subscribes to the channel and blocks until ctx is cancelled.
func (b *RedisBroker) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("notifications: redis subscribe: %w", err)
	}
	b.logger.Info("live fan-out subscribed", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var evt LiveEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.logger.Warn("dropping malformed live event", "error", err)
				continue
			}
			b.hub.Broadcast(evt)
		}
	}
}
