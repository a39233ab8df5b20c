package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker carries messages over Redis pub/sub. Every subscriber of a
// channel receives every message, so run a single consumer per routing key.
type RedisBroker struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedisBroker wraps an existing Redis client.
func NewRedisBroker(client redis.UniversalClient, logger *zap.Logger) *RedisBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{client: client, logger: logger.Named("redis-broker")}
}

// Publish sends msg to the channel named by its routing key.
func (b *RedisBroker) Publish(ctx context.Context, msg Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	receivers, err := b.client.Publish(ctx, msg.RoutingKey, data).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", msg.RoutingKey, err)
	}
	if receivers == 0 {
		return ErrUndeliverable
	}
	return nil
}

// Subscribe listens on routingKey. It returns once Redis confirms the
// subscription, so messages published afterwards are not missed.
func (b *RedisBroker) Subscribe(ctx context.Context, routingKey string) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, routingKey)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", routingKey, err)
	}

	out := make(chan Message, subscriberBuffer)
	go func() {
		defer close(out)
		for raw := range ps.Channel() {
			msg, err := DecodeMessage([]byte(raw.Payload))
			if err != nil {
				b.logger.Warn("discarding undecodable message",
					zap.String("channel", raw.Channel),
					zap.Error(err),
				)
				continue
			}
			out <- msg
		}
	}()

	return &Subscription{C: out, close: ps.Close}, nil
}
