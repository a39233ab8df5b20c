package queue

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrUndeliverable is returned by Publish when nothing is subscribed to the
// routing key.
var ErrUndeliverable = errors.New("no consumer for routing key")

// Broker moves messages between publishers and subscribers by routing key.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, routingKey string) (*Subscription, error)
}

// Subscription delivers messages for one routing key until closed.
type Subscription struct {
	C <-chan Message

	once  sync.Once
	close func() error
}

// Close stops delivery. It is safe to call more than once.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		if s.close != nil {
			err = s.close()
		}
	})
	return err
}

const subscriberBuffer = 64

// MemoryBroker is an in-process broker. Every subscriber of a routing key
// receives every message published to it.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan Message
	nextID int
	logger *zap.Logger
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker(logger *zap.Logger) *MemoryBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBroker{
		subs:   make(map[string]map[int]chan Message),
		logger: logger.Named("memory-broker"),
	}
}

// Publish fans msg out to the routing key's subscribers. Slow subscribers
// whose buffer is full miss the message.
func (b *MemoryBroker) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.subs[msg.RoutingKey]
	if len(subs) == 0 {
		return ErrUndeliverable
	}
	for id, ch := range subs {
		select {
		case ch <- msg:
		default:
			b.logger.Warn("subscriber buffer full, dropping message",
				zap.String("routing_key", msg.RoutingKey),
				zap.Int("subscriber", id),
				zap.String("message_id", msg.ID),
			)
		}
	}
	return nil
}

// Subscribe registers a new subscriber for routingKey.
func (b *MemoryBroker) Subscribe(_ context.Context, routingKey string) (*Subscription, error) {
	ch := make(chan Message, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[routingKey] == nil {
		b.subs[routingKey] = make(map[int]chan Message)
	}
	b.subs[routingKey][id] = ch
	b.mu.Unlock()

	return &Subscription{
		C: ch,
		close: func() error {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[routingKey], id)
			if len(b.subs[routingKey]) == 0 {
				delete(b.subs, routingKey)
			}
			close(ch)
			return nil
		},
	}, nil
}

// SubscriberCount returns the number of subscribers for routingKey.
func (b *MemoryBroker) SubscriberCount(routingKey string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[routingKey])
}
