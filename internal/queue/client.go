package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrTimeout is returned when no reply arrives before the call's timeout.
var ErrTimeout = errors.New("timed out waiting for reply")

// Client sends requests and waits for correlated replies on a private
// reply queue.
type Client struct {
	broker  Broker
	tracker *Tracker
	replyTo string
	logger  *zap.Logger

	mu  sync.Mutex
	sub *Subscription
}

// NewClient creates a client. Replies are consumed from a routing key
// derived from prefix and unique to this client.
func NewClient(broker Broker, tracker *Tracker, prefix string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "service"
	}
	return &Client{
		broker:  broker,
		tracker: tracker,
		replyTo: fmt.Sprintf("%s.reply.%s", prefix, uuid.NewString()),
		logger:  logger.Named("queue-client"),
	}
}

// ReplyTo is the routing key this client consumes replies from.
func (c *Client) ReplyTo() string { return c.replyTo }

// Tracker exposes the pending-request table.
func (c *Client) Tracker() *Tracker { return c.tracker }

// Start subscribes to the reply queue and routes replies to waiting calls
// until ctx is done or Close is called.
func (c *Client) Start(ctx context.Context) error {
	sub, err := c.broker.Subscribe(ctx, c.replyTo)
	if err != nil {
		return fmt.Errorf("reply queue: %w", err)
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				if err := c.tracker.Complete(msg.CorrelationID, msg); err != nil {
					c.logger.Debug("dropping late or unknown reply",
						zap.String("correlation_id", msg.CorrelationID),
						zap.Error(err),
					)
				}
			}
		}
	}()
	return nil
}

// Close stops consuming replies.
func (c *Client) Close() error {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Close()
}

// Call publishes msg and blocks for its reply. timeout bounds publishing and
// waiting together. The pending entry is removed on every exit path.
func (c *Client) Call(ctx context.Context, msg Message, timeout time.Duration) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Type = TypeRequest
	msg.ReplyTo = c.replyTo

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pending := c.tracker.Track(msg.ID, msg.RoutingKey)

	if err := c.broker.Publish(callCtx, msg); err != nil {
		c.tracker.Cancel(msg.ID)
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Message{}, fmt.Errorf("%w: publish: %v", ErrTimeout, err)
		}
		return Message{}, err
	}

	c.logger.Debug("request published",
		zap.String("message_id", msg.ID),
		zap.String("routing_key", msg.RoutingKey),
	)

	return c.waitForReply(ctx, callCtx, pending)
}

// waitForReply blocks until the reply arrives or callCtx ends. Caller
// cancellation is reported as ctx.Err(), anything else as ErrTimeout.
func (c *Client) waitForReply(ctx, callCtx context.Context, pending *Pending) (Message, error) {
	select {
	case reply, ok := <-pending.Reply:
		if !ok {
			return Message{}, ErrTimeout
		}
		return reply, nil
	case <-callCtx.Done():
		c.tracker.Cancel(pending.CorrelationID)
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		return Message{}, ErrTimeout
	}
}
