package server

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/marcus-qen/courier/internal/apierr"
	"github.com/marcus-qen/courier/internal/discovery"
	"github.com/marcus-qen/courier/internal/header"
	"github.com/marcus-qen/courier/internal/queue"
	"github.com/marcus-qen/courier/internal/resource"
)

// Worker serves in to callers using a message broker. Each request is
// handled in its own goroutine and answered on its ReplyTo key.
type Worker struct {
	inbound *Inbound
	broker  queue.Broker
	logger  *zap.Logger

	mu   sync.Mutex
	subs []*queue.Subscription
	wg   sync.WaitGroup
}

// NewWorker creates a queue worker.
func NewWorker(in *Inbound, broker queue.Broker, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{inbound: in, broker: broker, logger: logger.Named("worker")}
}

// RoutingKeys lists the keys every registered resource is served on.
func RoutingKeys(reg *resource.Registry, prefix string) []string {
	all := reg.All()
	keys := make([]string, 0, len(all))
	for _, iface := range all {
		keys = append(keys, discovery.RoutingKey(prefix, iface.Name, iface.Version))
	}
	return keys
}

// Start subscribes to keys and serves until ctx is cancelled or Stop is
// called. On a subscribe failure nothing is left subscribed.
func (w *Worker) Start(ctx context.Context, keys []string) error {
	subs := make([]*queue.Subscription, 0, len(keys))
	for _, key := range keys {
		sub, err := w.broker.Subscribe(ctx, key)
		if err != nil {
			for _, s := range subs {
				_ = s.Close()
			}
			return fmt.Errorf("subscribe %s: %w", key, err)
		}
		subs = append(subs, sub)
	}

	w.mu.Lock()
	w.subs = append(w.subs, subs...)
	w.mu.Unlock()

	for i, sub := range subs {
		w.wg.Add(1)
		go w.consume(ctx, keys[i], sub)
	}
	w.logger.Info("queue worker started", zap.Strings("routing_keys", keys))
	return nil
}

// Stop closes every subscription and waits for in-flight requests.
func (w *Worker) Stop() {
	w.mu.Lock()
	subs := w.subs
	w.subs = nil
	w.mu.Unlock()
	for _, s := range subs {
		_ = s.Close()
	}
	w.wg.Wait()
}

func (w *Worker) consume(ctx context.Context, key string, sub *queue.Subscription) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			_ = sub.Close()
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if msg.Type != queue.TypeRequest {
				w.logger.Debug("ignoring non-request message",
					zap.String("routing_key", key),
					zap.String("message_id", msg.ID),
				)
				continue
			}
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				w.handle(ctx, msg)
			}()
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	rep := w.serve(ctx, msg)
	if msg.ReplyTo == "" {
		w.logger.Debug("request has no reply key, dropping reply",
			zap.String("message_id", msg.ID),
		)
		return
	}

	out := msg.Reply(rep.Status, rep.Body)
	for k, v := range rep.Headers {
		out.Headers[k] = v
	}
	if err := w.broker.Publish(context.WithoutCancel(ctx), out); err != nil {
		w.logger.Warn("publish reply",
			zap.String("component", "worker"),
			zap.String("reply_to", msg.ReplyTo),
			zap.String("correlation_id", msg.ID),
			zap.Error(err),
		)
	}
}

func (w *Worker) serve(ctx context.Context, msg queue.Message) Reply {
	interactionID := msg.Header(header.InteractionID)

	version, res, ident, ok := ParsePath(msg.Header(queue.HeaderPath))
	if !ok {
		return w.inbound.Fail(interactionID, apierr.PlatformNotFound,
			apierr.Ref("entity_name", msg.Header(queue.HeaderPath)), "")
	}
	q, err := url.ParseQuery(msg.Header(queue.HeaderQuery))
	if err != nil {
		return w.inbound.Fail(interactionID, apierr.PlatformMalformed, nil, "Query could not be parsed")
	}

	return w.inbound.Serve(ctx, Call{
		Method:   msg.Header(queue.HeaderMethod),
		Version:  version,
		Resource: res,
		Ident:    ident,
		Query:    q,
		Header:   msg.Header,
		Body:     msg.Body,
	})
}
