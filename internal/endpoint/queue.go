package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/marcus-qen/courier/internal/header"
	"github.com/marcus-qen/courier/internal/queue"
)

// DefaultQueueTimeout bounds one publish and wait for reply.
const DefaultQueueTimeout = 5000 * time.Millisecond

// QueueCaller publishes a request and waits for its correlated reply.
// *queue.Client satisfies it.
type QueueCaller interface {
	Call(ctx context.Context, msg queue.Message, timeout time.Duration) (queue.Message, error)
}

// Queue calls a resource through a message broker.
type Queue struct {
	remote

	routingKey string
	client     QueueCaller
	timeout    time.Duration
}

// NewQueue builds a queue endpoint publishing to routingKey. A non-positive
// timeout means DefaultQueueTimeout.
func NewQueue(resource string, version int, routingKey string, client QueueCaller, timeout time.Duration, opts Options) *Queue {
	if timeout <= 0 {
		timeout = DefaultQueueTimeout
	}
	q := &Queue{
		routingKey: routingKey,
		client:     client,
		timeout:    timeout,
	}
	q.remote = remote{
		resource:  resource,
		version:   version,
		transport: TransportQueue,
		opts:      opts,
		rt:        q,
	}
	return q
}

// RoutingKey is the discovered queue address.
func (q *Queue) RoutingKey() string { return q.routingKey }

// Path is the resource path carried in the request headers.
func Path(resource string, version int, ident string) string {
	p := "/v" + strconv.Itoa(version) + "/" + resource
	if ident != "" {
		p += "/" + url.PathEscape(ident)
	}
	return p
}

func (q *Queue) request(c call) (queue.Message, error) {
	msg := queue.NewRequest(q.routingKey)
	h := msg.Headers

	h[queue.HeaderMethod] = c.action.Method()
	ident := ""
	if c.action.TakesIdent() {
		ident = c.ident
	}
	h[queue.HeaderPath] = Path(q.resource, q.version, ident)
	if enc := c.query.Encode().Encode(); enc != "" {
		h[queue.HeaderQuery] = enc
	}
	if id := q.opts.sessionID(); id != "" {
		h[header.SessionID] = id
	}
	if q.opts.InteractionID != "" {
		h[header.InteractionID] = q.opts.InteractionID
	}
	if q.opts.Locale != "" {
		h[header.ContentLanguage] = q.opts.Locale
		h[header.AcceptLanguage] = q.opts.Locale
	}
	for k, v := range header.Wire(q.opts.Headers) {
		h[k] = v
	}

	if c.action.TakesBody() {
		data, err := encodeBody(c.body)
		if err != nil {
			return queue.Message{}, err
		}
		h[header.ContentType] = header.JSONContentType
		msg.Body = data
	}
	return msg, nil
}

func (q *Queue) roundTrip(ctx context.Context, c call) (reply, error) {
	msg, err := q.request(c)
	if err != nil {
		return reply{}, err
	}

	resp, err := q.client.Call(ctx, msg, q.timeout)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		return reply{}, fmt.Errorf("%w: %v", errCanceled, err)
	case errors.Is(err, queue.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return reply{}, fmt.Errorf("%w: %v", errTimeout, err)
	case errors.Is(err, queue.ErrUndeliverable):
		return reply{}, fmt.Errorf("%w: %v", errUnreachable, err)
	default:
		return reply{}, err
	}

	return reply{
		status:  resp.Status(),
		body:    resp.Body,
		options: header.Extract(resp.Header),
	}, nil
}
