package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marcus-qen/courier/internal/metrics"
)

// ErrUnknownCorrelation is returned when a reply matches no pending request,
// typically because the caller already timed out.
var ErrUnknownCorrelation = errors.New("no pending request for correlation id")

// Pending is a request waiting for its reply. Reply receives exactly one
// message, or is closed when the request is cancelled or expired.
type Pending struct {
	CorrelationID string
	RoutingKey    string
	Submitted     time.Time
	Reply         chan Message
}

// Tracker is the table of requests awaiting replies, keyed by correlation id.
type Tracker struct {
	pending map[string]*Pending
	mu      sync.Mutex
	ttl     time.Duration
}

// NewTracker creates a tracker whose reaper drops entries older than ttl.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Tracker{
		pending: make(map[string]*Pending),
		ttl:     ttl,
	}
}

// Track registers a request as in flight.
func (t *Tracker) Track(correlationID, routingKey string) *Pending {
	p := &Pending{
		CorrelationID: correlationID,
		RoutingKey:    routingKey,
		Submitted:     time.Now().UTC(),
		Reply:         make(chan Message, 1),
	}

	t.mu.Lock()
	t.pending[correlationID] = p
	n := len(t.pending)
	t.mu.Unlock()

	metrics.SetQueueInFlight(n)
	return p
}

// Complete delivers a reply to the waiting caller.
func (t *Tracker) Complete(correlationID string, reply Message) error {
	t.mu.Lock()
	p, ok := t.pending[correlationID]
	if ok {
		delete(t.pending, correlationID)
	}
	n := len(t.pending)
	t.mu.Unlock()

	if !ok {
		return ErrUnknownCorrelation
	}
	metrics.SetQueueInFlight(n)

	// Buffer of one; nobody else sends once the entry is removed.
	p.Reply <- reply
	return nil
}

// Cancel removes a request without delivering a reply.
func (t *Tracker) Cancel(correlationID string) {
	t.mu.Lock()
	p, ok := t.pending[correlationID]
	if ok {
		delete(t.pending, correlationID)
		close(p.Reply)
	}
	n := len(t.pending)
	t.mu.Unlock()

	metrics.SetQueueInFlight(n)
}

// InFlight returns the number of requests awaiting replies.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// PendingSummary is a JSON-safe view of a pending request.
type PendingSummary struct {
	CorrelationID string `json:"correlation_id"`
	RoutingKey    string `json:"routing_key"`
	WaitingMS     int64  `json:"waiting_ms"`
}

// ListPending returns summaries of all pending requests.
func (t *Tracker) ListPending() []PendingSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]PendingSummary, 0, len(t.pending))
	now := time.Now().UTC()
	for _, p := range t.pending {
		out = append(out, PendingSummary{
			CorrelationID: p.CorrelationID,
			RoutingKey:    p.RoutingKey,
			WaitingMS:     now.Sub(p.Submitted).Milliseconds(),
		})
	}
	return out
}

// expire closes and drops entries older than the ttl. Callers normally
// cancel their own entries on timeout; this catches callers that never
// waited.
func (t *Tracker) expire() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().UTC().Add(-t.ttl)
	n := 0
	for id, p := range t.pending {
		if p.Submitted.Before(cutoff) {
			close(p.Reply)
			delete(t.pending, id)
			n++
		}
	}
	metrics.SetQueueInFlight(len(t.pending))
	return n
}

// Start runs the reaper until ctx is done.
func (t *Tracker) Start(ctx context.Context) {
	interval := t.ttl / 2
	if interval > 10*time.Second {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.expire()
		}
	}
}
