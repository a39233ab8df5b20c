package resource

import (
	"context"
	"time"

	"github.com/marcus-qen/courier/internal/action"
	"github.com/marcus-qen/courier/internal/endpoint"
	"github.com/marcus-qen/courier/internal/metrics"
	"github.com/marcus-qen/courier/internal/query"
	"github.com/marcus-qen/courier/internal/result"
)

// Local calls an implementation in this process, building the same
// request and response an inbound call would.
type Local struct {
	iface  *Interface
	caller Caller
	opts   endpoint.Options
}

var _ endpoint.Endpoint = (*Local)(nil)

// NewLocal returns an endpoint for iface. Calls made by the implementation
// while serving go through caller.
func NewLocal(iface *Interface, caller Caller, opts endpoint.Options) *Local {
	return &Local{iface: iface, caller: caller, opts: opts}
}

func (l *Local) Resource() string { return l.iface.Name }
func (l *Local) Version() int     { return l.iface.Version }

// Interface is the target the endpoint calls.
func (l *Local) Interface() *Interface { return l.iface }

func (l *Local) List(ctx context.Context, q *query.Query) *result.List {
	ix, ok := l.run(ctx, &Request{Action: action.List}, q)
	res := result.WithErrors[[]map[string]any](ix.Response.Errors)
	if ok {
		res.Value = ix.Response.List
		res.Meta = result.Meta{
			DatasetSize:          ix.Response.DatasetSize,
			EstimatedDatasetSize: ix.Response.EstimatedDatasetSize,
			Options:              ix.Response.Options,
		}
	}
	return res
}

func (l *Local) Show(ctx context.Context, ident string, q *query.Query) *result.Map {
	return l.single(ctx, &Request{Action: action.Show, Ident: ident}, q)
}

func (l *Local) Create(ctx context.Context, body map[string]any, q *query.Query) *result.Map {
	return l.single(ctx, &Request{Action: action.Create, Body: copyBody(body)}, q)
}

func (l *Local) Update(ctx context.Context, ident string, body map[string]any, q *query.Query) *result.Map {
	return l.single(ctx, &Request{Action: action.Update, Ident: ident, Body: copyBody(body)}, q)
}

func (l *Local) Delete(ctx context.Context, ident string, q *query.Query) *result.Map {
	return l.single(ctx, &Request{Action: action.Delete, Ident: ident}, q)
}

func (l *Local) single(ctx context.Context, req *Request, q *query.Query) *result.Map {
	ix, ok := l.run(ctx, req, q)
	res := result.WithErrors[map[string]any](ix.Response.Errors)
	if ok {
		res.Value = ix.Response.Body
		res.Meta.Options = ix.Response.Options
	}
	return res
}

// run validates the query, then dispatches. It reports whether the
// implementation was reached.
func (l *Local) run(ctx context.Context, req *Request, q *query.Query) (*Interaction, bool) {
	req.Query = q.Normalized()
	req.Locale = l.opts.Locale
	req.Headers = l.opts.Headers

	ix := NewInteraction(l.opts.InteractionID, l.iface, l.opts.Session, req, l.opts.Catalog)
	if !q.Validate(ix.Response.Errors) {
		return ix, false
	}

	start := time.Now()
	Dispatch(ctx, NewContext(ix, l.caller))
	metrics.RecordCall(endpoint.TransportLocal, string(req.Action), ix.Response.Errors.HasErrors(), time.Since(start))
	return ix, true
}

func copyBody(body map[string]any) map[string]any {
	if body == nil {
		return nil
	}
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = v
	}
	return out
}
