package endpoint

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/courier/internal/action"
	"github.com/marcus-qen/courier/internal/apierr"
	"github.com/marcus-qen/courier/internal/metrics"
	"github.com/marcus-qen/courier/internal/query"
	"github.com/marcus-qen/courier/internal/result"
)

// Transport failures, classified by the round trippers.
var (
	errTimeout     = errors.New("timed out")
	errUnreachable = errors.New("target unreachable")
	errCanceled    = errors.New("call abandoned by caller")
)

// call is one logical request before marshalling.
type call struct {
	action action.Action
	ident  string
	body   map[string]any
	query  *query.Query
}

type roundTripper interface {
	roundTrip(ctx context.Context, c call) (reply, error)
}

// remote implements the five endpoint methods on top of a round tripper,
// sharing query validation, failure classification and reply decoding
// between transports.
type remote struct {
	resource  string
	version   int
	transport string
	opts      Options
	rt        roundTripper
}

func (r *remote) Resource() string { return r.resource }
func (r *remote) Version() int     { return r.version }

// Options returns the per-call options the endpoint was built with.
func (r *remote) Options() Options { return r.opts }

func (r *remote) List(ctx context.Context, q *query.Query) *result.List {
	errs := r.opts.newErrors()
	rep, ok := r.exchange(ctx, call{action: action.List, query: q}, errs)
	if !ok {
		return result.WithErrors[[]map[string]any](errs)
	}
	return decodeList(rep, errs)
}

func (r *remote) Show(ctx context.Context, ident string, q *query.Query) *result.Map {
	return r.single(ctx, call{action: action.Show, ident: ident, query: q})
}

func (r *remote) Create(ctx context.Context, body map[string]any, q *query.Query) *result.Map {
	return r.single(ctx, call{action: action.Create, body: body, query: q})
}

func (r *remote) Update(ctx context.Context, ident string, body map[string]any, q *query.Query) *result.Map {
	return r.single(ctx, call{action: action.Update, ident: ident, body: body, query: q})
}

func (r *remote) Delete(ctx context.Context, ident string, q *query.Query) *result.Map {
	return r.single(ctx, call{action: action.Delete, ident: ident, query: q})
}

func (r *remote) single(ctx context.Context, c call) *result.Map {
	errs := r.opts.newErrors()
	rep, ok := r.exchange(ctx, c, errs)
	if !ok {
		return result.WithErrors[map[string]any](errs)
	}
	return decodeMap(rep, errs)
}

// exchange validates the query and performs the round trip. It reports
// false when errs already describes the failure.
func (r *remote) exchange(ctx context.Context, c call, errs *apierr.Collection) (reply, bool) {
	if !c.query.Validate(errs) {
		return reply{}, false
	}

	start := time.Now()
	rep, err := r.rt.roundTrip(ctx, c)
	failed := err != nil || !rep.success()
	metrics.RecordCall(r.transport, string(c.action), failed, time.Since(start))

	if err == nil {
		return rep, true
	}

	log := r.opts.logger()
	fields := []zap.Field{
		zap.String("component", "endpoint"),
		zap.String("transport", r.transport),
		zap.String("resource", r.resource),
		zap.Int("version", r.version),
		zap.String("action", string(c.action)),
		zap.Error(err),
	}

	switch {
	case errors.Is(err, errTimeout):
		log.Warn("endpoint call timed out", append(fields, zap.String("code", apierr.PlatformTimeout))...)
		errs.MustAddError(apierr.PlatformTimeout, apierr.Ref("entity_name", r.resource), describe(r.resource, r.version)+" did not reply in time")
	case errors.Is(err, errCanceled):
		log.Info("endpoint call cancelled", append(fields, zap.String("code", apierr.PlatformFault))...)
		errs.MustAddError(apierr.PlatformFault, apierr.Ref("entity_name", r.resource), describe(r.resource, r.version)+" call was cancelled by the caller")
	case errors.Is(err, errUnreachable):
		log.Warn("endpoint unreachable", append(fields, zap.String("code", apierr.PlatformNotFound))...)
		notFound(errs, r.resource, r.version)
	default:
		log.Warn("endpoint call failed", append(fields, zap.String("code", apierr.PlatformFault))...)
		errs.MustAddError(apierr.PlatformFault, apierr.Ref("entity_name", r.resource), err.Error())
	}
	return reply{}, false
}
