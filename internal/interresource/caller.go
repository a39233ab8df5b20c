package interresource

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/courier/internal/action"
	"github.com/marcus-qen/courier/internal/apierr"
	"github.com/marcus-qen/courier/internal/discovery"
	"github.com/marcus-qen/courier/internal/endpoint"
	"github.com/marcus-qen/courier/internal/header"
	"github.com/marcus-qen/courier/internal/metrics"
	"github.com/marcus-qen/courier/internal/query"
	"github.com/marcus-qen/courier/internal/resource"
	"github.com/marcus-qen/courier/internal/result"
	"github.com/marcus-qen/courier/internal/session"
	"github.com/marcus-qen/courier/internal/telemetry"
)

// Config wires a Caller.
type Config struct {
	Discoverer discovery.Discoverer
	// Sessions stores sessions minted for remote hops. Without a store, a
	// hop that needs a scoped session to a remote target is refused.
	Sessions session.Store

	HTTPClient   endpoint.Doer
	HTTPTimeout  time.Duration
	Queue        endpoint.QueueCaller
	QueueTimeout time.Duration

	// AutoTransfer selects the request properties copied from the source
	// interaction. The zero value copies none.
	AutoTransfer header.Set
	Catalog      *apierr.Catalog
	// Locale is used when the source interaction has none.
	Locale string

	Logger *zap.Logger
}

// Caller builds orchestrated endpoints. It implements resource.Caller.
type Caller struct {
	discoverer discovery.Discoverer
	sessions   session.Store
	factory    Factory
	transfer   header.Set
	catalog    *apierr.Catalog
	locale     string
	logger     *zap.Logger
	now        func() time.Time
}

var _ resource.Caller = (*Caller)(nil)

// New creates a Caller.
func New(cfg Config) *Caller {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Caller{
		discoverer: cfg.Discoverer,
		sessions:   cfg.Sessions,
		transfer:   cfg.AutoTransfer,
		catalog:    cfg.Catalog,
		locale:     cfg.Locale,
		logger:     logger.Named("interresource"),
		now:        time.Now,
	}
	c.factory = Factory{
		HTTPClient:   cfg.HTTPClient,
		HTTPTimeout:  cfg.HTTPTimeout,
		Queue:        cfg.Queue,
		QueueTimeout: cfg.QueueTimeout,
		Caller:       c,
	}
	return c
}

// Factory returns the factory used for dispatch.
func (c *Caller) Factory() *Factory { return &c.factory }

// Endpoint returns a handle for calling name at version on behalf of
// source. Resolution happens on each call.
func (c *Caller) Endpoint(source *resource.Interaction, name string, version int) endpoint.Endpoint {
	return &orchestrated{caller: c, source: source, resource: name, version: version}
}

// Direct returns a handle for calls that do not originate from a served
// interaction, such as command-line tools. opts is used as given.
func (c *Caller) Direct(name string, version int, opts endpoint.Options) endpoint.Endpoint {
	return &orchestrated{caller: c, resource: name, version: version, direct: &opts}
}

// Resolve runs discovery for name at version.
func (c *Caller) Resolve(ctx context.Context, name string, version int) (discovery.Result, error) {
	if c.discoverer == nil {
		return discovery.NotFound(name, version), nil
	}
	return c.discoverer.Discover(ctx, name, version)
}

// orchestrated runs every call through resolve, session preprocessing,
// dispatch, postprocessing and translation, strictly in that order.
type orchestrated struct {
	caller   *Caller
	source   *resource.Interaction
	direct   *endpoint.Options
	resource string
	version  int
}

func (o *orchestrated) Resource() string { return o.resource }
func (o *orchestrated) Version() int     { return o.version }

func (o *orchestrated) List(ctx context.Context, q *query.Query) *result.List {
	return invoke(ctx, o, action.List, func(ctx context.Context, ep endpoint.Endpoint) *result.List {
		return ep.List(ctx, q)
	})
}

func (o *orchestrated) Show(ctx context.Context, ident string, q *query.Query) *result.Map {
	return invoke(ctx, o, action.Show, func(ctx context.Context, ep endpoint.Endpoint) *result.Map {
		return ep.Show(ctx, ident, q)
	})
}

func (o *orchestrated) Create(ctx context.Context, body map[string]any, q *query.Query) *result.Map {
	return invoke(ctx, o, action.Create, func(ctx context.Context, ep endpoint.Endpoint) *result.Map {
		return ep.Create(ctx, body, q)
	})
}

func (o *orchestrated) Update(ctx context.Context, ident string, body map[string]any, q *query.Query) *result.Map {
	return invoke(ctx, o, action.Update, func(ctx context.Context, ep endpoint.Endpoint) *result.Map {
		return ep.Update(ctx, ident, body, q)
	})
}

func (o *orchestrated) Delete(ctx context.Context, ident string, q *query.Query) *result.Map {
	return invoke(ctx, o, action.Delete, func(ctx context.Context, ep endpoint.Endpoint) *result.Map {
		return ep.Delete(ctx, ident, q)
	})
}

func invoke[T any](ctx context.Context, o *orchestrated, act action.Action, dispatch func(context.Context, endpoint.Endpoint) *result.Result[T]) *result.Result[T] {
	c := o.caller
	ctx, span := telemetry.StartCallSpan(ctx, o.spanInfo(act))

	var out *result.Result[T]
	defer func() {
		if out == nil {
			span.End()
			return
		}
		errs := out.PlatformErrors()
		code := ""
		if errs.HasErrors() {
			code = errs.Errors()[0].Code
		}
		telemetry.EndCallSpan(span, code, errs.Len())
	}()

	// Resolve.
	res, err := c.Resolve(ctx, o.resource, o.version)
	if err != nil {
		c.logger.Warn("discovery failed",
			zap.String("component", "interresource"),
			zap.String("code", apierr.PlatformFault),
			zap.String("resource", o.resource),
			zap.Int("version", o.version),
			zap.Error(err),
		)
		errs := apierr.NewCollection(c.catalog)
		errs.MustAddError(apierr.PlatformFault, apierr.Ref("entity_name", o.resource), "Discovery failed: "+err.Error())
		out = result.WithErrors[T](errs)
		o.translate(act, errs)
		return out
	}
	telemetry.SetTransport(span, Transport(res))

	// Preprocess session.
	opts, minted, ok := o.preprocess(ctx, res, act)
	if !ok {
		errs := apierr.NewCollection(c.catalog)
		errs.MustAddError(apierr.PlatformInvalidSession, apierr.Ref("entity_name", o.resource), "")
		out = result.WithErrors[T](errs)
		o.translate(act, errs)
		return out
	}

	// Dispatch.
	out = dispatch(ctx, c.factory.Build(res, opts))

	// Postprocess.
	if minted != nil {
		c.teardown(ctx, minted)
	}

	// Translate.
	o.translate(act, out.PlatformErrors())
	return out
}

// baseOptions derives the per-call options from the source interaction.
func (o *orchestrated) baseOptions() endpoint.Options {
	c := o.caller
	if o.direct != nil {
		opts := *o.direct
		if opts.Catalog == nil {
			opts.Catalog = c.catalog
		}
		if opts.Locale == "" {
			opts.Locale = c.locale
		}
		if opts.Logger == nil {
			opts.Logger = c.logger
		}
		return opts
	}

	opts := endpoint.Options{
		Locale:  c.locale,
		Catalog: c.catalog,
		Logger:  c.logger,
	}
	if o.source == nil {
		return opts
	}
	opts.Session = o.source.Session
	opts.InteractionID = o.source.ID
	if req := o.source.Request; req != nil {
		if req.Locale != "" {
			opts.Locale = req.Locale
		}
		opts.Headers = c.transfer.Transfer(req.Headers)
	}
	return opts
}

// preprocess checks the session for the hop and scopes it when the source
// action grants additional permissions. minted is non-nil only when a new
// session was stored and must be deleted after the call.
func (o *orchestrated) preprocess(ctx context.Context, res discovery.Result, act action.Action) (opts endpoint.Options, minted *session.Session, ok bool) {
	c := o.caller
	opts = o.baseOptions()

	// The stub answers by itself; there is nothing to authorise.
	if !res.Found() || o.source == nil {
		return opts, nil, true
	}

	sess := o.source.Session
	if sess == nil || sess.Expired(c.now()) {
		c.logger.Debug("source session missing or expired",
			zap.String("component", "interresource"),
			zap.String("code", apierr.PlatformInvalidSession),
			zap.String("resource", o.resource),
		)
		return opts, nil, false
	}

	effective := sess.Permissions
	if o.source.Target != nil && o.source.Request != nil {
		if extra, found := o.source.Target.AdditionalPermissions[o.source.Action()]; found {
			effective = effective.Merge(extra)
		}
	}

	if effective.PolicyFor(resource.SnakeCase(o.resource), act) == session.Deny {
		c.logger.Debug("session does not permit target action",
			zap.String("component", "interresource"),
			zap.String("code", apierr.PlatformInvalidSession),
			zap.String("resource", o.resource),
			zap.String("action", string(act)),
		)
		return opts, nil, false
	}

	if effective.Equal(sess.Permissions) {
		return opts, nil, true
	}

	scoped := sess.Derive(effective)
	opts.Session = scoped
	metrics.RecordSessionMinted()

	if !remote(res) {
		return opts, nil, true
	}
	if c.sessions == nil {
		c.logger.Warn("scoped session needed for remote call but no session store configured",
			zap.String("component", "interresource"),
			zap.String("code", apierr.PlatformInvalidSession),
			zap.String("resource", o.resource),
		)
		return opts, nil, false
	}
	if err := c.sessions.Save(ctx, scoped); err != nil {
		c.logger.Warn("store scoped session",
			zap.String("component", "interresource"),
			zap.String("code", apierr.PlatformInvalidSession),
			zap.Error(err),
		)
		return opts, nil, false
	}
	return opts, scoped, true
}

// teardown deletes a minted session. Failures are logged and otherwise
// ignored.
func (c *Caller) teardown(ctx context.Context, sess *session.Session) {
	if err := c.sessions.Delete(context.WithoutCancel(ctx), sess.ID); err != nil {
		c.logger.Warn("delete scoped session",
			zap.String("component", "interresource"),
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
	}
}

// translate prefixes messages with where the call came from and went to.
// Codes and references are left untouched.
func (o *orchestrated) translate(act action.Action, errs *apierr.Collection) {
	if !errs.HasErrors() {
		return
	}
	errs.PrefixMessages(o.prefix(act))
}

func (o *orchestrated) prefix(act action.Action) string {
	if o.source != nil && o.source.Target != nil {
		return fmt.Sprintf("%s v%d %s -> %s v%d: ",
			o.source.Target.Name, o.source.Target.Version, act, o.resource, o.version)
	}
	return fmt.Sprintf("%s -> %s v%d: ", act, o.resource, o.version)
}

func (o *orchestrated) spanInfo(act action.Action) telemetry.CallInfo {
	info := telemetry.CallInfo{
		Target:        o.resource,
		TargetVersion: o.version,
		Action:        string(act),
	}
	if o.source != nil {
		info.InteractionID = o.source.ID
		if o.source.Target != nil {
			info.Source = o.source.Target.Name
			info.SourceVersion = o.source.Target.Version
		}
	}
	return info
}
