// Package server serves the resources registered in this process to remote
// callers, over HTTP and over a message broker. Both transports hand a
// transport-neutral Call to Inbound and write back the Reply it returns.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marcus-qen/courier/internal/action"
	"github.com/marcus-qen/courier/internal/apierr"
	"github.com/marcus-qen/courier/internal/endpoint"
	"github.com/marcus-qen/courier/internal/header"
	"github.com/marcus-qen/courier/internal/metrics"
	"github.com/marcus-qen/courier/internal/query"
	"github.com/marcus-qen/courier/internal/resource"
	"github.com/marcus-qen/courier/internal/result"
	"github.com/marcus-qen/courier/internal/session"
)

// Call is one inbound request, already separated from its transport.
type Call struct {
	Method   string
	Version  int
	Resource string
	Ident    string
	Query    url.Values
	// Header looks up a request header by its wire name.
	Header func(string) string
	Body   []byte
}

// Reply is what goes back to the caller.
type Reply struct {
	Status  int
	Body    []byte
	Headers map[string]string
}

// Config wires an Inbound.
type Config struct {
	Registry *resource.Registry
	Sessions session.Store
	// Caller serves calls implementations make while handling a request.
	Caller  resource.Caller
	Catalog *apierr.Catalog
	Logger  *zap.Logger
}

// Inbound turns calls into dispatched interactions.
type Inbound struct {
	registry *resource.Registry
	sessions session.Store
	caller   resource.Caller
	catalog  *apierr.Catalog
	logger   *zap.Logger
}

// NewInbound creates the serving core.
func NewInbound(cfg Config) *Inbound {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbound{
		registry: cfg.Registry,
		sessions: cfg.Sessions,
		caller:   cfg.Caller,
		catalog:  cfg.Catalog,
		logger:   logger.Named("server"),
	}
}

// ParsePath splits /v{version}/{resource}[/{ident}].
func ParsePath(p string) (version int, res, ident string, ok bool) {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 2 || len(parts) > 3 || !strings.HasPrefix(parts[0], "v") {
		return 0, "", "", false
	}
	version, err := strconv.Atoi(parts[0][1:])
	if err != nil || version < 1 || parts[1] == "" {
		return 0, "", "", false
	}
	if len(parts) == 3 {
		ident, err = url.PathUnescape(parts[2])
		if err != nil || ident == "" {
			return 0, "", "", false
		}
	}
	return version, parts[1], ident, true
}

// Serve runs c against the registered resource. A panic raised while
// serving is logged and answered with platform.fault.
func (in *Inbound) Serve(ctx context.Context, c Call) (rep Reply) {
	get := c.Header
	if get == nil {
		get = func(string) string { return "" }
	}
	id := get(header.InteractionID)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}

	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("panic while serving call",
				zap.String("component", "server"),
				zap.String("code", apierr.PlatformFault),
				zap.String("resource", c.Resource),
				zap.Int("version", c.Version),
				zap.String("interaction_id", id),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			rep = in.Fail(id, apierr.PlatformFault, nil, "")
		}
	}()

	iface, ok := in.registry.Lookup(c.Resource, c.Version)
	if !ok {
		return in.Fail(id, apierr.PlatformNotFound, apierr.Ref("entity_name", c.Resource), "")
	}
	act, err := action.FromRequest(c.Method, c.Ident != "")
	if err != nil {
		return in.Fail(id, apierr.PlatformMethodNotAllowed, apierr.Ref("method", c.Method), "")
	}

	sess, ok := in.loadSession(ctx, get(header.SessionID))
	if !ok {
		return in.Fail(id, apierr.PlatformInvalidSession, nil, "")
	}
	if !sess.Permitted(iface.Path(), act) {
		return in.Fail(id, apierr.PlatformForbidden, apierr.Ref("action", string(act)), "")
	}

	errs := apierr.NewCollection(in.catalog)
	q := query.Decode(c.Query, errs)
	if !errs.HasErrors() {
		q.Validate(errs)
	}
	if errs.HasErrors() {
		return in.errorReply(id, errs)
	}

	var body map[string]any
	if act.TakesBody() {
		body, ok = decodeBody(c.Body)
		if !ok {
			return in.Fail(id, apierr.PlatformMalformed, nil, "Request body must be a JSON object")
		}
	}

	locale := get(header.ContentLanguage)
	if locale == "" {
		locale = get(header.AcceptLanguage)
	}
	req := &resource.Request{
		Action:  act,
		Ident:   c.Ident,
		Body:    body,
		Query:   q,
		Locale:  locale,
		Headers: header.Extract(get),
	}
	ix := resource.NewInteraction(id, iface, sess, req, in.catalog)

	start := time.Now()
	resource.Dispatch(ctx, resource.NewContext(ix, in.caller))
	metrics.RecordServed(string(act), ix.Response.Errors.HasErrors(), time.Since(start))

	if ix.Response.Errors.HasErrors() {
		return in.errorReply(id, ix.Response.Errors)
	}
	return in.successReply(id, ix)
}

// Fail answers with a single error. An interaction id that is not a UUID
// is replaced by a fresh one.
func (in *Inbound) Fail(interactionID, code string, ref apierr.Reference, message string) Reply {
	if _, err := uuid.Parse(interactionID); err != nil {
		interactionID = uuid.NewString()
	}
	errs := apierr.NewCollection(in.catalog)
	errs.MustAddError(code, ref, message)
	return in.errorReply(interactionID, errs)
}

func (in *Inbound) loadSession(ctx context.Context, id string) (*session.Session, bool) {
	if id == "" || in.sessions == nil {
		return nil, false
	}
	sess, err := in.sessions.Load(ctx, id)
	if err != nil {
		level := zap.DebugLevel
		if !errors.Is(err, session.ErrNotFound) && !errors.Is(err, session.ErrExpired) {
			level = zap.WarnLevel
		}
		in.logger.Log(level, "session rejected",
			zap.String("component", "server"),
			zap.String("code", apierr.PlatformInvalidSession),
			zap.String("session_id", id),
			zap.Error(err),
		)
		return nil, false
	}
	return sess, true
}

// decodeBody accepts a JSON object. An empty body or a literal null is an
// empty object.
func decodeBody(data []byte) (map[string]any, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return map[string]any{}, true
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil || body == nil {
		return nil, false
	}
	return body, true
}

func (in *Inbound) errorReply(id string, errs *apierr.Collection) Reply {
	rendered, err := errs.Render(id)
	if err != nil {
		// Callers pass a checked or generated id.
		panic(err)
	}
	data, _ := json.Marshal(rendered)
	return Reply{
		Status:  errs.HTTPStatusCode(),
		Body:    data,
		Headers: baseHeaders(id),
	}
}

func (in *Inbound) successReply(id string, ix *resource.Interaction) Reply {
	resp := ix.Response

	var payload any
	if ix.Action() == action.List {
		page := result.NewList(resp.List)
		page.Meta.DatasetSize = resp.DatasetSize
		page.Meta.EstimatedDatasetSize = resp.EstimatedDatasetSize
		payload = endpoint.EncodeList(page)
	} else {
		b := resp.Body
		if b == nil {
			b = map[string]any{}
		}
		payload = b
	}

	data, err := json.Marshal(payload)
	if err != nil {
		in.logger.Error("encode response body",
			zap.String("component", "server"),
			zap.String("code", apierr.PlatformFault),
			zap.String("interaction_id", id),
			zap.Error(err),
		)
		return in.Fail(id, apierr.PlatformFault, nil, "")
	}

	headers := baseHeaders(id)
	for k, v := range header.Wire(resp.Options) {
		headers[k] = v
	}
	return Reply{
		Status:  resource.SuccessStatus(ix.Action()),
		Body:    data,
		Headers: headers,
	}
}

func baseHeaders(id string) map[string]string {
	return map[string]string{
		header.ContentType:   header.JSONContentType,
		header.InteractionID: id,
	}
}
