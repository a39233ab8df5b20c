package endpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marcus-qen/courier/internal/action"
	"github.com/marcus-qen/courier/internal/header"
	"github.com/marcus-qen/courier/internal/query"
)

// DefaultHTTPTimeout bounds one HTTP round trip.
const DefaultHTTPTimeout = 5 * time.Second

// maxReplyBytes caps how much of a reply body is read.
const maxReplyBytes = 10 << 20

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTP calls a resource served at a base URI of the form
// {root}/v{version}/{resource}.
type HTTP struct {
	remote

	baseURI string
	client  Doer
	timeout time.Duration
}

// NewHTTP builds an HTTP endpoint. A nil client means a default
// *http.Client; a non-positive timeout means DefaultHTTPTimeout.
func NewHTTP(resource string, version int, baseURI string, client Doer, timeout time.Duration, opts Options) *HTTP {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	h := &HTTP{
		baseURI: strings.TrimRight(baseURI, "/"),
		client:  client,
		timeout: timeout,
	}
	h.remote = remote{
		resource:  resource,
		version:   version,
		transport: TransportHTTP,
		opts:      opts,
		rt:        h,
	}
	return h
}

// BaseURI is the discovered address of the resource.
func (h *HTTP) BaseURI() string { return h.baseURI }

// URL returns the address a call for act would be sent to.
func (h *HTTP) URL(act action.Action, ident string, q *query.Query) string {
	u := h.baseURI
	if act.TakesIdent() {
		u += "/" + url.PathEscape(ident)
	}
	if enc := q.Encode().Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

// Method returns the HTTP method used for act.
func (h *HTTP) Method(act action.Action) string {
	return act.Method()
}

func (h *HTTP) roundTrip(ctx context.Context, c call) (reply, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var body io.Reader
	if c.action.TakesBody() {
		data, err := encodeBody(c.body)
		if err != nil {
			return reply{}, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, h.Method(c.action), h.URL(c.action, c.ident, c.query), body)
	if err != nil {
		return reply{}, fmt.Errorf("build request: %w", err)
	}
	h.setHeaders(req.Header, body != nil)

	resp, err := h.client.Do(req)
	if err != nil {
		return reply{}, classifyHTTPError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return reply{}, classifyHTTPError(ctx, err)
		}
		return reply{}, fmt.Errorf("read reply: %w", err)
	}

	return reply{
		status:  resp.StatusCode,
		body:    data,
		options: header.Extract(resp.Header.Get),
	}, nil
}

func (h *HTTP) setHeaders(hdr http.Header, hasBody bool) {
	hdr.Set("Accept", "application/json")
	if hasBody {
		hdr.Set(header.ContentType, header.JSONContentType)
	}
	if id := h.opts.sessionID(); id != "" {
		hdr.Set(header.SessionID, id)
	}
	if h.opts.InteractionID != "" {
		hdr.Set(header.InteractionID, h.opts.InteractionID)
	}
	if h.opts.Locale != "" {
		hdr.Set(header.ContentLanguage, h.opts.Locale)
		hdr.Set(header.AcceptLanguage, h.opts.Locale)
	}
	header.Apply(hdr, h.opts.Headers)
}

// classifyHTTPError maps a client error onto the transport failures.
// ctx is the per-call context: it ends with DeadlineExceeded when the call
// timeout fires and with Canceled only when the caller gave up.
func classifyHTTPError(ctx context.Context, err error) error {
	var ne net.Error
	switch {
	case errors.Is(ctx.Err(), context.Canceled),
		ctx.Err() == nil && errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", errCanceled, err)
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil,
		errors.As(err, &ne) && ne.Timeout():
		return fmt.Errorf("%w: %v", errTimeout, err)
	}
	return fmt.Errorf("%w: %v", errUnreachable, err)
}
