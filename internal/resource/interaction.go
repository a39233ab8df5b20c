package resource

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/marcus-qen/courier/internal/action"
	"github.com/marcus-qen/courier/internal/apierr"
	"github.com/marcus-qen/courier/internal/endpoint"
	"github.com/marcus-qen/courier/internal/query"
	"github.com/marcus-qen/courier/internal/session"
)

// Request is an inbound call, already parsed.
type Request struct {
	Action action.Action
	Ident  string
	Body   map[string]any
	Query  query.Query
	Locale string
	// Headers holds optional request properties by name.
	Headers map[string]string
}

// Response collects an implementation's output.
type Response struct {
	// Body is the representation returned by show, create, update and delete.
	Body map[string]any
	// List is the page returned by list.
	List []map[string]any

	DatasetSize          *int
	EstimatedDatasetSize *int
	// Options are echoed back as response property headers.
	Options map[string]string

	Errors *apierr.Collection
}

// AddError records an error on the response. An unknown code or missing
// reference data is a defect in the calling implementation and panics.
func (r *Response) AddError(code string, ref apierr.Reference, message string) {
	r.Errors.MustAddError(code, ref, message)
}

// SetDatasetSize records the total count for a list.
func (r *Response) SetDatasetSize(n int) { r.DatasetSize = &n }

// SetEstimatedDatasetSize records an approximate total for a list.
func (r *Response) SetEstimatedDatasetSize(n int) { r.EstimatedDatasetSize = &n }

// SetOption records a response property.
func (r *Response) SetOption(name, value string) {
	if r.Options == nil {
		r.Options = make(map[string]string)
	}
	r.Options[name] = value
}

// SuccessStatus is the HTTP status for an error-free response to act.
func SuccessStatus(act action.Action) int {
	if act == action.Create {
		return http.StatusCreated
	}
	return http.StatusOK
}

// Interaction is everything known about one inbound call while it is being
// served.
type Interaction struct {
	ID       string
	Session  *session.Session
	Request  *Request
	Response *Response
	Target   *Interface
}

// NewInteraction starts an interaction for req against target. An empty id
// is replaced by a fresh UUID.
func NewInteraction(id string, target *Interface, sess *session.Session, req *Request, cat *apierr.Catalog) *Interaction {
	if id == "" {
		id = uuid.NewString()
	}
	return &Interaction{
		ID:       id,
		Session:  sess,
		Request:  req,
		Response: &Response{Errors: apierr.NewCollection(cat)},
		Target:   target,
	}
}

// Action is the action being served.
func (ix *Interaction) Action() action.Action {
	return ix.Request.Action
}

// Caller builds endpoints for calls made while serving an interaction.
type Caller interface {
	Endpoint(source *Interaction, resource string, version int) endpoint.Endpoint
}

// Context is handed to implementations.
type Context struct {
	*Interaction

	caller Caller
}

// NewContext binds an interaction to the caller used for its outbound calls.
// A nil caller makes every outbound call fail with platform.not_found.
func NewContext(ix *Interaction, caller Caller) *Context {
	return &Context{Interaction: ix, caller: caller}
}

// Resource returns an endpoint for calling another resource on behalf of
// this interaction.
func (c *Context) Resource(name string, version int) endpoint.Endpoint {
	if c.caller == nil {
		return endpoint.NewNotFound(name, version, endpoint.Options{
			Session:       c.Session,
			Locale:        c.Request.Locale,
			InteractionID: c.ID,
			Catalog:       c.Response.Errors.Catalog(),
		})
	}
	return c.caller.Endpoint(c.Interaction, name, version)
}
