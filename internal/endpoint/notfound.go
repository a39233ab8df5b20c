package endpoint

import (
	"context"

	"github.com/marcus-qen/courier/internal/query"
	"github.com/marcus-qen/courier/internal/result"
)

// NotFound stands in for a resource discovery could not locate. Every call
// fails immediately with platform.not_found.
type NotFound struct {
	resource string
	version  int
	opts     Options
}

// NewNotFound returns the stand-in endpoint for resource at version.
func NewNotFound(resource string, version int, opts Options) *NotFound {
	return &NotFound{resource: resource, version: version, opts: opts}
}

func (n *NotFound) Resource() string { return n.resource }
func (n *NotFound) Version() int     { return n.version }

func (n *NotFound) List(context.Context, *query.Query) *result.List {
	errs := n.opts.newErrors()
	notFound(errs, n.resource, n.version)
	return result.WithErrors[[]map[string]any](errs)
}

func (n *NotFound) Show(context.Context, string, *query.Query) *result.Map { return n.fail() }

func (n *NotFound) Create(context.Context, map[string]any, *query.Query) *result.Map {
	return n.fail()
}

func (n *NotFound) Update(context.Context, string, map[string]any, *query.Query) *result.Map {
	return n.fail()
}

func (n *NotFound) Delete(context.Context, string, *query.Query) *result.Map { return n.fail() }

func (n *NotFound) fail() *result.Map {
	errs := n.opts.newErrors()
	notFound(errs, n.resource, n.version)
	return result.WithErrors[map[string]any](errs)
}
