// Package result provides the values returned by every endpoint call: a
// payload plus the platform errors accumulated while producing it.
//
// Callers check PlatformErrors().HasErrors() before using Value; when
// errors are present the payload may be empty or partial.
package result

import (
	"github.com/marcus-qen/courier/internal/apierr"
)

// Meta carries list sizing and response options alongside a payload.
type Meta struct {
	// DatasetSize is the total count across all pages, when known.
	DatasetSize *int
	// EstimatedDatasetSize is an approximate count, when supported.
	EstimatedDatasetSize *int
	// Options holds response metadata such as echoed header properties.
	Options map[string]string
}

// Result is a payload with an attached error collection.
type Result[T any] struct {
	Value T
	Meta  Meta

	errs *apierr.Collection
}

// Map is the result of show, create, update and delete.
type Map = Result[map[string]any]

// List is the result of list.
type List = Result[[]map[string]any]

// NewMap wraps a single resource representation.
func NewMap(v map[string]any) *Map {
	return &Map{Value: v}
}

// NewList wraps one page of resource representations.
func NewList(v []map[string]any) *List {
	return &List{Value: v}
}

// WithErrors returns an empty result carrying errs.
func WithErrors[T any](errs *apierr.Collection) *Result[T] {
	r := &Result[T]{}
	r.SetPlatformErrors(errs)
	return r
}

// PlatformErrors returns the attached collection, creating an empty one
// backed by the built-in catalog if none was attached.
func (r *Result[T]) PlatformErrors() *apierr.Collection {
	if r.errs == nil {
		r.errs = apierr.NewCollection(nil)
	}
	return r.errs
}

// SetPlatformErrors attaches errs, replacing any previous collection.
func (r *Result[T]) SetPlatformErrors(errs *apierr.Collection) {
	r.errs = errs
}

// HasErrors is shorthand for PlatformErrors().HasErrors().
func (r *Result[T]) HasErrors() bool {
	return r.errs.HasErrors()
}

// AddsErrorsTo merges this result's errors into dst and reports whether
// any were added, supporting the "call, and stop if it failed" idiom:
//
//	res := ep.Show(ctx, id, nil)
//	if res.AddsErrorsTo(rc.Response.Errors) {
//		return
//	}
func (r *Result[T]) AddsErrorsTo(dst *apierr.Collection) bool {
	if !r.HasErrors() {
		return false
	}
	return dst.Merge(r.errs)
}

// SetDatasetSize records the total count.
func (r *Result[T]) SetDatasetSize(n int) { r.Meta.DatasetSize = &n }

// SetEstimatedDatasetSize records the approximate count.
func (r *Result[T]) SetEstimatedDatasetSize(n int) { r.Meta.EstimatedDatasetSize = &n }

// DatasetSize returns the total count and whether it is known.
func (r *Result[T]) DatasetSize() (int, bool) {
	if r.Meta.DatasetSize == nil {
		return 0, false
	}
	return *r.Meta.DatasetSize, true
}

// EstimatedDatasetSize returns the approximate count and whether it is known.
func (r *Result[T]) EstimatedDatasetSize() (int, bool) {
	if r.Meta.EstimatedDatasetSize == nil {
		return 0, false
	}
	return *r.Meta.EstimatedDatasetSize, true
}

// Option returns a response option value.
func (r *Result[T]) Option(key string) string {
	return r.Meta.Options[key]
}

// CopyOptions returns a copy of the response options.
func (r *Result[T]) CopyOptions() map[string]string {
	if r.Meta.Options == nil {
		return nil
	}
	out := make(map[string]string, len(r.Meta.Options))
	for k, v := range r.Meta.Options {
		out[k] = v
	}
	return out
}
