// Package paginate walks every record of a list endpoint page by page.
package paginate

import (
	"context"

	"github.com/marcus-qen/courier/internal/query"
	"github.com/marcus-qen/courier/internal/result"
)

// Lister is the part of an endpoint pagination needs.
type Lister interface {
	List(ctx context.Context, q *query.Query) *result.List
}

// Visitor receives one record at a time. Returning false stops iteration.
type Visitor func(item *result.Map) bool

// Each fetches pages starting at q's offset and visits every record.
func Each(ctx context.Context, l Lister, q *query.Query, visit Visitor) {
	EachFrom(ctx, l, q, nil, visit)
}

// EachFrom is Each for a caller that already holds the first page, which is
// visited before anything is fetched. A nil first page is fetched.
//
// Each record is wrapped in its own result carrying a copy of its page's
// errors and options. After a non-empty page the offset advances by the
// number of records received. An empty page ends iteration; if it carries
// errors, one empty result bearing them is visited first.
func EachFrom(ctx context.Context, l Lister, q *query.Query, first *result.List, visit Visitor) {
	next := q.Normalized()
	page := first
	if page == nil {
		page = l.List(ctx, &next)
	}

	for {
		if len(page.Value) == 0 {
			if page.HasErrors() {
				visit(wrap(page, map[string]any{}))
			}
			return
		}

		for _, record := range page.Value {
			if !visit(wrap(page, record)) {
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
		next = *next.WithOffset(next.Offset + len(page.Value))
		page = l.List(ctx, &next)
	}
}

func wrap(page *result.List, value map[string]any) *result.Map {
	item := result.NewMap(value)
	if page.HasErrors() {
		item.SetPlatformErrors(page.PlatformErrors().Clone())
	}
	item.Meta.Options = page.CopyOptions()
	return item
}
