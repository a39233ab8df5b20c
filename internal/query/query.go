// Package query models the list parameters, search/filter data and
// embed/reference requests accepted by every resource action.
package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/marcus-qen/courier/internal/apierr"
)

// DefaultLimit is the page size used when none is given.
const DefaultLimit = 50

// Sort directions.
const (
	Ascending  = "asc"
	Descending = "desc"
)

// Wire parameter names.
const (
	ParamOffset    = "offset"
	ParamLimit     = "limit"
	ParamSort      = "sort"
	ParamDirection = "direction"
	ParamSearch    = "search"
	ParamFilter    = "filter"
	ParamEmbed     = "_embed"
	ParamReference = "_reference"
)

// Query is the optional flat query accepted by every endpoint method.
// A zero Limit means DefaultLimit.
type Query struct {
	Offset        int               `json:"offset,omitempty"`
	Limit         int               `json:"limit,omitempty"`
	SortKey       string            `json:"sort_key,omitempty"`
	SortDirection string            `json:"sort_direction,omitempty"`
	Search        map[string]string `json:"search,omitempty"`
	Filter        map[string]string `json:"filter,omitempty"`
	Embeds        []string          `json:"_embed,omitempty"`
	References    []string          `json:"_reference,omitempty"`
}

// Normalized returns a copy with defaults applied. A nil query yields the
// defaults.
func (q *Query) Normalized() Query {
	if q == nil {
		return Query{Limit: DefaultLimit}
	}
	n := Query{
		Offset:        q.Offset,
		Limit:         q.Limit,
		SortKey:       q.SortKey,
		SortDirection: q.SortDirection,
		Search:        copyMap(q.Search),
		Filter:        copyMap(q.Filter),
		Embeds:        append([]string(nil), q.Embeds...),
		References:    append([]string(nil), q.References...),
	}
	if n.Limit == 0 {
		n.Limit = DefaultLimit
	}
	return n
}

// WithOffset returns a normalized copy starting at offset.
func (q *Query) WithOffset(offset int) *Query {
	n := q.Normalized()
	n.Offset = offset
	return &n
}

// Validate records generic.invalid_parameters for every problem found and
// reports whether the query is usable.
func (q *Query) Validate(errs *apierr.Collection) bool {
	n := q.Normalized()
	ok := true
	invalid := func(param, msg string) {
		errs.MustAddError(apierr.GenericInvalidParameters, apierr.Ref("parameter", param), msg)
		ok = false
	}

	if n.Offset < 0 {
		invalid(ParamOffset, "Offset must be zero or greater")
	}
	if n.Limit < 0 {
		invalid(ParamLimit, "Limit must be greater than zero")
	}
	if n.SortDirection != "" && n.SortDirection != Ascending && n.SortDirection != Descending {
		invalid(ParamDirection, "Sort direction must be asc or desc")
	}
	if n.SortDirection != "" && n.SortKey == "" {
		invalid(ParamDirection, "Sort direction given without a sort key")
	}

	embedded := make(map[string]bool, len(n.Embeds))
	for _, e := range n.Embeds {
		embedded[e] = true
	}
	for _, r := range n.References {
		if embedded[r] {
			invalid(r, "Field `"+r+"` cannot be both embedded and referenced")
		}
	}
	return ok
}

// Encode renders the query as URL parameters. Search and filter maps are
// form-encoded into a single parameter each; embeds and references are
// comma-joined.
func (q *Query) Encode() url.Values {
	n := q.Normalized()
	v := url.Values{}
	if n.Offset != 0 {
		v.Set(ParamOffset, strconv.Itoa(n.Offset))
	}
	if n.Limit != DefaultLimit {
		v.Set(ParamLimit, strconv.Itoa(n.Limit))
	}
	if n.SortKey != "" {
		v.Set(ParamSort, n.SortKey)
	}
	if n.SortDirection != "" {
		v.Set(ParamDirection, n.SortDirection)
	}
	if len(n.Search) > 0 {
		v.Set(ParamSearch, formEncode(n.Search))
	}
	if len(n.Filter) > 0 {
		v.Set(ParamFilter, formEncode(n.Filter))
	}
	if len(n.Embeds) > 0 {
		v.Set(ParamEmbed, strings.Join(n.Embeds, ","))
	}
	if len(n.References) > 0 {
		v.Set(ParamReference, strings.Join(n.References, ","))
	}
	return v
}

// Decode parses URL parameters produced by Encode. Unrecognised parameters
// are reported as platform.malformed, bad values as
// generic.invalid_parameters.
func Decode(v url.Values, errs *apierr.Collection) Query {
	q := Query{Limit: DefaultLimit}

	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		val := v.Get(key)
		switch key {
		case ParamOffset:
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				errs.MustAddError(apierr.GenericInvalidParameters, apierr.Ref("parameter", key), "Offset must be a non-negative integer")
				continue
			}
			q.Offset = n
		case ParamLimit:
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				errs.MustAddError(apierr.GenericInvalidParameters, apierr.Ref("parameter", key), "Limit must be a positive integer")
				continue
			}
			q.Limit = n
		case ParamSort:
			q.SortKey = val
		case ParamDirection:
			q.SortDirection = val
		case ParamSearch, ParamFilter:
			m, err := formDecode(val)
			if err != nil {
				errs.MustAddError(apierr.GenericInvalidParameters, apierr.Ref("parameter", key), "")
				continue
			}
			if key == ParamSearch {
				q.Search = m
			} else {
				q.Filter = m
			}
		case ParamEmbed:
			q.Embeds = splitList(val)
		case ParamReference:
			q.References = splitList(val)
		default:
			errs.MustAddError(apierr.PlatformMalformed, apierr.Ref("parameter", key), "Unrecognised query parameter `"+key+"`")
		}
	}
	return q
}

func formEncode(m map[string]string) string {
	v := url.Values{}
	for k, val := range m {
		v.Set(k, val)
	}
	return v.Encode()
}

func formDecode(s string) (map[string]string, error) {
	v, err := url.ParseQuery(s)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(v))
	for k := range v {
		out[k] = v.Get(k)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
