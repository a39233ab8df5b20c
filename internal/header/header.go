// Package header defines the headers carried by inter-resource calls and
// which optional request properties are copied from a source interaction
// into the calls it makes.
package header

import (
	"fmt"
	"net/http"
	"sort"
)

// Fixed headers sent on every remote call.
const (
	SessionID       = "X-Session-ID"
	InteractionID   = "X-Interaction-ID"
	ContentType     = "Content-Type"
	ContentLanguage = "Content-Language"
	AcceptLanguage  = "Accept-Language"

	JSONContentType = "application/json; charset=utf-8"
)

// Property is an optional request property transported as a header.
type Property struct {
	Name   string
	Header string
	// AutoTransfer is the default for copying the property into
	// inter-resource calls.
	AutoTransfer bool
}

var properties = []Property{
	{Name: "dated_at", Header: "X-Dated-At", AutoTransfer: true},
	{Name: "dated_from", Header: "X-Dated-From", AutoTransfer: true},
	{Name: "resource_uuid", Header: "X-Resource-UUID"},
	{Name: "deja_vu", Header: "X-Deja-Vu"},
	{Name: "assume_identity_of", Header: "X-Assume-Identity-Of"},
}

// Properties returns the known optional properties.
func Properties() []Property {
	return append([]Property(nil), properties...)
}

// Lookup finds a property by name.
func Lookup(name string) (Property, bool) {
	for _, p := range properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Set decides which properties are auto-transferred.
type Set struct {
	auto map[string]bool
}

// DefaultSet uses the built-in AutoTransfer flags.
func DefaultSet() Set {
	s := Set{auto: make(map[string]bool)}
	for _, p := range properties {
		if p.AutoTransfer {
			s.auto[p.Name] = true
		}
	}
	return s
}

// NewSet auto-transfers exactly the named properties.
func NewSet(autoTransfer []string) (Set, error) {
	s := Set{auto: make(map[string]bool, len(autoTransfer))}
	for _, name := range autoTransfer {
		if _, ok := Lookup(name); !ok {
			return Set{}, fmt.Errorf("unknown header property %q", name)
		}
		s.auto[name] = true
	}
	return s, nil
}

// AutoTransfer reports whether the named property is copied by default.
func (s Set) AutoTransfer(name string) bool {
	return s.auto[name]
}

// Names returns the auto-transferred property names, sorted.
func (s Set) Names() []string {
	out := make([]string, 0, len(s.auto))
	for name := range s.auto {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Transfer returns the subset of source properties flagged for auto-transfer.
func (s Set) Transfer(source map[string]string) map[string]string {
	out := make(map[string]string)
	for name, v := range source {
		if s.auto[name] && v != "" {
			out[name] = v
		}
	}
	return out
}

// Wire converts property values to header-name keyed values. Unknown
// property names are dropped.
func Wire(props map[string]string) map[string]string {
	out := make(map[string]string, len(props))
	for _, p := range properties {
		if v, ok := props[p.Name]; ok && v != "" {
			out[p.Header] = v
		}
	}
	return out
}

// Apply sets property headers on h.
func Apply(h http.Header, props map[string]string) {
	for k, v := range Wire(props) {
		h.Set(k, v)
	}
}

// Extract reads known property headers through get, which is typically
// http.Header.Get or a lookup into a queue message's header map.
func Extract(get func(string) string) map[string]string {
	out := make(map[string]string)
	for _, p := range properties {
		if v := get(p.Header); v != "" {
			out[p.Name] = v
		}
	}
	return out
}
