// Package apierr implements the platform error model: a catalog of known
// error codes and the ordered, coded error collections that every response
// and inter-resource result carries.
package apierr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrCatalogFrozen is returned when registering into a read-only catalog.
var ErrCatalogFrozen = errors.New("error catalog is frozen")

// Description declares one error code: its HTTP status, default message and
// the reference keys every occurrence must supply.
type Description struct {
	// Name is the code without its domain, e.g. "not_found".
	Name string `json:"name" yaml:"name"`
	// Status is the HTTP status used when this error is the first one recorded.
	Status int `json:"status" yaml:"status"`
	// Message may contain {key} placeholders filled from the reference.
	Message string `json:"message" yaml:"message"`
	// Required lists mandatory reference keys in declared order.
	Required []string `json:"reference,omitempty" yaml:"reference,omitempty"`
}

// Catalog maps full error codes ("domain.name") to their descriptions.
// It is built at startup and read concurrently afterwards.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Description
	frozen  bool
}

// NewCatalog returns a catalog seeded with the platform and generic domains.
// Services register their own domains on top.
func NewCatalog() *Catalog {
	c := &Catalog{entries: make(map[string]Description)}
	for domain, descs := range seed() {
		_ = c.Register(domain, descs)
	}
	return c
}

var (
	builtinOnce sync.Once
	builtin     *Catalog
)

// Builtin returns the shared, frozen catalog holding only the seeded domains.
// It backs collections created without an explicit catalog.
func Builtin() *Catalog {
	builtinOnce.Do(func() {
		builtin = NewCatalog()
		builtin.frozen = true
	})
	return builtin
}

// Register adds or replaces the descriptions of one domain. Registering the
// same domain+name pair again overwrites the earlier entry.
func (c *Catalog) Register(domain string, descs []Description) error {
	domain = strings.TrimSpace(domain)
	if domain == "" || strings.Contains(domain, ".") {
		return fmt.Errorf("invalid error domain %q", domain)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return ErrCatalogFrozen
	}
	for _, d := range descs {
		if d.Name == "" {
			return fmt.Errorf("error domain %q: description without name", domain)
		}
		d.Required = append([]string(nil), d.Required...)
		c.entries[domain+"."+d.Name] = d
	}
	return nil
}

// Describe looks up the description for a full code.
func (c *Catalog) Describe(code string) (Description, bool) {
	c.mu.RLock()
	d, ok := c.entries[code]
	c.mu.RUnlock()
	if !ok {
		return Description{}, false
	}
	d.Required = append([]string(nil), d.Required...)
	return d, true
}

// Recognised reports whether code is present in the catalog.
func (c *Catalog) Recognised(code string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[code]
	return ok
}

// Codes returns every registered full code in lexical order.
func (c *Catalog) Codes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for code := range c.entries {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
