package resource

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrAlreadyRegistered is returned when a resource version is registered twice.
var ErrAlreadyRegistered = errors.New("resource version already registered")

type key struct {
	path    string
	version int
}

// Registry is the table of interfaces served by this process. It is built at
// startup and passed to the discoverer and inbound server.
type Registry struct {
	mu      sync.RWMutex
	entries map[key]*Interface
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[key]*Interface)}
}

// Register adds iface.
func (r *Registry) Register(iface *Interface) error {
	if iface == nil || iface.Name == "" {
		return errors.New("resource interface needs a name")
	}
	if iface.Version < 1 {
		return fmt.Errorf("resource %s: version must be at least 1", iface.Name)
	}
	if iface.Implementation == nil {
		return fmt.Errorf("resource %s v%d: no implementation", iface.Name, iface.Version)
	}

	k := key{path: iface.Path(), version: iface.Version}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[k]; ok {
		return fmt.Errorf("%s v%d: %w", iface.Name, iface.Version, ErrAlreadyRegistered)
	}
	r.entries[k] = iface
	return nil
}

// MustRegister is Register that panics, for use during startup.
func (r *Registry) MustRegister(ifaces ...*Interface) {
	for _, iface := range ifaces {
		if err := r.Register(iface); err != nil {
			panic(err)
		}
	}
}

// Lookup finds a resource by name, in either its declared or path form.
func (r *Registry) Lookup(name string, version int) (*Interface, bool) {
	return r.LookupPath(SnakeCase(name), version)
}

// LookupPath finds a resource by URL segment.
func (r *Registry) LookupPath(path string, version int) (*Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	iface, ok := r.entries[key{path: path, version: version}]
	return iface, ok
}

// All returns every interface ordered by path then version.
func (r *Registry) All() []*Interface {
	r.mu.RLock()
	out := make([]*Interface, 0, len(r.entries))
	for _, iface := range r.entries {
		out = append(out, iface)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path() != out[j].Path() {
			return out[i].Path() < out[j].Path()
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// Reset removes every registration.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[key]*Interface)
}
