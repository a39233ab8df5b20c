// Package discovery resolves a resource name and version to where it can be
// called: in this process, over HTTP, over a queue, or nowhere.
package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/marcus-qen/courier/internal/resource"
)

// Kind tags a discovery result.
type Kind string

const (
	KindNotFound Kind = "not_found"
	KindLocal    Kind = "local"
	KindHTTP     Kind = "http"
	KindQueue    Kind = "queue"
)

// Result is the outcome of one lookup. Which of Interface, BaseURI and
// RoutingKey is set depends on Kind.
type Result struct {
	Kind     Kind
	Resource string
	Version  int

	Interface  *resource.Interface
	BaseURI    string
	RoutingKey string
}

// NotFound means nothing serves the resource version.
func NotFound(name string, version int) Result {
	return Result{Kind: KindNotFound, Resource: name, Version: version}
}

// Local means iface is served by this process.
func Local(iface *resource.Interface) Result {
	return Result{Kind: KindLocal, Resource: iface.Name, Version: iface.Version, Interface: iface}
}

// HTTP means the resource is served at baseURI.
func HTTP(name string, version int, baseURI string) Result {
	return Result{Kind: KindHTTP, Resource: name, Version: version, BaseURI: baseURI}
}

// Queue means requests for the resource are published to routingKey.
func Queue(name string, version int, routingKey string) Result {
	return Result{Kind: KindQueue, Resource: name, Version: version, RoutingKey: routingKey}
}

// Found reports whether the result names a location.
func (r Result) Found() bool { return r.Kind != KindNotFound && r.Kind != "" }

func (r Result) String() string {
	switch r.Kind {
	case KindLocal:
		return fmt.Sprintf("%s v%d: local", r.Resource, r.Version)
	case KindHTTP:
		return fmt.Sprintf("%s v%d: http %s", r.Resource, r.Version, r.BaseURI)
	case KindQueue:
		return fmt.Sprintf("%s v%d: queue %s", r.Resource, r.Version, r.RoutingKey)
	default:
		return fmt.Sprintf("%s v%d: not found", r.Resource, r.Version)
	}
}

// Discoverer resolves resources. NotFound is a normal outcome; an error
// means the lookup itself failed.
type Discoverer interface {
	Discover(ctx context.Context, name string, version int) (Result, error)
}

// ConventionURI is the address of a resource under root:
// {root}/v{version}/{resource}.
func ConventionURI(root, name string, version int) string {
	return fmt.Sprintf("%s/v%d/%s", strings.TrimRight(root, "/"), version, resource.SnakeCase(name))
}

// RoutingKey is the queue address of a resource: {prefix}.{resource}.v{version}.
func RoutingKey(prefix, name string, version int) string {
	return fmt.Sprintf("%s.%s.v%d", prefix, resource.SnakeCase(name), version)
}

// ByConvention addresses every resource under one root URI. It never
// returns NotFound.
type ByConvention struct {
	Root string
}

func (d ByConvention) Discover(_ context.Context, name string, version int) (Result, error) {
	return HTTP(name, version, ConventionURI(d.Root, name, version)), nil
}

// ByRegistry finds resources registered in this process. Anything else is
// sent to a queue when QueuePrefix is set, and is NotFound otherwise.
type ByRegistry struct {
	Registry    *resource.Registry
	QueuePrefix string
}

func (d ByRegistry) Discover(_ context.Context, name string, version int) (Result, error) {
	if d.Registry != nil {
		if iface, ok := d.Registry.Lookup(name, version); ok {
			return Local(iface), nil
		}
	}
	if d.QueuePrefix != "" {
		return Queue(name, version, RoutingKey(d.QueuePrefix, name, version)), nil
	}
	return NotFound(name, version), nil
}

// Chain tries each discoverer in turn and returns the first result that is
// found. A failing lookup stops the chain.
type Chain []Discoverer

func (c Chain) Discover(ctx context.Context, name string, version int) (Result, error) {
	for _, d := range c {
		res, err := d.Discover(ctx, name, version)
		if err != nil {
			return Result{}, err
		}
		if res.Found() {
			return res, nil
		}
	}
	return NotFound(name, version), nil
}
