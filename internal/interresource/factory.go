// Package interresource lets a resource implementation call another
// resource without knowing where it runs. It resolves the target, scopes
// the session for the hop, dispatches over the right transport and labels
// any errors that come back with where they came from.
package interresource

import (
	"time"

	"github.com/marcus-qen/courier/internal/discovery"
	"github.com/marcus-qen/courier/internal/endpoint"
	"github.com/marcus-qen/courier/internal/resource"
)

// Factory turns discovery results into endpoints.
type Factory struct {
	HTTPClient   endpoint.Doer
	HTTPTimeout  time.Duration
	Queue        endpoint.QueueCaller
	QueueTimeout time.Duration
	// Caller serves calls made by local implementations while they run.
	Caller resource.Caller
}

// Build is the one place a discovery result is mapped to a transport.
// Queue results without a queue client are unreachable and become NotFound.
func (f *Factory) Build(res discovery.Result, opts endpoint.Options) endpoint.Endpoint {
	switch res.Kind {
	case discovery.KindLocal:
		return resource.NewLocal(res.Interface, f.Caller, opts)
	case discovery.KindHTTP:
		return endpoint.NewHTTP(res.Resource, res.Version, res.BaseURI, f.HTTPClient, f.HTTPTimeout, opts)
	case discovery.KindQueue:
		if f.Queue != nil {
			return endpoint.NewQueue(res.Resource, res.Version, res.RoutingKey, f.Queue, f.QueueTimeout, opts)
		}
	}
	return endpoint.NewNotFound(res.Resource, res.Version, opts)
}

// Transport names the transport an endpoint built from res would use.
func Transport(res discovery.Result) string {
	switch res.Kind {
	case discovery.KindLocal:
		return endpoint.TransportLocal
	case discovery.KindHTTP:
		return endpoint.TransportHTTP
	case discovery.KindQueue:
		return endpoint.TransportQueue
	default:
		return endpoint.TransportNotFound
	}
}

func remote(res discovery.Result) bool {
	return res.Kind == discovery.KindHTTP || res.Kind == discovery.KindQueue
}
