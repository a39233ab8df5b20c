// Package endpoint defines the uniform handle used to call one version of a
// resource, and its transport-bound implementations.
//
// Every method returns a result; transport and business failures are
// reported through the result's error collection, never as Go errors.
package endpoint

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/marcus-qen/courier/internal/apierr"
	"github.com/marcus-qen/courier/internal/query"
	"github.com/marcus-qen/courier/internal/result"
	"github.com/marcus-qen/courier/internal/session"
)

// Transport names used in metrics and logs.
const (
	TransportLocal    = "local"
	TransportHTTP     = "http"
	TransportQueue    = "queue"
	TransportNotFound = "not_found"
)

// Endpoint is a callable handle to one resource version. A nil query means
// the defaults.
type Endpoint interface {
	Resource() string
	Version() int

	List(ctx context.Context, q *query.Query) *result.List
	Show(ctx context.Context, ident string, q *query.Query) *result.Map
	Create(ctx context.Context, body map[string]any, q *query.Query) *result.Map
	Update(ctx context.Context, ident string, body map[string]any, q *query.Query) *result.Map
	Delete(ctx context.Context, ident string, q *query.Query) *result.Map
}

// Options are the per-call values an endpoint carries alongside its
// transport configuration.
type Options struct {
	Session       *session.Session
	Locale        string
	InteractionID string
	// Headers holds optional request properties by name (dated_at, ...).
	Headers map[string]string
	// Catalog validates error codes; nil means apierr.Builtin().
	Catalog *apierr.Catalog
	Logger  *zap.Logger
}

func (o Options) newErrors() *apierr.Collection {
	return apierr.NewCollection(o.Catalog)
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) sessionID() string {
	if o.Session == nil {
		return ""
	}
	return o.Session.ID
}

// notFound adds platform.not_found for resource to errs.
func notFound(errs *apierr.Collection, resource string, version int) {
	errs.MustAddError(apierr.PlatformNotFound, apierr.Ref("entity_name", resource), describe(resource, version)+" could not be found")
}

func describe(resource string, version int) string {
	return resource + " v" + strconv.Itoa(version)
}
