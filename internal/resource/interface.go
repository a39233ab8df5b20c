// Package resource holds the contract resource implementations fulfil, the
// registry of interfaces served by this process, and the in-process
// endpoint used when a call's target lives here.
package resource

import (
	"context"
	"strings"
	"unicode"

	"github.com/marcus-qen/courier/internal/action"
	"github.com/marcus-qen/courier/internal/apierr"
	"github.com/marcus-qen/courier/internal/session"
)

// Implementation runs the actions of one resource version. Methods report
// their outcome by writing to rc.Response.
type Implementation interface {
	List(ctx context.Context, rc *Context)
	Show(ctx context.Context, rc *Context)
	Create(ctx context.Context, rc *Context)
	Update(ctx context.Context, rc *Context)
	Delete(ctx context.Context, rc *Context)
}

// Unimplemented answers every action with platform.method_not_allowed.
// Embed it to implement only some actions.
type Unimplemented struct{}

func (Unimplemented) List(_ context.Context, rc *Context)   { methodNotAllowed(rc) }
func (Unimplemented) Show(_ context.Context, rc *Context)   { methodNotAllowed(rc) }
func (Unimplemented) Create(_ context.Context, rc *Context) { methodNotAllowed(rc) }
func (Unimplemented) Update(_ context.Context, rc *Context) { methodNotAllowed(rc) }
func (Unimplemented) Delete(_ context.Context, rc *Context) { methodNotAllowed(rc) }

func methodNotAllowed(rc *Context) {
	rc.Response.AddError(apierr.PlatformMethodNotAllowed, apierr.Ref("action", string(rc.Request.Action)), "")
}

// Validator checks a request body, recording problems in errs.
type Validator func(body map[string]any, errs *apierr.Collection)

// Interface describes one version of a resource.
type Interface struct {
	// Name is the resource name, e.g. "Widget" or "PurchaseOrder".
	Name    string
	Version int
	// Actions lists the supported actions; empty means all five.
	Actions []action.Action
	// Embeds lists the fields callers may ask to embed or reference.
	Embeds []string
	// Validators check create and update bodies before the implementation
	// runs.
	Validators map[action.Action]Validator
	// AdditionalPermissions are granted to downstream calls made while
	// handling the given action.
	AdditionalPermissions map[action.Action]session.Permissions

	Implementation Implementation
}

// Path is the resource's URL segment and permission key.
func (i *Interface) Path() string {
	return SnakeCase(i.Name)
}

// Supports reports whether act is served.
func (i *Interface) Supports(act action.Action) bool {
	if len(i.Actions) == 0 {
		return act.Valid()
	}
	for _, a := range i.Actions {
		if a == act {
			return true
		}
	}
	return false
}

// Embeddable reports whether field may be embedded or referenced.
func (i *Interface) Embeddable(field string) bool {
	for _, e := range i.Embeds {
		if e == field {
			return true
		}
	}
	return false
}

// SnakeCase converts a resource name to its path form:
// "PurchaseOrder" becomes "purchase_order". Already-snake names are
// returned unchanged.
func SnakeCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && runes[i-1] != '_' &&
				(unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
					(i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
