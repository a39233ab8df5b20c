package resource

import (
	"context"

	"github.com/marcus-qen/courier/internal/action"
	"github.com/marcus-qen/courier/internal/apierr"
)

// Dispatch runs the interaction's action against its target. Checks that
// need no implementation code (supported action, embeddable fields, body
// validation) run first; the implementation is only called when they pass.
func Dispatch(ctx context.Context, rc *Context) {
	target := rc.Target
	req := rc.Request
	errs := rc.Response.Errors

	if !target.Supports(req.Action) {
		errs.MustAddError(apierr.PlatformMethodNotAllowed, apierr.Ref("action", string(req.Action)), "")
		return
	}

	for _, field := range append(append([]string(nil), req.Query.Embeds...), req.Query.References...) {
		if !target.Embeddable(field) {
			errs.MustAddError(apierr.GenericInvalidParameters, apierr.Ref("parameter", field),
				"Field `"+field+"` cannot be embedded or referenced")
		}
	}
	if errs.HasErrors() {
		return
	}

	if req.Action.TakesBody() {
		if req.Body == nil {
			req.Body = map[string]any{}
		}
		if v := target.Validators[req.Action]; v != nil {
			v(req.Body, errs)
			if errs.HasErrors() {
				return
			}
		}
	}

	impl := target.Implementation
	switch req.Action {
	case action.List:
		impl.List(ctx, rc)
	case action.Show:
		impl.Show(ctx, rc)
	case action.Create:
		impl.Create(ctx, rc)
	case action.Update:
		impl.Update(ctx, rc)
	case action.Delete:
		impl.Delete(ctx, rc)
	default:
		errs.MustAddError(apierr.PlatformMethodNotAllowed, apierr.Ref("action", string(req.Action)), "")
	}
}
