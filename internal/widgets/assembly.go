package widgets

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus-qen/courier/internal/action"
	"github.com/marcus-qen/courier/internal/apierr"
	"github.com/marcus-qen/courier/internal/resource"
	"github.com/marcus-qen/courier/internal/session"
)

// WidgetVersion is the Widget interface version assemblies call.
const WidgetVersion = 1

// Assembly is a named group of widgets.
type Assembly struct {
	ID        string
	Name      string
	Parts     []string
	CreatedAt time.Time
}

// Assemblies keeps assemblies in memory.
type Assemblies struct {
	mu    sync.RWMutex
	items map[string]*Assembly
	order []string
}

// NewAssemblies creates an empty assembly store.
func NewAssemblies() *Assemblies {
	return &Assemblies{items: make(map[string]*Assembly)}
}

func (a *Assemblies) add(name string, parts []string) Assembly {
	a.mu.Lock()
	defer a.mu.Unlock()
	asm := &Assembly{
		ID:        uuid.NewString(),
		Name:      name,
		Parts:     append([]string(nil), parts...),
		CreatedAt: time.Now().UTC(),
	}
	a.items[asm.ID] = asm
	a.order = append(a.order, asm.ID)
	return *asm
}

func (a *Assemblies) get(id string) (Assembly, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	asm, ok := a.items[id]
	if !ok {
		return Assembly{}, false
	}
	return *asm, true
}

func (a *Assemblies) remove(id string) (Assembly, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	asm, ok := a.items[id]
	if !ok {
		return Assembly{}, false
	}
	delete(a.items, id)
	for i, v := range a.order {
		if v == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return *asm, true
}

func (a *Assemblies) page(offset, limit int) ([]Assembly, int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	total := len(a.order)
	if offset >= total {
		return nil, total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	out := make([]Assembly, 0, end-offset)
	for _, id := range a.order[offset:end] {
		out = append(out, *a.items[id])
	}
	return out, total
}

// widgetShow lets assembly calls read widgets whatever the caller's own
// widget permissions are.
var widgetShow = session.Permissions{
	Resources: map[string]session.ResourcePermissions{
		"widget": {Actions: map[action.Action]session.Policy{action.Show: session.Allow}},
	},
}

// AssemblyInterface describes Assembly v1. Update is not offered.
func AssemblyInterface(store *Assemblies) *resource.Interface {
	return &resource.Interface{
		Name:    "Assembly",
		Version: 1,
		Actions: []action.Action{action.List, action.Show, action.Create, action.Delete},
		Embeds:  []string{"parts"},
		Validators: map[action.Action]resource.Validator{
			action.Create: validateAssemblyCreate,
		},
		AdditionalPermissions: map[action.Action]session.Permissions{
			action.Create: widgetShow,
			action.Show:   widgetShow,
		},
		Implementation: &assemblyImpl{store: store},
	}
}

func validateAssemblyCreate(body map[string]any, errs *apierr.Collection) {
	requireString(body, "name", errs)
	v, ok := body["parts"]
	if !ok || v == nil {
		errs.MustAddError(apierr.GenericRequiredFieldMissing, apierr.Ref("field_name", "parts"), "")
		return
	}
	if _, ok := partIDs(v); !ok {
		errs.MustAddError(apierr.GenericInvalidArray, apierr.Ref("field_name", "parts"), "")
	}
}

// partIDs accepts both decoded JSON arrays and string slices.
func partIDs(v any) ([]string, bool) {
	switch parts := v.(type) {
	case []string:
		return parts, true
	case []any:
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			s, ok := p.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

type assemblyImpl struct {
	resource.Unimplemented

	store *Assemblies
}

func (a *assemblyImpl) List(_ context.Context, rc *resource.Context) {
	q := rc.Request.Query
	page, total := a.store.page(q.Offset, q.Limit)
	rc.Response.List = make([]map[string]any, 0, len(page))
	for i := range page {
		rc.Response.List = append(rc.Response.List, renderAssembly(page[i], nil))
	}
	rc.Response.SetDatasetSize(total)
}

func (a *assemblyImpl) Show(ctx context.Context, rc *resource.Context) {
	asm, ok := a.store.get(rc.Request.Ident)
	if !ok {
		notFound(rc)
		return
	}

	var embedded []map[string]any
	if embeds(rc, "parts") {
		widgets := rc.Resource("Widget", WidgetVersion)
		for _, id := range asm.Parts {
			res := widgets.Show(ctx, id, nil)
			if res.AddsErrorsTo(rc.Response.Errors) {
				continue
			}
			embedded = append(embedded, res.Value)
		}
		if rc.Response.Errors.HasErrors() {
			return
		}
	}
	rc.Response.Body = renderAssembly(asm, embedded)
}

// Create checks every part exists before storing anything. All missing
// parts are reported, not just the first.
func (a *assemblyImpl) Create(ctx context.Context, rc *resource.Context) {
	body := rc.Request.Body
	parts, _ := partIDs(body["parts"])

	widgets := rc.Resource("Widget", WidgetVersion)
	for _, id := range parts {
		widgets.Show(ctx, id, nil).AddsErrorsTo(rc.Response.Errors)
	}
	if rc.Response.Errors.HasErrors() {
		return
	}

	asm := a.store.add(*stringField(body, "name"), parts)
	rc.Response.Body = renderAssembly(asm, nil)
}

func (a *assemblyImpl) Delete(_ context.Context, rc *resource.Context) {
	asm, ok := a.store.remove(rc.Request.Ident)
	if !ok {
		notFound(rc)
		return
	}
	rc.Response.Body = renderAssembly(asm, nil)
}

func embeds(rc *resource.Context, field string) bool {
	for _, e := range rc.Request.Query.Embeds {
		if e == field {
			return true
		}
	}
	return false
}

func renderAssembly(asm Assembly, embedded []map[string]any) map[string]any {
	out := map[string]any{
		"id":         asm.ID,
		"name":       asm.Name,
		"created_at": asm.CreatedAt.Format(time.RFC3339),
	}
	if embedded != nil {
		out["parts"] = embedded
	} else {
		out["parts"] = append([]string{}, asm.Parts...)
	}
	return out
}

// Register adds Widget v1 backed by widgets and Assembly v1 backed by a
// fresh store.
func Register(reg *resource.Registry, widgets *Store) error {
	if err := reg.Register(WidgetInterface(widgets)); err != nil {
		return err
	}
	return reg.Register(AssemblyInterface(NewAssemblies()))
}
