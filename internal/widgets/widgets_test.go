package widgets

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/marcus-qen/courier/internal/action"
	"github.com/marcus-qen/courier/internal/apierr"
	"github.com/marcus-qen/courier/internal/discovery"
	"github.com/marcus-qen/courier/internal/endpoint"
	"github.com/marcus-qen/courier/internal/interresource"
	"github.com/marcus-qen/courier/internal/query"
	"github.com/marcus-qen/courier/internal/resource"
	"github.com/marcus-qen/courier/internal/session"
)

func testLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

func TestStoreList(t *testing.T) {
	s := NewStore(testLogger())
	s.Create("sprocket", "red")
	s.Create("Gear", "")
	s.Create("big sprocket", "blue")

	page, total := s.List(ListOptions{Limit: 2})
	if total != 3 || len(page) != 2 || page[0].Name != "sprocket" {
		t.Fatalf("page = %+v, total = %d", page, total)
	}

	page, total = s.List(ListOptions{Offset: 2, Limit: 2})
	if total != 3 || len(page) != 1 || page[0].Name != "big sprocket" {
		t.Errorf("second page = %+v, total = %d", page, total)
	}

	page, total = s.List(ListOptions{Name: "SPROCKET"})
	if total != 2 || len(page) != 2 {
		t.Errorf("search = %+v, total = %d", page, total)
	}

	page, _ = s.List(ListOptions{SortKey: "name", Descending: true})
	if page[0].Name != "sprocket" || page[2].Name != "Gear" {
		t.Errorf("sorted = %+v", page)
	}

	page, total = s.List(ListOptions{Offset: 10})
	if page != nil || total != 3 {
		t.Errorf("past the end = %+v, total = %d", page, total)
	}
}

func TestStoreUpdateDelete(t *testing.T) {
	s := NewStore(nil)
	w := s.Create("sprocket", "red")

	colour := "green"
	got, ok := s.Update(w.ID, nil, &colour)
	if !ok || got.Name != "sprocket" || got.Colour != "green" {
		t.Errorf("update = %+v, %v", got, ok)
	}
	if _, ok := s.Delete(w.ID); !ok {
		t.Fatal("delete failed")
	}
	if _, ok := s.Get(w.ID); ok {
		t.Error("widget still present after delete")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d", s.Len())
	}
}

func widgetEndpoint(store *Store) *resource.Local {
	return resource.NewLocal(WidgetInterface(store), nil, endpoint.Options{})
}

func TestWidgetCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		code string
	}{
		{"missing name", map[string]any{"colour": "red"}, apierr.GenericRequiredFieldMissing},
		{"name not a string", map[string]any{"name": 7}, apierr.GenericInvalidString},
		{"colour not a string", map[string]any{"name": "x", "colour": true}, apierr.GenericInvalidString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(nil)
			res := widgetEndpoint(store).Create(context.Background(), tt.body, nil)
			errs := res.PlatformErrors()
			if !errs.HasErrors() || errs.Errors()[0].Code != tt.code {
				t.Fatalf("errors = %+v, want %s", errs.Errors(), tt.code)
			}
			if errs.HTTPStatusCode() != http.StatusUnprocessableEntity {
				t.Errorf("status = %d", errs.HTTPStatusCode())
			}
			if store.Len() != 0 {
				t.Error("invalid create must not store anything")
			}
		})
	}
}

func TestWidgetLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	ep := widgetEndpoint(store)

	created := ep.Create(ctx, map[string]any{"name": "sprocket", "colour": "red"}, nil)
	if created.HasErrors() {
		t.Fatalf("create: %+v", created.PlatformErrors().Errors())
	}
	id, _ := created.Value["id"].(string)
	if id == "" {
		t.Fatalf("no id in %+v", created.Value)
	}

	shown := ep.Show(ctx, id, nil)
	if shown.HasErrors() || shown.Value["colour"] != "red" {
		t.Errorf("show = %+v", shown.Value)
	}

	updated := ep.Update(ctx, id, map[string]any{"name": "cog"}, nil)
	if updated.HasErrors() || updated.Value["name"] != "cog" || updated.Value["colour"] != "red" {
		t.Errorf("update = %+v", updated.Value)
	}

	listed := ep.List(ctx, &query.Query{Search: map[string]string{"name": "co"}})
	if n, ok := listed.DatasetSize(); !ok || n != 1 || len(listed.Value) != 1 {
		t.Errorf("list = %+v (size %d)", listed.Value, n)
	}

	deleted := ep.Delete(ctx, id, nil)
	if deleted.HasErrors() || deleted.Value["id"] != id {
		t.Errorf("delete = %+v", deleted.Value)
	}
}

func TestWidgetUnknownIdent(t *testing.T) {
	ctx := context.Background()
	ep := widgetEndpoint(NewStore(nil))

	for act, res := range map[action.Action]interface{ HasErrors() bool }{
		action.Show:   ep.Show(ctx, "missing", nil),
		action.Update: ep.Update(ctx, "missing", map[string]any{"name": "x"}, nil),
		action.Delete: ep.Delete(ctx, "missing", nil),
	} {
		if !res.HasErrors() {
			t.Errorf("%s: expected not found", act)
		}
	}

	errs := ep.Show(ctx, "missing", nil).PlatformErrors()
	e := errs.Errors()[0]
	if e.Code != apierr.GenericNotFound || e.Reference != "missing" {
		t.Errorf("error = %+v", e)
	}
	if errs.HTTPStatusCode() != http.StatusNotFound {
		t.Errorf("status = %d", errs.HTTPStatusCode())
	}
}

// harness serves both resources in process behind the orchestrator, with
// a session that may use assemblies but not widgets.
type harness struct {
	widgets *Store
	caller  *interresource.Caller
	sess    *session.Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := resource.NewRegistry()
	store := NewStore(nil)
	if err := Register(reg, store); err != nil {
		t.Fatalf("Register: %v", err)
	}
	perms := session.Permissions{Resources: map[string]session.ResourcePermissions{
		"assembly": {Else: session.Allow},
	}}
	return &harness{
		widgets: store,
		caller:  interresource.New(interresource.Config{Discoverer: discovery.ByRegistry{Registry: reg}}),
		sess:    session.New("test", perms, 0),
	}
}

func (h *harness) assemblies() endpoint.Endpoint {
	return h.caller.Direct("Assembly", 1, endpoint.Options{Session: h.sess})
}

func TestAssemblyCreateChecksParts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := h.widgets.Create("sprocket", "")

	res := h.assemblies().Create(ctx, map[string]any{"name": "kit", "parts": []any{w.ID}}, nil)
	if res.HasErrors() {
		t.Fatalf("create: %+v", res.PlatformErrors().Errors())
	}
	if parts, _ := res.Value["parts"].([]string); len(parts) != 1 || parts[0] != w.ID {
		t.Errorf("parts = %+v", res.Value["parts"])
	}
}

func TestAssemblyCreateReportsEveryMissingPart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := h.widgets.Create("sprocket", "")

	res := h.assemblies().Create(ctx, map[string]any{"name": "kit", "parts": []string{"nope-1", w.ID, "nope-2"}}, nil)
	errs := res.PlatformErrors().Errors()
	if len(errs) != 2 {
		t.Fatalf("errors = %+v, want two", errs)
	}
	for i, ident := range []string{"nope-1", "nope-2"} {
		if errs[i].Code != apierr.GenericNotFound || errs[i].Reference != ident {
			t.Errorf("errors[%d] = %+v", i, errs[i])
		}
		if !strings.Contains(errs[i].Message, "Assembly v1 create -> Widget v1: ") {
			t.Errorf("message %q not labelled with the hop", errs[i].Message)
		}
	}
}

func TestAssemblyShowEmbedsParts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.widgets.Create("sprocket", "red")
	b := h.widgets.Create("gear", "")

	created := h.assemblies().Create(ctx, map[string]any{"name": "kit", "parts": []any{a.ID, b.ID}}, nil)
	id, _ := created.Value["id"].(string)

	plain := h.assemblies().Show(ctx, id, nil)
	if _, ok := plain.Value["parts"].([]string); !ok {
		t.Errorf("unembedded parts = %T", plain.Value["parts"])
	}

	embedded := h.assemblies().Show(ctx, id, &query.Query{Embeds: []string{"parts"}})
	if embedded.HasErrors() {
		t.Fatalf("show: %+v", embedded.PlatformErrors().Errors())
	}
	parts, ok := embedded.Value["parts"].([]map[string]any)
	if !ok || len(parts) != 2 || parts[0]["colour"] != "red" || parts[1]["name"] != "gear" {
		t.Errorf("embedded parts = %+v", embedded.Value["parts"])
	}
}

func TestAssemblyRejectsUnsupported(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res := h.assemblies().Update(ctx, "x", map[string]any{"name": "y"}, nil)
	if res.PlatformErrors().Errors()[0].Code != apierr.PlatformMethodNotAllowed {
		t.Errorf("update errors = %+v", res.PlatformErrors().Errors())
	}

	res = h.assemblies().Show(ctx, "x", &query.Query{Embeds: []string{"colour"}})
	if res.PlatformErrors().Errors()[0].Code != apierr.GenericInvalidParameters {
		t.Errorf("embed errors = %+v", res.PlatformErrors().Errors())
	}

	res = h.assemblies().Create(ctx, map[string]any{"name": "kit", "parts": "abc"}, nil)
	if res.PlatformErrors().Errors()[0].Code != apierr.GenericInvalidArray {
		t.Errorf("parts errors = %+v", res.PlatformErrors().Errors())
	}
}

func TestWidgetsNeedTheirOwnPermission(t *testing.T) {
	h := newHarness(t)
	res := h.caller.Endpoint(nil, "Widget", 1).Show(context.Background(), "x", nil)
	// Without a source interaction nothing is checked, so this reaches the
	// store and fails there.
	if res.PlatformErrors().Errors()[0].Code != apierr.GenericNotFound {
		t.Errorf("errors = %+v", res.PlatformErrors().Errors())
	}

	src := resource.NewInteraction("", AssemblyInterface(NewAssemblies()), h.sess, &resource.Request{Action: action.List}, nil)
	res = h.caller.Endpoint(src, "Widget", 1).Show(context.Background(), "x", nil)
	if res.PlatformErrors().Errors()[0].Code != apierr.PlatformInvalidSession {
		t.Errorf("errors = %+v", res.PlatformErrors().Errors())
	}
}
