package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marcus-qen/courier/internal/action"
	"github.com/marcus-qen/courier/internal/apierr"
	"github.com/marcus-qen/courier/internal/discovery"
	"github.com/marcus-qen/courier/internal/endpoint"
	"github.com/marcus-qen/courier/internal/header"
	"github.com/marcus-qen/courier/internal/interresource"
	"github.com/marcus-qen/courier/internal/query"
	"github.com/marcus-qen/courier/internal/queue"
	"github.com/marcus-qen/courier/internal/resource"
	"github.com/marcus-qen/courier/internal/session"
	"github.com/marcus-qen/courier/internal/widgets"
)

func testLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

func allow(resources ...string) session.Permissions {
	p := session.Permissions{Resources: map[string]session.ResourcePermissions{}}
	for _, r := range resources {
		p.Resources[r] = session.ResourcePermissions{Else: session.Allow}
	}
	return p
}

// panics is a resource whose show is a programming error.
type panics struct{ resource.Unimplemented }

func (panics) Show(_ context.Context, rc *resource.Context) {
	rc.Response.AddError("widget.no_such_code", nil, "")
}

type fixture struct {
	store    *widgets.Store
	sessions *session.MemoryStore
	sess     *session.Session
	inbound  *Inbound
	srv      *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := resource.NewRegistry()
	store := widgets.NewStore(nil)
	if err := reg.Register(widgets.WidgetInterface(store)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	reg.MustRegister(&resource.Interface{Name: "Broken", Version: 1, Implementation: panics{}})

	sessions := session.NewMemoryStore()
	sess, err := session.Create(context.Background(), sessions, "test", allow("widget", "broken"), time.Hour)
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}

	in := NewInbound(Config{Registry: reg, Sessions: sessions, Logger: testLogger()})
	srv := httptest.NewServer(NewRouter(in, testLogger()))
	t.Cleanup(srv.Close)

	return &fixture{store: store, sessions: sessions, sess: sess, inbound: in, srv: srv}
}

func (f *fixture) widgetEndpoint(sess *session.Session) *endpoint.HTTP {
	base := discovery.ConventionURI(f.srv.URL, "Widget", 1)
	return endpoint.NewHTTP("Widget", 1, base, f.srv.Client(), time.Second, endpoint.Options{Session: sess})
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		path     string
		version  int
		resource string
		ident    string
		ok       bool
	}{
		{"/v1/widget", 1, "widget", "", true},
		{"/v2/purchase_order/abc%2F1", 2, "purchase_order", "abc/1", true},
		{"v1/widget/", 1, "widget", "", true},
		{"/1/widget", 0, "", "", false},
		{"/v0/widget", 0, "", "", false},
		{"/vx/widget", 0, "", "", false},
		{"/v1", 0, "", "", false},
		{"/v1/widget/a/b", 0, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			version, res, ident, ok := ParsePath(tt.path)
			if ok != tt.ok || version != tt.version || res != tt.resource || ident != tt.ident {
				t.Errorf("ParsePath(%q) = %d, %q, %q, %v", tt.path, version, res, ident, ok)
			}
		})
	}
}

func TestHTTPRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ep := f.widgetEndpoint(f.sess)

	created := ep.Create(ctx, map[string]any{"name": "sprocket", "colour": "red"}, nil)
	if created.HasErrors() {
		t.Fatalf("create: %+v", created.PlatformErrors().Errors())
	}
	id, _ := created.Value["id"].(string)

	shown := ep.Show(ctx, id, nil)
	if shown.HasErrors() || shown.Value["name"] != "sprocket" {
		t.Errorf("show = %+v, %+v", shown.Value, shown.PlatformErrors().Errors())
	}

	f.store.Create("gear", "")
	listed := ep.List(ctx, &query.Query{Search: map[string]string{"name": "sprock"}})
	if listed.HasErrors() {
		t.Fatalf("list: %+v", listed.PlatformErrors().Errors())
	}
	if n, ok := listed.DatasetSize(); !ok || n != 1 || len(listed.Value) != 1 {
		t.Errorf("list = %+v, size %d", listed.Value, n)
	}

	updated := ep.Update(ctx, id, map[string]any{"colour": "blue"}, nil)
	if updated.HasErrors() || updated.Value["colour"] != "blue" {
		t.Errorf("update = %+v", updated.Value)
	}

	deleted := ep.Delete(ctx, id, nil)
	if deleted.HasErrors() {
		t.Errorf("delete: %+v", deleted.PlatformErrors().Errors())
	}

	missing := ep.Show(ctx, id, nil)
	e := missing.PlatformErrors().Errors()
	if len(e) != 1 || e[0].Code != apierr.GenericNotFound || e[0].Reference != id {
		t.Errorf("show after delete = %+v", e)
	}
}

func TestHTTPValidationErrorCrossesTheWire(t *testing.T) {
	f := newFixture(t)
	res := f.widgetEndpoint(f.sess).Create(context.Background(), map[string]any{"colour": "red"}, nil)

	errs := res.PlatformErrors()
	if errs.HTTPStatusCode() != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", errs.HTTPStatusCode())
	}
	want := apierr.Entry{Code: apierr.GenericRequiredFieldMissing, Message: "Field `name` is required", Reference: "name"}
	if got := errs.Errors(); len(got) != 1 || got[0] != want {
		t.Errorf("errors = %+v", got)
	}
}

func TestHTTPRejections(t *testing.T) {
	f := newFixture(t)
	expired := session.New("test", allow("widget"), time.Hour)
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	_ = f.sessions.Save(context.Background(), expired)
	noPerms, _ := session.Create(context.Background(), f.sessions, "test", session.Permissions{}, time.Hour)

	tests := []struct {
		name    string
		method  string
		path    string
		session string
		body    string
		status  int
		code    string
	}{
		{"no session", http.MethodGet, "/v1/widget", "", "", http.StatusUnauthorized, apierr.PlatformInvalidSession},
		{"unknown session", http.MethodGet, "/v1/widget", uuid.NewString(), "", http.StatusUnauthorized, apierr.PlatformInvalidSession},
		{"expired session", http.MethodGet, "/v1/widget", expired.ID, "", http.StatusUnauthorized, apierr.PlatformInvalidSession},
		{"not permitted", http.MethodGet, "/v1/widget", noPerms.ID, "", http.StatusForbidden, apierr.PlatformForbidden},
		{"unknown resource", http.MethodGet, "/v1/gadget", f.sess.ID, "", http.StatusNotFound, apierr.PlatformNotFound},
		{"unknown version", http.MethodGet, "/v2/widget", f.sess.ID, "", http.StatusNotFound, apierr.PlatformNotFound},
		{"outside the resource tree", http.MethodGet, "/api/widget", f.sess.ID, "", http.StatusNotFound, apierr.PlatformNotFound},
		{"no action for method", http.MethodPut, "/v1/widget/abc", f.sess.ID, "{}", http.StatusMethodNotAllowed, apierr.PlatformMethodNotAllowed},
		{"bad json", http.MethodPost, "/v1/widget", f.sess.ID, "{not json", http.StatusUnprocessableEntity, apierr.PlatformMalformed},
		{"json array body", http.MethodPost, "/v1/widget", f.sess.ID, "[1,2]", http.StatusUnprocessableEntity, apierr.PlatformMalformed},
		{"unknown parameter", http.MethodGet, "/v1/widget?colour=red", f.sess.ID, "", http.StatusUnprocessableEntity, apierr.PlatformMalformed},
		{"bad offset", http.MethodGet, "/v1/widget?offset=-1", f.sess.ID, "", http.StatusUnprocessableEntity, apierr.GenericInvalidParameters},
		{"not embeddable", http.MethodGet, "/v1/widget?_embed=colour", f.sess.ID, "", http.StatusUnprocessableEntity, apierr.GenericInvalidParameters},
		{"panicking implementation", http.MethodGet, "/v1/broken/x", f.sess.ID, "", http.StatusInternalServerError, apierr.PlatformFault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, f.srv.URL+tt.path, strings.NewReader(tt.body))
			if tt.session != "" {
				req.Header.Set(header.SessionID, tt.session)
			}
			resp, err := f.srv.Client().Do(req)
			if err != nil {
				t.Fatalf("Do: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			var rendered apierr.Rendered
			if err := json.NewDecoder(resp.Body).Decode(&rendered); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(rendered.Errors) == 0 || rendered.Errors[0].Code != tt.code {
				t.Errorf("errors = %+v, want %s", rendered.Errors, tt.code)
			}
			if rendered.Kind != apierr.Kind {
				t.Errorf("kind = %q", rendered.Kind)
			}
			if _, err := uuid.Parse(rendered.InteractionID); err != nil {
				t.Errorf("interaction id %q is not a UUID", rendered.InteractionID)
			}
		})
	}
}

func TestHTTPEchoesInteractionID(t *testing.T) {
	f := newFixture(t)
	id := uuid.NewString()

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/v1/widget", nil)
	req.Header.Set(header.SessionID, f.sess.ID)
	req.Header.Set(header.InteractionID, id)
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get(header.InteractionID); got != id {
		t.Errorf("interaction id = %q, want %q", got, id)
	}
	var body endpoint.ListBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data == nil || body.DatasetSize == nil || *body.DatasetSize != 0 {
		t.Errorf("body = %+v", body)
	}
}

func TestHTTPBodyTooLarge(t *testing.T) {
	f := newFixture(t)
	big := `{"name":"` + strings.Repeat("x", int(maxBodyBytes)) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/widget", strings.NewReader(big))
	req.Header.Set(header.SessionID, f.sess.ID)
	rec := httptest.NewRecorder()

	NewRouter(f.inbound, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Request body too large") {
		t.Errorf("body = %s", rec.Body.String())
	}
	if f.store.Len() != 0 {
		t.Error("oversized body must not create anything")
	}
}

func TestWorkerServesQueueCalls(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := queue.NewMemoryBroker(testLogger())
	worker := NewWorker(f.inbound, broker, testLogger())
	if err := worker.Start(ctx, RoutingKeys(f.inbound.registry, "service")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer worker.Stop()

	client := queue.NewClient(broker, queue.NewTracker(time.Minute), "caller", testLogger())
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	defer client.Close()

	key := discovery.RoutingKey("service", "Widget", 1)
	ep := endpoint.NewQueue("Widget", 1, key, client, time.Second, endpoint.Options{Session: f.sess})

	created := ep.Create(ctx, map[string]any{"name": "sprocket"}, nil)
	if created.HasErrors() {
		t.Fatalf("create: %+v", created.PlatformErrors().Errors())
	}
	id, _ := created.Value["id"].(string)
	if _, ok := f.store.Get(id); !ok {
		t.Fatalf("widget %q not stored", id)
	}

	missing := ep.Show(ctx, "nope", nil)
	if e := missing.PlatformErrors().Errors(); len(e) != 1 || e[0].Code != apierr.GenericNotFound {
		t.Errorf("show missing = %+v", e)
	}

	noSession := endpoint.NewQueue("Widget", 1, key, client, time.Second, endpoint.Options{})
	denied := noSession.List(ctx, nil)
	if denied.PlatformErrors().HTTPStatusCode() != http.StatusUnauthorized {
		t.Errorf("list without session = %+v", denied.PlatformErrors().Errors())
	}
}

// The same call fails the same way whichever transport carries it.
func TestTransportsAgree(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := queue.NewMemoryBroker(testLogger())
	worker := NewWorker(f.inbound, broker, testLogger())
	if err := worker.Start(ctx, RoutingKeys(f.inbound.registry, "service")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer worker.Stop()
	client := queue.NewClient(broker, queue.NewTracker(time.Minute), "caller", testLogger())
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	defer client.Close()

	iface, _ := f.inbound.registry.Lookup("Widget", 1)
	opts := endpoint.Options{Session: f.sess}
	endpoints := map[string]endpoint.Endpoint{
		"local": resource.NewLocal(iface, nil, opts),
		"http":  f.widgetEndpoint(f.sess),
		"queue": endpoint.NewQueue("Widget", 1, discovery.RoutingKey("service", "Widget", 1), client, time.Second, opts),
	}

	tests := []struct {
		name string
		call func(endpoint.Endpoint) *apierr.Collection
		code string
		ref  string
	}{
		{
			name: "create without body",
			call: func(ep endpoint.Endpoint) *apierr.Collection {
				return ep.Create(ctx, nil, nil).PlatformErrors()
			},
			code: apierr.GenericRequiredFieldMissing,
			ref:  "name",
		},
		{
			name: "update without body",
			call: func(ep endpoint.Endpoint) *apierr.Collection {
				return ep.Update(ctx, "nope", nil, nil).PlatformErrors()
			},
			code: apierr.GenericNotFound,
			ref:  "nope",
		},
		{
			name: "ident containing a slash",
			call: func(ep endpoint.Endpoint) *apierr.Collection {
				return ep.Show(ctx, "sku/42", nil).PlatformErrors()
			},
			code: apierr.GenericNotFound,
			ref:  "sku/42",
		},
	}
	for _, tt := range tests {
		for transport, ep := range endpoints {
			t.Run(tt.name+"/"+transport, func(t *testing.T) {
				e := tt.call(ep).Errors()
				if len(e) != 1 || e[0].Code != tt.code || e[0].Reference != tt.ref {
					t.Errorf("errors = %+v, want one %s referencing %q", e, tt.code, tt.ref)
				}
			})
		}
	}
}

func TestHTTPServesIdentWithSlash(t *testing.T) {
	f := newFixture(t)
	ep := f.widgetEndpoint(f.sess)
	created := ep.Create(context.Background(), map[string]any{"name": "sprocket"}, nil)
	if created.HasErrors() {
		t.Fatalf("create: %+v", created.PlatformErrors().Errors())
	}

	if got := ep.URL(action.Show, "sku/42", nil); !strings.HasSuffix(got, "/v1/widget/sku%2F42") {
		t.Errorf("URL = %q", got)
	}
	id, _ := created.Value["id"].(string)
	shown := ep.Show(context.Background(), id, nil)
	if shown.HasErrors() || shown.Value["name"] != "sprocket" {
		t.Errorf("show = %+v / %+v", shown.Value, shown.PlatformErrors().Errors())
	}
}

func TestDecodeBody(t *testing.T) {
	tests := []struct {
		in   string
		ok   bool
		size int
	}{
		{"", true, 0},
		{"  null\n", true, 0},
		{"{}", true, 0},
		{`{"name":"cog"}`, true, 1},
		{"[]", false, 0},
		{`"text"`, false, 0},
		{"{", false, 0},
	}
	for _, tt := range tests {
		body, ok := decodeBody([]byte(tt.in))
		if ok != tt.ok || len(body) != tt.size {
			t.Errorf("decodeBody(%q) = %v, %v", tt.in, body, ok)
		}
		if ok && body == nil {
			t.Errorf("decodeBody(%q) returned a nil map", tt.in)
		}
	}
}

func TestRoutingKeys(t *testing.T) {
	f := newFixture(t)
	keys := RoutingKeys(f.inbound.registry, "svc")
	want := []string{"svc.broken.v1", "svc.widget.v1"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys = %v, want %v", keys, want)
		}
	}
}

// A local Assembly calling a remote Widget: the hop needs a scoped session,
// which is stored for the remote side to load and removed afterwards.
func TestRemoteHopWithScopedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	part := f.store.Create("sprocket", "")

	local := resource.NewRegistry()
	local.MustRegister(widgets.AssemblyInterface(widgets.NewAssemblies()))

	caller := interresource.New(interresource.Config{
		Discoverer: discovery.Chain{
			discovery.ByRegistry{Registry: local},
			discovery.ByConvention{Root: f.srv.URL},
		},
		Sessions:   f.sessions,
		HTTPClient: f.srv.Client(),
		Logger:     testLogger(),
	})

	sess, err := session.Create(ctx, f.sessions, "test", allow("assembly"), time.Hour)
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}
	before := f.sessions.Len()

	assemblies := caller.Direct("Assembly", 1, endpoint.Options{Session: sess})
	res := assemblies.Create(ctx, map[string]any{"name": "kit", "parts": []string{part.ID}}, nil)
	if res.HasErrors() {
		t.Fatalf("create: %+v", res.PlatformErrors().Errors())
	}
	if f.sessions.Len() != before {
		t.Errorf("sessions = %d, want %d after the hop", f.sessions.Len(), before)
	}

	res = assemblies.Create(ctx, map[string]any{"name": "kit", "parts": []string{"nope"}}, nil)
	e := res.PlatformErrors().Errors()
	if len(e) != 1 || e[0].Code != apierr.GenericNotFound {
		t.Fatalf("errors = %+v", e)
	}
	if !strings.Contains(e[0].Message, "Assembly v1 create -> Widget v1: ") {
		t.Errorf("message = %q", e[0].Message)
	}
}
