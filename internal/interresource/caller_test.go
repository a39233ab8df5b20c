package interresource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/marcus-qen/courier/internal/action"
	"github.com/marcus-qen/courier/internal/apierr"
	"github.com/marcus-qen/courier/internal/discovery"
	"github.com/marcus-qen/courier/internal/endpoint"
	"github.com/marcus-qen/courier/internal/header"
	"github.com/marcus-qen/courier/internal/query"
	"github.com/marcus-qen/courier/internal/queue"
	"github.com/marcus-qen/courier/internal/resource"
	"github.com/marcus-qen/courier/internal/session"
)

// widgets records what it was called with and fails creates without a name.
type widgets struct {
	resource.Unimplemented

	mu       sync.Mutex
	calls    int
	sessions []*session.Session
	headers  []map[string]string
}

func (w *widgets) record(rc *resource.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	w.sessions = append(w.sessions, rc.Session)
	w.headers = append(w.headers, rc.Request.Headers)
}

func (w *widgets) Create(_ context.Context, rc *resource.Context) {
	w.record(rc)
	if _, ok := rc.Request.Body["name"]; !ok {
		rc.Response.AddError(apierr.GenericRequiredFieldMissing, apierr.Ref("field_name", "name"), "")
		return
	}
	rc.Response.Body = map[string]any{"id": "w-1", "name": rc.Request.Body["name"]}
}

func (w *widgets) Show(_ context.Context, rc *resource.Context) {
	w.record(rc)
	rc.Response.Body = map[string]any{"id": rc.Request.Ident}
}

type countingDoer struct{ calls atomic.Int32 }

func (d *countingDoer) Do(*http.Request) (*http.Response, error) {
	d.calls.Add(1)
	return nil, http.ErrServerClosed
}

type countingQueue struct{ calls atomic.Int32 }

func (q *countingQueue) Call(context.Context, queue.Message, time.Duration) (queue.Message, error) {
	q.calls.Add(1)
	return queue.Message{}, queue.ErrUndeliverable
}

func allow(resources ...string) session.Permissions {
	p := session.Permissions{Resources: map[string]session.ResourcePermissions{}}
	for _, r := range resources {
		p.Resources[r] = session.ResourcePermissions{Else: session.Allow}
	}
	return p
}

// sourceInteraction is an Order v1 create being served.
func sourceInteraction(sess *session.Session, additional session.Permissions) *resource.Interaction {
	order := &resource.Interface{
		Name:           "Order",
		Version:        1,
		Implementation: resource.Unimplemented{},
	}
	if additional.Resources != nil {
		order.AdditionalPermissions = map[action.Action]session.Permissions{action.Create: additional}
	}
	req := &resource.Request{
		Action: action.Create,
		Locale: "fr",
		Headers: map[string]string{
			"dated_at": "2026-03-01T00:00:00Z",
			"deja_vu":  "yes",
		},
	}
	return resource.NewInteraction("", order, sess, req, nil)
}

var _ = Describe("Factory", func() {
	It("builds an HTTP endpoint from a by-convention result", func() {
		res, err := discovery.ByConvention{Root: "https://api.example.com"}.Discover(context.Background(), "Widget", 1)
		Expect(err).NotTo(HaveOccurred())

		f := &Factory{}
		ep := f.Build(res, endpoint.Options{})
		httpEP, ok := ep.(*endpoint.HTTP)
		Expect(ok).To(BeTrue())
		Expect(httpEP.URL(action.Show, "abc-123", nil)).To(Equal("https://api.example.com/v1/widget/abc-123"))
		Expect(httpEP.Method(action.Show)).To(Equal(http.MethodGet))
	})

	It("never touches a transport for a not-found result", func() {
		doer := &countingDoer{}
		q := &countingQueue{}
		f := &Factory{HTTPClient: doer, Queue: q}
		ep := f.Build(discovery.NotFound("Widget", 1), endpoint.Options{})
		ctx := context.Background()

		for _, errs := range []*apierr.Collection{
			ep.List(ctx, nil).PlatformErrors(),
			ep.Show(ctx, "x", nil).PlatformErrors(),
			ep.Create(ctx, map[string]any{}, nil).PlatformErrors(),
			ep.Update(ctx, "x", map[string]any{}, nil).PlatformErrors(),
			ep.Delete(ctx, "x", nil).PlatformErrors(),
		} {
			Expect(errs.Len()).To(Equal(1))
			Expect(errs.Errors()[0].Code).To(Equal(apierr.PlatformNotFound))
		}
		Expect(doer.calls.Load()).To(BeZero())
		Expect(q.calls.Load()).To(BeZero())
	})

	It("treats queue results as not found without a queue client", func() {
		f := &Factory{}
		ep := f.Build(discovery.Queue("Widget", 1, "service.widget.v1"), endpoint.Options{})
		Expect(ep).To(BeAssignableToTypeOf(&endpoint.NotFound{}))
	})
})

var _ = Describe("Caller", func() {
	var (
		ctx      context.Context
		reg      *resource.Registry
		impl     *widgets
		sessions *session.MemoryStore
		caller   *Caller
	)

	BeforeEach(func() {
		ctx = context.Background()
		impl = &widgets{}
		reg = resource.NewRegistry()
		reg.MustRegister(&resource.Interface{Name: "Widget", Version: 1, Implementation: impl})
		sessions = session.NewMemoryStore()
		caller = New(Config{
			Discoverer:   discovery.NewCache(discovery.ByRegistry{Registry: reg}, nil),
			Sessions:     sessions,
			AutoTransfer: header.DefaultSet(),
			Locale:       "en-nz",
		})
	})

	Context("with a local target", func() {
		It("prefixes error messages and keeps codes and references", func() {
			sess := session.New("order-service", allow("widget"), time.Hour)
			rc := resource.NewContext(sourceInteraction(sess, session.Permissions{}), caller)

			res := rc.Resource("Widget", 1).Create(ctx, map[string]any{"colour": "red"}, nil)

			errs := res.PlatformErrors()
			Expect(errs.Len()).To(Equal(1))
			e := errs.Errors()[0]
			Expect(e.Code).To(Equal(apierr.GenericRequiredFieldMissing))
			Expect(e.Reference).To(Equal("name"))
			Expect(e.Message).To(Equal("Order v1 create -> Widget v1: Field `name` is required"))
			Expect(errs.HTTPStatusCode()).To(Equal(http.StatusUnprocessableEntity))
		})

		It("reuses the source session when no extra permissions apply", func() {
			sess := session.New("order-service", allow("widget"), time.Hour)
			rc := resource.NewContext(sourceInteraction(sess, session.Permissions{}), caller)

			res := rc.Resource("Widget", 1).Show(ctx, "w-9", nil)
			Expect(res.HasErrors()).To(BeFalse())
			Expect(res.Value["id"]).To(Equal("w-9"))
			Expect(impl.sessions).To(HaveLen(1))
			Expect(impl.sessions[0].ID).To(Equal(sess.ID))
		})

		It("copies only auto-transfer properties", func() {
			sess := session.New("order-service", allow("widget"), time.Hour)
			rc := resource.NewContext(sourceInteraction(sess, session.Permissions{}), caller)

			rc.Resource("Widget", 1).Show(ctx, "w-9", nil)
			Expect(impl.headers[0]).To(HaveKeyWithValue("dated_at", "2026-03-01T00:00:00Z"))
			Expect(impl.headers[0]).NotTo(HaveKey("deja_vu"))
		})

		It("scopes the session when the source action grants more", func() {
			sess := session.New("order-service", session.Permissions{}, time.Hour)
			rc := resource.NewContext(sourceInteraction(sess, allow("widget")), caller)

			res := rc.Resource("Widget", 1).Show(ctx, "w-9", nil)
			Expect(res.HasErrors()).To(BeFalse())
			Expect(impl.sessions[0].ID).NotTo(Equal(sess.ID))
			Expect(impl.sessions[0].Permitted("widget", action.Show)).To(BeTrue())
			Expect(sess.Permitted("widget", action.Show)).To(BeFalse(), "source session must not change")
			Expect(sessions.Len()).To(BeZero(), "local hops do not store sessions")
		})
	})

	Context("session preprocessing", func() {
		DescribeTable("refuses the call without dispatching",
			func(sess func() *session.Session) {
				rc := resource.NewContext(sourceInteraction(sess(), session.Permissions{}), caller)
				res := rc.Resource("Widget", 1).Show(ctx, "w-9", nil)

				Expect(res.PlatformErrors().Len()).To(Equal(1))
				Expect(res.PlatformErrors().Errors()[0].Code).To(Equal(apierr.PlatformInvalidSession))
				Expect(res.PlatformErrors().HTTPStatusCode()).To(Equal(http.StatusUnauthorized))
				Expect(impl.calls).To(BeZero())
			},
			Entry("missing session", func() *session.Session { return nil }),
			Entry("expired session", func() *session.Session {
				s := session.New("order-service", allow("widget"), time.Hour)
				s.ExpiresAt = time.Now().Add(-time.Minute)
				return s
			}),
			Entry("target not permitted", func() *session.Session {
				return session.New("order-service", allow("gadget"), time.Hour)
			}),
		)

		It("lets a not-found target report itself", func() {
			rc := resource.NewContext(sourceInteraction(nil, session.Permissions{}), caller)
			res := rc.Resource("Gadget", 1).Show(ctx, "x", nil)
			Expect(res.PlatformErrors().Errors()[0].Code).To(Equal(apierr.PlatformNotFound))
		})
	})

	Context("with an HTTP target", func() {
		var (
			srv       *httptest.Server
			seenIDs   []string
			storedNow []bool
			mu        sync.Mutex
		)

		BeforeEach(func() {
			seenIDs, storedNow = nil, nil
			srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				id := r.Header.Get(header.SessionID)
				_, err := sessions.Load(r.Context(), id)
				mu.Lock()
				seenIDs = append(seenIDs, id)
				storedNow = append(storedNow, err == nil)
				mu.Unlock()
				_, _ = w.Write([]byte(`{"id":"g-1"}`))
			}))
			DeferCleanup(srv.Close)

			caller = New(Config{
				Discoverer: discovery.Chain{
					discovery.ByRegistry{Registry: reg},
					discovery.ByConvention{Root: srv.URL},
				},
				Sessions:   sessions,
				HTTPClient: srv.Client(),
			})
		})

		It("mints a stored session for the hop and deletes it afterwards", func() {
			sess := session.New("order-service", session.Permissions{}, time.Hour)
			rc := resource.NewContext(sourceInteraction(sess, allow("gadget")), caller)

			res := rc.Resource("Gadget", 1).Show(ctx, "g-1", nil)
			Expect(res.HasErrors()).To(BeFalse())

			mu.Lock()
			defer mu.Unlock()
			Expect(seenIDs).To(HaveLen(1))
			Expect(seenIDs[0]).NotTo(Equal(sess.ID))
			Expect(storedNow[0]).To(BeTrue(), "scoped session must exist during the call")
			Expect(sessions.Len()).To(BeZero(), "scoped session must be removed after the call")
		})

		It("refuses a scoped remote hop without a session store", func() {
			caller = New(Config{
				Discoverer: discovery.ByConvention{Root: srv.URL},
				HTTPClient: srv.Client(),
			})
			sess := session.New("order-service", session.Permissions{}, time.Hour)
			rc := resource.NewContext(sourceInteraction(sess, allow("gadget")), caller)

			res := rc.Resource("Gadget", 1).Show(ctx, "g-1", nil)
			Expect(res.PlatformErrors().Errors()[0].Code).To(Equal(apierr.PlatformInvalidSession))
			mu.Lock()
			defer mu.Unlock()
			Expect(seenIDs).To(BeEmpty())
		})
	})

	Context("with a queue target that never replies", func() {
		It("yields one timeout and leaves nothing pending", func() {
			qctx, cancel := context.WithCancel(ctx)
			DeferCleanup(cancel)

			broker := queue.NewMemoryBroker(nil)
			silent, err := broker.Subscribe(qctx, "service.gadget.v1")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(silent.Close)

			client := queue.NewClient(broker, queue.NewTracker(time.Minute), "service", nil)
			Expect(client.Start(qctx)).To(Succeed())

			caller = New(Config{
				Discoverer:   discovery.ByRegistry{Registry: reg, QueuePrefix: "service"},
				Queue:        client,
				QueueTimeout: 100 * time.Millisecond,
			})

			for i := 0; i < 3; i++ {
				res := caller.Direct("Gadget", 1, endpoint.Options{}).List(ctx, nil)
				Expect(res.PlatformErrors().Len()).To(Equal(1))
				e := res.PlatformErrors().Errors()[0]
				Expect(e.Code).To(Equal(apierr.PlatformTimeout))
				Expect(e.Message).To(HavePrefix("list -> Gadget v1: "))
			}
			Expect(client.Tracker().InFlight()).To(BeZero())
		})
	})

	It("appends call errors after existing ones and keeps the first status", func() {
		sess := session.New("order-service", allow("widget"), time.Hour)
		rc := resource.NewContext(sourceInteraction(sess, session.Permissions{}), caller)
		rc.Response.AddError(apierr.GenericNotFound, apierr.Ref("ident", "o-1"), "")

		res := rc.Resource("Widget", 1).Create(ctx, map[string]any{}, &query.Query{})
		Expect(res.AddsErrorsTo(rc.Response.Errors)).To(BeTrue())

		errs := rc.Response.Errors.Errors()
		Expect(errs).To(HaveLen(2))
		Expect(errs[0].Code).To(Equal(apierr.GenericNotFound))
		Expect(errs[1].Code).To(Equal(apierr.GenericRequiredFieldMissing))
		Expect(rc.Response.Errors.HTTPStatusCode()).To(Equal(http.StatusNotFound))
	})
})
