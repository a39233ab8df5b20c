// Package widgets provides the resources courierd serves out of the box:
// an in-memory Widget and an Assembly built from widgets. Assembly calls
// Widget through the inter-resource caller, so the pair exercises local,
// HTTP and queue hops end to end.
package widgets

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marcus-qen/courier/internal/action"
	"github.com/marcus-qen/courier/internal/apierr"
	"github.com/marcus-qen/courier/internal/resource"
)

// Widget is one stored widget.
type Widget struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Colour    string    `json:"colour,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (w *Widget) render() map[string]any {
	out := map[string]any{
		"id":         w.ID,
		"name":       w.Name,
		"created_at": w.CreatedAt.Format(time.RFC3339),
	}
	if w.Colour != "" {
		out["colour"] = w.Colour
	}
	return out
}

// Store keeps widgets in memory, in creation order.
type Store struct {
	mu      sync.RWMutex
	widgets map[string]*Widget
	order   []string
	logger  *zap.Logger
	now     func() time.Time
}

// NewStore creates an empty widget store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		widgets: make(map[string]*Widget),
		logger:  logger.Named("widgets"),
		now:     time.Now,
	}
}

// Create stores a new widget.
func (s *Store) Create(name, colour string) *Widget {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := &Widget{
		ID:        uuid.NewString(),
		Name:      name,
		Colour:    colour,
		CreatedAt: s.now().UTC(),
	}
	s.widgets[w.ID] = w
	s.order = append(s.order, w.ID)
	s.logger.Debug("widget created", zap.String("id", w.ID), zap.String("name", name))
	return w
}

// Get returns a copy of a widget.
func (s *Store) Get(id string) (Widget, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.widgets[id]
	if !ok {
		return Widget{}, false
	}
	return *w, true
}

// Update changes the given fields. Nil leaves a field as it is.
func (s *Store) Update(id string, name, colour *string) (Widget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.widgets[id]
	if !ok {
		return Widget{}, false
	}
	if name != nil {
		w.Name = *name
	}
	if colour != nil {
		w.Colour = *colour
	}
	return *w, true
}

// Delete removes a widget, returning what was removed.
func (s *Store) Delete(id string) (Widget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.widgets[id]
	if !ok {
		return Widget{}, false
	}
	delete(s.widgets, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.logger.Debug("widget deleted", zap.String("id", id))
	return *w, true
}

// ListOptions selects a page of widgets.
type ListOptions struct {
	Offset int
	Limit  int
	// Name matches widgets whose name contains it, ignoring case.
	Name string
	// SortKey is "name" or "created_at"; anything else keeps creation order.
	SortKey    string
	Descending bool
}

// List returns one page plus the number of widgets matching.
func (s *Store) List(opts ListOptions) ([]Widget, int) {
	s.mu.RLock()
	matched := make([]Widget, 0, len(s.order))
	needle := strings.ToLower(opts.Name)
	for _, id := range s.order {
		w := s.widgets[id]
		if needle != "" && !strings.Contains(strings.ToLower(w.Name), needle) {
			continue
		}
		matched = append(matched, *w)
	}
	s.mu.RUnlock()

	switch opts.SortKey {
	case "name":
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	case "created_at":
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	}
	if opts.Descending {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	total := len(matched)
	if opts.Offset >= total {
		return nil, total
	}
	end := total
	if opts.Limit > 0 && opts.Offset+opts.Limit < total {
		end = opts.Offset + opts.Limit
	}
	return matched[opts.Offset:end], total
}

// Len returns the number of stored widgets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.widgets)
}

// WidgetInterface describes Widget v1 served from store.
func WidgetInterface(store *Store) *resource.Interface {
	return &resource.Interface{
		Name:    "Widget",
		Version: 1,
		Validators: map[action.Action]resource.Validator{
			action.Create: validateWidgetCreate,
			action.Update: validateWidgetUpdate,
		},
		Implementation: &widgetImpl{store: store},
	}
}

func validateWidgetCreate(body map[string]any, errs *apierr.Collection) {
	requireString(body, "name", errs)
	optionalString(body, "colour", errs)
}

func validateWidgetUpdate(body map[string]any, errs *apierr.Collection) {
	optionalString(body, "name", errs)
	optionalString(body, "colour", errs)
}

func requireString(body map[string]any, field string, errs *apierr.Collection) {
	v, ok := body[field]
	if !ok || v == nil {
		errs.MustAddError(apierr.GenericRequiredFieldMissing, apierr.Ref("field_name", field), "")
		return
	}
	if s, isString := v.(string); !isString || s == "" {
		errs.MustAddError(apierr.GenericInvalidString, apierr.Ref("field_name", field), "")
	}
}

func optionalString(body map[string]any, field string, errs *apierr.Collection) {
	v, ok := body[field]
	if !ok {
		return
	}
	if _, isString := v.(string); !isString {
		errs.MustAddError(apierr.GenericInvalidString, apierr.Ref("field_name", field), "")
	}
}

func stringField(body map[string]any, field string) *string {
	if s, ok := body[field].(string); ok {
		return &s
	}
	return nil
}

type widgetImpl struct {
	store *Store
}

func (w *widgetImpl) List(_ context.Context, rc *resource.Context) {
	q := rc.Request.Query
	page, total := w.store.List(ListOptions{
		Offset:     q.Offset,
		Limit:      q.Limit,
		Name:       q.Search["name"],
		SortKey:    q.SortKey,
		Descending: q.SortDirection == "desc",
	})

	rc.Response.List = make([]map[string]any, 0, len(page))
	for i := range page {
		rc.Response.List = append(rc.Response.List, page[i].render())
	}
	rc.Response.SetDatasetSize(total)
}

func (w *widgetImpl) Show(_ context.Context, rc *resource.Context) {
	got, ok := w.store.Get(rc.Request.Ident)
	if !ok {
		notFound(rc)
		return
	}
	rc.Response.Body = got.render()
}

func (w *widgetImpl) Create(_ context.Context, rc *resource.Context) {
	body := rc.Request.Body
	colour := ""
	if c := stringField(body, "colour"); c != nil {
		colour = *c
	}
	created := w.store.Create(*stringField(body, "name"), colour)
	rc.Response.Body = created.render()
}

func (w *widgetImpl) Update(_ context.Context, rc *resource.Context) {
	body := rc.Request.Body
	got, ok := w.store.Update(rc.Request.Ident, stringField(body, "name"), stringField(body, "colour"))
	if !ok {
		notFound(rc)
		return
	}
	rc.Response.Body = got.render()
}

func (w *widgetImpl) Delete(_ context.Context, rc *resource.Context) {
	got, ok := w.store.Delete(rc.Request.Ident)
	if !ok {
		notFound(rc)
		return
	}
	rc.Response.Body = got.render()
}

func notFound(rc *resource.Context) {
	rc.Response.AddError(apierr.GenericNotFound, apierr.Ref("ident", rc.Request.Ident), "")
}
