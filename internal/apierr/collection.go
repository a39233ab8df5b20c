package apierr

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the resource kind reported by rendered error bodies.
const Kind = "Errors"

// UnknownCodeError is a programmer error: the code is not in the catalog.
type UnknownCodeError struct {
	Code string
}

func (e *UnknownCodeError) Error() string {
	return fmt.Sprintf("unknown error code %q", e.Code)
}

// MissingReferenceDataError is a programmer error: a required reference key
// was not supplied. Missing lists keys in declared order.
type MissingReferenceDataError struct {
	Code    string
	Missing []string
}

func (e *MissingReferenceDataError) Error() string {
	return fmt.Sprintf("error code %q requires reference data %s", e.Code, strings.Join(e.Missing, ", "))
}

// InvalidInteractionIDError is returned by Render for a non-UUID interaction id.
type InvalidInteractionIDError struct {
	ID string
}

func (e *InvalidInteractionIDError) Error() string {
	return fmt.Sprintf("interaction id %q is not a valid UUID", e.ID)
}

// Pair is one reference key/value.
type Pair struct {
	Key   string
	Value string
}

// Reference is ordered reference data attached to an error.
type Reference []Pair

// Ref builds a Reference from alternating keys and values.
func Ref(kv ...string) Reference {
	if len(kv)%2 != 0 {
		panic("apierr.Ref: odd number of arguments")
	}
	ref := make(Reference, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		ref = append(ref, Pair{Key: kv[i], Value: kv[i+1]})
	}
	return ref
}

// Get returns the value stored for key.
func (r Reference) Get(key string) (string, bool) {
	for _, p := range r {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Entry is one recorded error. Entries are never modified after being added.
type Entry struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Reference string `json:"reference,omitempty"`
}

// Rendered is the wire form of a collection.
type Rendered struct {
	ID            string  `json:"id"`
	CreatedAt     string  `json:"created_at"`
	Kind          string  `json:"kind"`
	InteractionID string  `json:"interaction_id"`
	Errors        []Entry `json:"errors"`
}

// Collection is an ordered list of coded errors belonging to one
// request/response cycle. It is not safe for concurrent use.
type Collection struct {
	id        string
	createdAt time.Time
	catalog   *Catalog
	entries   []Entry
	status    int
}

// NewCollection returns an empty collection validating codes against cat.
// A nil catalog means Builtin().
func NewCollection(cat *Catalog) *Collection {
	if cat == nil {
		cat = Builtin()
	}
	return &Collection{
		id:        uuid.NewString(),
		createdAt: time.Now().UTC(),
		catalog:   cat,
	}
}

// ID is the identity of this error report.
func (c *Collection) ID() string { return c.id }

// Catalog returns the catalog codes are validated against.
func (c *Collection) Catalog() *Catalog { return c.catalog }

// HasErrors reports whether any error was added.
func (c *Collection) HasErrors() bool { return c != nil && len(c.entries) > 0 }

// Len returns the number of entries.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Errors returns a copy of the entries in insertion order.
func (c *Collection) Errors() []Entry {
	if c == nil {
		return nil
	}
	return append([]Entry(nil), c.entries...)
}

// AddError records code with the given reference data. An empty message
// selects the catalog default with {key} placeholders filled in.
//
// The reference string lists required keys in declared order followed by any
// extra keys in the order supplied.
func (c *Collection) AddError(code string, ref Reference, message string) error {
	desc, ok := c.catalog.Describe(code)
	if !ok {
		return &UnknownCodeError{Code: code}
	}

	var missing []string
	for _, key := range desc.Required {
		if _, ok := ref.Get(key); !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &MissingReferenceDataError{Code: code, Missing: missing}
	}

	values := make([]string, 0, len(ref))
	used := make(map[string]bool, len(desc.Required))
	for _, key := range desc.Required {
		v, _ := ref.Get(key)
		values = append(values, v)
		used[key] = true
	}
	for _, p := range ref {
		if used[p.Key] {
			continue
		}
		used[p.Key] = true
		values = append(values, p.Value)
	}

	if message == "" {
		message = interpolate(desc.Message, ref)
	}

	c.append(desc.Status, Entry{Code: code, Message: message, Reference: JoinReference(values)})
	return nil
}

// MustAddError is AddError that panics on programmer errors.
func (c *Collection) MustAddError(code string, ref Reference, message string) {
	if err := c.AddError(code, ref, message); err != nil {
		panic(err)
	}
}

// AddPrecompiledError records an entry whose reference is already joined, as
// received from a remote service. Codes unknown to the local catalog are
// accepted and map to status 500.
func (c *Collection) AddPrecompiledError(code, message, reference string) {
	status := http.StatusInternalServerError
	if desc, ok := c.catalog.Describe(code); ok {
		status = desc.Status
		if message == "" {
			message = desc.Message
		}
	}
	if message == "" {
		message = code
	}
	c.append(status, Entry{Code: code, Message: message, Reference: reference})
}

func (c *Collection) append(status int, e Entry) {
	if len(c.entries) == 0 {
		c.status = status
	}
	c.entries = append(c.entries, e)
}

// Merge appends other's entries after the existing ones and reports whether
// other had any. The status of the first error already recorded here wins.
// Merging a collection into itself leaves it unchanged.
func (c *Collection) Merge(other *Collection) bool {
	if !other.HasErrors() {
		return false
	}
	if other == c {
		return true
	}
	if len(c.entries) == 0 {
		c.status = other.status
	}
	c.entries = append(c.entries, other.entries...)
	return true
}

// HTTPStatusCode is derived from the first error added, or 200 when empty.
func (c *Collection) HTTPStatusCode() int {
	if !c.HasErrors() {
		return http.StatusOK
	}
	return c.status
}

// Render returns the wire form of the collection for an interaction.
func (c *Collection) Render(interactionID string) (Rendered, error) {
	if _, err := uuid.Parse(interactionID); err != nil {
		return Rendered{}, &InvalidInteractionIDError{ID: interactionID}
	}
	errs := c.Errors()
	if errs == nil {
		errs = []Entry{}
	}
	return Rendered{
		ID:            c.id,
		CreatedAt:     c.createdAt.Format(time.RFC3339),
		Kind:          Kind,
		InteractionID: interactionID,
		Errors:        errs,
	}, nil
}

// Clear empties the collection, keeping its identity.
func (c *Collection) Clear() {
	c.entries = nil
	c.status = 0
}

// Clone returns an independent copy with the same identity.
func (c *Collection) Clone() *Collection {
	cp := *c
	cp.entries = append([]Entry(nil), c.entries...)
	return &cp
}

// PrefixMessages prepends prefix to every message. Codes and references are
// left untouched.
func (c *Collection) PrefixMessages(prefix string) {
	if prefix == "" {
		return
	}
	for i := range c.entries {
		c.entries[i].Message = prefix + c.entries[i].Message
	}
}

func interpolate(msg string, ref Reference) string {
	if !strings.Contains(msg, "{") {
		return msg
	}
	for _, p := range ref {
		msg = strings.ReplaceAll(msg, "{"+p.Key+"}", p.Value)
	}
	return msg
}
