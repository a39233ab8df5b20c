// Package session holds the authenticated context handed to every resource
// call: caller identity, scoping data, per-resource permissions and expiry.
//
// Sessions are values. Anything that needs a different view of a session
// (for example a scoped session minted for one downstream call) builds a
// new Session instead of mutating the one it was given.
package session

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/marcus-qen/courier/internal/action"
)

// DefaultLifetime applies when a session is created without one.
const DefaultLifetime = 24 * time.Hour

// Policy decides whether an action may run.
type Policy string

const (
	Allow Policy = "allow"
	Deny  Policy = "deny"
	// Ask defers the decision to the target resource implementation.
	Ask Policy = "ask"
)

// ResourcePermissions holds per-action policies for one resource. Else
// applies to actions not listed.
type ResourcePermissions struct {
	Actions map[action.Action]Policy `json:"actions,omitempty"`
	Else    Policy                   `json:"else,omitempty"`
}

// Permissions maps resource names to their policies. Default applies to
// resources with no entry of their own.
type Permissions struct {
	Default   ResourcePermissions            `json:"default"`
	Resources map[string]ResourcePermissions `json:"resources,omitempty"`
}

// PolicyFor resolves the policy for one resource action. Nothing matching
// means Deny.
func (p Permissions) PolicyFor(resource string, act action.Action) Policy {
	if rp, ok := p.Resources[resource]; ok {
		if pol := rp.Actions[act]; pol != "" {
			return pol
		}
		if rp.Else != "" {
			return rp.Else
		}
	}
	if pol := p.Default.Actions[act]; pol != "" {
		return pol
	}
	if p.Default.Else != "" {
		return p.Default.Else
	}
	return Deny
}

// Merge returns new permissions where other's entries are layered on top
// of p's. Neither input is modified.
func (p Permissions) Merge(other Permissions) Permissions {
	out := p.clone()
	out.Default = mergeResource(out.Default, other.Default)
	for name, rp := range other.Resources {
		if out.Resources == nil {
			out.Resources = make(map[string]ResourcePermissions)
		}
		out.Resources[name] = mergeResource(out.Resources[name], rp)
	}
	return out
}

// Equal reports whether both permission sets grant the same policies.
func (p Permissions) Equal(other Permissions) bool {
	return reflect.DeepEqual(p.clone(), other.clone())
}

func (p Permissions) clone() Permissions {
	out := Permissions{Default: p.Default.clone()}
	if len(p.Resources) > 0 {
		out.Resources = make(map[string]ResourcePermissions, len(p.Resources))
		for k, v := range p.Resources {
			out.Resources[k] = v.clone()
		}
	}
	return out
}

func (rp ResourcePermissions) clone() ResourcePermissions {
	out := ResourcePermissions{Else: rp.Else}
	if len(rp.Actions) > 0 {
		out.Actions = make(map[action.Action]Policy, len(rp.Actions))
		for k, v := range rp.Actions {
			out.Actions[k] = v
		}
	}
	return out
}

func mergeResource(base, over ResourcePermissions) ResourcePermissions {
	out := base.clone()
	if over.Else != "" {
		out.Else = over.Else
	}
	for act, pol := range over.Actions {
		if out.Actions == nil {
			out.Actions = make(map[action.Action]Policy)
		}
		out.Actions[act] = pol
	}
	return out
}

// Session is an authenticated caller context.
type Session struct {
	ID            string              `json:"session_id"`
	CallerID      string              `json:"caller_id"`
	CallerVersion int                 `json:"caller_version"`
	Identity      map[string]string   `json:"identity,omitempty"`
	Scoping       map[string][]string `json:"scoping,omitempty"`
	Permissions   Permissions         `json:"permissions"`
	CreatedAt     time.Time           `json:"created_at"`
	ExpiresAt     time.Time           `json:"expires_at"`
}

// New builds a session for callerID with a fresh id.
func New(callerID string, perms Permissions, lifetime time.Duration) *Session {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	now := time.Now().UTC()
	return &Session{
		ID:          uuid.NewString(),
		CallerID:    callerID,
		Permissions: perms.clone(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(lifetime),
	}
}

// Expired reports whether the session is past its expiry. A zero expiry
// never expires.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Permitted reports whether the session may run act on resource. Ask counts
// as permitted here; the target decides.
func (s *Session) Permitted(resource string, act action.Action) bool {
	switch s.Permissions.PolicyFor(resource, act) {
	case Allow, Ask:
		return true
	default:
		return false
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Permissions = s.Permissions.clone()
	if s.Identity != nil {
		cp.Identity = make(map[string]string, len(s.Identity))
		for k, v := range s.Identity {
			cp.Identity[k] = v
		}
	}
	if s.Scoping != nil {
		cp.Scoping = make(map[string][]string, len(s.Scoping))
		for k, v := range s.Scoping {
			cp.Scoping[k] = append([]string(nil), v...)
		}
	}
	return &cp
}

// Derive returns a new session with a fresh id and the given permissions,
// keeping identity, scoping and expiry.
func (s *Session) Derive(perms Permissions) *Session {
	cp := s.Clone()
	cp.ID = uuid.NewString()
	cp.Permissions = perms.clone()
	cp.CreatedAt = time.Now().UTC()
	return cp
}

// Create builds a new session and saves it to store.
func Create(ctx context.Context, store Store, callerID string, perms Permissions, lifetime time.Duration) (*Session, error) {
	sess := New(callerID, perms, lifetime)
	if err := store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}
