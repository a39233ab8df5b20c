package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExpired  = errors.New("session expired")
)

// Store persists sessions so remote services can load them by id.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Load returns a copy of the stored session. Expired sessions are removed
// and reported as ErrExpired.
func (s *MemoryStore) Load(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	if sess.Expired(s.now()) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return nil, ErrExpired
	}
	return sess.Clone(), nil
}

// Save stores a copy of sess, replacing any session with the same id.
func (s *MemoryStore) Save(_ context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return errors.New("save session: missing id")
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess.Clone()
	s.mu.Unlock()
	return nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// Cleanup deletes expired sessions and returns how many were removed.
func (s *MemoryStore) Cleanup() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
