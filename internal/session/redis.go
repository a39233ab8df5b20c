package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces session keys.
const DefaultRedisPrefix = "courier:session:"

// RedisStore keeps sessions as JSON values that expire with the session.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps an existing client. An empty prefix means
// DefaultRedisPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

// Load fetches and decodes a session.
func (s *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.Expired(s.now()) {
		_ = s.client.Del(ctx, s.key(id)).Err()
		return nil, ErrExpired
	}
	return &sess, nil
}

// Save writes sess with a TTL matching its remaining lifetime.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return errors.New("save session: missing id")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	var ttl time.Duration
	if !sess.ExpiresAt.IsZero() {
		ttl = sess.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return ErrExpired
		}
	}
	if err := s.client.Set(ctx, s.key(sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Delete removes a session.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
