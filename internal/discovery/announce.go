package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/marcus-qen/courier/internal/resource"
)

// DefaultAnnouncementKey is the Redis hash holding announcements.
const DefaultAnnouncementKey = "courier:announcements"

type announcement struct {
	Kind       Kind   `json:"kind"`
	Resource   string `json:"resource"`
	Version    int    `json:"version"`
	BaseURI    string `json:"base_uri,omitempty"`
	RoutingKey string `json:"routing_key,omitempty"`
}

// Announcements is a discoverer backed by a shared Redis hash that services
// write their own addresses into at startup.
type Announcements struct {
	client redis.UniversalClient
	key    string
}

// NewAnnouncements uses the hash at key, or DefaultAnnouncementKey.
func NewAnnouncements(client redis.UniversalClient, key string) *Announcements {
	if key == "" {
		key = DefaultAnnouncementKey
	}
	return &Announcements{client: client, key: key}
}

func field(name string, version int) string {
	return resource.SnakeCase(name) + "/v" + strconv.Itoa(version)
}

// Announce publishes where res can be reached. Only HTTP and queue
// results can be announced.
func (a *Announcements) Announce(ctx context.Context, res Result) error {
	if res.Kind != KindHTTP && res.Kind != KindQueue {
		return fmt.Errorf("cannot announce %s result for %s v%d", res.Kind, res.Resource, res.Version)
	}
	data, err := json.Marshal(announcement{
		Kind:       res.Kind,
		Resource:   res.Resource,
		Version:    res.Version,
		BaseURI:    res.BaseURI,
		RoutingKey: res.RoutingKey,
	})
	if err != nil {
		return fmt.Errorf("encode announcement: %w", err)
	}
	if err := a.client.HSet(ctx, a.key, field(res.Resource, res.Version), data).Err(); err != nil {
		return fmt.Errorf("announce %s v%d: %w", res.Resource, res.Version, err)
	}
	return nil
}

// AnnounceRegistry announces every resource in reg at the address built by
// locate.
func (a *Announcements) AnnounceRegistry(ctx context.Context, reg *resource.Registry, locate func(*resource.Interface) Result) error {
	for _, iface := range reg.All() {
		if err := a.Announce(ctx, locate(iface)); err != nil {
			return err
		}
	}
	return nil
}

// Withdraw removes an announcement.
func (a *Announcements) Withdraw(ctx context.Context, name string, version int) error {
	if err := a.client.HDel(ctx, a.key, field(name, version)).Err(); err != nil {
		return fmt.Errorf("withdraw %s v%d: %w", name, version, err)
	}
	return nil
}

func (a *Announcements) Discover(ctx context.Context, name string, version int) (Result, error) {
	data, err := a.client.HGet(ctx, a.key, field(name, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return NotFound(name, version), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("discover %s v%d: %w", name, version, err)
	}

	var ann announcement
	if err := json.Unmarshal(data, &ann); err != nil {
		return Result{}, fmt.Errorf("decode announcement for %s v%d: %w", name, version, err)
	}
	switch ann.Kind {
	case KindHTTP:
		return HTTP(name, version, ann.BaseURI), nil
	case KindQueue:
		return Queue(name, version, ann.RoutingKey), nil
	default:
		return NotFound(name, version), nil
	}
}
