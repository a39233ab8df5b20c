package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/marcus-qen/courier/internal/metrics"
	"github.com/marcus-qen/courier/internal/resource"
)

type cacheKey struct {
	path    string
	version int
}

// Cache remembers found results of another discoverer for the life of the
// process, or until cleared. NotFound and failed lookups are not cached, so
// a resource that appears later is picked up.
type Cache struct {
	next   Discoverer
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[cacheKey]Result
}

// NewCache wraps next.
func NewCache(next Discoverer, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		next:    next,
		logger:  logger.Named("discovery"),
		entries: make(map[cacheKey]Result),
	}
}

func (c *Cache) Discover(ctx context.Context, name string, version int) (Result, error) {
	k := cacheKey{path: resource.SnakeCase(name), version: version}

	c.mu.RLock()
	res, ok := c.entries[k]
	c.mu.RUnlock()
	if ok {
		metrics.RecordDiscovery(string(res.Kind), true)
		return res, nil
	}

	res, err := c.next.Discover(ctx, name, version)
	if err != nil {
		return Result{}, err
	}
	metrics.RecordDiscovery(string(res.Kind), false)
	c.logger.Debug("resolved resource",
		zap.String("component", "discovery"),
		zap.String("resource", name),
		zap.Int("version", version),
		zap.String("kind", string(res.Kind)),
	)

	if res.Found() {
		c.mu.Lock()
		c.entries[k] = res
		c.mu.Unlock()
	}
	return res, nil
}

// Clear forgets every cached result. It is safe to call concurrently with
// Discover.
func (c *Cache) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[cacheKey]Result)
	c.mu.Unlock()

	c.logger.Debug("cache cleared", zap.Int("entries", n))
}

// Len returns the number of cached results.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ScheduleFlush clears cache on the given cron schedule, e.g. "@every 5m".
func ScheduleFlush(c *cron.Cron, spec string, cache *Cache) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, cache.Clear)
	if err != nil {
		return 0, fmt.Errorf("schedule discovery cache flush %q: %w", spec, err)
	}
	return id, nil
}
