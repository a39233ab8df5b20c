package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/marcus-qen/courier/internal/apierr"
	"github.com/marcus-qen/courier/internal/config"
	"github.com/marcus-qen/courier/internal/discovery"
	"github.com/marcus-qen/courier/internal/header"
	"github.com/marcus-qen/courier/internal/interresource"
	"github.com/marcus-qen/courier/internal/queue"
	"github.com/marcus-qen/courier/internal/resource"
	"github.com/marcus-qen/courier/internal/server"
	"github.com/marcus-qen/courier/internal/session"
	"github.com/marcus-qen/courier/internal/widgets"
)

// daemon is every long-lived component of courierd.
type daemon struct {
	cfg    config.Config
	logger *zap.Logger

	registry  *resource.Registry
	sessions  session.Store
	broker    queue.Broker
	tracker   *queue.Tracker
	client    *queue.Client
	cache     *discovery.Cache
	announcer *discovery.Announcements
	caller    *interresource.Caller
	inbound   *server.Inbound
	worker    *server.Worker
	scheduler *cron.Cron
	handler   http.Handler

	redisClients map[string]*redis.Client
	sqlSessions  *session.SQLStore
}

// build wires the daemon from cfg without starting anything.
func build(cfg config.Config, logger *zap.Logger) (*daemon, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &daemon{
		cfg:          cfg,
		logger:       logger,
		registry:     resource.NewRegistry(),
		scheduler:    cron.New(),
		redisClients: make(map[string]*redis.Client),
	}

	if err := widgets.Register(d.registry, widgets.NewStore(logger)); err != nil {
		return nil, fmt.Errorf("register resources: %w", err)
	}

	catalog := apierr.Builtin()
	transfer, err := header.NewSet(cfg.AutoTransferHeaders)
	if err != nil {
		return nil, fmt.Errorf("auto_transfer_headers: %w", err)
	}

	if err := d.buildSessions(); err != nil {
		return nil, err
	}
	if err := d.buildBroker(); err != nil {
		return nil, err
	}

	base, err := d.buildDiscoverer()
	if err != nil {
		return nil, err
	}
	d.cache = discovery.NewCache(base, logger)
	if cfg.Discovery.CacheFlush != "" {
		if _, err := discovery.ScheduleFlush(d.scheduler, cfg.Discovery.CacheFlush, d.cache); err != nil {
			return nil, fmt.Errorf("discovery.cache_flush: %w", err)
		}
	}

	d.caller = interresource.New(interresource.Config{
		Discoverer:   d.cache,
		Sessions:     d.sessions,
		HTTPClient:   &http.Client{},
		HTTPTimeout:  cfg.HTTP.Timeout,
		Queue:        d.client,
		QueueTimeout: cfg.Queue.Timeout,
		AutoTransfer: transfer,
		Catalog:      catalog,
		Locale:       cfg.Locale,
		Logger:       logger,
	})
	d.inbound = server.NewInbound(server.Config{
		Registry: d.registry,
		Sessions: d.sessions,
		Caller:   d.caller,
		Catalog:  catalog,
		Logger:   logger,
	})
	d.worker = server.NewWorker(d.inbound, d.broker, logger)

	router := server.NewRouter(d.inbound, logger)
	if cfg.Metrics.Enabled {
		router.Handle("/metrics", promhttp.Handler())
	}
	d.handler = router
	return d, nil
}

func (d *daemon) redisClient(uri string) (*redis.Client, error) {
	if c, ok := d.redisClients[uri]; ok {
		return c, nil
	}
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse redis URI: %w", err)
	}
	c := redis.NewClient(opts)
	d.redisClients[uri] = c
	return c, nil
}

func (d *daemon) buildSessions() error {
	switch d.cfg.Sessions.Backend {
	case config.SessionsRedis:
		c, err := d.redisClient(d.cfg.Sessions.RedisURI)
		if err != nil {
			return fmt.Errorf("sessions: %w", err)
		}
		d.sessions = session.NewRedisStore(c, session.DefaultRedisPrefix)
	case config.SessionsPostgres, config.SessionsMySQL:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := session.OpenSQLStore(ctx, d.cfg.Sessions.Backend, d.cfg.Sessions.DSN)
		if err != nil {
			return fmt.Errorf("sessions: %w", err)
		}
		d.sqlSessions = store
		d.sessions = store
		if _, err := d.scheduler.AddFunc("@every 5m", func() {
			n, err := store.Cleanup(context.Background())
			if err != nil {
				d.logger.Warn("session cleanup", zap.Error(err))
				return
			}
			if n > 0 {
				d.logger.Debug("expired sessions removed", zap.Int64("count", n))
			}
		}); err != nil {
			return fmt.Errorf("schedule session cleanup: %w", err)
		}
	default:
		mem := session.NewMemoryStore()
		d.sessions = mem
		if _, err := d.scheduler.AddFunc("@every 1m", func() {
			if n := mem.Cleanup(); n > 0 {
				d.logger.Debug("expired sessions removed", zap.Int("count", n))
			}
		}); err != nil {
			return fmt.Errorf("schedule session cleanup: %w", err)
		}
	}
	return nil
}

func (d *daemon) buildBroker() error {
	if d.cfg.UsesMemoryBroker() {
		d.broker = queue.NewMemoryBroker(d.logger)
	} else {
		c, err := d.redisClient(d.cfg.Queue.BrokerURI)
		if err != nil {
			return fmt.Errorf("queue: %w", err)
		}
		d.broker = queue.NewRedisBroker(c, d.logger)
	}
	// Entries outlive their call timeout only if a caller never cancels.
	d.tracker = queue.NewTracker(2*d.cfg.Queue.Timeout + time.Minute)
	d.client = queue.NewClient(d.broker, d.tracker, d.cfg.Discovery.QueuePrefix, d.logger)
	return nil
}

func (d *daemon) buildDiscoverer() (discovery.Discoverer, error) {
	local := discovery.ByRegistry{Registry: d.registry}
	switch d.cfg.Discovery.Mode {
	case config.DiscoveryConvention:
		return discovery.Chain{local, discovery.ByConvention{Root: d.cfg.Discovery.BaseURI}}, nil
	case config.DiscoveryAnnouncement:
		uri := d.cfg.AnnouncementRedisURI()
		if uri == "" {
			return nil, fmt.Errorf("announcement discovery needs a redis URI")
		}
		c, err := d.redisClient(uri)
		if err != nil {
			return nil, fmt.Errorf("announcements: %w", err)
		}
		d.announcer = discovery.NewAnnouncements(c, d.cfg.Discovery.RedisKey)
		return discovery.Chain{local, d.announcer}, nil
	default:
		return discovery.ByRegistry{Registry: d.registry, QueuePrefix: d.cfg.Discovery.QueuePrefix}, nil
	}
}

// locate is where this process tells others to find iface.
func (d *daemon) locate(iface *resource.Interface) discovery.Result {
	if d.cfg.Discovery.AnnounceURI != "" {
		return discovery.HTTP(iface.Name, iface.Version,
			discovery.ConventionURI(d.cfg.Discovery.AnnounceURI, iface.Name, iface.Version))
	}
	return discovery.Queue(iface.Name, iface.Version,
		discovery.RoutingKey(d.cfg.Discovery.QueuePrefix, iface.Name, iface.Version))
}

// start launches the background parts: reply consumer, tracker reaper,
// queue worker, scheduler and announcements.
func (d *daemon) start(ctx context.Context) error {
	if err := d.client.Start(ctx); err != nil {
		return fmt.Errorf("start queue client: %w", err)
	}
	go d.tracker.Start(ctx)

	keys := server.RoutingKeys(d.registry, d.cfg.Discovery.QueuePrefix)
	if err := d.worker.Start(ctx, keys); err != nil {
		return fmt.Errorf("start queue worker: %w", err)
	}
	d.scheduler.Start()

	if d.announcer != nil {
		if err := d.announcer.AnnounceRegistry(ctx, d.registry, d.locate); err != nil {
			return fmt.Errorf("announce resources: %w", err)
		}
		d.logger.Info("resources announced", zap.Int("count", len(d.registry.All())))
	}
	return nil
}

// stop releases everything start acquired. Announcements are withdrawn so
// peers stop routing here.
func (d *daemon) stop(ctx context.Context) {
	if d.announcer != nil {
		for _, iface := range d.registry.All() {
			if err := d.announcer.Withdraw(ctx, iface.Name, iface.Version); err != nil {
				d.logger.Warn("withdraw announcement", zap.String("resource", iface.Name), zap.Error(err))
			}
		}
	}
	<-d.scheduler.Stop().Done()
	d.worker.Stop()
	if err := d.client.Close(); err != nil {
		d.logger.Warn("close queue client", zap.Error(err))
	}
	if d.sqlSessions != nil {
		if err := d.sqlSessions.Close(); err != nil {
			d.logger.Warn("close sessions db", zap.Error(err))
		}
	}
	for uri, c := range d.redisClients {
		if err := c.Close(); err != nil {
			d.logger.Warn("close redis client", zap.String("uri", uri), zap.Error(err))
		}
	}
}
