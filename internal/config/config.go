// Package config provides configuration loading for courierd and courierctl.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Discovery modes.
const (
	DiscoveryConvention   = "convention"
	DiscoveryRegistry     = "registry"
	DiscoveryAnnouncement = "announcement"
)

// Session backends.
const (
	SessionsMemory   = "memory"
	SessionsRedis    = "redis"
	SessionsPostgres = "postgres"
	SessionsMySQL    = "mysql"
)

// Config holds all courier configuration.
type Config struct {
	// Listen address (default ":8080")
	ListenAddr string `yaml:"listen_addr"`
	// Log level (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`
	// Locale used for calls with no locale of their own
	Locale string `yaml:"locale"`

	Discovery DiscoveryConfig `yaml:"discovery"`
	Queue     QueueConfig     `yaml:"queue"`
	HTTP      HTTPConfig      `yaml:"http"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// Request properties copied from a served interaction into the calls
	// it makes
	AutoTransferHeaders []string `yaml:"auto_transfer_headers"`
}

// DiscoveryConfig selects how resources are located.
type DiscoveryConfig struct {
	Mode string `yaml:"mode"`
	// Root URI for by-convention discovery, e.g. https://api.example.com
	BaseURI string `yaml:"base_uri,omitempty"`
	// Routing key prefix for queue-served resources
	QueuePrefix string `yaml:"queue_prefix"`
	// Cron spec for flushing the discovery cache; empty disables flushing
	CacheFlush string `yaml:"cache_flush"`
	// Redis hash holding announcements
	RedisKey string `yaml:"redis_key,omitempty"`
	// Redis for announcements; defaults to the broker's Redis
	RedisURI string `yaml:"redis_uri,omitempty"`
	// Base URI this process announces for its own resources
	AnnounceURI string `yaml:"announce_uri,omitempty"`
}

// QueueConfig configures the message broker.
type QueueConfig struct {
	// memory:// or redis://host:port/db
	BrokerURI string        `yaml:"broker_uri"`
	Timeout   time.Duration `yaml:"timeout"`
}

// HTTPConfig configures outbound HTTP calls.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// SessionsConfig configures the session store.
type SessionsConfig struct {
	Backend  string        `yaml:"backend"`
	RedisURI string        `yaml:"redis_uri,omitempty"`
	// DSN for the postgres and mysql backends
	DSN      string        `yaml:"dsn,omitempty"`
	Lifetime time.Duration `yaml:"lifetime"`
}

// TracingConfig configures OTLP export. An empty endpoint disables tracing.
type TracingConfig struct {
	Endpoint string `yaml:"endpoint,omitempty"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		Locale:     "en-nz",
		Discovery: DiscoveryConfig{
			Mode:        DiscoveryRegistry,
			QueuePrefix: "service",
			CacheFlush:  "@every 5m",
			RedisKey:    "courier:announcements",
		},
		Queue: QueueConfig{
			BrokerURI: "memory://",
			Timeout:   5000 * time.Millisecond,
		},
		HTTP: HTTPConfig{Timeout: 5 * time.Second},
		Sessions: SessionsConfig{
			Backend:  SessionsMemory,
			Lifetime: 24 * time.Hour,
		},
		Metrics:             MetricsConfig{Enabled: true},
		AutoTransferHeaders: []string{"dated_at", "dated_from"},
	}
}

// Load reads configuration from a YAML file, then overlays environment
// variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"COURIER_LISTEN_ADDR":            &cfg.ListenAddr,
		"COURIER_LOG_LEVEL":              &cfg.LogLevel,
		"COURIER_LOCALE":                 &cfg.Locale,
		"COURIER_DISCOVERY_MODE":         &cfg.Discovery.Mode,
		"COURIER_DISCOVERY_BASE_URI":     &cfg.Discovery.BaseURI,
		"COURIER_DISCOVERY_QUEUE_PREFIX": &cfg.Discovery.QueuePrefix,
		"COURIER_DISCOVERY_CACHE_FLUSH":  &cfg.Discovery.CacheFlush,
		"COURIER_DISCOVERY_REDIS_KEY":    &cfg.Discovery.RedisKey,
		"COURIER_DISCOVERY_REDIS_URI":    &cfg.Discovery.RedisURI,
		"COURIER_DISCOVERY_ANNOUNCE_URI": &cfg.Discovery.AnnounceURI,
		"COURIER_QUEUE_BROKER_URI":       &cfg.Queue.BrokerURI,
		"COURIER_SESSIONS_BACKEND":       &cfg.Sessions.Backend,
		"COURIER_SESSIONS_REDIS_URI":     &cfg.Sessions.RedisURI,
		"COURIER_SESSIONS_DSN":           &cfg.Sessions.DSN,
		"COURIER_TRACING_ENDPOINT":       &cfg.Tracing.Endpoint,
	}
	for env, dst := range strs {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"COURIER_QUEUE_TIMEOUT":     &cfg.Queue.Timeout,
		"COURIER_HTTP_TIMEOUT":      &cfg.HTTP.Timeout,
		"COURIER_SESSIONS_LIFETIME": &cfg.Sessions.Lifetime,
	}
	for env, dst := range durations {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
		*dst = d
	}

	if v := os.Getenv("COURIER_METRICS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COURIER_METRICS_ENABLED: %w", err)
		}
		cfg.Metrics.Enabled = enabled
	}
	if v, ok := os.LookupEnv("COURIER_AUTO_TRANSFER_HEADERS"); ok {
		cfg.AutoTransferHeaders = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks values that have a fixed set of choices.
func (c Config) Validate() error {
	switch c.Discovery.Mode {
	case DiscoveryConvention:
		if c.Discovery.BaseURI == "" {
			return fmt.Errorf("discovery mode %q needs discovery.base_uri", c.Discovery.Mode)
		}
	case DiscoveryRegistry, DiscoveryAnnouncement:
	default:
		return fmt.Errorf("unknown discovery mode %q", c.Discovery.Mode)
	}

	switch c.Sessions.Backend {
	case SessionsMemory:
	case SessionsRedis:
		if c.Sessions.RedisURI == "" {
			return fmt.Errorf("sessions backend %q needs sessions.redis_uri", c.Sessions.Backend)
		}
	case SessionsPostgres, SessionsMySQL:
		if c.Sessions.DSN == "" {
			return fmt.Errorf("sessions backend %q needs sessions.dsn", c.Sessions.Backend)
		}
	default:
		return fmt.Errorf("unknown sessions backend %q", c.Sessions.Backend)
	}

	if !c.UsesMemoryBroker() && !strings.HasPrefix(c.Queue.BrokerURI, "redis://") && !strings.HasPrefix(c.Queue.BrokerURI, "rediss://") {
		return fmt.Errorf("unsupported broker URI %q", c.Queue.BrokerURI)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

// Save writes configuration to a file.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// UsesMemoryBroker reports whether queue calls stay in process.
func (c Config) UsesMemoryBroker() bool {
	return c.Queue.BrokerURI == "" || c.Queue.BrokerURI == "memory://"
}

// AnnouncementRedisURI is the Redis used for announcements.
func (c Config) AnnouncementRedisURI() string {
	if c.Discovery.RedisURI != "" {
		return c.Discovery.RedisURI
	}
	if !c.UsesMemoryBroker() {
		return c.Queue.BrokerURI
	}
	return c.Sessions.RedisURI
}
