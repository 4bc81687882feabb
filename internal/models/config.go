// Package models - Service configuration and wire types.
// This file defines the configuration tree for the rate limiter service.
//
// Configuration is grouped by component (server, rate limiting, proxy,
// journal, storage, logging, metrics, observability). Every section has a
// usable default and a Validate method so misconfigurations surface at
// startup rather than on the first request.
package models

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Storage type constants
const (
	StorageTypeJSON     = "json"
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
	StorageTypeRedis    = "redis"
)

// Built-in profile names. They mirror the profiles shipped by the ratelimit
// package and are the defaults written by NewDefaultConfig.
const (
	ProfileAuth      = "auth"
	ProfileAPI       = "api"
	ProfileGeneral   = "general"
	ProfileSensitive = "sensitive"
)

// Config is the root configuration structure.
//
// Sections:
// - Server: HTTP listener settings
// - RateLimit: named limiter profiles
// - Proxy: optional upstream routes guarded by a profile
// - Journal: asynchronous recording of denied requests
// - Storage: backend for journaled denials
// - Logging, Metrics, Observability: telemetry
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Proxy         ProxyConfig         `yaml:"proxy" json:"proxy"`
	Journal       JournalConfig       `yaml:"journal" json:"journal"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

// RateLimitConfig holds the named limiter profiles.
//
// DefaultProfile guards the service's own admin routes. CleanupInterval of
// zero means each profile evicts idle buckets once per window.
type RateLimitConfig struct {
	Enabled         bool                              `yaml:"enabled" json:"enabled"`
	DefaultProfile  string                            `yaml:"default_profile" json:"default_profile"`
	CleanupInterval time.Duration                     `yaml:"cleanup_interval" json:"cleanup_interval"`
	KeyStrategy     string                            `yaml:"key_strategy" json:"key_strategy"`
	KeyHeader       string                            `yaml:"key_header" json:"key_header"`
	Profiles        map[string]RateLimitProfileConfig `yaml:"profiles" json:"profiles"`
}

// Key strategies select how clients are bucketed.
const (
	KeyStrategyDefault = "ip_user_agent"
	KeyStrategyIP      = "ip"
	KeyStrategyHeader  = "header"
)

// RateLimitProfileConfig allows Requests per Window.
type RateLimitProfileConfig struct {
	Requests int           `yaml:"requests" json:"requests"`
	Window   time.Duration `yaml:"window" json:"window"`
}

// ProxyConfig enables gateway mode: each route prefix is forwarded to
// Upstream after passing its profile's limiter.
type ProxyConfig struct {
	Enabled  bool         `yaml:"enabled" json:"enabled"`
	Upstream string       `yaml:"upstream" json:"upstream"`
	Routes   []ProxyRoute `yaml:"routes" json:"routes"`
}

type ProxyRoute struct {
	Prefix  string `yaml:"prefix" json:"prefix"`
	Profile string `yaml:"profile" json:"profile"`
}

// JournalConfig controls recording of denied requests.
//
// Recording never blocks the request path: events beyond BufferSize or
// above MaxEventsPerSecond are dropped and counted.
type JournalConfig struct {
	Enabled            bool          `yaml:"enabled" json:"enabled"`
	BufferSize         int           `yaml:"buffer_size" json:"buffer_size"`
	MaxEventsPerSecond float64       `yaml:"max_events_per_second" json:"max_events_per_second"`
	Burst              int           `yaml:"burst" json:"burst"`
	Retention          time.Duration `yaml:"retention" json:"retention"`
	PruneInterval      time.Duration `yaml:"prune_interval" json:"prune_interval"`
}

type StorageConfig struct {
	Type     string            `yaml:"type" json:"type"`
	Path     string            `yaml:"path" json:"path"`
	Database DatabaseConfig    `yaml:"database" json:"database"`
	Redis    RedisConfig       `yaml:"redis" json:"redis"`
	Options  map[string]string `yaml:"options" json:"options"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// RedisConfig configures the Redis journal backend. Events are kept in a
// list capped at MaxEvents entries.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"-"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
	MaxEvents int64  `yaml:"max_events" json:"max_events"`
}

// LoggingConfig selects the slog handler. MaskClientIPs replaces the host
// part of every client_ip attribute before it is written.
type LoggingConfig struct {
	Level         string `yaml:"level" json:"level"`
	Format        string `yaml:"format" json:"format"`
	Output        string `yaml:"output" json:"output"`
	FilePath      string `yaml:"file_path" json:"file_path"`
	MaskClientIPs bool   `yaml:"mask_client_ips" json:"mask_client_ips"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Environment string        `yaml:"environment" json:"environment"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// DefaultRateLimitProfiles returns the built-in profiles: strict for
// authentication and sensitive operations, moderate for API calls, lenient
// for general traffic.
func DefaultRateLimitProfiles() map[string]RateLimitProfileConfig {
	return map[string]RateLimitProfileConfig{
		ProfileAuth:      {Requests: 5, Window: 15 * time.Minute},
		ProfileAPI:       {Requests: 100, Window: time.Minute},
		ProfileGeneral:   {Requests: 1000, Window: time.Minute},
		ProfileSensitive: {Requests: 3, Window: time.Minute},
	}
}

// NewDefaultConfig creates a configuration that runs without any external
// dependency: in-memory journal storage, JSON logs on stdout, metrics on
// port 9090 and tracing off.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			DefaultProfile: ProfileAPI,
			KeyStrategy:    KeyStrategyDefault,
			Profiles:       DefaultRateLimitProfiles(),
		},
		Proxy: ProxyConfig{
			Routes: []ProxyRoute{},
		},
		Journal: JournalConfig{
			Enabled:            true,
			BufferSize:         1024,
			MaxEventsPerSecond: 100,
			Burst:              200,
			Retention:          24 * time.Hour,
			PruneInterval:      time.Hour,
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Path: "./data/denials.json",
			Database: DatabaseConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				PoolSize:  10,
				KeyPrefix: "ratelimiter",
				MaxEvents: 10000,
			},
			Options: make(map[string]string),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "ratelimiter",
			Environment: "development",
			Tracing: TracingConfig{
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.Proxy.Validate(c.RateLimit.Profiles); err != nil {
		return fmt.Errorf("invalid proxy config: %w", err)
	}

	if err := c.Journal.Validate(); err != nil {
		return fmt.Errorf("invalid journal config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (rc *RateLimitConfig) Validate() error {
	if len(rc.Profiles) == 0 {
		return errors.New("at least one profile is required")
	}

	for name, p := range rc.Profiles {
		if strings.TrimSpace(name) == "" {
			return errors.New("profile name cannot be empty")
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("profile %q: %w", name, err)
		}
	}

	if rc.DefaultProfile != "" {
		if _, ok := rc.Profiles[rc.DefaultProfile]; !ok {
			return fmt.Errorf("default profile %q is not defined", rc.DefaultProfile)
		}
	}

	if rc.CleanupInterval < 0 {
		return errors.New("cleanup interval cannot be negative")
	}

	switch rc.KeyStrategy {
	case "", KeyStrategyDefault, KeyStrategyIP:
	case KeyStrategyHeader:
		if rc.KeyHeader == "" {
			return errors.New("key header is required for the header key strategy")
		}
	default:
		return fmt.Errorf("invalid key strategy: %s", rc.KeyStrategy)
	}

	return nil
}

func (p RateLimitProfileConfig) Validate() error {
	if p.Requests <= 0 {
		return fmt.Errorf("requests must be positive, got %d", p.Requests)
	}
	if p.Window < time.Millisecond {
		return fmt.Errorf("window must be at least 1ms, got %s", p.Window)
	}
	return nil
}

func (pc *ProxyConfig) Validate(profiles map[string]RateLimitProfileConfig) error {
	if !pc.Enabled {
		return nil
	}

	u, err := url.Parse(pc.Upstream)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid upstream URL: %q", pc.Upstream)
	}

	if len(pc.Routes) == 0 {
		return errors.New("at least one route is required when proxy is enabled")
	}

	for _, r := range pc.Routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			return fmt.Errorf("route prefix must start with '/': %q", r.Prefix)
		}
		if strings.HasPrefix(r.Prefix, "/api/v1/") || r.Prefix == "/api/v1" || r.Prefix == "/health" {
			return fmt.Errorf("route prefix %q collides with service routes", r.Prefix)
		}
		if _, ok := profiles[r.Profile]; !ok {
			return fmt.Errorf("route %q references unknown profile %q", r.Prefix, r.Profile)
		}
	}

	return nil
}

func (jc *JournalConfig) Validate() error {
	if !jc.Enabled {
		return nil
	}

	if jc.BufferSize <= 0 {
		return errors.New("buffer size must be positive")
	}

	if jc.MaxEventsPerSecond < 0 {
		return errors.New("max events per second cannot be negative")
	}

	if jc.MaxEventsPerSecond > 0 && jc.Burst <= 0 {
		return errors.New("burst must be positive when events are throttled")
	}

	if jc.Retention < 0 || jc.PruneInterval < 0 {
		return errors.New("retention and prune interval cannot be negative")
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	validTypes := []string{StorageTypeJSON, StorageTypeMemory, StorageTypePostgres, StorageTypeSQLite, StorageTypeRedis}
	if !slices.Contains(validTypes, stc.Type) {
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}

	switch stc.Type {
	case StorageTypeJSON:
		if stc.Path == "" {
			return errors.New("path is required for JSON storage")
		}
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
	case StorageTypeRedis:
		if stc.Redis.Addr == "" {
			return errors.New("redis address is required for redis storage")
		}
		if stc.Redis.MaxEvents <= 0 {
			return errors.New("redis max events must be positive")
		}
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !slices.Contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !slices.Contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty")
	}

	if !oc.Tracing.Enabled {
		return nil
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}
