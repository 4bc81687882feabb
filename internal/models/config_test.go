package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	// Test server defaults
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, 30*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, config.Server.WriteTimeout)
	assert.Equal(t, 60*time.Second, config.Server.IdleTimeout)
	assert.False(t, config.Server.TLSEnabled)

	// Test rate limit defaults
	assert.True(t, config.RateLimit.Enabled)
	assert.Equal(t, ProfileAPI, config.RateLimit.DefaultProfile)
	assert.Equal(t, KeyStrategyDefault, config.RateLimit.KeyStrategy)
	assert.Zero(t, config.RateLimit.CleanupInterval)
	assert.Equal(t, RateLimitProfileConfig{Requests: 5, Window: 15 * time.Minute}, config.RateLimit.Profiles[ProfileAuth])
	assert.Equal(t, RateLimitProfileConfig{Requests: 100, Window: time.Minute}, config.RateLimit.Profiles[ProfileAPI])
	assert.Equal(t, RateLimitProfileConfig{Requests: 1000, Window: time.Minute}, config.RateLimit.Profiles[ProfileGeneral])
	assert.Equal(t, RateLimitProfileConfig{Requests: 3, Window: time.Minute}, config.RateLimit.Profiles[ProfileSensitive])

	// Test proxy and journal defaults
	assert.False(t, config.Proxy.Enabled)
	assert.True(t, config.Journal.Enabled)
	assert.Equal(t, 1024, config.Journal.BufferSize)
	assert.Equal(t, 24*time.Hour, config.Journal.Retention)

	// Test storage defaults
	assert.Equal(t, StorageTypeMemory, config.Storage.Type)
	assert.Equal(t, "localhost:6379", config.Storage.Redis.Addr)
	assert.Equal(t, int64(10000), config.Storage.Redis.MaxEvents)
	assert.NotNil(t, config.Storage.Options)

	// Test logging defaults
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.Equal(t, "stdout", config.Logging.Output)

	// Test metrics defaults
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, "/metrics", config.Metrics.Path)
	assert.Equal(t, 9090, config.Metrics.Port)

	// Test observability defaults
	assert.Equal(t, "ratelimiter", config.Observability.ServiceName)
	assert.False(t, config.Observability.Tracing.Enabled)
	assert.Equal(t, "stdout", config.Observability.Tracing.Exporter)
	assert.Equal(t, 1.0, config.Observability.Tracing.SampleRate)

	require.NoError(t, config.Validate())
}

func TestDefaultRateLimitProfilesAreIndependentCopies(t *testing.T) {
	a := DefaultRateLimitProfiles()
	a[ProfileAuth] = RateLimitProfileConfig{Requests: 1, Window: time.Second}

	b := DefaultRateLimitProfiles()
	assert.Equal(t, 5, b[ProfileAuth].Requests)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server config"},
		{"empty host", func(c *Config) { c.Server.Host = "" }, "host cannot be empty"},
		{"negative timeout", func(c *Config) { c.Server.ReadTimeout = -time.Second }, "timeouts cannot be negative"},
		{"tls without cert", func(c *Config) { c.Server.TLSEnabled = true }, "TLS cert file is required"},
		{"no profiles", func(c *Config) { c.RateLimit.Profiles = nil }, "at least one profile"},
		{"zero requests", func(c *Config) {
			c.RateLimit.Profiles["api"] = RateLimitProfileConfig{Requests: 0, Window: time.Minute}
		}, `profile "api": requests must be positive`},
		{"zero window", func(c *Config) {
			c.RateLimit.Profiles["api"] = RateLimitProfileConfig{Requests: 10}
		}, "window must be at least 1ms"},
		{"unknown default profile", func(c *Config) { c.RateLimit.DefaultProfile = "nope" }, `default profile "nope"`},
		{"negative cleanup", func(c *Config) { c.RateLimit.CleanupInterval = -time.Second }, "cleanup interval"},
		{"bad key strategy", func(c *Config) { c.RateLimit.KeyStrategy = "cookie" }, "invalid key strategy"},
		{"header strategy without header", func(c *Config) { c.RateLimit.KeyStrategy = KeyStrategyHeader }, "key header is required"},
		{"proxy without upstream", func(c *Config) { c.Proxy.Enabled = true }, "invalid upstream URL"},
		{"proxy without routes", func(c *Config) {
			c.Proxy.Enabled = true
			c.Proxy.Upstream = "http://backend:8081"
		}, "at least one route"},
		{"proxy route unknown profile", func(c *Config) {
			c.Proxy = ProxyConfig{Enabled: true, Upstream: "http://backend:8081", Routes: []ProxyRoute{{Prefix: "/login", Profile: "nope"}}}
		}, "unknown profile"},
		{"proxy route shadows service", func(c *Config) {
			c.Proxy = ProxyConfig{Enabled: true, Upstream: "http://backend:8081", Routes: []ProxyRoute{{Prefix: "/api/v1/users", Profile: "api"}}}
		}, "collides with service routes"},
		{"proxy route without slash", func(c *Config) {
			c.Proxy = ProxyConfig{Enabled: true, Upstream: "http://backend:8081", Routes: []ProxyRoute{{Prefix: "login", Profile: "auth"}}}
		}, "must start with '/'"},
		{"journal zero buffer", func(c *Config) { c.Journal.BufferSize = 0 }, "buffer size must be positive"},
		{"journal throttled without burst", func(c *Config) { c.Journal.Burst = 0 }, "burst must be positive"},
		{"journal disabled skips checks", func(c *Config) {
			c.Journal.Enabled = false
			c.Journal.BufferSize = 0
		}, ""},
		{"bad storage type", func(c *Config) { c.Storage.Type = "mongo" }, "invalid storage type: mongo"},
		{"json without path", func(c *Config) {
			c.Storage.Type = StorageTypeJSON
			c.Storage.Path = ""
		}, "path is required"},
		{"sqlite without dsn", func(c *Config) { c.Storage.Type = StorageTypeSQLite }, "database DSN is required"},
		{"redis without addr", func(c *Config) {
			c.Storage.Type = StorageTypeRedis
			c.Storage.Redis.Addr = ""
		}, "redis address is required"},
		{"redis without cap", func(c *Config) {
			c.Storage.Type = StorageTypeRedis
			c.Storage.Redis.MaxEvents = 0
		}, "redis max events"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level"},
		{"file output without path", func(c *Config) { c.Logging.Output = "file" }, "file path is required"},
		{"metrics bad port", func(c *Config) { c.Metrics.Port = 70000 }, "metrics port"},
		{"metrics disabled skips checks", func(c *Config) {
			c.Metrics.Enabled = false
			c.Metrics.Port = 0
		}, ""},
		{"empty service name", func(c *Config) { c.Observability.ServiceName = "" }, "service name"},
		{"otlp without endpoint", func(c *Config) {
			c.Observability.Tracing.Enabled = true
			c.Observability.Tracing.Exporter = "otlp"
		}, "OTLP endpoint is required"},
		{"bad sample rate", func(c *Config) {
			c.Observability.Tracing.Enabled = true
			c.Observability.Tracing.SampleRate = 1.5
		}, "sample rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewDefaultConfig()
			tt.mutate(c)

			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProxyConfig_ValidRoutes(t *testing.T) {
	c := NewDefaultConfig()
	c.Proxy = ProxyConfig{
		Enabled:  true,
		Upstream: "https://backend.internal:8443",
		Routes: []ProxyRoute{
			{Prefix: "/auth", Profile: ProfileAuth},
			{Prefix: "/", Profile: ProfileGeneral},
		},
	}
	assert.NoError(t, c.Validate())
}
