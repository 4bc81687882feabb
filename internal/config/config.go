package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ratelimiter/internal/models"
)

const (
	envPrefix        = "RATELIMITER_"
	envProfilePrefix = envPrefix + "PROFILE_"
	defaultEnvFile   = ".env"
)

// Load builds the service configuration. Sources are applied in order, each
// overriding the previous one: defaults, the YAML file at configPath (if
// given), then RATELIMITER_* environment variables. Variables found in a
// .env file are added to the environment first without replacing variables
// that are already set.
func Load(configPath string) (*models.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadFromEnvironment(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadDotEnv reads RATELIMITER_ENV_FILE, or ./.env when unset. A missing
// default file is not an error; a missing explicit file is.
func loadDotEnv() error {
	path := os.Getenv(envPrefix + "ENV_FILE")
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}

	err := godotenv.Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// loadFromFile loads configuration from a YAML file. Profiles present in the
// file replace the built-in profile of the same name; other built-in
// profiles are kept.
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment applies RATELIMITER_* overrides. Unparseable numbers
// and durations are ignored like missing variables, except for profile
// overrides, where a typo would silently loosen a limit.
func loadFromEnvironment(config *models.Config) error {
	// Server configuration
	setInt(&config.Server.Port, "PORT")
	setString(&config.Server.Host, "HOST")
	setDuration(&config.Server.ReadTimeout, "READ_TIMEOUT")
	setDuration(&config.Server.WriteTimeout, "WRITE_TIMEOUT")
	setDuration(&config.Server.IdleTimeout, "IDLE_TIMEOUT")
	setBool(&config.Server.TLSEnabled, "TLS_ENABLED")
	setString(&config.Server.TLSCertFile, "TLS_CERT_FILE")
	setString(&config.Server.TLSKeyFile, "TLS_KEY_FILE")

	// Rate limit configuration
	setBool(&config.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
	setString(&config.RateLimit.DefaultProfile, "DEFAULT_PROFILE")
	setDuration(&config.RateLimit.CleanupInterval, "CLEANUP_INTERVAL")
	setString(&config.RateLimit.KeyStrategy, "KEY_STRATEGY")
	setString(&config.RateLimit.KeyHeader, "KEY_HEADER")
	if err := loadProfilesFromEnvironment(config); err != nil {
		return err
	}

	// Proxy configuration
	setBool(&config.Proxy.Enabled, "PROXY_ENABLED")
	setString(&config.Proxy.Upstream, "PROXY_UPSTREAM")

	// Journal configuration
	setBool(&config.Journal.Enabled, "JOURNAL_ENABLED")
	setInt(&config.Journal.BufferSize, "JOURNAL_BUFFER_SIZE")
	if v := os.Getenv(envPrefix + "JOURNAL_MAX_EVENTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Journal.MaxEventsPerSecond = f
		}
	}
	setInt(&config.Journal.Burst, "JOURNAL_BURST")
	setDuration(&config.Journal.Retention, "JOURNAL_RETENTION")
	setDuration(&config.Journal.PruneInterval, "JOURNAL_PRUNE_INTERVAL")

	// Storage configuration
	setString(&config.Storage.Type, "STORAGE_TYPE")
	setString(&config.Storage.Path, "STORAGE_PATH")
	setString(&config.Storage.Database.DSN, "DATABASE_DSN")
	setInt(&config.Storage.Database.MaxOpenConns, "DATABASE_MAX_OPEN_CONNS")
	setInt(&config.Storage.Database.MaxIdleConns, "DATABASE_MAX_IDLE_CONNS")

	// Redis configuration
	setString(&config.Storage.Redis.Addr, "REDIS_ADDR")
	setString(&config.Storage.Redis.Password, "REDIS_PASSWORD")
	setInt(&config.Storage.Redis.DB, "REDIS_DB")
	setInt(&config.Storage.Redis.PoolSize, "REDIS_POOL_SIZE")
	setString(&config.Storage.Redis.KeyPrefix, "REDIS_KEY_PREFIX")
	if v := os.Getenv(envPrefix + "REDIS_MAX_EVENTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Storage.Redis.MaxEvents = n
		}
	}

	// Logging configuration
	setString(&config.Logging.Level, "LOG_LEVEL")
	setString(&config.Logging.Format, "LOG_FORMAT")
	setString(&config.Logging.Output, "LOG_OUTPUT")
	setString(&config.Logging.FilePath, "LOG_FILE_PATH")
	setBool(&config.Logging.MaskClientIPs, "LOG_MASK_CLIENT_IPS")

	// Metrics configuration
	setBool(&config.Metrics.Enabled, "METRICS_ENABLED")
	setString(&config.Metrics.Path, "METRICS_PATH")
	setInt(&config.Metrics.Port, "METRICS_PORT")

	// Observability configuration
	setString(&config.Observability.ServiceName, "SERVICE_NAME")
	setString(&config.Observability.Environment, "ENVIRONMENT")
	setBool(&config.Observability.Tracing.Enabled, "TRACING_ENABLED")
	setString(&config.Observability.Tracing.Exporter, "TRACING_EXPORTER")
	setString(&config.Observability.Tracing.OTLPEndpoint, "OTLP_ENDPOINT")
	if v := os.Getenv(envPrefix + "TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Observability.Tracing.SampleRate = f
		}
	}

	return nil
}

// loadProfilesFromEnvironment reads RATELIMITER_PROFILE_<NAME>_REQUESTS and
// RATELIMITER_PROFILE_<NAME>_WINDOW. Names are lower-cased. A variable for an
// unknown profile defines a new one starting from a zero value, so both
// settings must then be given.
func loadProfilesFromEnvironment(config *models.Config) error {
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envProfilePrefix) {
			continue
		}

		rest := strings.TrimPrefix(key, envProfilePrefix)
		var name, field string
		switch {
		case strings.HasSuffix(rest, "_REQUESTS"):
			name, field = strings.TrimSuffix(rest, "_REQUESTS"), "requests"
		case strings.HasSuffix(rest, "_WINDOW"):
			name, field = strings.TrimSuffix(rest, "_WINDOW"), "window"
		default:
			continue
		}
		if name == "" {
			continue
		}
		name = strings.ToLower(name)

		if config.RateLimit.Profiles == nil {
			config.RateLimit.Profiles = make(map[string]models.RateLimitProfileConfig)
		}
		profile := config.RateLimit.Profiles[name]

		switch field {
		case "requests":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			profile.Requests = n
		case "window":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			profile.Window = d
		}

		config.RateLimit.Profiles[name] = profile
	}
	return nil
}

func setString(dst *string, name string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		*dst = v
	}
}

func setInt(dst *int, name string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, name string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		*dst = strings.ToLower(v) == "true"
	}
}

func setDuration(dst *time.Duration, name string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()

	// Example gateway in front of an application server
	config.Proxy.Upstream = "http://localhost:3000"
	config.Proxy.Routes = []models.ProxyRoute{
		{Prefix: "/auth", Profile: models.ProfileAuth},
		{Prefix: "/account/password", Profile: models.ProfileSensitive},
		{Prefix: "/", Profile: models.ProfileGeneral},
	}

	// Example durable journal
	config.Storage.Type = models.StorageTypeSQLite
	config.Storage.Database.DSN = "./data/denials.db"

	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
