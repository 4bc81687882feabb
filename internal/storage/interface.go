package storage

import (
	"context"
	"time"

	"ratelimiter/internal/models"
)

// Storage persists journaled rate limit denials. Implementations must be safe
// for concurrent use.
type Storage interface {
	// SaveEvent stores a denial. Saving an event whose ID already exists
	// replaces it.
	SaveEvent(ctx context.Context, event *models.DenialEvent) error

	// GetEvent retrieves a denial by ID, returning ErrNotFound if absent.
	GetEvent(ctx context.Context, id string) (*models.DenialEvent, error)

	// ListEvents returns the denials matching filter, newest first, capped
	// at filter.Limit (after normalization).
	ListEvents(ctx context.Context, filter models.DenialFilter) ([]*models.DenialEvent, error)

	// DeleteEventsBefore removes denials that occurred strictly before cutoff
	// and returns how many were removed.
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (json, sqlite, redis, ...)
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// Pool settings for database backends
	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time,omitempty" yaml:"conn_max_idle_time,omitempty"`

	// Redis is used by the redis backend
	Redis models.RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`

	// Additional options for specific backends
	Options map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}
