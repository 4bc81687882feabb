package storage

import (
	"fmt"

	"ratelimiter/internal/models"
)

// Factory provides a centralized way to create storage instances based on configuration.
type Factory struct{}

// NewFactory creates a new storage factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a storage provider based on the provided configuration.
// Supported providers:
//   - json: single JSON file, rewritten atomically
//   - memory: in-process, lost on restart
//   - postgres: PostgreSQL via a pgx pool
//   - sqlite: embedded SQLite database
//   - redis: capped Redis list
func (f *Factory) Create(config models.StorageConfig) (Storage, error) {
	if err := f.ValidateConfig(config); err != nil {
		return nil, err
	}

	storageConfig := Config{
		Type:             config.Type,
		Path:             config.Path,
		ConnectionString: config.Database.DSN,
		MaxOpenConns:     config.Database.MaxOpenConns,
		MaxIdleConns:     config.Database.MaxIdleConns,
		ConnMaxLifetime:  config.Database.ConnMaxLifetime,
		ConnMaxIdleTime:  config.Database.ConnMaxIdleTime,
		Redis:            config.Redis,
		Options:          config.Options,
	}

	var (
		s   Storage
		err error
	)
	switch config.Type {
	case models.StorageTypeJSON:
		s, err = NewJSONStorage(storageConfig)
	case models.StorageTypeMemory:
		s, err = NewMemoryStorage(storageConfig)
	case models.StorageTypePostgres:
		s, err = NewPostgresStorage(storageConfig)
	case models.StorageTypeSQLite:
		s, err = NewSQLiteStorage(storageConfig)
	case models.StorageTypeRedis:
		s, err = NewRedisStorage(storageConfig)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, config.Type)
	}
	if err != nil {
		// A typed nil pointer must not escape as a non-nil Storage.
		return nil, err
	}
	return s, nil
}

// GetSupportedProviders returns a list of all supported storage provider types
func (f *Factory) GetSupportedProviders() []string {
	return []string{
		models.StorageTypeJSON,
		models.StorageTypeMemory,
		models.StorageTypePostgres,
		models.StorageTypeSQLite,
		models.StorageTypeRedis,
	}
}

// ValidateConfig validates that a storage configuration is valid for its type
func (f *Factory) ValidateConfig(config models.StorageConfig) error {
	switch config.Type {
	case models.StorageTypeJSON:
		if config.Path == "" {
			return fmt.Errorf("path is required for JSON storage")
		}
	case models.StorageTypeMemory:
		// Memory storage requires no additional configuration
	case models.StorageTypePostgres, models.StorageTypeSQLite:
		if config.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", config.Type)
		}
	case models.StorageTypeRedis:
		if config.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for redis storage")
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, config.Type)
	}
	return nil
}
