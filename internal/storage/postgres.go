package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ratelimiter/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS denial_events (
	id             TEXT PRIMARY KEY,
	profile        TEXT NOT NULL,
	bucket_key     TEXT NOT NULL,
	client_ip      TEXT NOT NULL,
	user_agent     TEXT NOT NULL DEFAULT '',
	method         TEXT NOT NULL,
	path           TEXT NOT NULL,
	quota_limit    INTEGER NOT NULL,
	remaining      INTEGER NOT NULL,
	retry_after_ms BIGINT NOT NULL,
	occurred_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_denial_events_occurred_at ON denial_events (occurred_at);
CREATE INDEX IF NOT EXISTS idx_denial_events_profile ON denial_events (profile, occurred_at);
`

// PostgresStorage implements the Storage interface using PostgreSQL through
// a pgx connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance and ensures
// the schema exists.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(min(config.MaxIdleConns, int(poolConfig.MaxConns)))
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}
	if config.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// SaveEvent stores or replaces an event (upsert on ID).
func (ps *PostgresStorage) SaveEvent(ctx context.Context, event *models.DenialEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	query := `INSERT INTO denial_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			profile = EXCLUDED.profile,
			bucket_key = EXCLUDED.bucket_key,
			client_ip = EXCLUDED.client_ip,
			user_agent = EXCLUDED.user_agent,
			method = EXCLUDED.method,
			path = EXCLUDED.path,
			quota_limit = EXCLUDED.quota_limit,
			remaining = EXCLUDED.remaining,
			retry_after_ms = EXCLUDED.retry_after_ms,
			occurred_at = EXCLUDED.occurred_at`

	if _, err := ps.pool.Exec(ctx, query, eventArgs(event, event.OccurredAt)...); err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by its ID.
func (ps *PostgresStorage) GetEvent(ctx context.Context, id string) (*models.DenialEvent, error) {
	row := ps.pool.QueryRow(ctx, "SELECT "+eventColumns+" FROM denial_events WHERE id = $1", id)

	e, err := scanEvent(row, identityTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

// ListEvents returns matching events, newest first.
func (ps *PostgresStorage) ListEvents(ctx context.Context, filter models.DenialFilter) ([]*models.DenialEvent, error) {
	query, args := buildListQuery("denial_events", filter, dollarPlaceholder, asTime)

	rows, err := ps.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*models.DenialEvent{}
	for rows.Next() {
		e, err := scanEvent(rows, identityTime)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// DeleteEventsBefore removes events older than cutoff.
func (ps *PostgresStorage) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := ps.pool.Exec(ctx, "DELETE FROM denial_events WHERE occurred_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks the database connection.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}
