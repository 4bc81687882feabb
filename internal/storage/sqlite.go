package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"ratelimiter/internal/models"
)

const sqliteSchema = `
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
	retry_after_ms INTEGER NOT NULL,
	occurred_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_denial_events_occurred_at ON denial_events (occurred_at);
CREATE INDEX IF NOT EXISTS idx_denial_events_profile ON denial_events (profile, occurred_at);
`

// SQLiteStorage journals denials to an SQLite database. Occurrence times are
// stored as Unix microseconds.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens the database and creates the schema if needed.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// SaveEvent stores or replaces an event
func (ss *SQLiteStorage) SaveEvent(ctx context.Context, event *models.DenialEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	query := "INSERT OR REPLACE INTO denial_events (" + eventColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	if _, err := ss.db.ExecContext(ctx, query, eventArgs(event, event.OccurredAt.UnixMicro())...); err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by its ID
func (ss *SQLiteStorage) GetEvent(ctx context.Context, id string) (*models.DenialEvent, error) {
	row := ss.db.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM denial_events WHERE id = ?", id)

	e, err := scanEvent(row, fromUnixMicro)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

// ListEvents returns matching events, newest first.
func (ss *SQLiteStorage) ListEvents(ctx context.Context, filter models.DenialFilter) ([]*models.DenialEvent, error) {
	query, args := buildListQuery("denial_events", filter, questionPlaceholder, unixMicro)

	rows, err := ss.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*models.DenialEvent{}
	for rows.Next() {
		e, err := scanEvent(rows, fromUnixMicro)
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
func (ss *SQLiteStorage) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := ss.db.ExecContext(ctx, "DELETE FROM denial_events WHERE occurred_at < ?", cutoff.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted events: %w", err)
	}
	return n, nil
}

// Ping checks the database connection
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}
