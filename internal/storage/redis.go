package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ratelimiter/internal/models"
)

const (
	defaultRedisPrefix    = "ratelimiter"
	defaultRedisMaxEvents = 10000
	redisMaxTxRetries     = 5
)

// RedisStorage keeps denials in a single Redis list, newest at the head.
// The list is trimmed to MaxEvents on every write, so Redis memory stays
// bounded even if pruning never runs.
type RedisStorage struct {
	client    *redis.Client
	key       string
	maxEvents int64
}

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(config Config) (*RedisStorage, error) {
	rc := config.Redis
	if rc.Addr == "" {
		return nil, fmt.Errorf("address is required for Redis storage")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
		PoolSize: rc.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return newRedisStorage(client, rc.KeyPrefix, rc.MaxEvents), nil
}

func newRedisStorage(client *redis.Client, prefix string, maxEvents int64) *RedisStorage {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if maxEvents <= 0 {
		maxEvents = defaultRedisMaxEvents
	}
	return &RedisStorage{
		client:    client,
		key:       prefix + ":denials",
		maxEvents: maxEvents,
	}
}

// SaveEvent pushes the event and trims the list in one round trip. IDs are
// not deduplicated; events carry fresh UUIDs.
func (rs *RedisStorage) SaveEvent(ctx context.Context, event *models.DenialEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, rs.key, data)
		pipe.LTrim(ctx, rs.key, 0, rs.maxEvents-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// GetEvent scans the list for id.
func (rs *RedisStorage) GetEvent(ctx context.Context, id string) (*models.DenialEvent, error) {
	events, err := rs.all(ctx, rs.client)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ListEvents returns matching events, newest first.
func (rs *RedisStorage) ListEvents(ctx context.Context, filter models.DenialFilter) ([]*models.DenialEvent, error) {
	events, err := rs.all(ctx, rs.client)
	if err != nil {
		return nil, err
	}
	return selectEvents(events, filter), nil
}

// DeleteEventsBefore rewrites the list without events older than cutoff.
// The rewrite runs in a WATCH transaction and is retried if another writer
// touches the list in between.
func (rs *RedisStorage) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64

	txf := func(tx *redis.Tx) error {
		raw, err := tx.LRange(ctx, rs.key, 0, -1).Result()
		if err != nil {
			return err
		}

		kept := make([]interface{}, 0, len(raw))
		removed = 0
		for _, item := range raw {
			var e models.DenialEvent
			if err := json.Unmarshal([]byte(item), &e); err == nil && e.OccurredAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, item)
		}
		if removed == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, rs.key)
			if len(kept) > 0 {
				pipe.RPush(ctx, rs.key, kept...)
			}
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxTxRetries; i++ {
		err := rs.client.Watch(ctx, txf, rs.key)
		if err == nil {
			return removed, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return 0, fmt.Errorf("failed to delete events: %w", err)
		}
	}
	return 0, fmt.Errorf("failed to delete events: list kept changing after %d attempts", redisMaxTxRetries)
}

// Ping checks the Redis connection.
func (rs *RedisStorage) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}

// all decodes the whole list. Entries that fail to decode are skipped.
func (rs *RedisStorage) all(ctx context.Context, c redis.Cmdable) ([]*models.DenialEvent, error) {
	raw, err := c.LRange(ctx, rs.key, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*models.DenialEvent{}, nil
		}
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	events := make([]*models.DenialEvent, 0, len(raw))
	for _, item := range raw {
		var e models.DenialEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		events = append(events, &e)
	}
	return events, nil
}
