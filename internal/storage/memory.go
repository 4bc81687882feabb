package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ratelimiter/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data structures.
// This provider is ideal for development, testing, and scenarios where data
// persistence is not required. It provides fast access but data is lost on restart.
type MemoryStorage struct {
	mu     sync.RWMutex
	events map[string]*models.DenialEvent
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		events: make(map[string]*models.DenialEvent),
	}, nil
}

// SaveEvent stores a copy of event.
func (m *MemoryStorage) SaveEvent(ctx context.Context, event *models.DenialEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := *event
	m.events[e.ID] = &e
	return nil
}

// GetEvent retrieves an event by its ID
func (m *MemoryStorage) GetEvent(ctx context.Context, id string) (*models.DenialEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	eventCopy := *e
	return &eventCopy, nil
}

// ListEvents returns matching events, newest first.
func (m *MemoryStorage) ListEvents(ctx context.Context, filter models.DenialFilter) ([]*models.DenialEvent, error) {
	m.mu.RLock()
	all := make([]*models.DenialEvent, 0, len(m.events))
	for _, e := range m.events {
		all = append(all, e)
	}
	m.mu.RUnlock()

	return selectEvents(all, filter), nil
}

// DeleteEventsBefore removes events older than cutoff.
func (m *MemoryStorage) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, e := range m.events {
		if e.OccurredAt.Before(cutoff) {
			delete(m.events, id)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds for in-memory storage.
func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close clears all data from memory storage
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = make(map[string]*models.DenialEvent)
	return nil
}

// selectEvents filters, orders newest first and truncates. Returned events
// are copies.
func selectEvents(events []*models.DenialEvent, filter models.DenialFilter) []*models.DenialEvent {
	filter = filter.Normalize()

	matched := make([]*models.DenialEvent, 0, len(events))
	for _, e := range events {
		if filter.Matches(e) {
			eventCopy := *e
			matched = append(matched, &eventCopy)
		}
	}

	sortNewestFirst(matched)
	if len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched
}

// sortNewestFirst orders by occurrence time, breaking ties by ID so the
// order is stable across calls.
func sortNewestFirst(events []*models.DenialEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].OccurredAt.After(events[j].OccurredAt)
		}
		return events[i].ID > events[j].ID
	})
}

func validateEvent(event *models.DenialEvent) error {
	if event == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}
