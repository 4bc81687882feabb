package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ratelimiter/internal/models"
)

// JSONStorage implements the Storage interface using a single JSON file.
// The file is rewritten atomically on every change and re-read when its
// modification time moves, so external edits are picked up.
type JSONStorage struct {
	filePath     string
	mu           sync.RWMutex
	data         *JSONData
	lastModified time.Time
}

// JSONData represents the structure of data stored in JSON format
type JSONData struct {
	Events      []*models.DenialEvent `json:"events"`
	LastUpdated time.Time             `json:"last_updated"`
}

// NewJSONStorage creates a new JSON-based storage instance
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	storage := &JSONStorage{
		filePath: config.Path,
	}

	if err := storage.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}

	if err := storage.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}

	return storage, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (j *JSONStorage) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		return j.saveData(&JSONData{Events: []*models.DenialEvent{}})
	}
	return nil
}

// loadData re-reads the file if it changed since the last load.
// It uses double-checked locking: a read-lock stat for the common case and a
// write-lock reload with re-validation.
func (j *JSONStorage) loadData() error {
	info, err := os.Stat(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	j.mu.RLock()
	fresh := j.data != nil && !info.ModTime().After(j.lastModified)
	j.mu.RUnlock()
	if fresh {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	info, err = os.Stat(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if j.data != nil && !info.ModTime().After(j.lastModified) {
		return nil
	}

	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data JSONData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if data.Events == nil {
		data.Events = []*models.DenialEvent{}
	}

	j.data = &data
	j.lastModified = info.ModTime()
	return nil
}

// saveData writes data to a temporary file and renames it into place.
// MUST be called with j.mu held for writing (or before j is shared).
func (j *JSONStorage) saveData(data *JSONData) error {
	data.LastUpdated = time.Now().UTC()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(j.filePath), ".denials-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(fileData); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmpName, j.filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace file: %w", err)
	}

	if info, err := os.Stat(j.filePath); err == nil {
		j.lastModified = info.ModTime()
	}
	return nil
}

// SaveEvent stores or replaces an event
func (j *JSONStorage) SaveEvent(ctx context.Context, event *models.DenialEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	e := *event
	for i, existing := range j.data.Events {
		if existing.ID == e.ID {
			j.data.Events[i] = &e
			return j.saveData(j.data)
		}
	}

	j.data.Events = append(j.data.Events, &e)
	return j.saveData(j.data)
}

// GetEvent retrieves an event by its ID
func (j *JSONStorage) GetEvent(ctx context.Context, id string) (*models.DenialEvent, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, e := range j.data.Events {
		if e.ID == id {
			eventCopy := *e
			return &eventCopy, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ListEvents returns matching events, newest first.
func (j *JSONStorage) ListEvents(ctx context.Context, filter models.DenialFilter) ([]*models.DenialEvent, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	return selectEvents(j.data.Events, filter), nil
}

// DeleteEventsBefore removes events older than cutoff. The file is only
// rewritten when something was removed.
func (j *JSONStorage) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := j.loadData(); err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	kept := j.data.Events[:0]
	var removed int64
	for _, e := range j.data.Events {
		if e.OccurredAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	j.data.Events = kept

	if removed == 0 {
		return 0, nil
	}
	if err := j.saveData(j.data); err != nil {
		return 0, err
	}
	return removed, nil
}

// Ping checks that the backing file is still readable.
func (j *JSONStorage) Ping(_ context.Context) error {
	if _, err := os.Stat(j.filePath); err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	return nil
}

// Close is a no-op; every change is already on disk.
func (j *JSONStorage) Close() error {
	return nil
}
