package storage

import "errors"

var (
	// ErrNotFound is returned when a requested event does not exist.
	ErrNotFound = errors.New("event not found")

	// ErrUnsupportedType is returned by the factory for unknown backends.
	ErrUnsupportedType = errors.New("unsupported storage type")

	// ErrInvalidEvent wraps validation failures of events passed to SaveEvent.
	ErrInvalidEvent = errors.New("invalid event")
)
