package ratelimit

import "errors"

var (
	// ErrInvalidConfig is returned when a limiter or bucket is constructed
	// with a non-positive request count or window.
	ErrInvalidConfig = errors.New("invalid rate limit configuration")

	// ErrUnknownProfile is returned by Registry.Get for unregistered names.
	ErrUnknownProfile = errors.New("unknown rate limit profile")

	// ErrEmptyKey is returned when a key generator yields an empty key.
	ErrEmptyKey = errors.New("empty rate limit key")
)
