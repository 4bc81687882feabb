package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Denial filter bounds.
const (
	DefaultDenialListLimit = 100
	MaxDenialListLimit     = 1000
)

// DenialEvent records a single request rejected by a rate limit profile.
//
// Key is the bucket key the limiter derived for the client. It is kept so
// operators can correlate repeated denials, but it is only a heuristic
// identity and may be shared by unrelated clients.
type DenialEvent struct {
	ID           string    `json:"id"`
	Profile      string    `json:"profile"`
	Key          string    `json:"key"`
	ClientIP     string    `json:"client_ip"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	Limit        int       `json:"limit"`
	Remaining    int       `json:"remaining"`
	RetryAfterMs int64     `json:"retry_after_ms"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewDenialEvent returns an event with a fresh ID stamped at occurredAt.
func NewDenialEvent(profile, key string, occurredAt time.Time) *DenialEvent {
	return &DenialEvent{
		ID:         uuid.New().String(),
		Profile:    profile,
		Key:        key,
		OccurredAt: occurredAt.UTC(),
	}
}

func (e *DenialEvent) Validate() error {
	if e.ID == "" {
		return errors.New("event ID is required")
	}
	if e.Profile == "" {
		return errors.New("profile is required")
	}
	if e.OccurredAt.IsZero() {
		return errors.New("occurrence time is required")
	}
	if e.Limit <= 0 {
		return errors.New("limit must be positive")
	}
	if e.Remaining < 0 || e.RetryAfterMs < 0 {
		return errors.New("remaining and retry after cannot be negative")
	}
	return nil
}

// DenialFilter selects journaled events. Zero values match everything;
// results are ordered newest first and capped at Limit.
type DenialFilter struct {
	Profile  string
	ClientIP string
	Since    time.Time
	Limit    int
}

// Normalize clamps Limit into [1, MaxDenialListLimit], substituting the
// default for non-positive values.
func (f DenialFilter) Normalize() DenialFilter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultDenialListLimit
	case f.Limit > MaxDenialListLimit:
		f.Limit = MaxDenialListLimit
	}
	return f
}

// Matches reports whether e passes every set criterion. Limit is not
// considered.
func (f DenialFilter) Matches(e *DenialEvent) bool {
	if f.Profile != "" && e.Profile != f.Profile {
		return false
	}
	if f.ClientIP != "" && e.ClientIP != f.ClientIP {
		return false
	}
	if !f.Since.IsZero() && e.OccurredAt.Before(f.Since) {
		return false
	}
	return true
}
