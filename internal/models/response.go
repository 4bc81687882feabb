// Package models - API response types and error handling.
// This file defines all outgoing API response structures with consistent formatting.
//
// Rate limit timestamps are Unix epoch milliseconds, matching the
// X-RateLimit-Reset header. Everything else uses RFC3339.
package models

import (
	"time"
)

// RateLimitErrorResponse is the body of every 429 response. RetryAfter is in
// milliseconds; the Retry-After header carries the same delay in seconds.
type RateLimitErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter"`
}

// DecisionResponse reports an allowed consume call. Denials are answered
// with RateLimitErrorResponse instead.
type DecisionResponse struct {
	Profile    string `json:"profile"`
	Allowed    bool   `json:"allowed"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	Reset      int64  `json:"reset"`                // Unix epoch milliseconds
	RetryAfter int64  `json:"retryAfter,omitempty"` // milliseconds
}

// QuotaResponse reports the caller's quota without consuming from it.
type QuotaResponse struct {
	Profile    string `json:"profile"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	Reset      int64  `json:"reset"`
	RetryAfter int64  `json:"retryAfter"`
}

type ProfileInfo struct {
	Name           string `json:"name"`
	Requests       int    `json:"requests"`
	Window         string `json:"window"`
	WindowMs       int64  `json:"window_ms"`
	ActiveBuckets  int    `json:"active_buckets"`
	BucketsCreated int64  `json:"buckets_created"`
	BucketsEvicted int64  `json:"buckets_evicted"`
}

type ListProfilesResponse struct {
	Profiles   []ProfileInfo `json:"profiles"`
	TotalCount int           `json:"total_count"`
}

type ListDenialsResponse struct {
	Denials    []*DenialEvent `json:"denials"`
	TotalCount int            `json:"total_count"`
	Limit      int            `json:"limit"`
}

// ErrorResponse provides structured error information.
//
// Code is machine-readable (see the ErrorCode constants), Message is meant
// for humans and Details carries field-specific context when available.
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
	StatusUnknown   = "unknown"   // Status indeterminate
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeProfileNotFound    = "PROFILE_NOT_FOUND"   // 404: Rate limit profile doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"  // 405: Wrong HTTP method
	ErrorCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED" // 429: Quota exhausted
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeBadGateway         = "BAD_GATEWAY"         // 502: Upstream failed
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Service temporarily down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// AddComponentDetail attaches a detail to a previously added component.
// Unknown components are ignored.
func (h *HealthCheckResponse) AddComponentDetail(name, key string, value interface{}) {
	c, ok := h.Components[name]
	if !ok {
		return
	}
	c.Details[key] = value
	h.Components[name] = c
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}

// Degrade lowers the overall status to degraded unless it is already worse.
func (h *HealthCheckResponse) Degrade() {
	if h.Status == StatusHealthy {
		h.Status = StatusDegraded
	}
}
