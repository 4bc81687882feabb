package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorResponse(t *testing.T) {
	before := time.Now()
	resp := NewErrorResponse("profile not found", ErrorCodeProfileNotFound)

	assert.Equal(t, "error", resp.Error)
	assert.Equal(t, "profile not found", resp.Message)
	assert.Equal(t, ErrorCodeProfileNotFound, resp.Code)
	assert.False(t, resp.Timestamp.Before(before))
}

func TestRateLimitErrorResponse_JSON(t *testing.T) {
	data, err := json.Marshal(RateLimitErrorResponse{
		Error:      "Too Many Requests",
		Message:    "Rate limit exceeded. Please try again later.",
		RetryAfter: 334,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Too Many Requests","message":"Rate limit exceeded. Please try again later.","retryAfter":334}`, string(data))
}

func TestDecisionResponse_OmitsRetryAfterWhenAllowed(t *testing.T) {
	data, err := json.Marshal(DecisionResponse{Profile: "api", Allowed: true, Limit: 100, Remaining: 99, Reset: 1700000000000})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "retryAfter")
	assert.Contains(t, string(data), `"reset":1700000000000`)
}

func TestHealthCheckResponse(t *testing.T) {
	h := NewHealthCheckResponse(StatusHealthy)
	h.AddComponent("storage", StatusHealthy, "ok")
	h.AddComponentDetail("storage", "type", "memory")
	h.AddComponentDetail("missing", "type", "ignored")
	h.AddMetric("profiles", 4)

	assert.Equal(t, "memory", h.Components["storage"].Details["type"])
	assert.NotContains(t, h.Components, "missing")
	assert.Equal(t, 4, h.Metrics["profiles"])

	h.Degrade()
	assert.Equal(t, StatusDegraded, h.Status)

	h.Status = StatusUnhealthy
	h.Degrade()
	assert.Equal(t, StatusUnhealthy, h.Status)
}
