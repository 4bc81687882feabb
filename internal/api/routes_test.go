package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratelimiter/internal/models"
	"ratelimiter/internal/ratelimit"
)

func TestSetupRoutes_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, models.ErrorCodeMethodNotAllowed, decodeJSON[models.ErrorResponse](t, rr).Code)
}

func TestSetupRoutes_UnknownAPIPath(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/api/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, models.ErrorCodeNotFound, decodeJSON[models.ErrorResponse](t, rr).Code)
}

func TestSetupRoutes_AdminRateLimited(t *testing.T) {
	limiters, err := ratelimit.NewRegistry(map[string]ratelimit.Config{
		"tiny": {Requests: 1, Window: time.Minute},
	}, ratelimit.WithCleanupInterval(-1))
	require.NoError(t, err)
	defer limiters.Close()

	cfg := models.NewDefaultConfig()
	cfg.RateLimit.DefaultProfile = "tiny"
	router := SetupRoutes(NewHandlers(limiters), cfg)

	codes := make([]int, 0, 3)
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit/profiles", nil))
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)

	// Decision endpoints are not guarded by the admin limiter.
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit/tiny/check", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSetupRoutes_RateLimitDisabled(t *testing.T) {
	limiters, err := ratelimit.NewRegistry(map[string]ratelimit.Config{
		"tiny": {Requests: 1, Window: time.Minute},
	}, ratelimit.WithCleanupInterval(-1))
	require.NoError(t, err)
	defer limiters.Close()

	cfg := models.NewDefaultConfig()
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.DefaultProfile = "tiny"
	router := SetupRoutes(NewHandlers(limiters), cfg)

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit/profiles", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get(ratelimit.HeaderLimit))
	}
}

func TestSetupRoutes_WithRateLimiterOption(t *testing.T) {
	limiters, err := ratelimit.NewRegistry(ratelimit.DefaultProfiles(), ratelimit.WithCleanupInterval(-1))
	require.NoError(t, err)
	defer limiters.Close()

	called := false
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			next.ServeHTTP(w, r)
		})
	}

	router := SetupRoutes(NewHandlers(limiters), models.NewDefaultConfig(), WithRateLimiter(mw))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, called)
}

func TestSetupRoutes_WithOTelMiddleware(t *testing.T) {
	env := newTestEnv(t)
	router := SetupRoutes(env.handlers, env.config, WithOTelMiddleware("ratelimiter-test"))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit/api/check", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, models.ErrorCodeInternalError, decodeJSON[models.ErrorResponse](t, rr).Code)
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	var recorded *statusRecorder
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorded = w.(*statusRecorder)
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
	require.NotNil(t, recorded)
	assert.Equal(t, http.StatusTeapot, recorded.status)
}
