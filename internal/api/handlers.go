package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"ratelimiter/internal/journal"
	"ratelimiter/internal/models"
	"ratelimiter/internal/ratelimit"
	"ratelimiter/internal/version"
)

// Handlers contains HTTP handlers for the rate limiter API
type Handlers struct {
	limiters  *ratelimit.Registry
	journal   journal.ServiceInterface
	version   version.Info
	startedAt time.Time
}

// HandlerOption configures optional Handlers dependencies.
type HandlerOption func(*Handlers)

// WithJournal enables the denial endpoints and the journal health component.
func WithJournal(j journal.ServiceInterface) HandlerOption {
	return func(h *Handlers) {
		h.journal = j
	}
}

// WithVersion sets the build information reported by the health check.
func WithVersion(v version.Info) HandlerOption {
	return func(h *Handlers) {
		h.version = v
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(limiters *ratelimit.Registry, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		limiters:  limiters,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Consume spends one token of the named profile for the calling client.
// POST /api/v1/ratelimit/{profile}/consume
func (h *Handlers) Consume(w http.ResponseWriter, r *http.Request) {
	profile := mux.Vars(r)["profile"]

	limiter, ok := h.limiter(w, profile)
	if !ok {
		return
	}

	res := limiter.Limit(r)
	if !res.Success {
		slog.Info("Consume denied",
			"profile", profile,
			"client_ip", ratelimit.ClientIP(r),
			"retry_after_ms", res.RetryAfter)
		ratelimit.WriteRejection(w, res)
		return
	}

	ratelimit.WriteHeaders(w, res)
	h.writeJSONResponse(w, http.StatusOK, &models.DecisionResponse{
		Profile:   profile,
		Allowed:   true,
		Limit:     res.Limit,
		Remaining: res.Remaining,
		Reset:     res.Reset,
	})
}

// Check reports the calling client's quota without consuming from it.
// GET /api/v1/ratelimit/{profile}/check
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	profile := mux.Vars(r)["profile"]

	limiter, ok := h.limiter(w, profile)
	if !ok {
		return
	}

	info := limiter.Check(r)
	ratelimit.WriteHeaders(w, ratelimit.Result{
		Success:   true,
		Limit:     info.Limit,
		Remaining: info.Remaining,
		Reset:     info.Reset,
	})
	h.writeJSONResponse(w, http.StatusOK, &models.QuotaResponse{
		Profile:    profile,
		Limit:      info.Limit,
		Remaining:  info.Remaining,
		Reset:      info.Reset,
		RetryAfter: info.RetryAfter,
	})
}

// ListProfiles lists every configured profile with its bucket statistics.
// GET /api/v1/ratelimit/profiles
func (h *Handlers) ListProfiles(w http.ResponseWriter, r *http.Request) {
	names := h.limiters.Names()
	profiles := make([]models.ProfileInfo, 0, len(names))

	for _, name := range names {
		limiter, err := h.limiters.Get(name)
		if err != nil {
			continue
		}
		cfg := limiter.Config()
		stats := limiter.Stats()
		profiles = append(profiles, models.ProfileInfo{
			Name:           name,
			Requests:       cfg.Requests,
			Window:         cfg.Window.String(),
			WindowMs:       cfg.Window.Milliseconds(),
			ActiveBuckets:  stats.ActiveBuckets,
			BucketsCreated: stats.BucketsCreated,
			BucketsEvicted: stats.BucketsEvicted,
		})
	}

	h.writeJSONResponse(w, http.StatusOK, &models.ListProfilesResponse{
		Profiles:   profiles,
		TotalCount: len(profiles),
	})
}

// ListDenials returns recent journaled denials.
// GET /api/v1/denials?limit=N&profile=P&client_ip=IP&since=RFC3339
func (h *Handlers) ListDenials(w http.ResponseWriter, r *http.Request) {
	if !h.journalEnabled(w) {
		return
	}

	query := r.URL.Query()
	filter := models.DenialFilter{
		Profile:  query.Get("profile"),
		ClientIP: query.Get("client_ip"),
	}

	if limitParam := query.Get("limit"); limitParam != "" {
		limit, err := strconv.Atoi(limitParam)
		if err != nil || limit < 0 {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	if sinceParam := query.Get("since"); sinceParam != "" {
		since, err := time.Parse(time.RFC3339, sinceParam)
		if err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = since
	}

	response, err := h.journal.ListDenials(r.Context(), filter)
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// GetDenial returns a single journaled denial.
// GET /api/v1/denials/{id}
func (h *Handlers) GetDenial(w http.ResponseWriter, r *http.Request) {
	if !h.journalEnabled(w) {
		return
	}

	event, err := h.journal.GetDenial(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, event)
}

// HealthCheck handles health check requests
// GET /health
// The limiter itself has no external dependencies, so a failing journal
// only degrades the service.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	response.Uptime = time.Since(h.startedAt).Round(time.Second).String()

	names := h.limiters.Names()
	response.AddComponent("limiter", models.StatusHealthy, "Rate limiter is operational")
	response.AddComponentDetail("limiter", "profiles", len(names))

	activeBuckets := 0
	for name, stats := range h.limiters.Stats() {
		activeBuckets += stats.ActiveBuckets
		response.AddMetric("buckets_active_"+name, stats.ActiveBuckets)
	}
	response.AddMetric("buckets_active", activeBuckets)

	if h.journal == nil {
		response.AddComponent("journal", models.StatusUnknown, "Denial journal is disabled")
	} else if err := h.journal.Ping(r.Context()); err != nil {
		slog.Warn("Journal health check failed", "error", err)
		response.AddComponent("journal", models.StatusUnhealthy, "Denial storage is unreachable")
		response.Degrade()
	} else {
		response.AddComponent("journal", models.StatusHealthy, "Denial journal is operational")
		stats := h.journal.Stats()
		response.AddComponentDetail("journal", "recorded", stats.Recorded)
		response.AddComponentDetail("journal", "persisted", stats.Persisted)
		response.AddComponentDetail("journal", "dropped", stats.Dropped)
		response.AddComponentDetail("journal", "throttled", stats.Throttled)
		response.AddComponentDetail("journal", "pending", stats.Pending)
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// limiter resolves a profile, answering 404 when it does not exist.
func (h *Handlers) limiter(w http.ResponseWriter, profile string) (*ratelimit.Limiter, bool) {
	limiter, err := h.limiters.Get(profile)
	if err != nil {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeProfileNotFound, "rate limit profile '"+profile+"' not found")
		return nil, false
	}
	return limiter, true
}

func (h *Handlers) journalEnabled(w http.ResponseWriter) bool {
	if h.journal == nil {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Denial journal is disabled")
		return false
	}
	return true
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing else can be sent.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}

// writeServiceErrorResponse maps journal errors to HTTP responses. Internal
// details are logged, not returned.
func (h *Handlers) writeServiceErrorResponse(w http.ResponseWriter, err error) {
	var serviceErr *journal.ServiceError
	if errors.As(err, &serviceErr) {
		if serviceErr.StatusCode >= http.StatusInternalServerError {
			slog.Error("Journal request failed", "code", serviceErr.Code, "error", err)
		}
		h.writeErrorResponse(w, serviceErr.StatusCode, serviceErr.Code, serviceErr.Message)
		return
	}

	slog.Error("Unexpected journal error", "error", err)
	h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
}
