package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"ratelimiter/internal/models"
	"ratelimiter/internal/ratelimit"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// WithRateLimiter adds rate limiting middleware to the router.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(r *mux.Router) {
		r.Use(middleware)
	}
}

// SetupRoutes configures the HTTP routes for the API.
//
// Decision endpoints are never rate limited by the service itself; they are
// the limiter. When rate limiting is enabled, the read-only admin endpoints
// are guarded by the default profile.
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	api := router.PathPrefix("/api/v1").Subrouter()

	decisionAPI := api.PathPrefix("/ratelimit").Subrouter()
	decisionAPI.HandleFunc("/{profile}/consume", handlers.Consume).Methods("POST")
	decisionAPI.HandleFunc("/{profile}/check", handlers.Check).Methods("GET")

	adminAPI := api.PathPrefix("").Subrouter()
	if config.RateLimit.Enabled {
		if limiter, err := handlers.limiters.Get(config.RateLimit.DefaultProfile); err == nil {
			adminAPI.Use(ratelimit.Middleware(limiter))
		} else {
			slog.Warn("Default rate limit profile not found, admin API is unprotected",
				"profile", config.RateLimit.DefaultProfile)
		}
	}
	adminAPI.HandleFunc("/ratelimit/profiles", handlers.ListProfiles).Methods("GET")
	adminAPI.HandleFunc("/denials", handlers.ListDenials).Methods("GET")
	adminAPI.HandleFunc("/denials/{id}", handlers.GetDenial).Methods("GET")

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/health", handlers.HealthCheck).Methods("GET")

	api.NotFoundHandler = http.HandlerFunc(notFoundHandler)

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	return router
}
