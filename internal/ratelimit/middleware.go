package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"ratelimiter/internal/models"
)

// Header names written for every rate limited response.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

const rejectionMessage = "Rate limit exceeded. Please try again later."

// Headers maps a decision to response headers. Retry-After is only present
// on denials and is expressed in whole seconds, rounded up.
func Headers(res Result) http.Header {
	h := make(http.Header, 4)
	h.Set(HeaderLimit, strconv.Itoa(res.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(res.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(res.Reset, 10))
	if !res.Success {
		h.Set(HeaderRetryAfter, strconv.FormatInt(RetryAfterSeconds(res.RetryAfter), 10))
	}
	return h
}

// RetryAfterSeconds converts a retry delay in milliseconds to whole seconds,
// rounding up so clients never retry early.
func RetryAfterSeconds(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(ms) / 1000))
}

// Rejection builds the body of a 429 response.
func Rejection(res Result) models.RateLimitErrorResponse {
	return models.RateLimitErrorResponse{
		Error:      http.StatusText(http.StatusTooManyRequests),
		Message:    rejectionMessage,
		RetryAfter: res.RetryAfter,
	}
}

// WriteHeaders copies the headers for res onto w.
func WriteHeaders(w http.ResponseWriter, res Result) {
	for k, v := range Headers(res) {
		w.Header()[k] = v
	}
}

// WriteRejection writes the terminal 429 response for a denied decision.
func WriteRejection(w http.ResponseWriter, res Result) {
	WriteHeaders(w, res)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	if err := json.NewEncoder(w).Encode(Rejection(res)); err != nil {
		slog.Error("Failed to encode rate limit response", "error", err)
	}
}

// Middleware returns HTTP middleware that enforces l. Allowed requests carry
// the rate limit headers and continue down the chain; denied requests are
// answered with 429 and never reach next.
func Middleware(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := l.Limit(r)

			if !res.Success {
				l.logger.Warn("Rate limit exceeded",
					"profile", l.name,
					"path", r.URL.Path,
					"client_ip", ClientIP(r),
					"retry_after_ms", res.RetryAfter,
				)
				WriteRejection(w, res)
				return
			}

			WriteHeaders(w, res)
			next.ServeHTTP(w, r)
		})
	}
}
