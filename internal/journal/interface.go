package journal

import (
	"context"
	"net/http"

	"ratelimiter/internal/models"
	"ratelimiter/internal/ratelimit"
)

// ServiceInterface defines the interface for denial journal operations
type ServiceInterface interface {
	// Record queues a denial without blocking the request path
	Record(profile string, r *http.Request, info ratelimit.Info) bool

	// ListDenials returns recent denials matching the filter, newest first
	ListDenials(ctx context.Context, filter models.DenialFilter) (*models.ListDenialsResponse, error)

	// GetDenial returns a single denial by ID
	GetDenial(ctx context.Context, id string) (*models.DenialEvent, error)

	// Prune removes denials older than the retention period
	Prune(ctx context.Context) (int64, error)

	// Stats reports queue counters
	Stats() Stats

	// Ping checks the underlying storage
	Ping(ctx context.Context) error
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)
