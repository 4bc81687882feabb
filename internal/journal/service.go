// Package journal persists rate limit denials. Recording happens on the
// request path and never blocks: events are queued on a bounded channel and
// written to storage by a single worker. When the queue is full or the
// admission rate is exceeded the event is dropped and counted.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"ratelimiter/internal/models"
	"ratelimiter/internal/ratelimit"
	"ratelimiter/internal/storage"
)

const saveTimeout = 5 * time.Second

// Stats are the journal's lifetime counters.
type Stats struct {
	Recorded  int64 `json:"recorded"`
	Persisted int64 `json:"persisted"`
	Dropped   int64 `json:"dropped"`
	Throttled int64 `json:"throttled"`
	Failed    int64 `json:"failed"`
	Pending   int   `json:"pending"`
}

// Service handles denial recording and retrieval
type Service struct {
	storage       storage.Storage
	logger        *slog.Logger
	admit         *rate.Limiter
	retention     time.Duration
	pruneInterval time.Duration
	now           func() time.Time

	recorded  atomic.Int64
	persisted atomic.Int64
	dropped   atomic.Int64
	throttled atomic.Int64
	failed    atomic.Int64

	mu     sync.RWMutex
	closed bool
	events chan *models.DenialEvent
	done   chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService starts a journal writing to store. A non-positive
// MaxEventsPerSecond disables admission throttling and a non-positive
// PruneInterval disables periodic pruning.
func NewService(store storage.Storage, cfg models.JournalConfig, opts ...Option) *Service {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1
	}

	limit := rate.Inf
	if cfg.MaxEventsPerSecond > 0 {
		limit = rate.Limit(cfg.MaxEventsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	s := &Service{
		storage:       store,
		logger:        slog.Default(),
		admit:         rate.NewLimiter(limit, burst),
		retention:     cfg.Retention,
		pruneInterval: cfg.PruneInterval,
		now:           time.Now,
		events:        make(chan *models.DenialEvent, bufferSize),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.run()

	if s.pruneInterval > 0 && s.retention > 0 {
		s.wg.Add(1)
		go s.pruneLoop()
	}

	return s
}

// OnRateLimit returns a callback suitable for ratelimit.Config.OnRateLimit.
func (s *Service) OnRateLimit(profile string) func(*http.Request, ratelimit.Info) {
	return func(r *http.Request, info ratelimit.Info) {
		s.Record(profile, r, info)
	}
}

// Record queues a denial and reports whether it was accepted.
func (s *Service) Record(profile string, r *http.Request, info ratelimit.Info) bool {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}

	if !s.admit.AllowN(now, 1) {
		s.throttled.Add(1)
		return false
	}

	event := models.NewDenialEvent(profile, info.Key, now)
	event.Limit = info.Limit
	event.Remaining = info.Remaining
	event.RetryAfterMs = info.RetryAfter
	if r != nil {
		event.ClientIP = ratelimit.ClientIP(r)
		event.UserAgent = r.UserAgent()
		event.Method = r.Method
		if r.URL != nil {
			event.Path = r.URL.Path
		}
	}

	select {
	case s.events <- event:
		s.recorded.Add(1)
		return true
	default:
		if s.dropped.Add(1) == 1 {
			s.logger.Warn("Denial journal queue full, dropping events", "profile", profile)
		}
		return false
	}
}

// ListDenials returns recent denials matching the filter, newest first.
func (s *Service) ListDenials(ctx context.Context, filter models.DenialFilter) (*models.ListDenialsResponse, error) {
	filter = filter.Normalize()

	events, err := s.storage.ListEvents(ctx, filter)
	if err != nil {
		return nil, NewInternalError("failed to list denials", err)
	}
	if events == nil {
		events = []*models.DenialEvent{}
	}

	return &models.ListDenialsResponse{
		Denials:    events,
		TotalCount: len(events),
		Limit:      filter.Limit,
	}, nil
}

// GetDenial returns a single denial by ID.
func (s *Service) GetDenial(ctx context.Context, id string) (*models.DenialEvent, error) {
	if id == "" {
		return nil, NewInvalidRequestError("denial ID is required", nil)
	}

	event, err := s.storage.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewDenialNotFoundError(id)
		}
		return nil, NewInternalError("failed to get denial", err)
	}
	return event, nil
}

// Prune removes events older than the retention period. It is a no-op when
// retention is not set.
func (s *Service) Prune(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}

	cutoff := s.now().Add(-s.retention)
	removed, err := s.storage.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune denials: %w", err)
	}
	if removed > 0 {
		s.logger.Info("Pruned denial journal", "removed", removed, "cutoff", cutoff)
	}
	return removed, nil
}

// Stats reports lifetime counters and the current queue depth.
func (s *Service) Stats() Stats {
	return Stats{
		Recorded:  s.recorded.Load(),
		Persisted: s.persisted.Load(),
		Dropped:   s.dropped.Load(),
		Throttled: s.throttled.Load(),
		Failed:    s.failed.Load(),
		Pending:   len(s.events),
	}
}

// Ping checks the underlying storage.
func (s *Service) Ping(ctx context.Context) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return s.storage.Ping(ctx)
}

// Close stops accepting events, writes everything already queued and
// stops the background workers. It does not close the storage.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	close(s.events)
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Service) run() {
	defer s.wg.Done()

	for event := range s.events {
		s.save(event)
	}
}

func (s *Service) save(event *models.DenialEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := s.storage.SaveEvent(ctx, event); err != nil {
		s.failed.Add(1)
		s.logger.Error("Failed to persist denial",
			"profile", event.Profile,
			"event_id", event.ID,
			"error", err,
		)
		return
	}
	s.persisted.Add(1)
}

func (s *Service) pruneLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			if _, err := s.Prune(ctx); err != nil {
				s.logger.Error("Denial journal prune failed", "error", err)
			}
			cancel()
		}
	}
}
