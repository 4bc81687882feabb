// Package ratelimit provides per-client rate limiting for HTTP requests using
// a continuously refilling token bucket. Each Limiter owns an in-memory
// bucket store, evicts idle buckets in the background, and fails open: an
// internal error never turns into a rejected request.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Config describes a single rate limit policy. It is copied at construction
// and never changes afterwards.
type Config struct {
	// Requests is the bucket capacity, i.e. the number of requests allowed
	// per Window.
	Requests int

	// Window is the time over which an empty bucket fully replenishes.
	Window time.Duration

	// KeyGenerator derives the bucket key. Defaults to DefaultKeyGenerator.
	KeyGenerator KeyGenerator

	// OnRateLimit is invoked for every denied request. It cannot change
	// the decision.
	OnRateLimit func(r *http.Request, info Info)

	// SkipSuccessfulRequests and SkipFailedRequests are carried for
	// callers that inspect the configuration; the limiter itself does not
	// act on them.
	SkipSuccessfulRequests bool
	SkipFailedRequests     bool
}

// Validate rejects non-positive request counts and windows.
func (c Config) Validate() error {
	if c.Requests <= 0 {
		return fmt.Errorf("%w: requests must be positive, got %d", ErrInvalidConfig, c.Requests)
	}
	if c.Window < time.Millisecond {
		return fmt.Errorf("%w: window must be at least 1ms, got %s", ErrInvalidConfig, c.Window)
	}
	return nil
}

// Result is the outcome of Limit.
type Result struct {
	Success    bool  `json:"success"`
	Limit      int   `json:"limit"`
	Remaining  int   `json:"remaining"`
	Reset      int64 `json:"reset"`                // Unix epoch milliseconds
	RetryAfter int64 `json:"retryAfter,omitempty"` // milliseconds, denied results only
}

// Info is the quota snapshot returned by Check and passed to OnRateLimit.
type Info struct {
	Key        string `json:"-"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	Reset      int64  `json:"reset"`
	RetryAfter int64  `json:"retryAfter"`
}

// Observer receives limiter events, typically for metrics.
type Observer interface {
	ObserveDecision(profile string, allowed bool)
	ObserveFailOpen(profile string)
	ObserveEviction(profile string, evicted int)
}

// Limiter is the rate limiting façade: it derives a key from the request,
// resolves the key's bucket and reports the decision.
type Limiter struct {
	name            string
	cfg             Config
	store           *MemoryStore
	logger          *slog.Logger
	observer        Observer
	cleanupInterval time.Duration
	now             func() time.Time

	mu     sync.Mutex
	done   chan struct{}
	exited chan struct{}
	closed bool
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithName sets the profile name used in logs and metrics.
func WithName(name string) Option {
	return func(l *Limiter) {
		l.name = name
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithObserver registers an Observer for decisions, fail-opens and evictions.
func WithObserver(o Observer) Option {
	return func(l *Limiter) {
		l.observer = o
	}
}

// WithCleanupInterval overrides the eviction interval, which defaults to
// the window length. A negative interval disables background cleanup.
func WithCleanupInterval(d time.Duration) Option {
	return func(l *Limiter) {
		l.cleanupInterval = d
	}
}

func withClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New validates cfg and returns a running Limiter. Close stops its
// background cleanup.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = DefaultKeyGenerator
	}

	l := &Limiter{
		name:            "default",
		cfg:             cfg,
		logger:          slog.Default(),
		cleanupInterval: cfg.Window,
		now:             time.Now,
		done:            make(chan struct{}),
		exited:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.store = newMemoryStore(cfg.Requests, cfg.Window, l.now)

	if l.cleanupInterval > 0 {
		go l.cleanup()
	} else {
		close(l.exited)
	}
	return l, nil
}

// Name returns the profile name of the limiter.
func (l *Limiter) Name() string {
	return l.name
}

// Config returns a copy of the limiter's configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Limit consumes one token for the request's key and reports the decision.
// It never fails: on any internal error or panic the request is allowed
// with a full quota and the error is logged.
func (l *Limiter) Limit(r *http.Request) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = l.failOpen("limit", fmt.Errorf("panic: %v", p))
		}
	}()

	key, err := l.key(r)
	if err != nil {
		return l.failOpen("limit", err)
	}

	var (
		bucket    *TokenBucket
		allowed   bool
		remaining float64
		next      time.Duration
	)
	for {
		bucket = l.store.Get(key)
		var live bool
		allowed, remaining, next, live = bucket.take(1)
		if live {
			break
		}
	}

	res = Result{
		Success:   allowed,
		Limit:     bucket.Capacity(),
		Remaining: clampRemaining(remaining),
		Reset:     l.reset(),
	}

	l.observeDecision(allowed)

	if !allowed {
		res.RetryAfter = next.Milliseconds()
		l.logger.Debug("Rate limit exceeded",
			"profile", l.name,
			"key_hash", keyHash(key),
			"retry_after_ms", res.RetryAfter,
		)
		l.notify(r, Info{
			Key:        key,
			Limit:      res.Limit,
			Remaining:  res.Remaining,
			Reset:      res.Reset,
			RetryAfter: res.RetryAfter,
		})
	}

	return res
}

// Check reports the quota for the request's key without consuming a token.
// It fails open like Limit.
func (l *Limiter) Check(r *http.Request) (info Info) {
	defer func() {
		if p := recover(); p != nil {
			info = l.fullInfo()
			l.logFailOpen("check", fmt.Errorf("panic: %v", p))
		}
	}()

	key, err := l.key(r)
	if err != nil {
		l.logFailOpen("check", err)
		return l.fullInfo()
	}

	bucket, ok := l.store.Peek(key)
	if !ok {
		info = l.fullInfo()
		info.Key = key
		return info
	}

	tokens, next, live := bucket.snapshot()
	if !live {
		info = l.fullInfo()
		info.Key = key
		return info
	}

	return Info{
		Key:        key,
		Limit:      bucket.Capacity(),
		Remaining:  clampRemaining(tokens),
		Reset:      l.reset(),
		RetryAfter: next.Milliseconds(),
	}
}

// Cleanup evicts full buckets immediately and returns how many were removed.
func (l *Limiter) Cleanup() int {
	evicted := l.store.Cleanup()
	if evicted > 0 {
		if l.observer != nil {
			l.observer.ObserveEviction(l.name, evicted)
		}
		l.logger.Debug("Evicted idle rate limit buckets", "profile", l.name, "evicted", evicted)
	}
	return evicted
}

// Stats returns the current bucket population.
func (l *Limiter) Stats() Stats {
	return l.store.Stats()
}

// Close stops background cleanup. It is safe to call more than once.
func (l *Limiter) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.done)
	l.mu.Unlock()

	<-l.exited
}

func (l *Limiter) cleanup() {
	defer close(l.exited)

	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

func (l *Limiter) key(r *http.Request) (string, error) {
	if r == nil {
		return "", errors.New("nil request")
	}
	key, err := l.cfg.KeyGenerator(r)
	if err != nil {
		return "", fmt.Errorf("key generation failed: %w", err)
	}
	if key == "" {
		return "", ErrEmptyKey
	}
	return key, nil
}

// notify runs OnRateLimit, isolating the decision from callback panics.
// observeDecision reports to the observer. The decision is already made,
// so a panicking observer is logged and otherwise ignored.
func (l *Limiter) observeDecision(allowed bool) {
	if l.observer == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("Rate limit observer panicked", "profile", l.name, "error", p)
		}
	}()
	l.observer.ObserveDecision(l.name, allowed)
}

// keyHash identifies a bucket key in logs without revealing it. Default
// keys embed the client address.
func keyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}

func (l *Limiter) notify(r *http.Request, info Info) {
	if l.cfg.OnRateLimit == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("Rate limit callback panicked", "profile", l.name, "error", p)
		}
	}()
	l.cfg.OnRateLimit(r, info)
}

func (l *Limiter) failOpen(op string, err error) Result {
	l.logFailOpen(op, err)
	return Result{
		Success:   true,
		Limit:     l.cfg.Requests,
		Remaining: l.cfg.Requests,
		Reset:     l.reset(),
	}
}

func (l *Limiter) logFailOpen(op string, err error) {
	if l.observer != nil {
		l.observer.ObserveFailOpen(l.name)
	}
	l.logger.Error("Rate limiting error, allowing request",
		"profile", l.name,
		"operation", op,
		"error", err,
	)
}

func (l *Limiter) fullInfo() Info {
	return Info{
		Limit:     l.cfg.Requests,
		Remaining: l.cfg.Requests,
		Reset:     l.reset(),
	}
}

func (l *Limiter) reset() int64 {
	return l.now().Add(l.cfg.Window).UnixMilli()
}

func clampRemaining(tokens float64) int {
	if tokens < 0 {
		return 0
	}
	return int(tokens)
}
