package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// TokenBucket tracks the remaining quota of a single key. Tokens trickle back
// continuously in proportion to elapsed time, but are only credited in whole
// units, so closely spaced calls frequently observe no refill at all.
//
// A TokenBucket is safe for concurrent use.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int
	tokens     float64
	windowMs   float64
	lastRefill time.Time
	now        func() time.Time

	// evicted is set by the store when the bucket is dropped during cleanup.
	// Callers holding a stale pointer must re-resolve the key.
	evicted bool
}

// NewTokenBucket creates a full bucket holding capacity tokens that are
// replenished completely over window.
func NewTokenBucket(capacity int, window time.Duration) (*TokenBucket, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, capacity)
	}
	if window < time.Millisecond {
		return nil, fmt.Errorf("%w: window must be at least 1ms, got %s", ErrInvalidConfig, window)
	}
	return newTokenBucket(capacity, window, time.Now), nil
}

func newTokenBucket(capacity int, window time.Duration, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     float64(capacity),
		windowMs:   float64(window) / float64(time.Millisecond),
		lastRefill: now(),
		now:        now,
	}
}

// Consume refills the bucket and then takes n tokens if that many are
// available. On failure the token count is left untouched.
func (b *TokenBucket) Consume(n int) bool {
	allowed, _, _, _ := b.take(n)
	return allowed
}

// Tokens refills the bucket and returns the current token count.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	return b.tokens
}

// TimeToNextToken returns zero when a token is available and otherwise the
// time needed to generate a single token.
func (b *TokenBucket) TimeToNextToken() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.timeToNextToken()
}

// Capacity returns the maximum number of tokens the bucket can hold.
func (b *TokenBucket) Capacity() int {
	return b.capacity
}

// RefillRate returns the refill rate in tokens per millisecond.
func (b *TokenBucket) RefillRate() float64 {
	return float64(b.capacity) / b.windowMs
}

// take is Consume plus the post-decision token count and the time to the
// next token. live is false when the bucket has been evicted from its store;
// the result must then be discarded.
func (b *TokenBucket) take(n int) (allowed bool, remaining float64, next time.Duration, live bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.evicted {
		return false, 0, 0, false
	}

	b.refill()
	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		return true, b.tokens, b.timeToNextToken(), true
	}
	return false, b.tokens, b.timeToNextToken(), true
}

// snapshot returns the refilled token count and the time to the next token
// under a single lock acquisition.
func (b *TokenBucket) snapshot() (tokens float64, next time.Duration, live bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.evicted {
		return 0, 0, false
	}
	b.refill()
	return b.tokens, b.timeToNextToken(), true
}

// evictIfFull marks the bucket evicted when it is observed at full capacity.
// The observation and the mark happen under the same lock.
func (b *TokenBucket) evictIfFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= float64(b.capacity) {
		b.evicted = true
		return true
	}
	return false
}

// refill credits whole tokens for the time elapsed since the last credit.
// MUST be called with b.mu held.
func (b *TokenBucket) refill() {
	now := b.now()
	elapsedMs := float64(now.Sub(b.lastRefill)) / float64(time.Millisecond)

	// elapsed * capacity / window keeps exact multiples of the token period
	// from landing a hair below an integer.
	toAdd := math.Floor(elapsedMs * float64(b.capacity) / b.windowMs)
	if toAdd > 0 {
		b.tokens = math.Min(float64(b.capacity), b.tokens+toAdd)
		b.lastRefill = now
	}
}

// MUST be called with b.mu held.
func (b *TokenBucket) timeToNextToken() time.Duration {
	if b.tokens >= 1 {
		return 0
	}
	periodMs := math.Ceil(b.windowMs / float64(b.capacity))
	return time.Duration(periodMs) * time.Millisecond
}
