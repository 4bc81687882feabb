package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore maps rate limit keys to their buckets. It never hands out two
// live buckets for the same key. Each limiter creates and owns its own
// store, sized from its Config, so independently configured limiters never
// share quota.
type MemoryStore struct {
	mu       sync.Mutex
	buckets  map[string]*TokenBucket
	capacity int
	window   time.Duration
	now      func() time.Time

	created atomic.Int64
	evicted atomic.Int64
}

// NewMemoryStore creates a store whose buckets hold capacity tokens that
// fully replenish over window.
func NewMemoryStore(capacity int, window time.Duration) *MemoryStore {
	return newMemoryStore(capacity, window, time.Now)
}

func newMemoryStore(capacity int, window time.Duration, now func() time.Time) *MemoryStore {
	return &MemoryStore{
		buckets:  make(map[string]*TokenBucket),
		capacity: capacity,
		window:   window,
		now:      now,
	}
}

// Get returns the bucket for key, creating it on first use.
func (s *MemoryStore) Get(key string) *TokenBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = newTokenBucket(s.capacity, s.window, s.now)
		s.buckets[key] = b
		s.created.Add(1)
	}
	return b
}

// Peek returns the bucket for key if one is tracked.
func (s *MemoryStore) Peek(key string) (*TokenBucket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	return b, ok
}

// Cleanup drops buckets that are back at full capacity. A full bucket has
// seen no recent consumption and is indistinguishable from a fresh one, so
// dropping it only costs a later re-creation.
func (s *MemoryStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, b := range s.buckets {
		if b.evictIfFull() {
			delete(s.buckets, key)
			removed++
		}
	}

	if removed > 0 {
		s.evicted.Add(int64(removed))
	}
	return removed
}

// Len returns the number of tracked buckets.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Stats returns bucket lifecycle counters.
func (s *MemoryStore) Stats() Stats {
	return Stats{
		ActiveBuckets:  s.Len(),
		BucketsCreated: s.created.Load(),
		BucketsEvicted: s.evicted.Load(),
	}
}

// Stats describes the bucket population of a limiter.
type Stats struct {
	ActiveBuckets  int   `json:"active_buckets"`
	BucketsCreated int64 `json:"buckets_created"`
	BucketsEvicted int64 `json:"buckets_evicted"`
}
