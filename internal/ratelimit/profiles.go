package ratelimit

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"ratelimiter/internal/models"
)

// Built-in profile names.
const (
	ProfileAuth      = "auth"
	ProfileAPI       = "api"
	ProfileGeneral   = "general"
	ProfileSensitive = "sensitive"
)

// DefaultProfiles returns the built-in policies: strict limits for
// authentication and sensitive operations, moderate limits for API calls
// and lenient limits for general traffic.
func DefaultProfiles() map[string]Config {
	return map[string]Config{
		ProfileAuth:      {Requests: 5, Window: 15 * time.Minute},
		ProfileAPI:       {Requests: 100, Window: time.Minute},
		ProfileGeneral:   {Requests: 1000, Window: time.Minute},
		ProfileSensitive: {Requests: 3, Window: time.Minute},
	}
}

// KeyGeneratorFor maps a configured key strategy to a KeyGenerator.
func KeyGeneratorFor(strategy, header string) (KeyGenerator, error) {
	switch strategy {
	case "", models.KeyStrategyDefault:
		return DefaultKeyGenerator, nil
	case models.KeyStrategyIP:
		return IPKeyGenerator, nil
	case models.KeyStrategyHeader:
		if header == "" {
			return nil, fmt.Errorf("%w: key strategy %q requires a header", ErrInvalidConfig, strategy)
		}
		return HeaderKeyGenerator(header), nil
	default:
		return nil, fmt.Errorf("%w: unknown key strategy %q", ErrInvalidConfig, strategy)
	}
}

// ProfilesFromConfig converts the configured profiles into limiter
// configurations sharing the configured key strategy. onRateLimit, if not
// nil, supplies each profile's denial callback.
func ProfilesFromConfig(cfg models.RateLimitConfig, onRateLimit func(profile string) func(*http.Request, Info)) (map[string]Config, error) {
	keyGen, err := KeyGeneratorFor(cfg.KeyStrategy, cfg.KeyHeader)
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]Config, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		c := Config{
			Requests:     p.Requests,
			Window:       p.Window,
			KeyGenerator: keyGen,
		}
		if onRateLimit != nil {
			c.OnRateLimit = onRateLimit(name)
		}
		profiles[name] = c
	}
	return profiles, nil
}

// Registry owns one Limiter per named profile. Limiters never share buckets,
// so the same client is tracked independently by every profile.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry builds a limiter for every profile. opts are applied to each
// limiter after its name, so WithName in opts is overridden. If any profile
// is invalid the limiters built so far are closed and the error returned.
func NewRegistry(profiles map[string]Config, opts ...Option) (*Registry, error) {
	r := &Registry{limiters: make(map[string]*Limiter, len(profiles))}

	for _, name := range sortedKeys(profiles) {
		limiterOpts := append(append([]Option{}, opts...), WithName(name))
		l, err := New(profiles[name], limiterOpts...)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		r.limiters[name] = l
	}

	return r, nil
}

// Get returns the limiter for the named profile.
func (r *Registry) Get(name string) (*Limiter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.limiters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	return l, nil
}

// Names returns the profile names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.limiters)
}

// Stats returns the bucket statistics of every profile.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.limiters))
	for name, l := range r.limiters {
		stats[name] = l.Stats()
	}
	return stats
}

// Close stops every limiter's background cleanup.
func (r *Registry) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, l := range r.limiters {
		l.Close()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
