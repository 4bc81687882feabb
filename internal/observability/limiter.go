package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"ratelimiter/internal/ratelimit"
)

const (
	outcomeAllowed = "allowed"
	outcomeDenied  = "denied"
)

// LimiterMetrics records rate limit decisions as OpenTelemetry metrics. It
// implements ratelimit.Observer.
type LimiterMetrics struct {
	meter     metric.Meter
	decisions metric.Int64Counter
	failOpen  metric.Int64Counter
	evictions metric.Int64Counter

	mu           sync.Mutex
	registration metric.Registration
}

var _ ratelimit.Observer = (*LimiterMetrics)(nil)

// NewLimiterMetrics creates the decision, fail-open and eviction counters on
// the global meter provider.
func NewLimiterMetrics() (*LimiterMetrics, error) {
	meter := otel.Meter("ratelimiter/ratelimit")

	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Number of rate limit decisions by profile and outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	failOpen, err := meter.Int64Counter(
		"ratelimit.fail_open",
		metric.WithDescription("Number of requests allowed because the limiter failed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	evictions, err := meter.Int64Counter(
		"ratelimit.evictions",
		metric.WithDescription("Number of idle buckets removed by cleanup"),
		metric.WithUnit("{bucket}"),
	)
	if err != nil {
		return nil, err
	}

	return &LimiterMetrics{
		meter:     meter,
		decisions: decisions,
		failOpen:  failOpen,
		evictions: evictions,
	}, nil
}

func (m *LimiterMetrics) ObserveDecision(profile string, allowed bool) {
	outcome := outcomeDenied
	if allowed {
		outcome = outcomeAllowed
	}
	m.decisions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("profile", profile),
		attribute.String("outcome", outcome),
	))
}

func (m *LimiterMetrics) ObserveFailOpen(profile string) {
	m.failOpen.Add(context.Background(), 1, metric.WithAttributes(attribute.String("profile", profile)))
}

func (m *LimiterMetrics) ObserveEviction(profile string, evicted int) {
	m.evictions.Add(context.Background(), int64(evicted), metric.WithAttributes(attribute.String("profile", profile)))
}

// TrackBuckets registers the ratelimit.buckets.active gauge, read from stats
// at collection time. Calling it again replaces the previous source.
func (m *LimiterMetrics) TrackBuckets(stats func() map[string]ratelimit.Stats) error {
	gauge, err := m.meter.Int64ObservableGauge(
		"ratelimit.buckets.active",
		metric.WithDescription("Number of buckets currently held per profile"),
		metric.WithUnit("{bucket}"),
	)
	if err != nil {
		return err
	}

	reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for profile, s := range stats() {
			o.ObserveInt64(gauge, int64(s.ActiveBuckets), metric.WithAttributes(attribute.String("profile", profile)))
		}
		return nil
	}, gauge)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registration != nil {
		_ = m.registration.Unregister()
	}
	m.registration = reg
	return nil
}

// Close unregisters the bucket gauge callback.
func (m *LimiterMetrics) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registration == nil {
		return nil
	}
	err := m.registration.Unregister()
	m.registration = nil
	return err
}
