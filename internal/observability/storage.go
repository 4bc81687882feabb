package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"ratelimiter/internal/models"
	"ratelimiter/internal/storage"
)

const storageScope = "ratelimiter/storage"

// InstrumentedStorage decorates the denial journal's backend with a span,
// a latency sample and, on failure, an error count per call. A lookup that
// ends in storage.ErrNotFound is an answer, not a failure, and is not
// counted as an error.
type InstrumentedStorage struct {
	inner    storage.Storage
	backend  attribute.KeyValue
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
	pruned   metric.Int64Counter
}

// NewInstrumentedStorage wraps inner. backend is the configured storage
// type and labels every span and metric.
func NewInstrumentedStorage(inner storage.Storage, backend string) (*InstrumentedStorage, error) {
	meter := otel.Meter(storageScope)

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of denial journal storage operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Failed denial journal storage operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	pruned, err := meter.Int64Counter(
		"storage.events.pruned",
		metric.WithDescription("Denial events removed by retention pruning"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		backend:  attribute.String("storage.backend", backend),
		tracer:   otel.Tracer(storageScope),
		duration: duration,
		errors:   errCounter,
		pruned:   pruned,
	}, nil
}

// observe runs op inside a span named after operation and records its
// outcome.
func (s *InstrumentedStorage) observe(ctx context.Context, operation string, attrs []attribute.KeyValue, op func(context.Context, trace.Span) error) error {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, s.backend, attribute.String("storage.operation", operation))...),
	)
	defer span.End()

	start := time.Now()
	err := op(ctx, span)

	metricAttrs := metric.WithAttributes(s.backend, attribute.String("operation", operation))
	s.duration.Record(ctx, time.Since(start).Seconds(), metricAttrs)

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, storage.ErrNotFound):
		span.SetAttributes(attribute.Bool("storage.found", false))
	default:
		s.errors.Add(ctx, 1, metricAttrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *InstrumentedStorage) SaveEvent(ctx context.Context, event *models.DenialEvent) error {
	var attrs []attribute.KeyValue
	if event != nil {
		attrs = []attribute.KeyValue{
			attribute.String("denial.id", event.ID),
			attribute.String("ratelimit.profile", event.Profile),
		}
	}
	return s.observe(ctx, "SaveEvent", attrs, func(ctx context.Context, _ trace.Span) error {
		return s.inner.SaveEvent(ctx, event)
	})
}

func (s *InstrumentedStorage) GetEvent(ctx context.Context, id string) (*models.DenialEvent, error) {
	var event *models.DenialEvent
	err := s.observe(ctx, "GetEvent", []attribute.KeyValue{attribute.String("denial.id", id)},
		func(ctx context.Context, _ trace.Span) error {
			var err error
			event, err = s.inner.GetEvent(ctx, id)
			return err
		})
	return event, err
}

func (s *InstrumentedStorage) ListEvents(ctx context.Context, filter models.DenialFilter) ([]*models.DenialEvent, error) {
	attrs := []attribute.KeyValue{attribute.Int("denial.limit", filter.Limit)}
	if filter.Profile != "" {
		attrs = append(attrs, attribute.String("ratelimit.profile", filter.Profile))
	}

	var events []*models.DenialEvent
	err := s.observe(ctx, "ListEvents", attrs, func(ctx context.Context, span trace.Span) error {
		var err error
		events, err = s.inner.ListEvents(ctx, filter)
		span.SetAttributes(attribute.Int("denial.count", len(events)))
		return err
	})
	return events, err
}

func (s *InstrumentedStorage) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	attrs := []attribute.KeyValue{attribute.String("denial.cutoff", cutoff.UTC().Format(time.RFC3339))}

	var removed int64
	err := s.observe(ctx, "DeleteEventsBefore", attrs, func(ctx context.Context, span trace.Span) error {
		var err error
		removed, err = s.inner.DeleteEventsBefore(ctx, cutoff)
		span.SetAttributes(attribute.Int64("denial.removed", removed))
		return err
	})
	if removed > 0 {
		s.pruned.Add(ctx, removed, metric.WithAttributes(s.backend))
	}
	return removed, err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	return s.observe(ctx, "Ping", nil, func(ctx context.Context, _ trace.Span) error {
		return s.inner.Ping(ctx)
	})
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}

var _ storage.Storage = (*InstrumentedStorage)(nil)
