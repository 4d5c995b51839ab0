// Package observability decorates a remote.Resource with tracing, metrics and
// structured logging.
package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/vbonduro/spaform/internal/remote"
	"github.com/vbonduro/spaform/internal/spa"
)

const tracerName = "github.com/vbonduro/spaform/internal/remote/observability"

// Resource wraps another remote.Resource; it never alters results.
type Resource struct {
	inner   remote.Resource
	tracer  trace.Tracer
	logger  *slog.Logger
	metrics resourceMetrics
}

type Option func(*Resource)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resource) {
		r.logger = logger
	}
}

func WithTracer(tr trace.Tracer) Option {
	return func(r *Resource) {
		r.tracer = tr
	}
}

// WithMeter creates the call counter and latency histogram from m.
func WithMeter(m metric.Meter) Option {
	return func(r *Resource) {
		r.metrics = newResourceMetrics(m)
	}
}

func New(inner remote.Resource, opts ...Option) *Resource {
	r := &Resource{
		inner:  inner,
		tracer: nooptrace.NewTracerProvider().Tracer(tracerName),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.tracer == nil {
		r.tracer = nooptrace.NewTracerProvider().Tracer(tracerName)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r
}

func (r *Resource) Create(ctx context.Context, draft spa.Draft) (*spa.Record, error) {
	ctx, span := r.tracer.Start(ctx, "Resource.Create", trace.WithAttributes(
		attribute.Int("spa.images", len(draft.Images)),
	))
	defer span.End()

	start := time.Now()
	rec, err := r.inner.Create(ctx, draft)
	r.finish(ctx, span, "create", start, err)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("spa.id", int64(rec.ID)))
	r.logger.InfoContext(ctx, "spa created", slog.Int64("spa.id", int64(rec.ID)))
	return rec, nil
}

func (r *Resource) Read(ctx context.Context, id spa.ID) (*spa.Record, error) {
	ctx, span := r.tracer.Start(ctx, "Resource.Read", trace.WithAttributes(attribute.Int64("spa.id", int64(id))))
	defer span.End()

	start := time.Now()
	rec, err := r.inner.Read(ctx, id)
	r.finish(ctx, span, "read", start, err, slog.Int64("spa.id", int64(id)))
	return rec, err
}

func (r *Resource) Update(ctx context.Context, id spa.ID, draft spa.Draft) (*spa.Record, error) {
	ctx, span := r.tracer.Start(ctx, "Resource.Update", trace.WithAttributes(
		attribute.Int64("spa.id", int64(id)),
		attribute.Int("spa.images", len(draft.Images)),
	))
	defer span.End()

	start := time.Now()
	rec, err := r.inner.Update(ctx, id, draft)
	r.finish(ctx, span, "update", start, err, slog.Int64("spa.id", int64(id)))
	if err == nil {
		r.logger.InfoContext(ctx, "spa updated", slog.Int64("spa.id", int64(id)))
	}
	return rec, err
}

func (r *Resource) Patch(ctx context.Context, id spa.ID, field spa.Field, value string) (*spa.Record, error) {
	ctx, span := r.tracer.Start(ctx, "Resource.Patch", trace.WithAttributes(
		attribute.Int64("spa.id", int64(id)),
		attribute.String("spa.field", string(field)),
	))
	defer span.End()

	start := time.Now()
	rec, err := r.inner.Patch(ctx, id, field, value)
	r.finish(ctx, span, "patch", start, err, slog.Int64("spa.id", int64(id)), slog.String("field", string(field)))
	return rec, err
}

func (r *Resource) Delete(ctx context.Context, id spa.ID) error {
	ctx, span := r.tracer.Start(ctx, "Resource.Delete", trace.WithAttributes(attribute.Int64("spa.id", int64(id))))
	defer span.End()

	start := time.Now()
	err := r.inner.Delete(ctx, id)
	r.finish(ctx, span, "delete", start, err, slog.Int64("spa.id", int64(id)))
	if err == nil {
		r.logger.InfoContext(ctx, "spa deleted", slog.Int64("spa.id", int64(id)))
	}
	return err
}

func (r *Resource) finish(ctx context.Context, span trace.Span, op string, start time.Time, err error, attrs ...slog.Attr) {
	outcome := "ok"
	if err != nil {
		outcome = outcomeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		attrs = append(attrs, slog.String("op", op), slog.String("error", err.Error()))
		r.logger.LogAttrs(ctx, slog.LevelWarn, "remote call failed", attrs...)
	}
	r.metrics.record(ctx, op, outcome, time.Since(start))
}

func outcomeOf(err error) string {
	var rerr *remote.Error
	if errors.As(err, &rerr) {
		switch rerr.Kind {
		case remote.TransportFailure:
			return "transport_failure"
		case remote.ServerRejection:
			return "server_rejection"
		case remote.DecodeFailure:
			return "decode_failure"
		}
	}
	return "error"
}

type resourceMetrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

func newResourceMetrics(m metric.Meter) resourceMetrics {
	if m == nil {
		return resourceMetrics{}
	}
	calls, _ := m.Int64Counter("spaform.remote.calls", metric.WithDescription("Remote resource calls by operation and outcome"))
	duration, _ := m.Float64Histogram("spaform.remote.duration", metric.WithDescription("Remote resource call latency"), metric.WithUnit("ms"))
	return resourceMetrics{calls: calls, duration: duration}
}

func (m resourceMetrics) record(ctx context.Context, op, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("op", op), attribute.String("outcome", outcome))
	if m.calls != nil {
		m.calls.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	}
}

var _ remote.Resource = (*Resource)(nil)
