package telemetry

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BusinessTracer provides utilities for tracing analytics operations such as
// cointegration analyses and hedge-ratio filter updates.
type BusinessTracer struct {
	tracer trace.Tracer
}

// NewBusinessTracer creates a new instance of BusinessTracer.
//
// Returns:
//   - A pointer to an initialized BusinessTracer using the global provider.
func NewBusinessTracer() *BusinessTracer {
	return &BusinessTracer{tracer: GetBusinessTracer()}
}

// NewBusinessTracerWithTracer creates a BusinessTracer over a specific tracer.
func NewBusinessTracerWithTracer(tracer trace.Tracer) *BusinessTracer {
	return &BusinessTracer{tracer: tracer}
}

// TraceCointegrationAnalysis starts a span for one Johansen analysis.
//
// Parameters:
//   - ctx: The context to attach the span to.
//   - symbols: The series being tested.
//   - lags: The lag order.
//   - model: The deterministic model name.
//
// Returns:
//   - A context containing the new span.
//   - The created span.
func (bt *BusinessTracer) TraceCointegrationAnalysis(ctx context.Context, symbols []string, lags int, model string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "cointegration_analysis",
		trace.WithAttributes(
			attribute.String("symbols", strings.Join(symbols, ",")),
			attribute.Int("series", len(symbols)),
			attribute.Int("lags", lags),
			attribute.String("model", model),
		),
	)
}

// RecordCointegrationResult adds the outcome of an analysis to its span.
func (bt *BusinessTracer) RecordCointegrationResult(span trace.Span, result CointegrationMetrics) {
	span.SetAttributes(
		attribute.Int("observations", result.Observations),
		attribute.Int("rank", result.Rank),
		attribute.Float64Slice("eigenvalues", result.Eigenvalues),
		attribute.Bool("cache_hit", result.CacheHit),
		attribute.Int64("duration_ms", result.Duration.Milliseconds()),
	)
}

// TraceFilterUpdate starts a span for a hedge-ratio filter update.
func (bt *BusinessTracer) TraceFilterUpdate(ctx context.Context, pairID string, dimension int) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "hedge_filter_update",
		trace.WithAttributes(
			attribute.String("pair_id", pairID),
			attribute.Int("dimension", dimension),
		),
	)
}

// RecordFilterUpdate adds the filter output to its span.
func (bt *BusinessTracer) RecordFilterUpdate(span trace.Span, metrics FilterMetrics) {
	span.SetAttributes(
		attribute.Float64Slice("betas", metrics.Betas),
		attribute.Float64("spread", metrics.Spread),
		attribute.Float64("zscore", metrics.ZScore),
		attribute.String("signal", metrics.Signal),
		attribute.Int64("updates", metrics.Updates),
	)
}

// TraceReplay starts a span for replaying historical prices through a filter.
func (bt *BusinessTracer) TraceReplay(ctx context.Context, pairID string, symbols []string, limit int) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "hedge_filter_replay",
		trace.WithAttributes(
			attribute.String("pair_id", pairID),
			attribute.String("symbols", strings.Join(symbols, ",")),
			attribute.Int("limit", limit),
		),
	)
}

// TraceNotification starts a span for tracing notification delivery.
func (bt *BusinessTracer) TraceNotification(ctx context.Context, notificationType string, channel string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "notification",
		trace.WithAttributes(
			attribute.String("notification_type", notificationType),
			attribute.String("channel", channel),
		),
	)
}

// RecordError marks the span as failed. A nil error marks it OK.
func RecordError(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CointegrationMetrics is the span payload for a completed analysis.
type CointegrationMetrics struct {
	Observations int
	Rank         int
	Eigenvalues  []float64
	CacheHit     bool
	Duration     time.Duration
}

// FilterMetrics is the span payload for a filter update.
type FilterMetrics struct {
	Betas   []float64
	Spread  float64
	ZScore  float64
	Signal  string
	Updates int64
}
