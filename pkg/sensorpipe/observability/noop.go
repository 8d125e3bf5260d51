package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordFault does nothing.
func (NoopMetrics) RecordFault(_ context.Context, _ string, _ bool) {}

// RecordIngestion does nothing.
func (NoopMetrics) RecordIngestion(_ context.Context, _ string, _ time.Duration) {}

// RecordNotificationAttempt does nothing.
func (NoopMetrics) RecordNotificationAttempt(_ context.Context, _ string, _ error) {}

// RecordNotification does nothing.
func (NoopMetrics) RecordNotification(_ context.Context, _ string, _ bool, _ int) {}

// RecordDelivery does nothing.
func (NoopMetrics) RecordDelivery(_ context.Context, _, _ string) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartIngestSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartIngestSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartNotifySpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartNotifySpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartConsumeSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartConsumeSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
