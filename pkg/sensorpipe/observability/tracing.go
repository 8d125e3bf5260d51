package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartIngestSpan starts a span for one ingestion operation, e.g. "add".
	StartIngestSpan(ctx context.Context, op string) (context.Context, trace.Span)

	// StartNotifySpan starts a span for one notification, retries included.
	StartNotifySpan(ctx context.Context, category string) (context.Context, trace.Span)

	// StartConsumeSpan starts a span for one queue delivery.
	StartConsumeSpan(ctx context.Context, queue, tag string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager that uses the global OTel tracer
// provider. Configure the provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{tracer: otel.Tracer("sensorpipe")}
}

// NewSpanManagerFromProvider returns a SpanManager bound to provider.
func NewSpanManagerFromProvider(provider trace.TracerProvider) SpanManager {
	return &otelSpanManager{tracer: provider.Tracer("sensorpipe")}
}

func (m *otelSpanManager) StartIngestSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "sensorpipe.ingest."+op,
		trace.WithAttributes(attribute.String("ingest.operation", op)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartNotifySpan(ctx context.Context, category string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "sensorpipe.notify",
		trace.WithAttributes(attribute.String("notification.category", category)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (m *otelSpanManager) StartConsumeSpan(ctx context.Context, queue, tag string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "sensorpipe.consume",
		trace.WithAttributes(
			attribute.String("messaging.destination", queue),
			attribute.String("messaging.message.id", tag),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
