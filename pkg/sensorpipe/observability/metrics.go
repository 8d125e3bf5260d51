package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Ingestion outcomes.
const (
	OutcomeStored     = "stored"
	OutcomeRejected   = "rejected"
	OutcomeDuplicated = "duplicated"
	OutcomeFailed     = "failed"
)

// Delivery outcomes.
const (
	OutcomeAck  = "ack"
	OutcomeNack = "nack"
)

// MetricsRecorder records pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordFault records one handled fault.
	RecordFault(ctx context.Context, kind string, trusted bool)

	// RecordIngestion records the outcome and latency of one AddEvent call.
	RecordIngestion(ctx context.Context, outcome string, duration time.Duration)

	// RecordNotificationAttempt records a single notification request.
	RecordNotificationAttempt(ctx context.Context, category string, err error)

	// RecordNotification records the final result of a notification.
	RecordNotification(ctx context.Context, category string, delivered bool, attempts int)

	// RecordDelivery records an acknowledged or rejected queue message.
	RecordDelivery(ctx context.Context, queue, outcome string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	faults          metric.Int64Counter
	ingestEvents    metric.Int64Counter
	ingestLatency   metric.Float64Histogram
	notifyAttempts  metric.Int64Counter
	notifyDelivered metric.Int64Counter
	notifyTries     metric.Int64Histogram
	deliveries      metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.Meter("sensorpipe"))
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates the instruments on the given meter.
func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	faults, err := meter.Int64Counter("sensorpipe.faults",
		metric.WithDescription("Number of faults seen by the fault handler"),
	)
	if err != nil {
		return nil, err
	}

	ingestEvents, err := meter.Int64Counter("sensorpipe.ingest.events",
		metric.WithDescription("Number of ingested sensor events by outcome"),
	)
	if err != nil {
		return nil, err
	}

	ingestLatency, err := meter.Float64Histogram("sensorpipe.ingest.latency_ms",
		metric.WithDescription("Event ingestion latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	notifyAttempts, err := meter.Int64Counter("sensorpipe.notify.attempts",
		metric.WithDescription("Number of notification requests"),
	)
	if err != nil {
		return nil, err
	}

	notifyDelivered, err := meter.Int64Counter("sensorpipe.notify.deliveries",
		metric.WithDescription("Number of notifications by final result"),
	)
	if err != nil {
		return nil, err
	}

	notifyTries, err := meter.Int64Histogram("sensorpipe.notify.attempts_per_delivery",
		metric.WithDescription("Attempts spent per notification"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("sensorpipe.broker.deliveries",
		metric.WithDescription("Number of queue messages by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		faults:          faults,
		ingestEvents:    ingestEvents,
		ingestLatency:   ingestLatency,
		notifyAttempts:  notifyAttempts,
		notifyDelivered: notifyDelivered,
		notifyTries:     notifyTries,
		deliveries:      deliveries,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderFromProvider returns a MetricsRecorder bound to provider
// instead of the global one.
func NewMetricsRecorderFromProvider(provider metric.MeterProvider) (MetricsRecorder, error) {
	m, err := newOtelMetrics(provider.Meter("sensorpipe"))
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordFault records one handled fault.
func (m *otelMetrics) RecordFault(ctx context.Context, kind string, trusted bool) {
	m.faults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("trusted", trusted),
	))
}

// RecordIngestion records an ingestion outcome.
func (m *otelMetrics) RecordIngestion(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.ingestEvents.Add(ctx, 1, attrs)
	m.ingestLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordNotificationAttempt records a notification request.
func (m *otelMetrics) RecordNotificationAttempt(ctx context.Context, category string, err error) {
	m.notifyAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.Bool("success", err == nil),
	))
}

// RecordNotification records the final result of a notification.
func (m *otelMetrics) RecordNotification(ctx context.Context, category string, delivered bool, attempts int) {
	attrs := metric.WithAttributes(
		attribute.String("category", category),
		attribute.Bool("delivered", delivered),
	)
	m.notifyDelivered.Add(ctx, 1, attrs)
	m.notifyTries.Record(ctx, int64(attempts), attrs)
}

// RecordDelivery records a queue message outcome.
func (m *otelMetrics) RecordDelivery(ctx context.Context, queue, outcome string) {
	m.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("outcome", outcome),
	))
}
