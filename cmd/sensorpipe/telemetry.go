package main

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/observability"
)

type telemetry struct {
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
	shutdown func(context.Context) error
}

// setupTelemetry installs the OpenTelemetry SDK providers as the global
// providers. Disabled telemetry uses the no-op recorders.
func setupTelemetry(enabled bool) (telemetry, error) {
	if !enabled {
		return telemetry{
			metrics:  observability.NoopMetrics{},
			spans:    observability.NoopSpanManager{},
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	res := resource.NewSchemaless(attribute.String("service.name", "sensorpipe"))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}

	metrics, err := observability.NewMetricsRecorderFromProvider(mp)
	if err != nil {
		_ = shutdown(context.Background())
		return telemetry{}, err
	}
	return telemetry{
		metrics:  metrics,
		spans:    observability.NewSpanManagerFromProvider(tp),
		shutdown: shutdown,
	}, nil
}
