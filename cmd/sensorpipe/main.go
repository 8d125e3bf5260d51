// Command sensorpipe runs the sensor event pipeline: the HTTP API and the
// queue consumer in front of the ingestion service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/api"
	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/broker"
	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/config"
	sperrors "github.com/randalmurphal/sensorpipe/pkg/sensorpipe/errors"
	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/ingest"
	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/notify"
	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/observability"
	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/store"
	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/subscriber"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sensorpipe:", err)
		os.Exit(1)
	}
}

func run() error {
	settings, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: settings.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := setupTelemetry(settings.TelemetryEnabled)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, settings.StoreDriver, settings.StoreDSN)
	if err != nil {
		_ = tel.shutdown(context.Background())
		return fmt.Errorf("open store: %w", err)
	}

	provider, err := openProvider(ctx, settings, logger)
	if err != nil {
		_ = st.Close()
		_ = tel.shutdown(context.Background())
		return fmt.Errorf("open broker: %w", err)
	}
	client := broker.NewClient(provider,
		broker.WithLogger(observability.EnrichLogger(logger, "broker")),
		broker.WithMetrics(tel.metrics),
		broker.WithSpans(tel.spans),
	)

	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			if err := client.Close(); err != nil {
				logger.Error("close broker", slog.String("error", err.Error()))
			}
			if err := st.Close(); err != nil {
				logger.Error("close store", slog.String("error", err.Error()))
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := tel.shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown telemetry", slog.String("error", err.Error()))
			}
		})
	}
	defer cleanup()

	faults := sperrors.NewHandler(
		sperrors.WithLogger(logger),
		sperrors.WithRecorder(tel.metrics),
		sperrors.WithOnFatal(func(*sperrors.AppError) { cleanup() }),
	)

	dispatcher := notify.NewDispatcher(
		notify.WithBaseURL(settings.NotificationBaseURL),
		notify.WithTimeout(settings.NotificationTimeout),
		notify.WithAttempts(settings.NotificationAttempts),
		notify.WithLogger(observability.EnrichLogger(logger, "notify")),
		notify.WithMetrics(tel.metrics),
		notify.WithSpans(tel.spans),
	)

	svc := ingest.New(st, dispatcher, client,
		ingest.WithLogger(observability.EnrichLogger(logger, "ingest")),
		ingest.WithFaults(faults),
		ingest.WithMetrics(tel.metrics),
		ingest.WithSpans(tel.spans),
	)

	consumer := subscriber.New(client, svc, faults,
		subscriber.WithQueue(settings.InboundQueue),
		subscriber.WithLogger(observability.EnrichLogger(logger, "subscriber")),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", settings.HTTPPort),
		Handler:           api.NewHandler(svc, faults, api.WithLogger(observability.EnrichLogger(logger, "api"))).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	faults.Go(ctx, "http server", func(context.Context) error {
		logger.Info("http server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	consumerDone := make(chan struct{})
	faults.Go(ctx, "queue consumer", func(ctx context.Context) error {
		defer close(consumerDone)
		return consumer.Run(ctx)
	})

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown http server", slog.String("error", err.Error()))
	}
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		logger.Warn("queue consumer did not stop in time")
	}
	return nil
}
