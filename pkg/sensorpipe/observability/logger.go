// Package observability provides structured logging helpers, metrics and
// tracing for the pipeline.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger returns logger with the component field set.
func EnrichLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("component", component))
}

// LogIngest logs a stored event.
func LogIngest(logger *slog.Logger, id int64, category string, notified bool, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("sensor event stored",
		slog.Int64("event_id", id),
		slog.String("category", category),
		slog.Bool("notification_sent", notified),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogRejected logs an event or message refused for caller-fixable reasons.
func LogRejected(logger *slog.Logger, kind string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("sensor event rejected",
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
}

// LogNotificationAttempt logs a failed notification request.
func LogNotificationAttempt(logger *slog.Logger, category string, attempt int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("notification attempt failed",
		slog.String("category", category),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
}

// LogNotification logs the final result of a notification.
func LogNotification(logger *slog.Logger, category string, delivered bool, attempts int) {
	if logger == nil {
		return
	}
	if delivered {
		logger.Info("notification sent",
			slog.String("category", category),
			slog.Int("attempts", attempts),
		)
		return
	}
	logger.Warn("notification not sent",
		slog.String("category", category),
		slog.Int("attempts", attempts),
	)
}

// LogDelivery logs a settled queue message.
func LogDelivery(logger *slog.Logger, queue, tag, outcome string) {
	if logger == nil {
		return
	}
	logger.Debug("message settled",
		slog.String("queue", queue),
		slog.String("delivery_tag", tag),
		slog.String("outcome", outcome),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	elapsed := done()
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}
