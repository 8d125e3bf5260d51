// Package notify delivers best-effort notifications for critical sensor
// events to the external notification endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	sperrors "github.com/randalmurphal/sensorpipe/pkg/sensorpipe/errors"
	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/observability"
)

// DefaultTitle is the title of every critical event notification.
const DefaultTitle = "Something critical happened"

// Notification is the body posted to the notification endpoint.
type Notification struct {
	Title string `json:"title"`
	ID    string `json:"id"`
}

// Notifier sends a notification and reports whether it was delivered.
type Notifier interface {
	Notify(ctx context.Context, category string, n Notification) bool
}

// Dispatcher posts notifications to {baseURL}/notification/{category}
// with bounded retries. It never returns an error and never panics.
type Dispatcher struct {
	baseURL  string
	client   *http.Client
	timeout  time.Duration
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
}

// Compile-time interface check.
var _ Notifier = (*Dispatcher)(nil)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// NewDispatcher creates a new notification dispatcher with the given options.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		baseURL:  "http://localhost",
		client:   http.DefaultClient,
		timeout:  time.Second,
		attempts: 3,
		backoff:  50 * time.Millisecond,
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WithBaseURL sets the notification service address.
func WithBaseURL(u string) Option {
	return func(d *Dispatcher) {
		if u != "" {
			d.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTimeout bounds every single attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithAttempts sets the total number of attempts, including the first.
func WithAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.attempts = n
		}
	}
}

// WithBackoff sets the pause between attempts.
func WithBackoff(backoff time.Duration) Option {
	return func(d *Dispatcher) {
		if backoff >= 0 {
			d.backoff = backoff
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithSpans sets the span manager.
func WithSpans(s observability.SpanManager) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.spans = s
		}
	}
}

// Notify posts n and reports whether any attempt succeeded.
func (d *Dispatcher) Notify(ctx context.Context, category string, n Notification) (delivered bool) {
	if n.Title == "" {
		n.Title = DefaultTitle
	}

	ctx, span := d.spans.StartNotifySpan(ctx, category)
	var finalErr error
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification dispatch panicked",
				slog.String("category", category),
				slog.Any("panic", r),
			)
			delivered = false
			finalErr = fmt.Errorf("panic: %v", r)
		}
		d.spans.EndSpanWithError(span, finalErr)
	}()

	body, err := json.Marshal(n)
	if err != nil {
		finalErr = err
		d.logger.Error("encode notification", slog.String("error", err.Error()))
		return false
	}

	cfg := sperrors.NewRetryConfig(
		sperrors.WithMaxAttempts(d.attempts),
		sperrors.WithInitialBackoff(d.backoff),
		sperrors.WithBackoffFactor(1),
		sperrors.WithJitter(0),
		sperrors.WithAttemptTimeout(d.timeout),
		sperrors.WithRetryableFunc(sperrors.RetryAll),
		sperrors.WithOnAttempt(func(attempt int, err error) {
			d.metrics.RecordNotificationAttempt(ctx, category, err)
			observability.LogNotificationAttempt(d.logger, category, attempt, err)
		}),
	)

	result := sperrors.WithRetryContext(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		err := d.attemptOnce(ctx, category, body)
		if err == nil {
			d.metrics.RecordNotificationAttempt(ctx, category, nil)
		}
		return struct{}{}, err
	})

	finalErr = result.Err
	delivered = result.Err == nil
	d.metrics.RecordNotification(ctx, category, delivered, result.Attempts)
	observability.LogNotification(d.logger, category, delivered, result.Attempts)
	return delivered
}

// attemptOnce performs a single POST. A non-2xx status is an HTTPError and
// a request cut short by ctx's deadline is a TimeoutError.
func (d *Dispatcher) attemptOnce(ctx context.Context, category string, body []byte) error {
	endpoint := d.baseURL + "/notification/" + url.PathEscape(category)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &sperrors.TimeoutError{Operation: "POST " + endpoint, Duration: d.timeout.String()}
		}
		return fmt.Errorf("POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &sperrors.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
			Endpoint:   endpoint,
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
