package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/observability"
)

// Kind is a delivery outcome.
type Kind int

const (
	// KindAck counts acknowledged deliveries.
	KindAck Kind = iota

	// KindNack counts rejected deliveries.
	KindNack
)

// String returns the outcome name.
func (k Kind) String() string {
	if k == KindNack {
		return observability.OutcomeNack
	}
	return observability.OutcomeAck
}

// Handler processes one message body. A nil error acks the message,
// anything else nacks it.
type Handler = func(ctx context.Context, raw []byte) error

// Client wraps a Provider with JSON publishing, delivery settlement and
// outcome counters.
type Client struct {
	provider Provider
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager

	mu      sync.Mutex
	acks    int
	nacks   int
	changed chan struct{}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new broker client over provider.
func NewClient(provider Provider, opts ...ClientOption) *Client {
	c := &Client{
		provider: provider,
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) ClientOption {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpans sets the span manager.
func WithSpans(s observability.SpanManager) ClientOption {
	return func(c *Client) {
		if s != nil {
			c.spans = s
		}
	}
}

// Publish JSON-encodes payload and publishes it. Byte slices and
// json.RawMessage are sent as is.
func (c *Client) Publish(ctx context.Context, topic, routingKey string, payload any) error {
	var body []byte
	switch v := payload.(type) {
	case []byte:
		body = v
	case json.RawMessage:
		body = v
	default:
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encode message for %s/%s: %w", topic, routingKey, err)
		}
	}

	if err := c.provider.Publish(ctx, topic, routingKey, body); err != nil {
		return fmt.Errorf("publish to %s/%s: %w", topic, routingKey, err)
	}
	return nil
}

// Consume runs handler for every message of queue until ctx is done or the
// provider fails. Counters move only after the provider confirms the
// settlement.
func (c *Client) Consume(ctx context.Context, queue string, handler Handler) error {
	return c.provider.Consume(ctx, queue, func(ctx context.Context, d Delivery) {
		ctx, span := c.spans.StartConsumeSpan(ctx, queue, d.Tag)

		err := c.invoke(ctx, handler, d.Body)

		kind, settle := KindAck, d.Ack
		if err != nil {
			kind, settle = KindNack, d.Nack
		}
		if settleErr := settle(ctx); settleErr != nil {
			c.logger.Error("settle delivery",
				slog.String("queue", queue),
				slog.String("delivery_tag", d.Tag),
				slog.String("outcome", kind.String()),
				slog.String("error", settleErr.Error()),
			)
			c.spans.EndSpanWithError(span, settleErr)
			return
		}

		c.record(kind)
		c.metrics.RecordDelivery(ctx, queue, kind.String())
		observability.LogDelivery(c.logger, queue, d.Tag, kind.String())
		c.spans.EndSpanWithError(span, err)
	})
}

// invoke runs handler, turning a panic into an error.
func (c *Client) invoke(ctx context.Context, handler Handler, raw []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, raw)
}

func (c *Client) record(kind Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if kind == KindNack {
		c.nacks++
	} else {
		c.acks++
	}
	close(c.changed)
	c.changed = make(chan struct{})
}

// Counts returns the number of acked and nacked deliveries.
func (c *Client) Counts() (acks, nacks int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acks, c.nacks
}

// WaitFor blocks until at least n deliveries of kind are settled or ctx
// is done.
func (c *Client) WaitFor(ctx context.Context, kind Kind, n int) error {
	for {
		c.mu.Lock()
		count := c.acks
		if kind == KindNack {
			count = c.nacks
		}
		changed := c.changed
		c.mu.Unlock()

		if count >= n {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d %s: %w", n, kind, ctx.Err())
		}
	}
}

// Close closes the provider.
func (c *Client) Close() error {
	return c.provider.Close()
}
