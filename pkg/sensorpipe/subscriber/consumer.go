// Package subscriber feeds sensor events consumed from the broker into the
// ingestion service.
package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe"
	sperrors "github.com/randalmurphal/sensorpipe/pkg/sensorpipe/errors"
	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/observability"
)

// Ingester stores one sensor event.
type Ingester interface {
	AddEvent(ctx context.Context, ev sensorpipe.SensorEvent) (sensorpipe.SensorEvent, error)
}

// MessageSource delivers the messages of a queue to a handler. A nil
// handler result acks the message, anything else nacks it.
type MessageSource interface {
	Consume(ctx context.Context, queue string, handler func(ctx context.Context, raw []byte) error) error
}

// FaultHandler receives request-scoped faults.
type FaultHandler interface {
	HandleRequestError(ctx context.Context, v any) *sperrors.AppError
}

// Consumer is the inbound queue adapter of the ingestion service.
type Consumer struct {
	source   MessageSource
	ingester Ingester
	faults   FaultHandler
	queue    string
	logger   *slog.Logger
}

// Option configures a Consumer.
type Option func(*Consumer)

// New creates a new queue consumer.
func New(source MessageSource, ingester Ingester, faults FaultHandler, opts ...Option) *Consumer {
	c := &Consumer{
		source:   source,
		ingester: ingester,
		faults:   faults,
		queue:    sensorpipe.NewEventsKey,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithQueue sets the consumed queue. Default: events.new.
func WithQueue(queue string) Option {
	return func(c *Consumer) {
		if queue != "" {
			c.queue = queue
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Run consumes messages until ctx is done or the broker fails.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started", slog.String("queue", c.queue))
	err := c.source.Consume(ctx, c.queue, c.Handle)
	c.logger.Info("consumer stopped", slog.String("queue", c.queue))
	return err
}

// Handle processes one raw message. A nil result means the event was
// stored; any error means the message must be rejected.
func (c *Consumer) Handle(ctx context.Context, raw []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("message handler panicked: %v", r)
			c.faults.HandleRequestError(ctx, err)
		}
	}()

	ev, err := decode(raw)
	if err != nil {
		observability.LogRejected(c.logger, sperrors.KindInvalidMessage, err)
		return err
	}

	if _, err := c.ingester.AddEvent(ctx, ev); err != nil {
		appErr := sperrors.Normalize(err)
		switch appErr.Name {
		case sperrors.KindInvalidEvent, sperrors.KindDuplicatedEvent:
			observability.LogRejected(c.logger, appErr.Name, appErr)
		default:
			c.faults.HandleRequestError(ctx, err)
		}
		return appErr
	}
	return nil
}

// decode checks that raw is a JSON object with a category before decoding
// it, so that poisoned messages never reach the service.
func decode(raw []byte) (sensorpipe.SensorEvent, error) {
	var ev sensorpipe.SensorEvent
	if !gjson.ValidBytes(raw) {
		return ev, sperrors.InvalidMessage("message is not valid JSON", nil)
	}
	category := gjson.GetBytes(raw, "category")
	if !category.Exists() || strings.TrimSpace(category.String()) == "" {
		return ev, sperrors.InvalidMessage("Unknown message schema", nil)
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, sperrors.InvalidMessage("cannot decode message", err)
	}
	return ev, nil
}
