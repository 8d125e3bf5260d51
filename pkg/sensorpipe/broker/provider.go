// Package broker provides message broker access for the pipeline: a
// Provider abstraction over the transport and a Client that settles every
// delivery and counts the outcomes.
package broker

import (
	"context"
	"errors"
	"sync"
)

// Provider is a message transport.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Publish sends body to topic with the given routing key.
	Publish(ctx context.Context, topic, routingKey string, body []byte) error

	// Consume delivers the messages of queue to deliver, one at a time,
	// until ctx is done or the provider fails. Every Delivery must be
	// settled with Ack or Nack.
	Consume(ctx context.Context, queue string, deliver func(context.Context, Delivery)) error

	// Close releases the connection.
	Close() error
}

// Sentinel errors for broker operations.
var (
	// ErrProviderClosed indicates the provider has been closed.
	ErrProviderClosed = errors.New("broker provider closed")

	// ErrAlreadySettled indicates a delivery was acked or nacked twice.
	ErrAlreadySettled = errors.New("delivery already settled")
)

// Delivery is one received message.
type Delivery struct {
	// Queue is the queue the message was consumed from.
	Queue string

	// Tag identifies the message within the provider.
	Tag string

	// Body is the raw message payload.
	Body []byte

	settle *settler
}

// NewDelivery creates a Delivery settled through ack and nack.
// Providers call it for every received message.
func NewDelivery(queue, tag string, body []byte, ack, nack func(context.Context) error) Delivery {
	return Delivery{
		Queue:  queue,
		Tag:    tag,
		Body:   body,
		settle: &settler{ack: ack, nack: nack},
	}
}

// Ack confirms the message was processed.
func (d Delivery) Ack(ctx context.Context) error {
	return d.settle.do(ctx, true)
}

// Nack rejects the message. Providers route rejected messages to a
// dead-letter destination instead of redelivering them.
func (d Delivery) Nack(ctx context.Context) error {
	return d.settle.do(ctx, false)
}

type settler struct {
	mu      sync.Mutex
	settled bool
	ack     func(context.Context) error
	nack    func(context.Context) error
}

func (s *settler) do(ctx context.Context, ack bool) error {
	if s == nil {
		return ErrAlreadySettled
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settled {
		return ErrAlreadySettled
	}
	fn := s.nack
	if ack {
		fn = s.ack
	}
	if fn != nil {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	s.settled = true
	return nil
}
