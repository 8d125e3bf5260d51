package broker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Message is a published message as recorded by MemoryProvider.
type Message struct {
	Topic      string
	RoutingKey string
	Body       []byte
}

// DefaultMemoryLimit bounds every queue and every topic history of a
// MemoryProvider.
const DefaultMemoryLimit = 10000

// memoryQueue is a bounded FIFO with a wake-up signal. When full, the
// oldest pending message is dropped.
type memoryQueue struct {
	mu      sync.Mutex
	pending []Message
	limit   int
	ready   chan struct{}
}

func newMemoryQueue(limit int) *memoryQueue {
	return &memoryQueue{limit: limit, ready: make(chan struct{}, 1)}
}

func (q *memoryQueue) push(msg Message) {
	q.mu.Lock()
	q.pending = appendBounded(q.pending, msg, q.limit)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *memoryQueue) pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Message{}, false
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	return msg, true
}

// appendBounded appends v and keeps at most the newest limit elements.
// A limit of zero or less keeps everything.
func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if limit > 0 && len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}

// MemoryProvider is an in-memory Provider.
// The routing key names the queue a message lands in. Nacked messages move
// to a per-queue dead-letter list. Queues, the published history and the
// dead-letter lists each keep at most the configured limit of messages.
type MemoryProvider struct {
	mu          sync.Mutex
	queues      map[string]*memoryQueue
	published   map[string][]Message
	deadLetters map[string][][]byte
	publishErr  error
	limit       int

	closed  atomic.Bool
	closeCh chan struct{}
}

// Compile-time interface check.
var _ Provider = (*MemoryProvider)(nil)

// MemoryOption configures a MemoryProvider.
type MemoryOption func(*MemoryProvider)

// WithMemoryLimit sets how many messages each queue and history retains.
// Default: DefaultMemoryLimit. Zero or less disables the bound.
func WithMemoryLimit(n int) MemoryOption {
	return func(p *MemoryProvider) {
		p.limit = n
	}
}

// NewMemoryProvider creates a new in-memory provider.
func NewMemoryProvider(opts ...MemoryOption) *MemoryProvider {
	p := &MemoryProvider{
		queues:      make(map[string]*memoryQueue),
		published:   make(map[string][]Message),
		deadLetters: make(map[string][][]byte),
		limit:       DefaultMemoryLimit,
		closeCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// queue returns a queue, creating it on first use. p.mu must be held.
func (p *MemoryProvider) queue(name string) *memoryQueue {
	q, ok := p.queues[name]
	if !ok {
		q = newMemoryQueue(p.limit)
		p.queues[name] = q
	}
	return q
}

// Publish implements Provider.
func (p *MemoryProvider) Publish(ctx context.Context, topic, routingKey string, body []byte) error {
	if p.closed.Load() {
		return ErrProviderClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.publishErr != nil {
		err := p.publishErr
		p.mu.Unlock()
		return err
	}
	msg := Message{Topic: topic, RoutingKey: routingKey, Body: append([]byte(nil), body...)}
	p.published[topic] = appendBounded(p.published[topic], msg, p.limit)
	q := p.queue(routingKey)
	p.mu.Unlock()

	q.push(msg)
	return nil
}

// Consume implements Provider.
func (p *MemoryProvider) Consume(ctx context.Context, queue string, deliver func(context.Context, Delivery)) error {
	if p.closed.Load() {
		return ErrProviderClosed
	}

	p.mu.Lock()
	q := p.queue(queue)
	p.mu.Unlock()

	for {
		for {
			msg, ok := q.pop()
			if !ok {
				break
			}
			deliver(ctx, p.delivery(queue, msg.Body))
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return ctx.Err()
		case <-p.closeCh:
			return ErrProviderClosed
		}
	}
}

func (p *MemoryProvider) delivery(queue string, body []byte) Delivery {
	return NewDelivery(queue, uuid.NewString(), body,
		func(context.Context) error { return nil },
		func(context.Context) error {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.deadLetters[queue] = appendBounded(p.deadLetters[queue], body, p.limit)
			return nil
		},
	)
}

// Published returns the messages published to topic, in order.
func (p *MemoryProvider) Published(topic string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.published[topic]...)
}

// DeadLetters returns the bodies nacked on queue, in order.
func (p *MemoryProvider) DeadLetters(queue string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.deadLetters[queue]...)
}

// SetPublishError makes every following Publish fail with err.
// A nil err restores normal publishing.
func (p *MemoryProvider) SetPublishError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishErr = err
}

// Close implements Provider.
func (p *MemoryProvider) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.closeCh)
	return nil
}
