package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DeadLetterPrefix is the MQTT topic prefix nacked messages are moved to.
// It has two levels so that it never matches a "+/queue" subscription.
const DeadLetterPrefix = "sensorpipe/dead-letter/"

const mqttQoS byte = 1

// MQTTOptions configures an MQTTProvider.
type MQTTOptions struct {
	// Broker is the broker URL, e.g. "tcp://localhost:1883".
	Broker string

	// ClientID identifies the session on the broker.
	ClientID string

	// ConnectTimeout bounds the initial connection. Default: 10s.
	ConnectTimeout time.Duration

	// Logger receives connection events. Default: slog.Default().
	Logger *slog.Logger
}

// MQTTProvider is a Provider over an MQTT broker.
//
// A message published with topic T and routing key K goes to the MQTT
// topic "T/K". Consuming queue K subscribes "+/K" at QoS 1 with manual
// acknowledgement.
type MQTTProvider struct {
	client mqtt.Client
	logger *slog.Logger

	closed   atomic.Bool
	lostOnce sync.Once
	lost     chan struct{}
	lostErr  error
}

// Compile-time interface check.
var _ Provider = (*MQTTProvider)(nil)

// NewMQTTProvider connects to the broker.
func NewMQTTProvider(ctx context.Context, opts MQTTOptions) (*MQTTProvider, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt broker url is required")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	p := &MQTTProvider{
		logger: opts.Logger,
		lost:   make(chan struct{}),
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	co.SetAutoAckDisabled(true)
	co.SetAutoReconnect(false)
	co.SetConnectTimeout(opts.ConnectTimeout)
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.logger.Error("mqtt connection lost", slog.String("error", err.Error()))
		p.markLost(err)
	})

	p.client = mqtt.NewClient(co)

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := waitToken(ctx, p.client.Connect()); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", opts.Broker, err)
	}
	p.logger.Info("mqtt connected", slog.String("broker", opts.Broker))
	return p, nil
}

func (p *MQTTProvider) markLost(err error) {
	p.lostOnce.Do(func() {
		p.lostErr = err
		close(p.lost)
	})
}

// Publish implements Provider.
func (p *MQTTProvider) Publish(ctx context.Context, topic, routingKey string, body []byte) error {
	if p.closed.Load() {
		return ErrProviderClosed
	}
	return waitToken(ctx, p.client.Publish(topic+"/"+routingKey, mqttQoS, false, body))
}

// Consume implements Provider.
func (p *MQTTProvider) Consume(ctx context.Context, queue string, deliver func(context.Context, Delivery)) error {
	if p.closed.Load() {
		return ErrProviderClosed
	}

	filter := "+/" + queue
	msgs := make(chan mqtt.Message)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case msgs <- msg:
		case <-ctx.Done():
		}
	}
	if err := waitToken(ctx, p.client.Subscribe(filter, mqttQoS, handler)); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	defer func() {
		if p.client.IsConnected() {
			p.client.Unsubscribe(filter).WaitTimeout(time.Second)
		}
	}()

	for {
		select {
		case msg := <-msgs:
			deliver(ctx, p.delivery(queue, msg))
		case <-ctx.Done():
			return ctx.Err()
		case <-p.lost:
			if p.closed.Load() {
				return ErrProviderClosed
			}
			return fmt.Errorf("consume %s: connection lost: %w", queue, p.lostErr)
		}
	}
}

func (p *MQTTProvider) delivery(queue string, msg mqtt.Message) Delivery {
	tag := strconv.FormatUint(uint64(msg.MessageID()), 10)
	return NewDelivery(queue, tag, msg.Payload(),
		func(context.Context) error {
			msg.Ack()
			return nil
		},
		func(ctx context.Context) error {
			if err := waitToken(ctx, p.client.Publish(DeadLetterPrefix+queue, mqttQoS, false, msg.Payload())); err != nil {
				return fmt.Errorf("dead-letter %s: %w", tag, err)
			}
			msg.Ack()
			return nil
		},
	)
}

// Close implements Provider.
func (p *MQTTProvider) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.client.Disconnect(250)
	p.markLost(ErrProviderClosed)
	return nil
}

// waitToken waits for an MQTT operation to complete or ctx to end.
func waitToken(ctx context.Context, t mqtt.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
