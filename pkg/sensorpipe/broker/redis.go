package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeadLetterSuffix is appended to a stream name to form its dead-letter
// stream.
const DeadLetterSuffix = ".dead-letter"

// RedisOptions configures a RedisProvider.
type RedisOptions struct {
	// Addr is the server address, e.g. "localhost:6379".
	Addr string

	// Group is the consumer group name.
	Group string

	// Consumer names this process within the group. Default: Group.
	Consumer string

	// Block bounds a single blocking read. Default: 1s.
	Block time.Duration

	// Logger. Default: slog.Default().
	Logger *slog.Logger
}

// RedisProvider is a Provider over Redis Streams.
//
// Every routing key is a stream. Consuming queue K reads stream K through
// a consumer group. Ack is XACK; nack copies the entry to "K.dead-letter"
// and then acknowledges it.
type RedisProvider struct {
	rdb      *redis.Client
	group    string
	consumer string
	block    time.Duration
	logger   *slog.Logger
	closed   atomic.Bool
}

// Compile-time interface check.
var _ Provider = (*RedisProvider)(nil)

// NewRedisProvider connects to the server.
func NewRedisProvider(ctx context.Context, opts RedisOptions) (*RedisProvider, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if opts.Group == "" {
		return nil, errors.New("redis consumer group is required")
	}
	if opts.Consumer == "" {
		opts.Consumer = opts.Group
	}
	if opts.Block <= 0 {
		opts.Block = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	rdb := redis.NewClient(&redis.Options{Addr: opts.Addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", opts.Addr, err)
	}

	return &RedisProvider{
		rdb:      rdb,
		group:    opts.Group,
		consumer: opts.Consumer,
		block:    opts.Block,
		logger:   opts.Logger,
	}, nil
}

// Publish implements Provider.
func (p *RedisProvider) Publish(ctx context.Context, topic, routingKey string, body []byte) error {
	if p.closed.Load() {
		return ErrProviderClosed
	}
	return p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: routingKey,
		Values: map[string]any{"topic": topic, "body": body},
	}).Err()
}

// Consume implements Provider.
func (p *RedisProvider) Consume(ctx context.Context, queue string, deliver func(context.Context, Delivery)) error {
	if p.closed.Load() {
		return ErrProviderClosed
	}

	err := p.rdb.XGroupCreateMkStream(ctx, queue, p.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", p.group, queue, err)
	}
	p.logger.Debug("redis consumer ready",
		slog.String("stream", queue),
		slog.String("group", p.group),
		slog.String("consumer", p.consumer),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.closed.Load() {
			return ErrProviderClosed
		}

		streams, err := p.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.group,
			Consumer: p.consumer,
			Streams:  []string{queue, ">"},
			Count:    1,
			Block:    p.block,
		}).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if p.closed.Load() {
				return ErrProviderClosed
			}
			return fmt.Errorf("read %s: %w", queue, err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				deliver(ctx, p.delivery(queue, msg))
			}
		}
	}
}

func (p *RedisProvider) delivery(queue string, msg redis.XMessage) Delivery {
	body := streamBody(msg)
	return NewDelivery(queue, msg.ID, body,
		func(ctx context.Context) error {
			return p.rdb.XAck(ctx, queue, p.group, msg.ID).Err()
		},
		func(ctx context.Context) error {
			err := p.rdb.XAdd(ctx, &redis.XAddArgs{
				Stream: queue + DeadLetterSuffix,
				Values: map[string]any{"body": body, "origin": msg.ID},
			}).Err()
			if err != nil {
				return fmt.Errorf("dead-letter %s: %w", msg.ID, err)
			}
			return p.rdb.XAck(ctx, queue, p.group, msg.ID).Err()
		},
	)
}

func streamBody(msg redis.XMessage) []byte {
	switch v := msg.Values["body"].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

// Close implements Provider.
func (p *RedisProvider) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.rdb.Close()
}
