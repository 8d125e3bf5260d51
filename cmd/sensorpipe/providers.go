package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/broker"
	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/config"
)

// openProvider connects the broker named by the settings.
func openProvider(ctx context.Context, s config.Settings, logger *slog.Logger) (broker.Provider, error) {
	switch s.BrokerProvider {
	case "memory":
		return broker.NewMemoryProvider(), nil
	case "mqtt":
		p, err := broker.NewMQTTProvider(ctx, broker.MQTTOptions{
			Broker:   s.MQTTBroker,
			ClientID: s.MQTTClientID,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "redis":
		p, err := broker.NewRedisProvider(ctx, broker.RedisOptions{
			Addr:   s.RedisAddr,
			Group:  s.RedisGroup,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown broker provider %q", s.BrokerProvider)
	}
}
