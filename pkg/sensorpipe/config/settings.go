package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Settings is the typed configuration of the sensorpipe process.
type Settings struct {
	HTTPPort int

	NotificationBaseURL  string
	NotificationTimeout  time.Duration
	NotificationAttempts int

	// StoreDriver is one of "memory", "sqlite" or "postgres".
	StoreDriver string
	StoreDSN    string

	// BrokerProvider is one of "memory", "mqtt" or "redis".
	BrokerProvider string
	MQTTBroker     string
	MQTTClientID   string
	RedisAddr      string
	RedisGroup     string
	InboundQueue   string

	LogLevel         slog.Level
	TelemetryEnabled bool
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		HTTPPort:             3000,
		NotificationBaseURL:  "http://localhost",
		NotificationTimeout:  time.Second,
		NotificationAttempts: 3,
		StoreDriver:          "sqlite",
		StoreDSN:             "file:sensorpipe.db",
		BrokerProvider:       "memory",
		MQTTBroker:           "tcp://localhost:1883",
		MQTTClientID:         "sensorpipe",
		RedisAddr:            "localhost:6379",
		RedisGroup:           "sensorpipe",
		InboundQueue:         "events.new",
		LogLevel:             slog.LevelInfo,
	}
}

// FromConfig extracts Settings from cfg, falling back to Defaults.
func FromConfig(cfg Config) (Settings, error) {
	d := Defaults()
	s := Settings{
		HTTPPort:             cfg.Int("http.port", d.HTTPPort),
		NotificationBaseURL:  strings.TrimRight(cfg.String("notification.base_url", d.NotificationBaseURL), "/"),
		NotificationTimeout:  cfg.Duration("notification.timeout", d.NotificationTimeout),
		NotificationAttempts: cfg.Int("notification.attempts", d.NotificationAttempts),
		StoreDriver:          strings.ToLower(cfg.String("store.driver", d.StoreDriver)),
		StoreDSN:             cfg.String("store.dsn", d.StoreDSN),
		BrokerProvider:       strings.ToLower(cfg.String("broker.provider", d.BrokerProvider)),
		MQTTBroker:           cfg.String("broker.mqtt.url", d.MQTTBroker),
		MQTTClientID:         cfg.String("broker.mqtt.client_id", d.MQTTClientID),
		RedisAddr:            cfg.String("broker.redis.addr", d.RedisAddr),
		RedisGroup:           cfg.String("broker.redis.group", d.RedisGroup),
		InboundQueue:         cfg.String("broker.inbound_queue", d.InboundQueue),
		LogLevel:             d.LogLevel,
		TelemetryEnabled:     cfg.Bool("telemetry.enabled", d.TelemetryEnabled),
	}

	if level := cfg.String("log.level", ""); level != "" {
		if err := s.LogLevel.UnmarshalText([]byte(level)); err != nil {
			return Settings{}, fmt.Errorf("log.level: %w", err)
		}
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate reports every invalid field.
func (s Settings) Validate() error {
	var errs []error
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http.port: %d out of range", s.HTTPPort))
	}
	if s.NotificationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("notification.timeout: must be positive, got %s", s.NotificationTimeout))
	}
	if s.NotificationAttempts < 1 {
		errs = append(errs, fmt.Errorf("notification.attempts: must be at least 1, got %d", s.NotificationAttempts))
	}
	switch s.StoreDriver {
	case "memory", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", s.StoreDriver))
	}
	switch s.BrokerProvider {
	case "memory", "mqtt", "redis":
	default:
		errs = append(errs, fmt.Errorf("broker.provider: unknown provider %q", s.BrokerProvider))
	}
	if s.InboundQueue == "" {
		errs = append(errs, errors.New("broker.inbound_queue: must not be empty"))
	}
	return errors.Join(errs...)
}

// Load reads the optional file at path, overlays the environment and
// returns the resulting Settings. An empty path skips the file.
func Load(path string) (Settings, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Settings, error) {
	cfg := New(nil)
	if path != "" {
		file, err := FromFile(path)
		if err != nil {
			return Settings{}, err
		}
		cfg = file
	}
	return FromConfig(cfg.Merge(FromEnv(lookup)))
}
