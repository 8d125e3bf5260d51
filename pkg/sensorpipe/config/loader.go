package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromFile loads configuration from a file, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}

// envBinding maps an environment variable to a config path.
type envBinding struct {
	env      string
	path     string
	duration bool
}

var envBindings = []envBinding{
	{env: "HTTP_PORT", path: "http.port"},
	{env: "NOTIFICATION_BASE_URL", path: "notification.base_url"},
	{env: "NOTIFICATION_TIMEOUT", path: "notification.timeout", duration: true},
	{env: "NOTIFICATION_ATTEMPTS", path: "notification.attempts"},
	{env: "STORE_DRIVER", path: "store.driver"},
	{env: "STORE_DSN", path: "store.dsn"},
	{env: "BROKER_PROVIDER", path: "broker.provider"},
	{env: "MQTT_BROKER", path: "broker.mqtt.url"},
	{env: "MQTT_CLIENT_ID", path: "broker.mqtt.client_id"},
	{env: "REDIS_ADDR", path: "broker.redis.addr"},
	{env: "REDIS_GROUP", path: "broker.redis.group"},
	{env: "INBOUND_QUEUE", path: "broker.inbound_queue"},
	{env: "LOG_LEVEL", path: "log.level"},
	{env: "OTEL_ENABLED", path: "telemetry.enabled"},
}

// FromEnv builds a Config from the well-known environment variables.
// Unset and empty variables are skipped. A bare integer duration is
// read as milliseconds.
func FromEnv(lookup func(string) (string, bool)) Config {
	cfg := New(nil)
	if lookup == nil {
		return cfg
	}
	for _, b := range envBindings {
		v, ok := lookup(b.env)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		v = strings.TrimSpace(v)
		if b.duration {
			if _, err := strconv.Atoi(v); err == nil {
				v += "ms"
			}
		}
		cfg.set(b.path, v)
	}
	return cfg
}
