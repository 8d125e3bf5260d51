/*
Package config loads pipeline settings from a YAML or JSON file and the
process environment.

# Overview

Config wraps a nested map[string]any and provides typed accessors addressed
by dotted paths. Missing keys and type mismatches return the default value:

	cfg, err := config.FromYAML([]byte(`
	notification:
	  base_url: http://notifier:8080
	  timeout: 2s
	`))

	url := cfg.String("notification.base_url", "http://localhost") // http://notifier:8080
	attempts := cfg.Int("notification.attempts", 3)                // 3

# Environment

FromEnv builds a Config from the well-known environment variables
(HTTP_PORT, NOTIFICATION_TIMEOUT, STORE_DSN, ...). Merge overlays it on the
file so the environment wins:

	file, _ := config.FromFile("sensorpipe.yaml")
	cfg := file.Merge(config.FromEnv(os.LookupEnv))

Load does all of this and returns typed Settings:

	settings, err := config.Load(os.Getenv("CONFIG_FILE"))

# Type Coercion

Values read from the environment are strings, so Int, Bool and Duration
also parse strings. A bare integer duration coming from the environment is
interpreted as milliseconds; inside a file it is interpreted as seconds.

# Thread Safety

Config is safe for concurrent read access. Merge returns a new Config and
does not modify either input.
*/
package config
