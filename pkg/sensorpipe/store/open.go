package store

import (
	"context"
	"fmt"
)

// Open creates the store named by driver: "memory", "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		s, err := NewSQLiteStore(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
