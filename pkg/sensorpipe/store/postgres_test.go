package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/store"
)

// TestPostgresStore runs contract tests against PostgresStore.
// Set SENSORPIPE_TEST_POSTGRES_DSN to a disposable database to enable it.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("SENSORPIPE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SENSORPIPE_TEST_POSTGRES_DSN not set")
	}

	factory := func(t *testing.T) store.Store {
		s, err := store.NewPostgresStore(context.Background(), dsn)
		require.NoError(t, err)
		return s
	}
	storeContractTest(t, "PostgresStore", factory)
}
