package broker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMQTTProvider(t *testing.T) *MQTTProvider {
	t.Helper()
	url := os.Getenv("SENSORPIPE_TEST_MQTT_BROKER")
	if url == "" {
		t.Skip("SENSORPIPE_TEST_MQTT_BROKER not set")
	}
	p, err := NewMQTTProvider(context.Background(), MQTTOptions{
		Broker:   url,
		ClientID: "sensorpipe-test-" + uuid.NewString()[:8],
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNewMQTTProvider_RequiresBroker(t *testing.T) {
	_, err := NewMQTTProvider(context.Background(), MQTTOptions{})
	assert.Error(t, err)
}

func TestMQTTProvider_AckAndNack(t *testing.T) {
	p := newTestMQTTProvider(t)
	c := NewClient(p)
	queue := "events-" + uuid.NewString()[:8]

	startConsumer(t, c, queue, func(_ context.Context, raw []byte) error {
		if string(raw) == `"bad"` {
			return assert.AnError
		}
		return nil
	})
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Publish(ctx, "sensor", queue, "good"))
	require.NoError(t, c.Publish(ctx, "sensor", queue, "bad"))

	require.NoError(t, c.WaitFor(ctx, KindAck, 1))
	require.NoError(t, c.WaitFor(ctx, KindNack, 1))
}

func TestMQTTProvider_Closed(t *testing.T) {
	p := newTestMQTTProvider(t)
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Publish(context.Background(), "t", "q", nil), ErrProviderClosed)
	assert.ErrorIs(t, p.Consume(context.Background(), "q", nil), ErrProviderClosed)
}
