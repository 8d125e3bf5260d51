package subscriber

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe"
	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/broker"
	sperrors "github.com/randalmurphal/sensorpipe/pkg/sensorpipe/errors"
	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/ingest"
	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/notify"
	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/store"
)

type recordingFaults struct {
	mu     sync.Mutex
	faults []*sperrors.AppError
}

func (f *recordingFaults) Handle(_ context.Context, v any) *sperrors.AppError {
	return f.HandleRequestError(context.Background(), v)
}

func (f *recordingFaults) HandleRequestError(_ context.Context, v any) *sperrors.AppError {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := sperrors.Normalize(v)
	f.faults = append(f.faults, e)
	return e
}

func (f *recordingFaults) all() []*sperrors.AppError {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*sperrors.AppError(nil), f.faults...)
}

type stubNotifier struct{}

func (stubNotifier) Notify(context.Context, string, notify.Notification) bool { return true }

type pipeline struct {
	client   *broker.Client
	provider *broker.MemoryProvider
	store    *store.MemoryStore
	faults   *recordingFaults
}

// startPipeline wires a consumer over the in-memory broker and store and
// runs it until the test ends.
func startPipeline(t *testing.T) *pipeline {
	t.Helper()
	p := &pipeline{
		provider: broker.NewMemoryProvider(),
		store:    store.NewMemoryStore(),
		faults:   &recordingFaults{},
	}
	p.client = broker.NewClient(p.provider)
	svc := ingest.New(p.store, stubNotifier{}, p.client, ingest.WithFaults(p.faults))
	consumer := New(p.client, svc, p.faults)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
		_ = p.store.Close()
	})
	return p
}

func (p *pipeline) publish(t *testing.T, payload any) {
	t.Helper()
	require.NoError(t, p.client.Publish(context.Background(), sensorpipe.SensorEventsTopic, sensorpipe.NewEventsKey, payload))
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestConsumer_ValidMessageIsStoredAndAcked(t *testing.T) {
	p := startPipeline(t)

	p.publish(t, map[string]any{"category": "hall", "temperature": 21.5, "reason": "tick"})

	require.NoError(t, p.client.WaitFor(waitCtx(t), broker.KindAck, 1))
	acks, nacks := p.client.Counts()
	assert.Equal(t, 1, acks)
	assert.Zero(t, nacks)

	all, err := p.store.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "hall", all[0].Category)
	assert.Equal(t, 21.5, *all[0].Temperature)
	assert.Len(t, p.provider.Published(sensorpipe.AnalyticsTopic), 1)
}

func TestConsumer_MissingCategoryIsNacked(t *testing.T) {
	p := startPipeline(t)

	p.publish(t, map[string]any{"temperature": 21.5})

	require.NoError(t, p.client.WaitFor(waitCtx(t), broker.KindNack, 1))
	acks, nacks := p.client.Counts()
	assert.Zero(t, acks)
	assert.Equal(t, 1, nacks)

	all, err := p.store.FindAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Len(t, p.provider.DeadLetters(sensorpipe.NewEventsKey), 1)
	assert.Empty(t, p.faults.all(), "invalid messages are not faults")
}

func TestConsumer_InvalidJSONIsNacked(t *testing.T) {
	p := startPipeline(t)

	p.publish(t, []byte(`{"category": "hall"`))

	require.NoError(t, p.client.WaitFor(waitCtx(t), broker.KindNack, 1))
	all, err := p.store.FindAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestConsumer_InvalidAndDuplicatedEventsAreNacked(t *testing.T) {
	p := startPipeline(t)

	p.publish(t, map[string]any{"category": "hall"})
	p.publish(t, map[string]any{"category": "hall", "temperature": 20, "reason": "dup"})
	p.publish(t, map[string]any{"category": "hall", "temperature": 20, "reason": "dup"})

	ctx := waitCtx(t)
	require.NoError(t, p.client.WaitFor(ctx, broker.KindNack, 2))
	require.NoError(t, p.client.WaitFor(ctx, broker.KindAck, 1))

	all, err := p.store.FindAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Empty(t, p.faults.all())
}

func TestConsumer_KeepsConsumingAfterFailures(t *testing.T) {
	p := startPipeline(t)

	p.publish(t, []byte(`not json`))
	p.publish(t, map[string]any{"category": "hall", "temperature": 20})

	require.NoError(t, p.client.WaitFor(waitCtx(t), broker.KindAck, 1))
	_, nacks := p.client.Counts()
	assert.Equal(t, 1, nacks)
}

type fakeIngester func(context.Context, sensorpipe.SensorEvent) (sensorpipe.SensorEvent, error)

func (f fakeIngester) AddEvent(ctx context.Context, ev sensorpipe.SensorEvent) (sensorpipe.SensorEvent, error) {
	return f(ctx, ev)
}

func TestConsumerHandle_InfrastructureErrorGoesToFaults(t *testing.T) {
	faults := &recordingFaults{}
	boom := sperrors.Infrastructure(sperrors.KindPersistenceFailure, errors.New("disk full"))
	c := New(nil, fakeIngester(func(context.Context, sensorpipe.SensorEvent) (sensorpipe.SensorEvent, error) {
		return sensorpipe.SensorEvent{}, boom
	}), faults)

	err := c.Handle(context.Background(), []byte(`{"category":"hall","temperature":1}`))

	assert.ErrorIs(t, err, boom)
	got := faults.all()
	require.Len(t, got, 1)
	assert.Equal(t, sperrors.KindPersistenceFailure, got[0].Name)
}

func TestConsumerHandle_PanicIsRecovered(t *testing.T) {
	faults := &recordingFaults{}
	c := New(nil, fakeIngester(func(context.Context, sensorpipe.SensorEvent) (sensorpipe.SensorEvent, error) {
		panic("nil map")
	}), faults)

	var err error
	assert.NotPanics(t, func() {
		err = c.Handle(context.Background(), []byte(`{"category":"hall","temperature":1}`))
	})

	assert.ErrorContains(t, err, "nil map")
	got := faults.all()
	require.Len(t, got, 1)
	assert.True(t, got[0].Trusted)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid", `{"category":"hall","temperature":3}`, false},
		{"no temperature decodes", `{"category":"hall"}`, false},
		{"invalid json", `{`, true},
		{"missing category", `{"temperature":3}`, true},
		{"blank category", `{"category":"  ","temperature":3}`, true},
		{"wrong type", `{"category":"hall","temperature":"hot"}`, true},
		{"array", `[1,2]`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode([]byte(tt.raw))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var appErr *sperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, sperrors.KindInvalidMessage, appErr.Name)
		})
	}
}
