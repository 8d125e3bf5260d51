package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sperrors "github.com/randalmurphal/sensorpipe/pkg/sensorpipe/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capturedRequest struct {
	method      string
	path        string
	contentType string
	body        Notification
}

// notificationServer answers with the given statuses in order, repeating
// the last one.
func notificationServer(t *testing.T, statuses ...int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n Notification
		_ = json.NewDecoder(r.Body).Decode(&n)

		mu.Lock()
		requests = append(requests, capturedRequest{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			body:        n,
		})
		idx := len(requests) - 1
		mu.Unlock()

		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		w.WriteHeader(statuses[idx])
	}))
	t.Cleanup(srv.Close)

	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), requests...)
	}
}

func newTestDispatcher(baseURL string, opts ...Option) *Dispatcher {
	base := []Option{
		WithBaseURL(baseURL),
		WithBackoff(time.Millisecond),
		WithTimeout(500 * time.Millisecond),
		WithLogger(discardLogger()),
	}
	return NewDispatcher(append(base, opts...)...)
}

func TestNotifySuccess(t *testing.T) {
	srv, requests := notificationServer(t, http.StatusOK)
	d := newTestDispatcher(srv.URL)

	ok := d.Notify(context.Background(), "default", Notification{ID: "ref-1"})

	assert.True(t, ok)
	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, http.MethodPost, got[0].method)
	assert.Equal(t, "/notification/default", got[0].path)
	assert.Equal(t, "application/json", got[0].contentType)
	assert.Equal(t, Notification{Title: DefaultTitle, ID: "ref-1"}, got[0].body)
}

func TestNotifyCategoryInPath(t *testing.T) {
	srv, requests := notificationServer(t, http.StatusAccepted)
	d := newTestDispatcher(srv.URL + "/")

	assert.True(t, d.Notify(context.Background(), "kids-room", Notification{Title: "Custom", ID: "x"}))

	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, "/notification/kids-room", got[0].path)
	assert.Equal(t, "Custom", got[0].body.Title)
}

func TestNotifyFailFailSucceed(t *testing.T) {
	srv, requests := notificationServer(t, http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusOK)
	d := newTestDispatcher(srv.URL)

	assert.True(t, d.Notify(context.Background(), "default", Notification{ID: "ref"}))
	assert.Len(t, requests(), 3)
}

func TestNotifyAllFail(t *testing.T) {
	srv, requests := notificationServer(t, http.StatusInternalServerError)
	d := newTestDispatcher(srv.URL)

	assert.False(t, d.Notify(context.Background(), "default", Notification{ID: "ref"}))
	assert.Len(t, requests(), 3, "exactly three attempts")
}

func TestNotifyClientErrorsAreRetried(t *testing.T) {
	srv, requests := notificationServer(t, http.StatusNotFound, http.StatusOK)
	d := newTestDispatcher(srv.URL)

	assert.True(t, d.Notify(context.Background(), "default", Notification{ID: "ref"}))
	assert.Len(t, requests(), 2)
}

func TestNotifyAttempts(t *testing.T) {
	srv, requests := notificationServer(t, http.StatusBadGateway)
	d := newTestDispatcher(srv.URL, WithAttempts(5))

	assert.False(t, d.Notify(context.Background(), "default", Notification{ID: "ref"}))
	assert.Len(t, requests(), 5)
}

func TestNotifyTimeout(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	d := newTestDispatcher(srv.URL, WithTimeout(20*time.Millisecond))

	start := time.Now()
	ok := d.Notify(context.Background(), "default", Notification{ID: "ref"})

	assert.False(t, ok)
	assert.Equal(t, int32(3), calls.Load())
	assert.Less(t, time.Since(start), 2*time.Second, "slow attempts must be abandoned")
}

func TestNotifyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := newTestDispatcher(url)
	assert.False(t, d.Notify(context.Background(), "default", Notification{ID: "ref"}))
}

func TestNotifyCancelledContext(t *testing.T) {
	srv, requests := notificationServer(t, http.StatusOK)
	d := newTestDispatcher(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, d.Notify(ctx, "default", Notification{ID: "ref"}))
	assert.Empty(t, requests())
}

func TestAttemptOnceErrors(t *testing.T) {
	srv, _ := notificationServer(t, http.StatusTeapot)
	d := newTestDispatcher(srv.URL)

	err := d.attemptOnce(context.Background(), "default", []byte(`{}`))
	var httpErr *sperrors.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTeapot, httpErr.StatusCode)
	assert.Equal(t, srv.URL+"/notification/default", httpErr.Endpoint)
}

type recordingMetrics struct {
	mu        sync.Mutex
	attempts  []bool
	delivered []bool
	tries     []int
}

func (m *recordingMetrics) RecordFault(context.Context, string, bool)              {}
func (m *recordingMetrics) RecordIngestion(context.Context, string, time.Duration) {}
func (m *recordingMetrics) RecordDelivery(context.Context, string, string)         {}

func (m *recordingMetrics) RecordNotificationAttempt(_ context.Context, _ string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, err == nil)
}

func (m *recordingMetrics) RecordNotification(_ context.Context, _ string, delivered bool, attempts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered = append(m.delivered, delivered)
	m.tries = append(m.tries, attempts)
}

func TestNotifyMetrics(t *testing.T) {
	srv, _ := notificationServer(t, http.StatusInternalServerError, http.StatusOK)
	metrics := &recordingMetrics{}
	d := newTestDispatcher(srv.URL, WithMetrics(metrics))

	require.True(t, d.Notify(context.Background(), "default", Notification{ID: "ref"}))

	assert.Equal(t, []bool{false, true}, metrics.attempts)
	assert.Equal(t, []bool{true}, metrics.delivered)
	assert.Equal(t, []int{2}, metrics.tries)
}
