// Package ingest implements the event ingestion service: it validates
// sensor events, triggers notifications for critical readings, persists
// the events and republishes them for analytics.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe"
	sperrors "github.com/randalmurphal/sensorpipe/pkg/sensorpipe/errors"
	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/notify"
	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/observability"
	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/store"
)

// Publisher publishes a payload onto the broker.
type Publisher interface {
	Publish(ctx context.Context, topic, routingKey string, payload any) error
}

// FaultHandler receives the faults the service absorbs.
type FaultHandler interface {
	Handle(ctx context.Context, v any) *sperrors.AppError
}

// Service orchestrates the ingestion of sensor events.
// It is safe for concurrent use.
type Service struct {
	store     store.Store
	notifier  notify.Notifier
	publisher Publisher

	faults       FaultHandler
	logger       *slog.Logger
	metrics      observability.MetricsRecorder
	spans        observability.SpanManager
	topic        string
	routingKey   string
	referenceIDs func() string
}

// Option configures a Service.
type Option func(*Service)

// New creates a new ingestion service.
func New(st store.Store, notifier notify.Notifier, publisher Publisher, opts ...Option) *Service {
	s := &Service{
		store:        st,
		notifier:     notifier,
		publisher:    publisher,
		logger:       slog.Default(),
		metrics:      observability.NoopMetrics{},
		spans:        observability.NoopSpanManager{},
		topic:        sensorpipe.AnalyticsTopic,
		routingKey:   sensorpipe.AnalyticsKey,
		referenceIDs: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.faults == nil {
		s.faults = sperrors.NewHandler(sperrors.WithLogger(s.logger))
	}
	return s
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFaults sets the handler for absorbed faults.
func WithFaults(h FaultHandler) Option {
	return func(s *Service) {
		if h != nil {
			s.faults = h
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSpans sets the span manager.
func WithSpans(m observability.SpanManager) Option {
	return func(s *Service) {
		if m != nil {
			s.spans = m
		}
	}
}

// WithAnalyticsRoute sets where stored events are republished.
// Default: analytics.events / analytics.new.
func WithAnalyticsRoute(topic, routingKey string) Option {
	return func(s *Service) {
		if topic != "" && routingKey != "" {
			s.topic = topic
			s.routingKey = routingKey
		}
	}
}

// WithReferenceIDs sets the generator of notification reference ids.
func WithReferenceIDs(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.referenceIDs = fn
		}
	}
}

// AddEvent ingests one sensor event and returns it as stored.
//
// Invalid events fail with invalid-event and a colliding reason with
// duplicated-event; nothing is stored, notified or published for either.
// Notification and analytics publishing are best effort and never fail
// the call. Once the notification step is over, cancelling ctx no longer
// aborts the write or the publish.
func (s *Service) AddEvent(ctx context.Context, ev sensorpipe.SensorEvent) (sensorpipe.SensorEvent, error) {
	ctx, span := s.spans.StartIngestSpan(ctx, "add")
	elapsed := observability.TimedOperation()

	stored, outcome, err := s.addEvent(ctx, ev)

	duration := elapsed()
	s.metrics.RecordIngestion(ctx, outcome, duration)
	s.spans.EndSpanWithError(span, err)
	if err == nil {
		observability.LogIngest(s.logger, stored.ID, stored.Category,
			stored.NotificationSent != nil && *stored.NotificationSent,
			float64(duration.Microseconds())/1000)
	}
	return stored, err
}

func (s *Service) addEvent(ctx context.Context, ev sensorpipe.SensorEvent) (sensorpipe.SensorEvent, string, error) {
	ev = Sanitize(ev)
	ev.ID = 0
	ev.NotificationSent = nil

	if err := validate(ev); err != nil {
		appErr := sperrors.InvalidEvent(err.Error())
		observability.LogRejected(s.logger, appErr.Name, appErr)
		return sensorpipe.SensorEvent{}, observability.OutcomeRejected, appErr
	}

	if ShouldNotify(ev) {
		if ev.NotificationCategory == "" {
			ev.NotificationCategory = sensorpipe.DefaultNotificationCategory
		}
		sent := s.notifier.Notify(ctx, ev.NotificationCategory, notify.Notification{
			Title: notify.DefaultTitle,
			ID:    s.referenceIDs(),
		})
		ev.NotificationSent = &sent
	}

	// The write outlives the caller: a client that gives up while the
	// notification is retried must not lose the event.
	writeCtx := context.WithoutCancel(ctx)
	stored, err := s.store.Create(writeCtx, ev)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			appErr := sperrors.DuplicatedEvent(fmt.Sprintf("an event with reason %q already exists", ev.Reason), err)
			observability.LogRejected(s.logger, appErr.Name, appErr)
			return sensorpipe.SensorEvent{}, observability.OutcomeDuplicated, appErr
		}
		return sensorpipe.SensorEvent{}, observability.OutcomeFailed, persistenceFailure(err)
	}

	if err := s.publisher.Publish(writeCtx, s.topic, s.routingKey, stored); err != nil {
		s.faults.Handle(writeCtx, sperrors.Infrastructure(sperrors.KindBrokerUnavailable, err))
	}

	return stored, observability.OutcomeStored, nil
}

// GetByID returns the event with the given id, or nil when there is none.
func (s *Service) GetByID(ctx context.Context, id int64) (*sensorpipe.SensorEvent, error) {
	ctx, span := s.spans.StartIngestSpan(ctx, "get")
	ev, err := s.store.FindByID(ctx, id)
	if err != nil {
		err = persistenceFailure(err)
	}
	s.spans.EndSpanWithError(span, err)
	return ev, err
}

// GetByCategory returns the events of category in ascending sortBy order.
// An empty sortBy sorts by category.
func (s *Service) GetByCategory(ctx context.Context, category, sortBy string) ([]sensorpipe.SensorEvent, error) {
	ctx, span := s.spans.StartIngestSpan(ctx, "by_category")
	events, err := s.store.FindByCategory(ctx, category, sortBy)
	if err != nil {
		if errors.Is(err, store.ErrInvalidSort) {
			err = sperrors.InvalidQuery(fmt.Sprintf("cannot sort by %q", sortBy), err)
		} else {
			err = persistenceFailure(err)
		}
	}
	s.spans.EndSpanWithError(span, err)
	return events, err
}

// GetAll returns every stored event ordered by id.
func (s *Service) GetAll(ctx context.Context) ([]sensorpipe.SensorEvent, error) {
	ctx, span := s.spans.StartIngestSpan(ctx, "all")
	events, err := s.store.FindAll(ctx)
	if err != nil {
		err = persistenceFailure(err)
	}
	s.spans.EndSpanWithError(span, err)
	return events, err
}

// DeleteByID removes the event with the given id. Unknown ids are not an
// error.
func (s *Service) DeleteByID(ctx context.Context, id int64) error {
	ctx, span := s.spans.StartIngestSpan(ctx, "delete")
	err := s.store.DeleteByID(ctx, id)
	if err != nil {
		err = persistenceFailure(err)
	}
	s.spans.EndSpanWithError(span, err)
	return err
}

// persistenceFailure classifies a store error. AppErrors already in the
// chain are kept.
func persistenceFailure(err error) error {
	var appErr *sperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return sperrors.Infrastructure(sperrors.KindPersistenceFailure, err)
}
