// Package api is the HTTP boundary of the ingestion service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe"
	sperrors "github.com/randalmurphal/sensorpipe/pkg/sensorpipe/errors"
	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe/observability"
)

// maxBodyBytes bounds the size of a request body.
const maxBodyBytes = 1 << 20

// Service is the ingestion service served over HTTP.
type Service interface {
	AddEvent(ctx context.Context, ev sensorpipe.SensorEvent) (sensorpipe.SensorEvent, error)
	GetByID(ctx context.Context, id int64) (*sensorpipe.SensorEvent, error)
	GetByCategory(ctx context.Context, category, sortBy string) ([]sensorpipe.SensorEvent, error)
	GetAll(ctx context.Context) ([]sensorpipe.SensorEvent, error)
	DeleteByID(ctx context.Context, id int64) error
}

// FaultHandler receives request-scoped faults.
type FaultHandler interface {
	HandleRequestError(ctx context.Context, v any) *sperrors.AppError
}

// ErrorBody is the JSON body of an error response.
type ErrorBody struct {
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
}

// Handler serves the sensor event routes.
type Handler struct {
	svc    Service
	faults FaultHandler
	logger *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler creates a new HTTP handler.
func NewHandler(svc Service, faults FaultHandler, opts ...Option) *Handler {
	h := &Handler{
		svc:    svc,
		faults: faults,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// addEvent handles POST /sensor-events.
// It answers 202 when a notification was attempted and not delivered.
func (h *Handler) addEvent(w http.ResponseWriter, r *http.Request) {
	var ev sensorpipe.SensorEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		h.writeError(w, r, sperrors.InvalidEvent(fmt.Sprintf("cannot decode request body: %v", err)))
		return
	}

	stored, err := h.svc.AddEvent(r.Context(), ev)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if stored.NotificationSent != nil && !*stored.NotificationSent {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, stored)
}

// getAll handles GET /sensor-events.
func (h *Handler) getAll(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.GetAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

// getByID handles GET /sensor-events/{id}. Unknown ids are 404 with an
// empty body.
func (h *Handler) getByID(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	ev, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ev == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, ev)
}

// getByCategory handles GET /sensor-events/{category}/{sortBy}.
func (h *Handler) getByCategory(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.GetByCategory(r.Context(), r.PathValue("category"), r.PathValue("sortBy"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

// deleteByID handles DELETE /sensor-events/{id}.
func (h *Handler) deleteByID(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteByID(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.writeError(w, r, sperrors.InvalidQuery(fmt.Sprintf("id %q is not a number", raw), err))
		return 0, false
	}
	return id, true
}

// writeError maps err to a response. Validation and conflict errors are
// logged as warnings; everything else goes to the fault handler and is
// answered without internal detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := sperrors.Normalize(err)

	switch appErr.Category {
	case sperrors.CategoryValidation, sperrors.CategoryConflict:
		observability.LogRejected(h.logger, appErr.Name, appErr)
	default:
		if handled := h.faults.HandleRequestError(r.Context(), appErr); handled != nil {
			appErr = handled
		}
	}

	status := sperrors.StatusOf(appErr)
	body := ErrorBody{Name: appErr.Name, Message: appErr.Message}
	if status >= http.StatusInternalServerError {
		body = ErrorBody{Name: "internal-error"}
	}
	h.writeJSON(w, status, body)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("write response", slog.String("error", err.Error()))
	}
}
