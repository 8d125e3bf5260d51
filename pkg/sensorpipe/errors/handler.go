package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// Source identifies where a fault was raised.
type Source int

const (
	// SourceDirect is a fault handed to Handle explicitly.
	SourceDirect Source = iota

	// SourceRequest is a fault raised while serving a single request or
	// queue message. Unclassified values are trusted.
	SourceRequest

	// SourceUncaught is a panic that escaped a goroutine.
	SourceUncaught

	// SourceUnhandled is an error returned by a background task nobody awaits.
	SourceUnhandled
)

// String returns the source name.
func (s Source) String() string {
	switch s {
	case SourceRequest:
		return "request"
	case SourceUncaught:
		return "uncaught"
	case SourceUnhandled:
		return "unhandled"
	default:
		return "direct"
	}
}

// FaultRecorder records one metric per handled fault.
type FaultRecorder interface {
	RecordFault(ctx context.Context, kind string, trusted bool)
}

// Handler is the single fault subscriber of the process.
// It logs every fault, records a metric, and terminates the process when
// the fault is untrusted.
type Handler struct {
	logger   *slog.Logger
	recorder FaultRecorder
	exit     func(code int)
	onFatal  func(*AppError)
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// NewHandler creates a new fault handler with the given options.
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		logger: slog.Default(),
		exit:   os.Exit,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRecorder sets the metric recorder.
func WithRecorder(r FaultRecorder) HandlerOption {
	return func(h *Handler) {
		h.recorder = r
	}
}

// WithExitFunc replaces os.Exit, e.g. in tests.
func WithExitFunc(fn func(code int)) HandlerOption {
	return func(h *Handler) {
		if fn != nil {
			h.exit = fn
		}
	}
}

// WithOnFatal sets a callback run before the process exits.
// Use it to flush telemetry or close connections.
func WithOnFatal(fn func(*AppError)) HandlerOption {
	return func(h *Handler) {
		h.onFatal = fn
	}
}

// Handle normalizes, logs and records v, and exits if it is untrusted.
// It returns the normalized error.
func (h *Handler) Handle(ctx context.Context, v any) *AppError {
	return h.handle(ctx, v, SourceDirect)
}

// HandleRequestError handles a fault raised while serving one request.
// Values that are not AppErrors are treated as trusted.
func (h *Handler) HandleRequestError(ctx context.Context, v any) *AppError {
	return h.handle(ctx, v, SourceRequest)
}

// HandleUncaught handles a panic value that escaped a goroutine.
// The process always terminates.
func (h *Handler) HandleUncaught(ctx context.Context, v any) *AppError {
	return h.handle(ctx, v, SourceUncaught)
}

// HandleUnhandled handles an error nobody awaited.
// The process always terminates.
func (h *Handler) HandleUnhandled(ctx context.Context, v any) *AppError {
	return h.handle(ctx, v, SourceUnhandled)
}

// Recover handles a panic as an uncaught fault. Use it with defer at the
// top of a goroutine.
func (h *Handler) Recover(ctx context.Context) {
	if r := recover(); r != nil {
		h.HandleUncaught(ctx, r)
	}
}

// Go runs fn in a new goroutine. A panic is an uncaught fault; a returned
// error other than context cancellation is an unhandled fault.
func (h *Handler) Go(ctx context.Context, name string, fn func(context.Context) error) {
	go func() {
		defer h.Recover(ctx)
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			h.HandleUnhandled(ctx, fmt.Errorf("%s: %w", name, err))
		}
	}()
}

func (h *Handler) handle(ctx context.Context, v any, source Source) (appErr *AppError) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fault handler failed: %v (original: %T)\n", r, v)
			if appErr == nil {
				appErr = newAppError(KindUnknown, CategoryUnknown, true, 0, "fault handler failed", nil)
			}
		}
	}()

	appErr = Normalize(v)

	switch source {
	case SourceUncaught:
		appErr = forceUntrusted(appErr, KindUncaughtException)
	case SourceUnhandled:
		appErr = forceUntrusted(appErr, KindUnhandledRejection)
	}

	h.log(ctx, appErr, source)
	h.record(ctx, appErr)

	if !appErr.Trusted {
		h.terminate(appErr)
	}
	return appErr
}

// forceUntrusted marks a process-fatal fault. Unclassified values are
// renamed after the signal that surfaced them.
func forceUntrusted(e *AppError, kind string) *AppError {
	c := e.WithTrusted(false)
	if c.Name == KindUnknown {
		c.Name = kind
	}
	if c.Category == CategoryUnknown {
		c.Category = CategoryFatal
	}
	return c
}

func (h *Handler) log(ctx context.Context, e *AppError, source Source) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fault logging failed: %v: %s\n", r, e.Error())
		}
	}()

	h.logger.ErrorContext(ctx, "fault",
		slog.String("name", e.Name),
		slog.String("message", e.Error()),
		slog.String("category", e.Category.String()),
		slog.Bool("trusted", e.Trusted),
		slog.Int("http_status", e.Status()),
		slog.String("source", source.String()),
		slog.String("stack", e.Stack()),
	)
}

func (h *Handler) record(ctx context.Context, e *AppError) {
	if h.recorder == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fault metric failed: %v\n", r)
		}
	}()
	h.recorder.RecordFault(ctx, e.Name, e.Trusted)
}

func (h *Handler) terminate(e *AppError) {
	if h.onFatal != nil {
		func() {
			defer func() { _ = recover() }()
			h.onFatal(e)
		}()
	}
	h.exit(1)
}
