package errors

import (
	"errors"
	"fmt"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

// Well-known error kinds.
const (
	KindInvalidEvent       = "invalid-event"
	KindInvalidMessage     = "invalid-message"
	KindInvalidQuery       = "invalid-query"
	KindDuplicatedEvent    = "duplicated-event"
	KindPersistenceFailure = "persistence-failure"
	KindBrokerUnavailable  = "broker-unavailable"
	KindUnknown            = "unknown-error"
	KindUncaughtException  = "uncaught-exception"
	KindUnhandledRejection = "unhandled-rejection"
)

// AppError is the structured fault representation.
//
// Trusted errors are request-scoped and recoverable. An untrusted error
// means the process should not continue running.
type AppError struct {
	// Name is the error kind, e.g. "invalid-event".
	Name string

	// Category is the variant this error belongs to.
	Category Category

	// Trusted reports whether the process may survive this error.
	Trusted bool

	// HTTPStatus is the response status; 0 means the category default.
	HTTPStatus int

	// Message is a human readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error

	stack pkgerrors.StackTrace
}

// stackTracer is implemented by errors created with github.com/pkg/errors.
type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// Error implements the error interface.
func (e *AppError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return e.Name
	}
	if e.Err != nil && msg != e.Err.Error() {
		return fmt.Sprintf("%s: %s: %v", e.Name, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Name, msg)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status, falling back to the category default.
func (e *AppError) Status() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return e.Category.DefaultStatus()
}

// Stack returns the captured stack trace, one frame per line.
// The stack of the underlying cause is preferred when it has one.
func (e *AppError) Stack() string {
	var st stackTracer
	if errors.As(e.Err, &st) {
		return fmt.Sprintf("%+v", st.StackTrace())
	}
	if len(e.stack) == 0 {
		return ""
	}
	return fmt.Sprintf("%+v", e.stack)
}

// WithTrusted returns a copy of the error with Trusted set.
func (e *AppError) WithTrusted(trusted bool) *AppError {
	c := *e
	c.Trusted = trusted
	return &c
}

// New creates an AppError with an explicit trust flag and status.
// A status of 0 selects 500.
func New(name string, trusted bool, status int, message string) *AppError {
	category := CategoryUnknown
	if !trusted {
		category = CategoryFatal
	}
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return newAppError(name, category, trusted, status, message, nil)
}

// InvalidEvent creates the error returned when an event fails validation.
func InvalidEvent(message string) *AppError {
	return newAppError(KindInvalidEvent, CategoryValidation, true, http.StatusBadRequest, message, nil)
}

// InvalidMessage creates the error returned for a malformed queue message.
func InvalidMessage(message string, cause error) *AppError {
	return newAppError(KindInvalidMessage, CategoryValidation, true, http.StatusBadRequest, message, cause)
}

// InvalidQuery creates the error returned for unsupported query parameters.
func InvalidQuery(message string, cause error) *AppError {
	return newAppError(KindInvalidQuery, CategoryValidation, true, http.StatusBadRequest, message, cause)
}

// DuplicatedEvent creates the error returned when the business key collides.
func DuplicatedEvent(message string, cause error) *AppError {
	return newAppError(KindDuplicatedEvent, CategoryConflict, true, http.StatusConflict, message, cause)
}

// Infrastructure creates a trusted error for a failing dependency.
func Infrastructure(name string, cause error) *AppError {
	return newAppError(name, CategoryInfrastructure, true, http.StatusInternalServerError, "", cause)
}

// Fatal creates an untrusted error. Handling it terminates the process.
func Fatal(name string, cause error) *AppError {
	return newAppError(name, CategoryFatal, false, http.StatusInternalServerError, "", cause)
}

func newAppError(name string, category Category, trusted bool, status int, message string, cause error) *AppError {
	return &AppError{
		Name:       name,
		Category:   category,
		Trusted:    trusted,
		HTTPStatus: status,
		Message:    message,
		Err:        cause,
		stack:      captureStack(),
	}
}

// captureStack records the current stack without its own frames.
func captureStack() pkgerrors.StackTrace {
	st, ok := pkgerrors.New("").(stackTracer)
	if !ok {
		return nil
	}
	frames := st.StackTrace()
	if len(frames) > 2 {
		return frames[2:]
	}
	return frames
}

// Normalize converts any value into an AppError.
//
// AppErrors anywhere in an error chain are returned as is. Other errors,
// strings, nil and arbitrary values become trusted errors of
// CategoryUnknown. Normalize never panics.
func Normalize(v any) (normalized *AppError) {
	defer func() {
		if r := recover(); r != nil {
			normalized = newAppError(KindUnknown, CategoryUnknown, true, 0, fmt.Sprintf("unprintable %T", v), nil)
		}
	}()

	switch val := v.(type) {
	case nil:
		return newAppError(KindUnknown, CategoryUnknown, true, 0, "nil error", nil)
	case *AppError:
		if val == nil {
			return newAppError(KindUnknown, CategoryUnknown, true, 0, "nil error", nil)
		}
		return val
	case error:
		var appErr *AppError
		if errors.As(val, &appErr) && appErr != nil {
			return appErr
		}
		return newAppError(KindUnknown, Categorize(val), true, 0, val.Error(), val)
	case string:
		return newAppError(KindUnknown, CategoryUnknown, true, 0, val, nil)
	case fmt.Stringer:
		return newAppError(KindUnknown, CategoryUnknown, true, 0, val.String(), nil)
	default:
		return newAppError(KindUnknown, CategoryUnknown, true, 0, fmt.Sprintf("%v", val), nil)
	}
}

// HTTPError represents a non-2xx response from a remote endpoint.
type HTTPError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("HTTP %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// TimeoutError indicates an operation timed out.
type TimeoutError struct {
	Operation string
	Duration  string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Duration, e.Operation)
}

// ExhaustedError reports the last error of a retried operation.
type ExhaustedError struct {
	// Err is the error of the final attempt.
	Err error

	// Attempts is the number of attempts that have been made.
	Attempts int

	// Context describes why retrying stopped.
	Context string
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (attempts: %d)", e.Context, e.Err, e.Attempts)
	}
	return fmt.Sprintf("%s (attempts: %d)", e.Err, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}
