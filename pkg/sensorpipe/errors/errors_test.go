package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
)

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{CategoryUnknown, "unknown"},
		{CategoryValidation, "validation"},
		{CategoryConflict, "conflict"},
		{CategoryInfrastructure, "infrastructure"},
		{CategoryFatal, "fatal"},
		{Category(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.category.String(); got != tt.expected {
				t.Errorf("Category(%d).String() = %s, want %s", tt.category, got, tt.expected)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryUnknown},
		{"invalid event", InvalidEvent("missing category"), CategoryValidation},
		{"duplicated event", DuplicatedEvent("reason taken", nil), CategoryConflict},
		{"wrapped infrastructure", fmt.Errorf("save: %w", Infrastructure("db-down", errors.New("refused"))), CategoryInfrastructure},
		{"fatal", Fatal("corrupted", nil), CategoryFatal},
		{"HTTP error", &HTTPError{StatusCode: 500}, CategoryInfrastructure},
		{"timeout", &TimeoutError{Operation: "notify", Duration: "1s"}, CategoryInfrastructure},
		{"deadline", context.DeadlineExceeded, CategoryInfrastructure},
		{"plain error", errors.New("boom"), CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.expected {
				t.Errorf("Categorize() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"HTTP 503", &HTTPError{StatusCode: 503}, true},
		{"HTTP 500", &HTTPError{StatusCode: 500}, true},
		{"HTTP 429", &HTTPError{StatusCode: 429}, true},
		{"HTTP 404", &HTTPError{StatusCode: 404}, false},
		{"timeout", &TimeoutError{}, true},
		{"cancelled", context.Canceled, false},
		{"validation", InvalidEvent("bad"), false},
		{"unknown", errors.New("?"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError(t *testing.T) {
	t.Run("constructor statuses", func(t *testing.T) {
		cases := map[*AppError]int{
			InvalidEvent("x"):                      http.StatusBadRequest,
			InvalidMessage("x", nil):               http.StatusBadRequest,
			InvalidQuery("x", nil):                 http.StatusBadRequest,
			DuplicatedEvent("x", nil):              http.StatusConflict,
			Infrastructure("db", nil):              http.StatusInternalServerError,
			Fatal("oops", nil):                     http.StatusInternalServerError,
			New("db-is-unaccessible", true, 0, ""): http.StatusInternalServerError,
		}
		for e, want := range cases {
			if got := e.Status(); got != want {
				t.Errorf("%s: Status() = %d, want %d", e.Name, got, want)
			}
		}
	})

	t.Run("trust flags", func(t *testing.T) {
		if !InvalidEvent("x").Trusted {
			t.Error("validation errors should be trusted")
		}
		if Fatal("x", nil).Trusted {
			t.Error("fatal errors should not be trusted")
		}
		if New("db-is-unaccessible", false, 500, "").Trusted {
			t.Error("explicitly untrusted errors should stay untrusted")
		}
	})

	t.Run("message", func(t *testing.T) {
		err := Infrastructure(KindPersistenceFailure, errors.New("connection refused"))
		if got := err.Error(); got != "persistence-failure: connection refused" {
			t.Errorf("Error() = %q", got)
		}
		err = DuplicatedEvent("reason already exists", errors.New("unique violation"))
		if got := err.Error(); got != "duplicated-event: reason already exists: unique violation" {
			t.Errorf("Error() = %q", got)
		}
		if got := New("bare", true, 0, "").Error(); got != "bare" {
			t.Errorf("Error() = %q, want bare", got)
		}
	})

	t.Run("unwrap", func(t *testing.T) {
		inner := errors.New("inner error")
		err := Infrastructure("db", inner)
		if !errors.Is(err, inner) {
			t.Error("Unwrap should return inner error")
		}
	})

	t.Run("stack captured", func(t *testing.T) {
		err := InvalidEvent("x")
		if !strings.Contains(err.Stack(), "TestAppError") {
			t.Errorf("stack should contain the test function, got %q", err.Stack())
		}
	})

	t.Run("cause stack preferred", func(t *testing.T) {
		cause := pkgerrors.New("from pkg/errors")
		err := Infrastructure("db", cause)
		if err.Stack() == "" {
			t.Error("expected a stack")
		}
	})

	t.Run("with trusted copies", func(t *testing.T) {
		orig := InvalidEvent("x")
		c := orig.WithTrusted(false)
		if !orig.Trusted || c.Trusted {
			t.Error("WithTrusted should not modify the original")
		}
	})
}

type panickyStringer struct{ name *string }

func (p panickyStringer) String() string { return *p.name }

type nilPointerError struct{ msg string }

func (e *nilPointerError) Error() string { return e.msg }

func TestNormalize(t *testing.T) {
	app := DuplicatedEvent("dup", nil)

	tests := []struct {
		name     string
		value    any
		kind     string
		category Category
		message  string
	}{
		{"nil", nil, KindUnknown, CategoryUnknown, "nil error"},
		{"typed nil app error", (*AppError)(nil), KindUnknown, CategoryUnknown, "nil error"},
		{"app error", app, KindDuplicatedEvent, CategoryConflict, "dup"},
		{"wrapped app error", fmt.Errorf("ctx: %w", app), KindDuplicatedEvent, CategoryConflict, "dup"},
		{"native error", errors.New("boom"), KindUnknown, CategoryUnknown, "boom"},
		{"timeout error", &TimeoutError{Operation: "x", Duration: "1s"}, KindUnknown, CategoryInfrastructure, "timeout after 1s: x"},
		{"string", "something broke", KindUnknown, CategoryUnknown, "something broke"},
		{"number", 42, KindUnknown, CategoryUnknown, "42"},
		{"plain object", map[string]any{"a": 1}, KindUnknown, CategoryUnknown, "map[a:1]"},
		{"panicking stringer", panickyStringer{}, KindUnknown, CategoryUnknown, "unprintable errors.panickyStringer"},
		{"typed nil error", (*nilPointerError)(nil), KindUnknown, CategoryUnknown, "unprintable *errors.nilPointerError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.value)
			if got == nil {
				t.Fatal("Normalize returned nil")
			}
			if got.Name != tt.kind {
				t.Errorf("Name = %q, want %q", got.Name, tt.kind)
			}
			if got.Category != tt.category {
				t.Errorf("Category = %s, want %s", got.Category, tt.category)
			}
			if got.Message != tt.message {
				t.Errorf("Message = %q, want %q", got.Message, tt.message)
			}
			if !got.Trusted {
				t.Error("normalized values should be trusted by default")
			}
		})
	}

	t.Run("preserves identity", func(t *testing.T) {
		if Normalize(app) != app {
			t.Error("Normalize should return the same AppError")
		}
	})
}

func TestHelperFunctions(t *testing.T) {
	dup := fmt.Errorf("wrap: %w", DuplicatedEvent("dup", nil))

	if got := StatusOf(dup); got != http.StatusConflict {
		t.Errorf("StatusOf = %d, want 409", got)
	}
	if got := StatusOf(errors.New("x")); got != http.StatusInternalServerError {
		t.Errorf("StatusOf = %d, want 500", got)
	}
	if got := StatusOf(nil); got != http.StatusOK {
		t.Errorf("StatusOf(nil) = %d, want 200", got)
	}
}

func TestWithRetryContext_Attempts(t *testing.T) {
	t.Run("success on first try", func(t *testing.T) {
		calls := 0
		cfg := NewRetryConfig(WithMaxAttempts(3))
		result := WithRetryContext(context.Background(), cfg, func(context.Context) (string, error) {
			calls++
			return "success", nil
		})

		if result.Err != nil {
			t.Errorf("Unexpected error: %v", result.Err)
		}
		if result.Value != "success" {
			t.Errorf("Value = %q, want %q", result.Value, "success")
		}
		if result.Attempts != 1 || calls != 1 {
			t.Errorf("Attempts = %d, calls = %d, want 1", result.Attempts, calls)
		}
	})

	t.Run("success on third attempt", func(t *testing.T) {
		calls := 0
		cfg := NewRetryConfig(
			WithMaxAttempts(3),
			WithInitialBackoff(time.Millisecond),
		)
		result := WithRetryContext(context.Background(), cfg, func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", &HTTPError{StatusCode: 503}
			}
			return "success", nil
		})

		if result.Err != nil {
			t.Errorf("Unexpected error: %v", result.Err)
		}
		if result.Attempts != 3 {
			t.Errorf("Attempts = %d, want 3", result.Attempts)
		}
	})

	t.Run("max attempts exceeded", func(t *testing.T) {
		cfg := NewRetryConfig(
			WithMaxAttempts(3),
			WithInitialBackoff(time.Millisecond),
		)
		result := WithRetryContext(context.Background(), cfg, func(context.Context) (string, error) {
			return "", &HTTPError{StatusCode: 503}
		})

		var exhausted *ExhaustedError
		if !errors.As(result.Err, &exhausted) {
			t.Fatalf("Err = %v, want ExhaustedError", result.Err)
		}
		if result.Attempts != 3 || exhausted.Attempts != 3 {
			t.Errorf("Attempts = %d, want 3", result.Attempts)
		}
	})

	t.Run("non-retryable error stops immediately", func(t *testing.T) {
		calls := 0
		cfg := NewRetryConfig(WithMaxAttempts(3))
		result := WithRetryContext(context.Background(), cfg, func(context.Context) (string, error) {
			calls++
			return "", &HTTPError{StatusCode: 404}
		})

		if result.Err == nil {
			t.Error("Expected error")
		}
		if calls != 1 {
			t.Errorf("Calls = %d, want 1 (should not retry permanent error)", calls)
		}
	})

	t.Run("retry everything", func(t *testing.T) {
		calls := 0
		var seen []int
		cfg := NewRetryConfig(
			WithMaxAttempts(3),
			WithInitialBackoff(time.Millisecond),
			WithRetryableFunc(RetryAll),
			WithOnAttempt(func(attempt int, _ error) { seen = append(seen, attempt) }),
		)
		WithRetryContext(context.Background(), cfg, func(context.Context) (string, error) {
			calls++
			return "", &HTTPError{StatusCode: 404}
		})

		if calls != 3 {
			t.Errorf("Calls = %d, want 3", calls)
		}
		if len(seen) != 3 || seen[2] != 3 {
			t.Errorf("OnAttempt saw %v, want [1 2 3]", seen)
		}
	})

	t.Run("zero attempts still runs once", func(t *testing.T) {
		calls := 0
		WithRetryContext(context.Background(), RetryConfig{}, func(context.Context) (int, error) {
			calls++
			return 0, nil
		})
		if calls != 1 {
			t.Errorf("Calls = %d, want 1", calls)
		}
	})
}

func TestWithRetryContext(t *testing.T) {
	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		cfg := NewRetryConfig(WithMaxAttempts(3))
		result := WithRetryContext(ctx, cfg, func(_ context.Context) (string, error) {
			return "never reached", nil
		})

		if result.Err == nil {
			t.Error("Expected error from cancelled context")
		}
		if result.Attempts != 0 {
			t.Errorf("Attempts = %d, want 0", result.Attempts)
		}
	})

	t.Run("cancellation during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0

		cfg := NewRetryConfig(
			WithMaxAttempts(5),
			WithInitialBackoff(100*time.Millisecond),
		)

		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		result := WithRetryContext(ctx, cfg, func(_ context.Context) (string, error) {
			calls++
			return "", &HTTPError{StatusCode: 503}
		})

		if result.Err == nil {
			t.Error("Expected error from cancelled context")
		}
		if calls > 2 {
			t.Errorf("Calls = %d, expected <= 2 (should cancel during backoff)", calls)
		}
	})

	t.Run("attempt timeout abandons slow attempts", func(t *testing.T) {
		var calls atomic.Int32
		cfg := NewRetryConfig(
			WithMaxAttempts(2),
			WithInitialBackoff(time.Millisecond),
			WithAttemptTimeout(10*time.Millisecond),
			WithRetryableFunc(RetryAll),
		)

		start := time.Now()
		result := WithRetryContext(context.Background(), cfg, func(ctx context.Context) (string, error) {
			calls.Add(1)
			<-ctx.Done()
			return "", ctx.Err()
		})

		if got := calls.Load(); got != 2 {
			t.Errorf("Calls = %d, want 2", got)
		}
		var timeoutErr *TimeoutError
		if !errors.As(result.Err, &timeoutErr) {
			t.Errorf("Err = %v, want TimeoutError", result.Err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("took %s, attempts were not abandoned", elapsed)
		}
	})

	t.Run("attempt timeout does not wait for attempts ignoring their context", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		cfg := NewRetryConfig(
			WithMaxAttempts(2),
			WithInitialBackoff(time.Millisecond),
			WithAttemptTimeout(10*time.Millisecond),
			WithRetryableFunc(RetryAll),
		)

		start := time.Now()
		result := WithRetryContext(context.Background(), cfg, func(context.Context) (string, error) {
			<-release
			return "late", nil
		})

		if result.Attempts != 2 {
			t.Errorf("Attempts = %d, want 2", result.Attempts)
		}
		var timeoutErr *TimeoutError
		if !errors.As(result.Err, &timeoutErr) {
			t.Errorf("Err = %v, want TimeoutError", result.Err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("took %s, blocked on an attempt past its timeout", elapsed)
		}
	})
}
