// Package errors provides the error taxonomy, the bounded retry combinator
// and the fault Handler of the pipeline.
//
// The package implements a layered error handling approach:
//   - Categorization: every fault belongs to a closed set of categories
//   - Normalization: any value (error, string, nil, panic value) becomes an AppError
//   - Retry: bounded attempts with a per-attempt timeout for best-effort calls
//   - Fault response: log, record a metric, and terminate on untrusted errors
package errors

import (
	"context"
	"errors"
	"net/http"
)

// Category is the variant an error belongs to.
type Category int

const (
	// CategoryUnknown wraps values that carry no classification.
	// Unknown errors are trusted unless stated otherwise.
	CategoryUnknown Category = iota

	// CategoryValidation indicates caller-fixable input.
	// Examples: missing category, malformed queue message.
	CategoryValidation

	// CategoryConflict indicates a business key collision.
	CategoryConflict

	// CategoryInfrastructure indicates a failing dependency.
	// Examples: database unreachable, broker publish failure, timeouts.
	CategoryInfrastructure

	// CategoryFatal indicates the process is in an unknown state and
	// must not keep running.
	CategoryFatal
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryConflict:
		return "conflict"
	case CategoryInfrastructure:
		return "infrastructure"
	case CategoryFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// DefaultStatus returns the HTTP status used for errors of this category
// when none is set explicitly.
func (c Category) DefaultStatus() int {
	switch c {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Categorize determines the category of an error.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Category
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return CategoryInfrastructure
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryInfrastructure
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryInfrastructure
	}

	return CategoryUnknown
}

// IsRetryable reports whether another attempt might succeed.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return true
		default:
			return httpErr.StatusCode >= 500
		}
	}

	return Categorize(err) == CategoryInfrastructure
}

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status()
	}
	return http.StatusInternalServerError
}
