// Package store provides the persistence gateway for sensor events.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe"
)

// Store persists sensor events.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new event and returns it with ID, CreatedAt and
	// UpdatedAt assigned. A reason already taken by another event yields a
	// *ConflictError matching ErrDuplicate.
	Create(ctx context.Context, event sensorpipe.SensorEvent) (sensorpipe.SensorEvent, error)

	// FindByID returns the event, or nil and no error if it doesn't exist.
	FindByID(ctx context.Context, id int64) (*sensorpipe.SensorEvent, error)

	// FindByCategory returns the events of a category in ascending sortBy
	// order. An empty sortBy sorts by category. Returns an empty slice
	// (not error) if there are no matches.
	FindByCategory(ctx context.Context, category, sortBy string) ([]sensorpipe.SensorEvent, error)

	// FindAll returns every event ordered by id.
	FindAll(ctx context.Context) ([]sensorpipe.SensorEvent, error)

	// DeleteByID removes an event.
	// Returns nil if the event doesn't exist.
	DeleteByID(ctx context.Context, id int64) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for store operations.
var (
	// ErrDuplicate indicates a unique constraint violation.
	ErrDuplicate = errors.New("duplicate sensor event")

	// ErrInvalidSort indicates an unsupported sort column.
	ErrInvalidSort = errors.New("invalid sort column")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("sensor event store closed")
)

// ConflictError reports which unique field collided.
// It matches ErrDuplicate with errors.Is.
type ConflictError struct {
	Field string
	Value string

	// Cause is the driver error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Field, e.Value)
}

// Is reports whether target is ErrDuplicate.
func (e *ConflictError) Is(target error) bool {
	return target == ErrDuplicate
}

// Unwrap returns the driver error.
func (e *ConflictError) Unwrap() error {
	return e.Cause
}

// DefaultSort is the sort column used when none is given.
const DefaultSort = "category"

// sortColumns maps the accepted sort keys to SQL columns.
var sortColumns = map[string]string{
	"id":          "id",
	"category":    "category",
	"temperature": "temperature",
	"reason":      "reason",
	"color":       "color",
	"weight":      "weight",
	"status":      "status",
	"createdAt":   "created_at",
	"updatedAt":   "updated_at",
}

// SortColumn validates sortBy and returns the SQL column it names.
func SortColumn(sortBy string) (string, error) {
	if sortBy == "" {
		sortBy = DefaultSort
	}
	col, ok := sortColumns[sortBy]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidSort, sortBy)
	}
	return col, nil
}

// nullable stores empty strings as NULL so that events without a reason
// never collide on the unique index.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
