package store

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe"
)

// MemoryStore keeps events in memory.
// It is suitable for tests and single-process development use.
type MemoryStore struct {
	mu       sync.RWMutex
	events   map[int64]sensorpipe.SensorEvent
	byReason map[string]int64
	nextID   int64
	now      func() time.Time
	closed   bool
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[int64]sensorpipe.SensorEvent),
		byReason: make(map[string]int64),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, event sensorpipe.SensorEvent) (sensorpipe.SensorEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return sensorpipe.SensorEvent{}, ErrStoreClosed
	}

	if event.Reason != "" {
		if _, taken := s.byReason[event.Reason]; taken {
			return sensorpipe.SensorEvent{}, &ConflictError{Field: "reason", Value: event.Reason}
		}
	}

	s.nextID++
	stored := event.Clone()
	stored.ID = s.nextID
	stored.CreatedAt = s.now()
	stored.UpdatedAt = stored.CreatedAt

	s.events[stored.ID] = stored
	if stored.Reason != "" {
		s.byReason[stored.Reason] = stored.ID
	}
	return stored.Clone(), nil
}

// FindByID implements Store.
func (s *MemoryStore) FindByID(_ context.Context, id int64) (*sensorpipe.SensorEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	event, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	c := event.Clone()
	return &c, nil
}

// FindByCategory implements Store.
func (s *MemoryStore) FindByCategory(_ context.Context, category, sortBy string) ([]sensorpipe.SensorEvent, error) {
	col, err := SortColumn(sortBy)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]sensorpipe.SensorEvent, 0)
	for _, event := range s.events {
		if event.Category == category {
			result = append(result, event.Clone())
		}
	}

	slices.SortFunc(result, func(a, b sensorpipe.SensorEvent) int {
		if c := compareColumn(col, a, b); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

// FindAll implements Store.
func (s *MemoryStore) FindAll(_ context.Context) ([]sensorpipe.SensorEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]sensorpipe.SensorEvent, 0, len(s.events))
	for _, event := range s.events {
		result = append(result, event.Clone())
	}
	slices.SortFunc(result, func(a, b sensorpipe.SensorEvent) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

// DeleteByID implements Store.
func (s *MemoryStore) DeleteByID(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	event, ok := s.events[id]
	if !ok {
		return nil
	}
	delete(s.events, id)
	if event.Reason != "" {
		delete(s.byReason, event.Reason)
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// compareColumn orders like SQL ascending: absent values first.
func compareColumn(col string, a, b sensorpipe.SensorEvent) int {
	switch col {
	case "id":
		return cmp.Compare(a.ID, b.ID)
	case "category":
		return strings.Compare(a.Category, b.Category)
	case "temperature":
		return compareFloat(a.Temperature, b.Temperature)
	case "reason":
		return strings.Compare(a.Reason, b.Reason)
	case "color":
		return strings.Compare(a.Color, b.Color)
	case "weight":
		return compareFloat(a.Weight, b.Weight)
	case "status":
		return strings.Compare(a.Status, b.Status)
	case "created_at":
		return a.CreatedAt.Compare(b.CreatedAt)
	case "updated_at":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	}
	return 0
}

func compareFloat(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return cmp.Compare(*a, *b)
}
