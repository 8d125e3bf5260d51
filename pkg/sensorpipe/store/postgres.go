package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe"
)

// pgUniqueViolation is the SQLSTATE of a unique constraint violation.
const pgUniqueViolation = "23505"

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS sensor_events (
		id BIGSERIAL PRIMARY KEY,
		category TEXT NOT NULL,
		temperature DOUBLE PRECISION,
		reason TEXT UNIQUE,
		color TEXT,
		weight DOUBLE PRECISION,
		status TEXT,
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		notification_category TEXT,
		notification_sent BOOLEAN,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_sensor_events_category ON sensor_events(category);
`

// PostgresStore persists sensor events to PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	mu     sync.RWMutex
	closed bool
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn, verifies the connection and creates
// the schema if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("configure database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, event sensorpipe.SensorEvent) (sensorpipe.SensorEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return sensorpipe.SensorEvent{}, ErrStoreClosed
	}

	stored := event.Clone()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sensor_events (
			category, temperature, reason, color, weight, status,
			latitude, longitude, notification_category, notification_sent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`,
		stored.Category, stored.Temperature, nullable(stored.Reason), nullable(stored.Color),
		stored.Weight, nullable(stored.Status), stored.Latitude, stored.Longitude,
		nullable(stored.NotificationCategory), stored.NotificationSent,
	).Scan(&stored.ID, &stored.CreatedAt, &stored.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return sensorpipe.SensorEvent{}, &ConflictError{Field: "reason", Value: stored.Reason, Cause: err}
		}
		return sensorpipe.SensorEvent{}, fmt.Errorf("insert sensor event: %w", err)
	}

	stored.CreatedAt = stored.CreatedAt.UTC()
	stored.UpdatedAt = stored.UpdatedAt.UTC()
	return stored, nil
}

// FindByID implements Store.
func (s *PostgresStore) FindByID(ctx context.Context, id int64) (*sensorpipe.SensorEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM sensor_events WHERE id = $1`, id)
	event, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sensor event: %w", err)
	}
	return &event, nil
}

// FindByCategory implements Store.
func (s *PostgresStore) FindByCategory(ctx context.Context, category, sortBy string) ([]sensorpipe.SensorEvent, error) {
	col, err := SortColumn(sortBy)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	// NULLS FIRST and COLLATE "C" match the SQLite ordering.
	order := col + ` ASC NULLS FIRST`
	switch col {
	case "category", "reason", "color", "status":
		order = col + ` COLLATE "C" ASC NULLS FIRST`
	}
	return s.query(ctx, `
		SELECT `+selectColumns+`
		FROM sensor_events
		WHERE category = $1
		ORDER BY `+order+`, id ASC
	`, category)
}

// FindAll implements Store.
func (s *PostgresStore) FindAll(ctx context.Context) ([]sensorpipe.SensorEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	return s.query(ctx, `SELECT `+selectColumns+` FROM sensor_events ORDER BY id`)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]sensorpipe.SensorEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sensor events: %w", err)
	}
	defer rows.Close()

	events := make([]sensorpipe.SensorEvent, 0)
	for rows.Next() {
		event, err := scanPostgres(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sensor event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sensor events: %w", err)
	}
	return events, nil
}

// DeleteByID implements Store.
func (s *PostgresStore) DeleteByID(ctx context.Context, id int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.pool.Exec(ctx, `DELETE FROM sensor_events WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete sensor event: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.pool.Close()
	return nil
}

func scanPostgres(row pgx.Row) (sensorpipe.SensorEvent, error) {
	var (
		e                                sensorpipe.SensorEvent
		reason, color, status, notifyCat *string
	)
	err := row.Scan(
		&e.ID, &e.Category, &e.Temperature, &reason, &color, &e.Weight, &status,
		&e.Latitude, &e.Longitude, &notifyCat, &e.NotificationSent, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return sensorpipe.SensorEvent{}, err
	}

	e.Reason = deref(reason)
	e.Color = deref(color)
	e.Status = deref(status)
	e.NotificationCategory = deref(notifyCat)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}
