package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/randalmurphal/sensorpipe/pkg/sensorpipe"
)

// timeLayout is fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS sensor_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category TEXT NOT NULL,
		temperature REAL,
		reason TEXT UNIQUE,
		color TEXT,
		weight REAL,
		status TEXT,
		latitude REAL,
		longitude REAL,
		notification_category TEXT,
		notification_sent INTEGER,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)
`

const selectColumns = `
	id, category, temperature, reason, color, weight, status,
	latitude, longitude, notification_category, notification_sent,
	created_at, updated_at
`

// SQLiteStore persists sensor events to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	now    func() time.Time
	closed bool
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite sensor event store.
// The path should be a file path (e.g., "./sensorpipe.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sensor_events_category
		ON sensor_events(category)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, event sensorpipe.SensorEvent) (sensorpipe.SensorEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return sensorpipe.SensorEvent{}, ErrStoreClosed
	}

	stored := event.Clone()
	stored.CreatedAt = s.now().Truncate(time.Microsecond)
	stored.UpdatedAt = stored.CreatedAt

	var sent any
	if stored.NotificationSent != nil {
		sent = *stored.NotificationSent
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sensor_events (
			category, temperature, reason, color, weight, status,
			latitude, longitude, notification_category, notification_sent,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		stored.Category, nullableFloat(stored.Temperature), nullable(stored.Reason), nullable(stored.Color),
		nullableFloat(stored.Weight), nullable(stored.Status), nullableFloat(stored.Latitude), nullableFloat(stored.Longitude),
		nullable(stored.NotificationCategory), sent,
		stored.CreatedAt.Format(timeLayout), stored.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return sensorpipe.SensorEvent{}, &ConflictError{Field: "reason", Value: stored.Reason, Cause: err}
		}
		return sensorpipe.SensorEvent{}, fmt.Errorf("insert sensor event: %w", err)
	}

	stored.ID, err = res.LastInsertId()
	if err != nil {
		return sensorpipe.SensorEvent{}, fmt.Errorf("read inserted id: %w", err)
	}
	return stored, nil
}

// FindByID implements Store.
func (s *SQLiteStore) FindByID(ctx context.Context, id int64) (*sensorpipe.SensorEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM sensor_events WHERE id = ?`, id)
	event, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sensor event: %w", err)
	}
	return &event, nil
}

// FindByCategory implements Store.
func (s *SQLiteStore) FindByCategory(ctx context.Context, category, sortBy string) ([]sensorpipe.SensorEvent, error) {
	col, err := SortColumn(sortBy)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	return s.query(ctx, `
		SELECT `+selectColumns+`
		FROM sensor_events
		WHERE category = ?
		ORDER BY `+col+` ASC, id ASC
	`, category)
}

// FindAll implements Store.
func (s *SQLiteStore) FindAll(ctx context.Context) ([]sensorpipe.SensorEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	return s.query(ctx, `SELECT `+selectColumns+` FROM sensor_events ORDER BY id`)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]sensorpipe.SensorEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sensor events: %w", err)
	}
	defer rows.Close()

	events := make([]sensorpipe.SensorEvent, 0)
	for rows.Next() {
		event, err := scanSQLite(rows)
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
func (s *SQLiteStore) DeleteByID(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sensor_events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete sensor event: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (sensorpipe.SensorEvent, error) {
	var (
		e                                sensorpipe.SensorEvent
		reason, color, status, notifyCat sql.NullString
		sent                             sql.NullBool
		createdAt, updatedAt             string
	)
	err := row.Scan(
		&e.ID, &e.Category, &e.Temperature, &reason, &color, &e.Weight, &status,
		&e.Latitude, &e.Longitude, &notifyCat, &sent, &createdAt, &updatedAt,
	)
	if err != nil {
		return sensorpipe.SensorEvent{}, err
	}

	e.Reason = reason.String
	e.Color = color.String
	e.Status = status.String
	e.NotificationCategory = notifyCat.String
	if sent.Valid {
		e.NotificationSent = sensorpipe.Bool(sent.Bool)
	}
	if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return sensorpipe.SensorEvent{}, fmt.Errorf("parse created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return sensorpipe.SensorEvent{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return e, nil
}

func isSQLiteUnique(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
