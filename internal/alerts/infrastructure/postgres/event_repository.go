package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	alerts "plantwatch/internal/alerts/domain"
)

const defaultEventsTable = "critical_events"

// DBTX is the subset of database/sql used by repositories, satisfied
// by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// EventRepository is a Postgres implementation for critical events.
type EventRepository struct {
	db    DBTX
	table string
}

// EventOption configures the repository.
type EventOption func(*EventRepository)

// WithEventsTable overrides the default table name.
func WithEventsTable(table string) EventOption {
	return func(repo *EventRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewEventRepository constructs a repository with the default table name.
func NewEventRepository(db DBTX, opts ...EventOption) *EventRepository {
	repo := &EventRepository{db: db, table: defaultEventsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Insert persists a critical event and returns it with its assigned id.
func (r *EventRepository) Insert(ctx context.Context, event alerts.CriticalEvent) (alerts.CriticalEvent, error) {
	if r == nil || r.db == nil {
		return alerts.CriticalEvent{}, errors.New("event repo: nil db")
	}
	if event.ReadingID <= 0 || event.SensorID <= 0 {
		return alerts.CriticalEvent{}, errors.New("event repo: invalid reading/sensor id")
	}
	if event.CreatedAt.IsZero() {
		return alerts.CriticalEvent{}, errors.New("event repo: zero created at")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (reading_id, sensor_id, value, z_score, description, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`, r.table)

	if err := r.db.QueryRowContext(ctx, query,
		event.ReadingID,
		event.SensorID,
		event.Value,
		event.ZScore,
		event.Description,
		event.CreatedAt.UTC(),
	).Scan(&event.ID); err != nil {
		return alerts.CriticalEvent{}, err
	}
	event.CreatedAt = event.CreatedAt.UTC()
	return event, nil
}

// GetByID loads one critical event.
func (r *EventRepository) GetByID(ctx context.Context, id int64) (*alerts.CriticalEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("event repo: nil db")
	}
	if id <= 0 {
		return nil, errors.New("event repo: invalid id")
	}

	query := fmt.Sprintf(`
SELECT id, reading_id, sensor_id, value, z_score, description, created_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var event alerts.CriticalEvent
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&event.ID,
		&event.ReadingID,
		&event.SensorID,
		&event.Value,
		&event.ZScore,
		&event.Description,
		&event.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, alerts.ErrNotFound
		}
		return nil, err
	}
	event.CreatedAt = event.CreatedAt.UTC()
	return &event, nil
}

// List loads critical events newest first.
func (r *EventRepository) List(ctx context.Context, limit, offset int) ([]alerts.CriticalEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("event repo: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
SELECT id, reading_id, sensor_id, value, z_score, description, created_at
FROM %s
ORDER BY created_at DESC, id DESC
LIMIT $1 OFFSET $2`, r.table)

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.CriticalEvent
	for rows.Next() {
		var event alerts.CriticalEvent
		if err := rows.Scan(
			&event.ID,
			&event.ReadingID,
			&event.SensorID,
			&event.Value,
			&event.ZScore,
			&event.Description,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		event.CreatedAt = event.CreatedAt.UTC()
		result = append(result, event)
	}
	return result, rows.Err()
}
