package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alerts "plantwatch/internal/alerts/domain"
)

const defaultNotificationsTable = "notifications"

// NotificationRepository is a Postgres implementation for notification
// delivery records.
type NotificationRepository struct {
	db    DBTX
	table string
}

// NotificationOption configures the repository.
type NotificationOption func(*NotificationRepository)

// WithNotificationsTable overrides the default table name.
func WithNotificationsTable(table string) NotificationOption {
	return func(repo *NotificationRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewNotificationRepository constructs a repository with the default table name.
func NewNotificationRepository(db DBTX, opts ...NotificationOption) *NotificationRepository {
	repo := &NotificationRepository{db: db, table: defaultNotificationsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Insert persists a notification record and returns it with its id.
func (r *NotificationRepository) Insert(ctx context.Context, notification alerts.Notification) (alerts.Notification, error) {
	if r == nil || r.db == nil {
		return alerts.Notification{}, errors.New("notification repo: nil db")
	}
	if notification.EventID <= 0 {
		return alerts.Notification{}, errors.New("notification repo: invalid event id")
	}
	if notification.Recipient == "" {
		return alerts.Notification{}, errors.New("notification repo: empty recipient")
	}
	if notification.Status == "" {
		notification.Status = alerts.StatusPending
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
INSERT INTO %s (event_id, recipient, status, sent_at, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`, r.table)

	sentAt := sql.NullTime{}
	if notification.SentAt != nil {
		sentAt = sql.NullTime{Time: notification.SentAt.UTC(), Valid: true}
	}

	if err := r.db.QueryRowContext(ctx, query,
		notification.EventID,
		notification.Recipient,
		notification.Status,
		sentAt,
		notification.CreatedAt.UTC(),
	).Scan(&notification.ID); err != nil {
		return alerts.Notification{}, err
	}
	notification.CreatedAt = notification.CreatedAt.UTC()
	return notification, nil
}

// MarkSent transitions a notification to sent with a delivery time.
func (r *NotificationRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("notification repo: nil db")
	}
	if id <= 0 {
		return errors.New("notification repo: invalid id")
	}

	query := fmt.Sprintf(`
UPDATE %s
SET status = $2, sent_at = $3
WHERE id = $1`, r.table)

	result, err := r.db.ExecContext(ctx, query, id, alerts.StatusSent, sentAt.UTC())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return alerts.ErrNotFound
	}
	return nil
}

// GetByID loads one notification record.
func (r *NotificationRepository) GetByID(ctx context.Context, id int64) (*alerts.Notification, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("notification repo: nil db")
	}
	if id <= 0 {
		return nil, errors.New("notification repo: invalid id")
	}

	query := fmt.Sprintf(`
SELECT id, event_id, recipient, status, sent_at, created_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	notification, err := scanNotification(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, alerts.ErrNotFound
		}
		return nil, err
	}
	return notification, nil
}

// List loads notification records newest first.
func (r *NotificationRepository) List(ctx context.Context, limit, offset int) ([]alerts.Notification, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("notification repo: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
SELECT id, event_id, recipient, status, sent_at, created_at
FROM %s
ORDER BY created_at DESC, id DESC
LIMIT $1 OFFSET $2`, r.table)

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Notification
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *notification)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*alerts.Notification, error) {
	var notification alerts.Notification
	var sentAt sql.NullTime
	if err := row.Scan(
		&notification.ID,
		&notification.EventID,
		&notification.Recipient,
		&notification.Status,
		&sentAt,
		&notification.CreatedAt,
	); err != nil {
		return nil, err
	}
	if sentAt.Valid {
		at := sentAt.Time.UTC()
		notification.SentAt = &at
	}
	notification.CreatedAt = notification.CreatedAt.UTC()
	return &notification, nil
}
