package alerts

import (
	"context"
	"errors"
	"time"
)

// Notification delivery statuses. A notification stays pending until a
// delivery attempt is confirmed; there is no failed terminal state.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
)

// ErrNotFound indicates a missing event or notification record.
var ErrNotFound = errors.New("alerts: not found")

// CriticalEvent marks that a reading was flagged as statistically
// anomalous. Immutable once created.
type CriticalEvent struct {
	ID          int64
	ReadingID   int64
	SensorID    int64
	Value       float64
	ZScore      float64
	Description string
	CreatedAt   time.Time
}

// Notification is one delivery attempt record for a critical event.
// Several notifications may reference the same event across retries.
type Notification struct {
	ID        int64
	EventID   int64
	Recipient string
	Status    string
	SentAt    *time.Time
	CreatedAt time.Time
}

// EventRepository persists critical events.
type EventRepository interface {
	Insert(ctx context.Context, event CriticalEvent) (CriticalEvent, error)
	GetByID(ctx context.Context, id int64) (*CriticalEvent, error)
	List(ctx context.Context, limit, offset int) ([]CriticalEvent, error)
}

// NotificationRepository persists notification records.
type NotificationRepository interface {
	Insert(ctx context.Context, notification Notification) (Notification, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	GetByID(ctx context.Context, id int64) (*Notification, error)
	List(ctx context.Context, limit, offset int) ([]Notification, error)
}
