package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	notificationdomain "github.com/smallbiznis/railzway-alerts/internal/notification/domain"
	"gorm.io/gorm"
)

const eventColumns = `id, org_id, event_id, event_type, payload, status, attempts, last_error,
	available_at, published_at, created_at`

type repo struct{}

func Provide() notificationdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, e *notificationdomain.Event) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO notification_events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.OrgID,
		e.EventID,
		e.EventType,
		e.Payload,
		e.Status,
		e.Attempts,
		e.LastError,
		e.AvailableAt,
		e.PublishedAt,
		e.CreatedAt,
	).Error
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]notificationdomain.Event, error) {
	var rows []notificationdomain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM notification_events
		 WHERE status = ? AND available_at <= ?
		 ORDER BY available_at ASC, id ASC
		 LIMIT ?`,
		notificationdomain.EventStatusPending,
		now,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) Lease(ctx context.Context, db *gorm.DB, id snowflake.ID, now, leaseUntil time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE notification_events
		 SET available_at = ?, attempts = attempts + 1
		 WHERE id = ? AND status = ? AND available_at <= ?`,
		leaseUntil,
		id,
		notificationdomain.EventStatusPending,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkPublished(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE notification_events
		 SET status = ?, published_at = ?, last_error = NULL
		 WHERE id = ?`,
		notificationdomain.EventStatusPublished,
		at,
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, status notificationdomain.EventStatus, lastError string, retryAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE notification_events
		 SET status = ?, last_error = ?, available_at = ?
		 WHERE id = ?`,
		status,
		lastError,
		retryAt,
		id,
	).Error
}

func (r *repo) FindByEventID(ctx context.Context, db *gorm.DB, eventID string) (*notificationdomain.Event, error) {
	var event notificationdomain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+` FROM notification_events WHERE event_id = ?`,
		eventID,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}
