package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *Event) error
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Event, error)
	// Lease pushes available_at to leaseUntil and bumps attempts, but only if
	// the row is still pending and due. False means another relay holds it.
	Lease(ctx context.Context, db *gorm.DB, id snowflake.ID, now, leaseUntil time.Time) (bool, error)
	MarkPublished(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, status EventStatus, lastError string, retryAt time.Time) error
	FindByEventID(ctx context.Context, db *gorm.DB, eventID string) (*Event, error)
}
