package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Record inserts a pending row unless one is already pending; it reports whether a row was inserted.
	Record(ctx context.Context, db *gorm.DB, queue Queue, id, orgID snowflake.ID, targetID string, at time.Time) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, queue Queue, id snowflake.ID) (*Activity, error)
	ListDue(ctx context.Context, db *gorm.DB, queue Queue, orgID snowflake.ID, insertedBefore time.Time, limit int) ([]Activity, error)
	ListDueOrganizations(ctx context.Context, db *gorm.DB, queue Queue, insertedBefore time.Time, limit int) ([]snowflake.ID, error)
	ListStale(ctx context.Context, db *gorm.DB, queue Queue, claimedBefore time.Time, limit int) ([]Activity, error)

	// Claim flips an unclaimed row to claimed; false means another dispatcher won.
	Claim(ctx context.Context, db *gorm.DB, queue Queue, id snowflake.ID, at time.Time) (bool, error)
	// Release returns a claimed row to the pending state. When claimedBefore is
	// set only claims at or before it are released.
	Release(ctx context.Context, db *gorm.DB, queue Queue, id snowflake.ID, claimedBefore *time.Time) (bool, error)
	Delete(ctx context.Context, db *gorm.DB, queue Queue, id snowflake.ID) error
}
