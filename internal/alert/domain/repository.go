package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	InsertAlert(ctx context.Context, db *gorm.DB, alert *Alert) error
	InsertThresholds(ctx context.Context, db *gorm.DB, thresholds []Threshold) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Alert, error)
	FindByCode(ctx context.Context, db *gorm.DB, orgID snowflake.ID, subscriptionExternalID, code string) (*Alert, error)
	FindWalletAlertByCode(ctx context.Context, db *gorm.DB, orgID, walletID snowflake.ID, code string) (*Alert, error)
	ListBySubscription(ctx context.Context, db *gorm.DB, orgID snowflake.ID, subscriptionExternalID string) ([]Alert, error)
	ListByWallet(ctx context.Context, db *gorm.DB, orgID, walletID snowflake.ID) ([]Alert, error)
	ListThresholds(ctx context.Context, db *gorm.DB, alertIDs []snowflake.ID) ([]Threshold, error)
	SoftDeleteBySubscription(ctx context.Context, db *gorm.DB, orgID snowflake.ID, subscriptionExternalID string, at time.Time) (int64, error)

	// UpdateEvaluation stores previous_value and last_processed_at only while the
	// stored baseline still equals expected. It reports false when another
	// evaluation moved the baseline first.
	UpdateEvaluation(ctx context.Context, db *gorm.DB, alert *Alert, expected decimal.NullDecimal) (bool, error)
	UpdateThresholdFired(ctx context.Context, db *gorm.DB, threshold *Threshold) error

	InsertTriggered(ctx context.Context, db *gorm.DB, triggered *TriggeredAlert) error
	// ListTriggered returns up to limit rows newest first, strictly older than beforeID when it is set.
	ListTriggered(ctx context.Context, db *gorm.DB, orgID, alertID snowflake.ID, beforeID snowflake.ID, limit int) ([]TriggeredAlert, error)
}
