package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// ListTotals returns every metric row of the subscription, or only the
	// given metric when metricID is set.
	ListTotals(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, metricID *snowflake.ID) ([]Totals, error)
	UpsertTotals(ctx context.Context, db *gorm.DB, totals *Totals) error
}
