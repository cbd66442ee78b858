// Package domain holds the usage totals the billing engine maintains per subscription.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Totals is the aggregated usage of one billable metric on a subscription for
// the current billing period.
type Totals struct {
	ID               snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrgID            snowflake.ID    `json:"organization_id" gorm:"not null;index"`
	SubscriptionID   snowflake.ID    `json:"subscription_id" gorm:"not null"`
	BillableMetricID snowflake.ID    `json:"billable_metric_id" gorm:"not null"`
	CurrentAmount    decimal.Decimal `json:"current_amount" gorm:"type:numeric;not null"`
	LifetimeAmount   decimal.Decimal `json:"lifetime_amount" gorm:"type:numeric;not null"`
	CurrentUnits     decimal.Decimal `json:"current_units" gorm:"type:numeric;not null"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Totals) TableName() string { return "usage_totals" }

// MetricUsage is the monitored pair of a single billable metric.
type MetricUsage struct {
	Amount decimal.Decimal
	Units  decimal.Decimal
}
