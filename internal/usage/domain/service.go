package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Service interface {
	CurrentUsageAmount(ctx context.Context, orgID, subscriptionID snowflake.ID) (decimal.Decimal, error)
	LifetimeUsageAmount(ctx context.Context, orgID, subscriptionID snowflake.ID) (decimal.Decimal, error)
	MetricUsage(ctx context.Context, orgID, subscriptionID, metricID snowflake.ID) (MetricUsage, error)
	// Apply stores totals reported by the rating pipeline and records
	// subscription activity so alerts get re-evaluated.
	Apply(ctx context.Context, req ApplyRequest) (*Totals, error)
}

type ApplyRequest struct {
	OrganizationID         string `json:"-"`
	SubscriptionExternalID string `json:"-"`
	BillableMetricID       string `json:"billable_metric_id" validate:"required"`
	CurrentAmount          string `json:"current_amount" validate:"required"`
	LifetimeAmount         string `json:"lifetime_amount" validate:"required"`
	CurrentUnits           string `json:"current_units"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidSubscription = errors.New("invalid_subscription")
	ErrInvalidMetric       = errors.New("invalid_billable_metric")
	ErrInvalidAmount       = errors.New("invalid_usage_amount")
)
