package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/railzway-alerts/pkg/db/pagination"
)

// Service is the alert registry.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	// CreateBatch commits every valid request on its own. Errors is keyed by
	// the index of the failed request.
	CreateBatch(ctx context.Context, organizationID string, reqs []CreateRequest) (*BatchResult, error)
	// DestroyAll soft-deletes every alert of the subscription and its thresholds.
	DestroyAll(ctx context.Context, organizationID, subscriptionExternalID string) (int, error)
	List(ctx context.Context, organizationID, subscriptionExternalID string) ([]Response, error)
	ListWalletAlerts(ctx context.Context, organizationID, walletID string) ([]Response, error)
	GetByCode(ctx context.Context, organizationID, subscriptionExternalID, code string) (*Response, error)
	ListTriggered(ctx context.Context, organizationID, alertID string, page pagination.Pagination) (*TriggeredPage, error)
}

type CreateRequest struct {
	OrganizationID         string          `json:"-"`
	Kind                   string          `json:"alert_type" validate:"required,oneof=usage_amount lifetime_usage_amount billable_metric_usage_amount billable_metric_usage_units wallet_balance_amount"`
	SubscriptionExternalID string          `json:"subscription_external_id"`
	WalletID               string          `json:"wallet_id"`
	BillableMetricID       string          `json:"billable_metric_id"`
	Name                   string          `json:"name" validate:"max=255"`
	Code                   string          `json:"code" validate:"max=255"`
	Thresholds             []ThresholdSpec `json:"thresholds" validate:"required,min=1,dive"`
}

type BatchResult struct {
	Created []Response
	Errors  map[int]error
}

type ThresholdResponse struct {
	Code      string     `json:"code"`
	Value     string     `json:"value"`
	Recurring bool       `json:"recurring"`
	FiredAt   *time.Time `json:"fired_at,omitempty"`
}

type Response struct {
	ID                     string              `json:"id"`
	OrganizationID         string              `json:"organization_id"`
	AlertType              string              `json:"alert_type"`
	SubscriptionExternalID string              `json:"subscription_external_id,omitempty"`
	WalletID               string              `json:"wallet_id,omitempty"`
	BillableMetricID       string              `json:"billable_metric_id,omitempty"`
	Name                   string              `json:"name"`
	Code                   string              `json:"code"`
	Direction              string              `json:"direction"`
	PreviousValue          *string             `json:"previous_value"`
	LastProcessedAt        *time.Time          `json:"last_processed_at"`
	Thresholds             []ThresholdResponse `json:"thresholds"`
	CreatedAt              time.Time           `json:"created_at"`
}

type TriggeredResponse struct {
	ID                     string             `json:"id"`
	AlertID                string             `json:"alert_id"`
	SubscriptionID         string             `json:"subscription_id,omitempty"`
	SubscriptionExternalID string             `json:"subscription_external_id,omitempty"`
	WalletID               string             `json:"wallet_id,omitempty"`
	CurrentValue           string             `json:"current_value"`
	PreviousValue          *string            `json:"previous_value"`
	CrossedThresholds      []CrossedThreshold `json:"crossed_thresholds"`
	TriggeredAt            time.Time          `json:"triggered_at"`
}

type TriggeredPage struct {
	Items    []TriggeredResponse `json:"data"`
	PageInfo pagination.PageInfo `json:"page_info"`
}
