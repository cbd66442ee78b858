package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Alert is a monitoring rule bound to one subscription (by external id) or one wallet.
type Alert struct {
	ID                     snowflake.ID        `json:"id" gorm:"primaryKey"`
	OrgID                  snowflake.ID        `json:"organization_id" gorm:"column:org_id;not null"`
	SubscriptionExternalID *string             `json:"subscription_external_id,omitempty" gorm:"column:subscription_external_id"`
	WalletID               *snowflake.ID       `json:"wallet_id,omitempty" gorm:"column:wallet_id"`
	BillableMetricID       *snowflake.ID       `json:"billable_metric_id,omitempty" gorm:"column:billable_metric_id"`
	Kind                   Kind                `json:"alert_type" gorm:"column:alert_type;type:text;not null"`
	Name                   string              `json:"name" gorm:"type:text"`
	Code                   string              `json:"code" gorm:"type:text;not null"`
	Direction              Direction           `json:"direction" gorm:"type:text;not null"`
	PreviousValue          decimal.NullDecimal `json:"previous_value" gorm:"column:previous_value"`
	LastProcessedAt        *time.Time          `json:"last_processed_at,omitempty"`
	DeletedAt              *time.Time          `json:"deleted_at,omitempty"`
	CreatedAt              time.Time           `json:"created_at" gorm:"not null"`
	UpdatedAt              time.Time           `json:"updated_at" gorm:"not null"`

	Thresholds []Threshold `json:"thresholds" gorm:"-"`
}

func (Alert) TableName() string { return "alerts" }

// Threshold is one trigger point of an alert. Position keeps declaration order.
type Threshold struct {
	ID             snowflake.ID        `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID        `json:"organization_id" gorm:"column:org_id;not null"`
	AlertID        snowflake.ID        `json:"alert_id" gorm:"not null"`
	Position       int                 `json:"position" gorm:"not null"`
	Code           string              `json:"code" gorm:"type:text"`
	Value          decimal.Decimal     `json:"value" gorm:"not null"`
	Recurring      bool                `json:"recurring" gorm:"not null"`
	FiredAt        *time.Time          `json:"fired_at,omitempty"`
	LastFiredValue decimal.NullDecimal `json:"last_fired_value"`
	DeletedAt      *time.Time          `json:"deleted_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time           `json:"updated_at" gorm:"not null"`
}

func (Threshold) TableName() string { return "alert_thresholds" }

// CrossedThreshold is the snapshot of one crossing stored on a TriggeredAlert.
type CrossedThreshold struct {
	Code      string          `json:"code"`
	Value     decimal.Decimal `json:"value"`
	Recurring bool            `json:"recurring"`
}

// TriggeredAlert is the immutable record of one evaluation that crossed at least one threshold.
type TriggeredAlert struct {
	ID                     snowflake.ID                           `json:"id" gorm:"primaryKey"`
	OrgID                  snowflake.ID                           `json:"organization_id" gorm:"column:org_id;not null"`
	AlertID                snowflake.ID                           `json:"alert_id" gorm:"not null"`
	SubscriptionID         *snowflake.ID                          `json:"subscription_id,omitempty"`
	SubscriptionExternalID *string                                `json:"subscription_external_id,omitempty"`
	WalletID               *snowflake.ID                          `json:"wallet_id,omitempty"`
	CurrentValue           decimal.Decimal                        `json:"current_value" gorm:"not null"`
	PreviousValue          decimal.NullDecimal                    `json:"previous_value"`
	CrossedThresholds      datatypes.JSONType[[]CrossedThreshold] `json:"crossed_thresholds" gorm:"not null"`
	TriggeredAt            time.Time                              `json:"triggered_at" gorm:"not null"`
}

func (TriggeredAlert) TableName() string { return "triggered_alerts" }

// Crossed returns the crossed thresholds snapshot.
func (t *TriggeredAlert) Crossed() []CrossedThreshold {
	return t.CrossedThresholds.Data()
}
