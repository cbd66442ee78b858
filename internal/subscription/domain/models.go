// Package domain holds the read model of subscriptions the alerting pipeline resolves against.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusDraft    SubscriptionStatus = "DRAFT"
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusTrialing SubscriptionStatus = "TRIALING"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
	SubscriptionStatusEnded    SubscriptionStatus = "ENDED"
)

// Subscription is owned by the billing engine; alerts reference it by ExternalID.
type Subscription struct {
	ID         snowflake.ID       `gorm:"primaryKey"`
	OrgID      snowflake.ID       `gorm:"not null;index"`
	ExternalID string             `gorm:"type:text;not null"`
	Status     SubscriptionStatus `gorm:"type:text;not null"`
	CreatedAt  time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Billable reports whether usage still accrues on the subscription.
func (s Subscription) Billable() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}
