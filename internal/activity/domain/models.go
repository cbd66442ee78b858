package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Queue names one of the activity tables.
type Queue string

const (
	QueueSubscription Queue = "subscription"
	QueueWallet       Queue = "wallet"
)

// Queues lists every queue the dispatcher drains.
var Queues = []Queue{QueueSubscription, QueueWallet}

// Table maps a queue onto its storage.
type Table struct {
	Name   string
	Column string
	// NumericTarget marks target columns holding ids rather than text.
	NumericTarget bool
}

func (q Queue) Table() (Table, bool) {
	switch q {
	case QueueSubscription:
		return Table{Name: "subscription_activities", Column: "subscription_external_id"}, true
	case QueueWallet:
		return Table{Name: "wallet_activities", Column: "wallet_id", NumericTarget: true}, true
	default:
		return Table{}, false
	}
}

// Activity is a pending evaluation owed to one target: a subscription external id
// or a wallet id. At most one unclaimed row exists per (organization, target).
type Activity struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID      snowflake.ID `json:"organization_id" gorm:"column:org_id"`
	Queue      Queue        `json:"queue" gorm:"-"`
	TargetID   string       `json:"target_id" gorm:"column:target_id"`
	InsertedAt time.Time    `json:"inserted_at"`
	Enqueued   bool         `json:"enqueued"`
	EnqueuedAt *time.Time   `json:"enqueued_at,omitempty"`
}
