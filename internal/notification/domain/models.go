// Package domain models the notification outbox that decouples evaluation
// from delivery.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const EventTypeAlertTriggered = "alert.triggered"

type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusPublished EventStatus = "published"
	// EventStatusFailed is terminal; the event exhausted its attempts.
	EventStatusFailed EventStatus = "failed"
)

// Event is one outbox row. EventID is a ULID and doubles as the publisher's
// dedupe key.
type Event struct {
	ID          snowflake.ID   `gorm:"primaryKey"`
	OrgID       snowflake.ID   `gorm:"not null;index"`
	EventID     string         `gorm:"type:text;not null;uniqueIndex"`
	EventType   string         `gorm:"type:text;not null"`
	Payload     datatypes.JSON `gorm:"type:jsonb;not null"`
	Status      EventStatus    `gorm:"type:text;not null"`
	Attempts    int            `gorm:"not null;default:0"`
	LastError   *string        `gorm:"type:text"`
	AvailableAt time.Time      `gorm:"not null"`
	PublishedAt *time.Time     `gorm:""`
	CreatedAt   time.Time      `gorm:"not null"`
}

// TableName sets the database table name.
func (Event) TableName() string { return "notification_events" }

// Message is what a publisher sends on the wire.
type Message struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	OrgID     string         `json:"organization_id"`
	Payload   datatypes.JSON `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}
