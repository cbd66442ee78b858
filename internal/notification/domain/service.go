package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Notifier stores a notification request alongside the caller's own writes.
// Delivery happens later through the relay; callers never wait on it.
type Notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, eventType string, payload any) (*Event, error)
}

// Publisher hands one message to the delivery subsystem.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
}

var (
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrPublisherClosed  = errors.New("publisher_closed")
)
