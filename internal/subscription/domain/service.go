package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// GetByExternalID returns ErrNotFound when the organization has no such subscription.
	GetByExternalID(ctx context.Context, orgID snowflake.ID, externalID string) (*Subscription, error)
}

var (
	ErrInvalidExternalID = errors.New("invalid_subscription_external_id")
	ErrNotFound          = errors.New("subscription_not_found")
)
