package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Service is the entry point of the usage and wallet mutation paths.
type Service interface {
	RecordSubscriptionActivity(ctx context.Context, orgID snowflake.ID, subscriptionExternalID string) error
	RecordWalletActivity(ctx context.Context, orgID, walletID snowflake.ID) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidTarget       = errors.New("invalid_activity_target")
	ErrUnknownQueue        = errors.New("unknown_activity_queue")
)
