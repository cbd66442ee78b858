package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Service interface {
	Get(ctx context.Context, orgID, walletID snowflake.ID) (*Wallet, error)
	Balance(ctx context.Context, orgID, walletID snowflake.ID) (decimal.Decimal, error)
	// UpdateBalance stores a new ongoing balance and records wallet activity.
	UpdateBalance(ctx context.Context, req UpdateBalanceRequest) (*Wallet, error)
}

type UpdateBalanceRequest struct {
	OrganizationID string `json:"-"`
	WalletID       string `json:"-"`
	OngoingBalance string `json:"ongoing_balance" validate:"required"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidWallet       = errors.New("invalid_wallet")
	ErrInvalidBalance      = errors.New("invalid_wallet_balance")
	ErrNotFound            = errors.New("wallet_not_found")
)
