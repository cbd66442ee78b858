// Package domain exposes the wallet balances prepaid credit alerts watch.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type WalletStatus string

const (
	WalletStatusActive     WalletStatus = "active"
	WalletStatusTerminated WalletStatus = "terminated"
)

type Wallet struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID    `json:"organization_id" gorm:"not null;index"`
	Status         WalletStatus    `json:"status" gorm:"type:text;not null"`
	OngoingBalance decimal.Decimal `json:"ongoing_balance" gorm:"type:numeric;not null"`
	UpdatedAt      time.Time       `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Wallet) TableName() string { return "wallets" }
