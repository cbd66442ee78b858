package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Wallet, error)
	UpdateBalance(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, balance decimal.Decimal, at time.Time) (bool, error)
}
