package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	walletdomain "github.com/smallbiznis/railzway-alerts/internal/wallet/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() walletdomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*walletdomain.Wallet, error) {
	var wallet walletdomain.Wallet
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, status, ongoing_balance, updated_at
		 FROM wallets
		 WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&wallet).Error
	if err != nil {
		return nil, err
	}
	if wallet.ID == 0 {
		return nil, nil
	}
	return &wallet, nil
}

func (r *repo) UpdateBalance(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, balance decimal.Decimal, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE wallets SET ongoing_balance = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		balance,
		at,
		orgID,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
