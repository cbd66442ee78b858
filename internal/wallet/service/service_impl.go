package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	activitydomain "github.com/smallbiznis/railzway-alerts/internal/activity/domain"
	"github.com/smallbiznis/railzway-alerts/internal/clock"
	walletdomain "github.com/smallbiznis/railzway-alerts/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Repo        walletdomain.Repository
	ActivitySvc activitydomain.Service
	Clock       clock.Clock `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	repo        walletdomain.Repository
	activitySvc activitydomain.Service
	clock       clock.Clock
}

func New(p Params) walletdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("wallet.service"),
		repo:        p.Repo,
		activitySvc: p.ActivitySvc,
		clock:       clk,
	}
}

func (s *Service) Get(ctx context.Context, orgID, walletID snowflake.ID) (*walletdomain.Wallet, error) {
	if orgID <= 0 {
		return nil, walletdomain.ErrInvalidOrganization
	}
	if walletID <= 0 {
		return nil, walletdomain.ErrInvalidWallet
	}
	wallet, err := s.repo.FindByID(ctx, s.db, orgID, walletID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, walletdomain.ErrNotFound
	}
	return wallet, nil
}

func (s *Service) Balance(ctx context.Context, orgID, walletID snowflake.ID) (decimal.Decimal, error) {
	wallet, err := s.Get(ctx, orgID, walletID)
	if err != nil {
		return decimal.Zero, err
	}
	return wallet.OngoingBalance, nil
}

func (s *Service) UpdateBalance(ctx context.Context, req walletdomain.UpdateBalanceRequest) (*walletdomain.Wallet, error) {
	orgID, err := snowflake.ParseString(strings.TrimSpace(req.OrganizationID))
	if err != nil || orgID <= 0 {
		return nil, walletdomain.ErrInvalidOrganization
	}
	walletID, err := snowflake.ParseString(strings.TrimSpace(req.WalletID))
	if err != nil || walletID <= 0 {
		return nil, walletdomain.ErrInvalidWallet
	}
	// Balances may go negative once usage outruns prepaid credits.
	balance, err := decimal.NewFromString(strings.TrimSpace(req.OngoingBalance))
	if err != nil {
		return nil, walletdomain.ErrInvalidBalance
	}

	updated, err := s.repo.UpdateBalance(ctx, s.db, orgID, walletID, balance, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, walletdomain.ErrNotFound
	}

	if err := s.activitySvc.RecordWalletActivity(ctx, orgID, walletID); err != nil {
		s.log.Warn("wallet balance stored without activity",
			zap.String("org_id", orgID.String()),
			zap.String("wallet_id", walletID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	return s.Get(ctx, orgID, walletID)
}
