package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/railzway-alerts/internal/subscription/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Repo subscriptiondomain.Repository
}

type Service struct {
	db   *gorm.DB
	repo subscriptiondomain.Repository
}

func New(p Params) subscriptiondomain.Service {
	return &Service{db: p.DB, repo: p.Repo}
}

func (s *Service) GetByExternalID(ctx context.Context, orgID snowflake.ID, externalID string) (*subscriptiondomain.Subscription, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, subscriptiondomain.ErrInvalidExternalID
	}

	subscription, err := s.repo.FindByExternalID(ctx, s.db, orgID, externalID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrNotFound
	}
	return subscription, nil
}
