package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	activitydomain "github.com/smallbiznis/railzway-alerts/internal/activity/domain"
	"github.com/smallbiznis/railzway-alerts/internal/clock"
	obsmetrics "github.com/smallbiznis/railzway-alerts/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    activitydomain.Repository
	Clock   clock.Clock         `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    activitydomain.Repository
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

func New(p Params) activitydomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("activity.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		clock:   clk,
		metrics: p.Metrics,
	}
}

func (s *Service) RecordSubscriptionActivity(ctx context.Context, orgID snowflake.ID, subscriptionExternalID string) error {
	target := strings.TrimSpace(subscriptionExternalID)
	if target == "" {
		return activitydomain.ErrInvalidTarget
	}
	return s.record(ctx, activitydomain.QueueSubscription, orgID, target)
}

func (s *Service) RecordWalletActivity(ctx context.Context, orgID, walletID snowflake.ID) error {
	if walletID <= 0 {
		return activitydomain.ErrInvalidTarget
	}
	return s.record(ctx, activitydomain.QueueWallet, orgID, strconv.FormatInt(int64(walletID), 10))
}

// record sits on the ingestion hot path: one conditional insert, nothing else.
func (s *Service) record(ctx context.Context, queue activitydomain.Queue, orgID snowflake.ID, target string) error {
	if orgID <= 0 {
		return activitydomain.ErrInvalidOrganization
	}

	inserted, err := s.repo.Record(ctx, s.db, queue, s.genID.Generate(), orgID, target, s.clock.Now())
	if err != nil {
		s.log.Warn("failed to record activity",
			zap.String("queue", string(queue)),
			zap.String("org_id", orgID.String()),
			zap.String("target_id", target),
			zap.Error(err),
		)
		return err
	}

	s.metrics.RecordActivity(ctx, string(queue), !inserted)
	return nil
}
