package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	activitydomain "github.com/smallbiznis/railzway-alerts/internal/activity/domain"
	"github.com/smallbiznis/railzway-alerts/internal/clock"
	subscriptiondomain "github.com/smallbiznis/railzway-alerts/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/railzway-alerts/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        usagedomain.Repository
	SubSvc      subscriptiondomain.Service
	ActivitySvc activitydomain.Service
	Clock       clock.Clock `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        usagedomain.Repository
	subSvc      subscriptiondomain.Service
	activitySvc activitydomain.Service
	clock       clock.Clock
}

func New(p Params) usagedomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("usage.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		subSvc:      p.SubSvc,
		activitySvc: p.ActivitySvc,
		clock:       clk,
	}
}

func (s *Service) CurrentUsageAmount(ctx context.Context, orgID, subscriptionID snowflake.ID) (decimal.Decimal, error) {
	rows, err := s.repo.ListTotals(ctx, s.db, orgID, subscriptionID, nil)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.CurrentAmount)
	}
	return total, nil
}

func (s *Service) LifetimeUsageAmount(ctx context.Context, orgID, subscriptionID snowflake.ID) (decimal.Decimal, error) {
	rows, err := s.repo.ListTotals(ctx, s.db, orgID, subscriptionID, nil)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.LifetimeAmount)
	}
	return total, nil
}

// MetricUsage reports zero for a metric that has not been rated yet.
func (s *Service) MetricUsage(ctx context.Context, orgID, subscriptionID, metricID snowflake.ID) (usagedomain.MetricUsage, error) {
	rows, err := s.repo.ListTotals(ctx, s.db, orgID, subscriptionID, &metricID)
	if err != nil {
		return usagedomain.MetricUsage{}, err
	}
	usage := usagedomain.MetricUsage{Amount: decimal.Zero, Units: decimal.Zero}
	for _, row := range rows {
		usage.Amount = usage.Amount.Add(row.CurrentAmount)
		usage.Units = usage.Units.Add(row.CurrentUnits)
	}
	return usage, nil
}

func (s *Service) Apply(ctx context.Context, req usagedomain.ApplyRequest) (*usagedomain.Totals, error) {
	orgID, err := snowflake.ParseString(strings.TrimSpace(req.OrganizationID))
	if err != nil || orgID <= 0 {
		return nil, usagedomain.ErrInvalidOrganization
	}
	metricID, err := snowflake.ParseString(strings.TrimSpace(req.BillableMetricID))
	if err != nil || metricID <= 0 {
		return nil, usagedomain.ErrInvalidMetric
	}

	current, err := parseAmount(req.CurrentAmount)
	if err != nil {
		return nil, err
	}
	lifetime, err := parseAmount(req.LifetimeAmount)
	if err != nil {
		return nil, err
	}
	units := decimal.Zero
	if strings.TrimSpace(req.CurrentUnits) != "" {
		if units, err = parseAmount(req.CurrentUnits); err != nil {
			return nil, err
		}
	}

	subscription, err := s.subSvc.GetByExternalID(ctx, orgID, req.SubscriptionExternalID)
	if err != nil {
		return nil, err
	}

	totals := &usagedomain.Totals{
		ID:               s.genID.Generate(),
		OrgID:            orgID,
		SubscriptionID:   subscription.ID,
		BillableMetricID: metricID,
		CurrentAmount:    current,
		LifetimeAmount:   lifetime,
		CurrentUnits:     units,
		UpdatedAt:        s.clock.Now().Truncate(time.Microsecond),
	}
	if err := s.repo.UpsertTotals(ctx, s.db, totals); err != nil {
		return nil, err
	}

	if err := s.activitySvc.RecordSubscriptionActivity(ctx, orgID, subscription.ExternalID); err != nil {
		// The totals are stored; the next mutation re-records the activity.
		s.log.Warn("usage stored without activity",
			zap.String("org_id", orgID.String()),
			zap.String("subscription_external_id", subscription.ExternalID),
			zap.Error(err),
		)
		return nil, err
	}
	return totals, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || value.IsNegative() {
		return decimal.Zero, usagedomain.ErrInvalidAmount
	}
	return value, nil
}
