package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	activitydomain "github.com/smallbiznis/railzway-alerts/internal/activity/domain"
	"github.com/smallbiznis/railzway-alerts/internal/clock"
	"github.com/smallbiznis/railzway-alerts/internal/config"
	obscontext "github.com/smallbiznis/railzway-alerts/internal/observability/context"
	obsmetrics "github.com/smallbiznis/railzway-alerts/internal/observability/metrics"
	"github.com/smallbiznis/railzway-alerts/internal/taskqueue"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Evaluator consumes one claimed activity row.
type Evaluator interface {
	Process(ctx context.Context, activity activitydomain.Activity) error
}

// Submitter hands work to the evaluation workers without blocking.
type Submitter interface {
	Submit(name string, task taskqueue.Task) error
}

type DispatcherParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Repo      activitydomain.Repository
	Evaluator Evaluator
	Tasks     Submitter
	Config    *config.AlertingConfigHolder `optional:"true"`
	Clock     clock.Clock                  `optional:"true"`
	Metrics   *obsmetrics.AlertingMetrics  `optional:"true"`
}

// Dispatcher claims due activity of one organization and schedules its evaluation.
type Dispatcher struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      activitydomain.Repository
	evaluator Evaluator
	tasks     Submitter
	cfg       *config.AlertingConfigHolder
	clock     clock.Clock
	metrics   *obsmetrics.AlertingMetrics
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	cfg := p.Config
	if cfg == nil {
		cfg = config.NewStaticAlertingConfig(config.DefaultAlertingConfig())
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Dispatcher{
		db:        p.DB,
		log:       p.Log.Named("scheduler.dispatcher"),
		repo:      p.Repo,
		evaluator: p.Evaluator,
		tasks:     p.Tasks,
		cfg:       cfg,
		clock:     clk,
		metrics:   p.Metrics,
	}
}

// ProcessOrganization claims up to one page of activity that has been quiet for
// the cooldown window and schedules an evaluation per claimed row. It returns
// how many evaluations were scheduled. Rows lost to a concurrent dispatcher are
// skipped silently; rows that cannot be scheduled are released again.
func (d *Dispatcher) ProcessOrganization(ctx context.Context, queue activitydomain.Queue, orgID snowflake.ID) (int, error) {
	cfg := d.cfg.Get()
	now := d.clock.Now()

	due, err := d.repo.ListDue(ctx, d.db, queue, orgID, now.Add(-cfg.Cooldown), cfg.PageSize)
	if err != nil {
		return 0, err
	}

	scheduled := 0
	var errs []error
	for _, activity := range due {
		won, err := d.repo.Claim(ctx, d.db, queue, activity.ID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("claim %s: %w", activity.ID, err))
			continue
		}
		if !won {
			d.metrics.IncClaim(string(queue), obsmetrics.ClaimOutcomeLost)
			continue
		}
		d.metrics.IncClaim(string(queue), obsmetrics.ClaimOutcomeWon)

		activity.Enqueued = true
		activity.EnqueuedAt = &now
		claimed := activity
		timeout := cfg.EvaluationTimeout()
		err = d.tasks.Submit("evaluate_"+string(queue), func(taskCtx context.Context) error {
			taskCtx, cancel := context.WithTimeout(taskCtx, timeout)
			defer cancel()
			taskCtx = obscontext.WithOrgID(taskCtx, claimed.OrgID.String())
			return d.evaluator.Process(taskCtx, claimed)
		})
		if err == nil {
			scheduled++
			continue
		}

		if _, releaseErr := d.repo.Release(ctx, d.db, queue, activity.ID, nil); releaseErr != nil {
			// The sweep picks the row up once the claim times out.
			d.log.Warn("release after failed submit",
				zap.String("activity_id", activity.ID.String()),
				zap.Error(releaseErr),
			)
		} else {
			d.metrics.IncClaim(string(queue), obsmetrics.ClaimOutcomeReleased)
		}
		if errors.Is(err, obsmetrics.ErrQueueFull) {
			d.metrics.IncBatchDeferred(jobDispatchActivities, obsmetrics.DeferredReasonQueueFull)
			d.log.Debug("evaluation queue full, deferring rest of page",
				zap.String("queue", string(queue)),
				zap.String("org_id", orgID.String()),
			)
			break
		}
		errs = append(errs, fmt.Errorf("submit %s: %w", activity.ID, err))
	}
	return scheduled, errors.Join(errs...)
}
