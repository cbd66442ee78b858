package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	activitydomain "github.com/smallbiznis/railzway-alerts/internal/activity/domain"
	"github.com/smallbiznis/railzway-alerts/internal/clock"
	"github.com/smallbiznis/railzway-alerts/internal/config"
	"github.com/smallbiznis/railzway-alerts/internal/distlock"
	notificationservice "github.com/smallbiznis/railzway-alerts/internal/notification/service"
	obsmetrics "github.com/smallbiznis/railzway-alerts/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jobDispatchActivities = "dispatch_activities"
	jobReclaimStale       = "reclaim_stale_activities"
	jobRelayNotifications = "relay_notifications"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Relayer publishes pending notification events.
type Relayer interface {
	Relay(ctx context.Context, limit int) (notificationservice.RelayResult, error)
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	ActivityRepo activitydomain.Repository
	Dispatcher   *Dispatcher
	Relayer      Relayer                      `optional:"true"`
	Locker       *distlock.Locker             `optional:"true"`
	Alerting     *config.AlertingConfigHolder `optional:"true"`
	Clock        clock.Clock                  `optional:"true"`
	Config       Config                       `optional:"true"`
}

type Scheduler struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	activityRepo activitydomain.Repository
	dispatcher   *Dispatcher
	relayer      Relayer
	locker       *distlock.Locker
	alerting     *config.AlertingConfigHolder
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.ActivityRepo == nil || p.Dispatcher == nil {
		return nil, ErrInvalidConfig
	}
	alerting := p.Alerting
	if alerting == nil {
		alerting = config.NewStaticAlertingConfig(config.DefaultAlertingConfig())
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          p.Config.withDefaults(),
		genID:        p.GenID,
		clock:        clk,
		activityRepo: p.ActivityRepo,
		dispatcher:   p.Dispatcher,
		relayer:      p.Relayer,
		locker:       p.Locker,
		alerting:     alerting,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	jobMetrics := obsmetrics.Alerting()
	jobMetrics.IncJobRun(name)

	err := fn(ctx)
	jobMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A timed out pass is picked up again on the next tick.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		jobMetrics.IncJobTimeout(name)
	}
	jobMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	alerting := s.alerting.Get()

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{jobReclaimStale, func(ctx context.Context) error {
			return s.runJob(ctx, jobReclaimStale, alerting.PageSize, s.cfg.JobTimeout, s.ReclaimStaleActivitiesJob)
		}},
		{jobDispatchActivities, func(ctx context.Context) error {
			return s.runJob(ctx, jobDispatchActivities, s.cfg.OrganizationScan, s.cfg.JobTimeout, s.DispatchActivitiesJob)
		}},
		{jobRelayNotifications, func(ctx context.Context) error {
			return s.runJob(ctx, jobRelayNotifications, alerting.RelayBatchSize, s.cfg.JobTimeout, s.RelayNotificationsJob)
		}},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.runInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(interval)
	jobMetrics := obsmetrics.Alerting()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			jobMetrics.ObserveRunLoopLag(runLag)
		}

		if next := s.runInterval(); next != interval {
			s.log.Info("scheduler run interval changed",
				zap.Duration("previous", interval),
				zap.Duration("current", next),
			)
			interval = next
			ticker.Reset(interval)
			nextRun = s.clock.Now().Add(interval)
			continue
		}
		nextRun = nextRun.Add(interval)
	}
}

// runInterval follows the live alerting config so a reload retimes the loop.
func (s *Scheduler) runInterval() time.Duration {
	if interval := s.alerting.Get().RunInterval; interval > 0 {
		return interval
	}
	return s.cfg.RunInterval
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// DispatchActivitiesJob runs the dispatcher for every organization with due
// activity on either queue.
func (s *Scheduler) DispatchActivitiesJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobDispatchActivities, s.cfg.OrganizationScan)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	alerting := s.alerting.Get()
	jobMetrics := obsmetrics.Alerting()
	cutoff := s.clock.Now().Add(-alerting.Cooldown)

	var jobErr error
	for _, queue := range activitydomain.Queues {
		orgIDs, err := s.activityRepo.ListDueOrganizations(ctx, s.db, queue, cutoff, s.cfg.OrganizationScan)
		if err != nil {
			s.logJobError(ctx, run, "scheduler.dispatch.list_failed", jobDispatchActivities, 0, err, zap.String("queue", string(queue)))
			jobErr = errors.Join(jobErr, err)
			continue
		}
		if len(orgIDs) == 0 {
			jobMetrics.IncBatchDeferred(jobDispatchActivities, obsmetrics.DeferredReasonNoWork)
			continue
		}

		for _, orgID := range orgIDs {
			if err := ctx.Err(); err != nil {
				return errors.Join(jobErr, err)
			}
			n, err := s.dispatchOrganization(ctx, queue, orgID, alerting.DispatchLockTTL)
			run.AddProcessed(n)
			jobMetrics.AddBatchProcessed(jobDispatchActivities, string(queue), n)
			if err != nil {
				s.logJobError(ctx, run, "scheduler.dispatch.failed", jobDispatchActivities, orgID, err, zap.String("queue", string(queue)))
				jobErr = errors.Join(jobErr, err)
			}
		}
	}
	return jobErr
}

func (s *Scheduler) dispatchOrganization(ctx context.Context, queue activitydomain.Queue, orgID snowflake.ID, ttl time.Duration) (int, error) {
	key := fmt.Sprintf("dispatch:%s:%s", queue, orgID)
	token, ok, err := s.locker.TryLock(ctx, key, ttl)
	if err != nil {
		// Redis being down must not stop dispatch; the claim stays exclusive.
		s.logger(ctx).Warn("dispatch lock unavailable", zap.String("key", key), zap.Error(err))
		ok = true
	}
	if !ok {
		obsmetrics.Alerting().IncBatchDeferred(jobDispatchActivities, obsmetrics.DeferredReasonLockHeld)
		jobRunFromContext(ctx).AddDeferred(1)
		return 0, nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger(ctx).Warn("dispatch lock release failed", zap.String("key", key), zap.Error(err))
		}
	}()
	return s.dispatcher.ProcessOrganization(s.withLogContext(ctx, orgID), queue, orgID)
}

// ReclaimStaleActivitiesJob releases rows whose evaluation never finished so
// they are dispatched again.
func (s *Scheduler) ReclaimStaleActivitiesJob(ctx context.Context) error {
	alerting := s.alerting.Get()
	ctx, run, owner := s.ensureJobRun(ctx, jobReclaimStale, alerting.PageSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	jobMetrics := obsmetrics.Alerting()
	cutoff := s.clock.Now().Add(-alerting.ClaimTimeout)

	var jobErr error
	for _, queue := range activitydomain.Queues {
		stale, err := s.activityRepo.ListStale(ctx, s.db, queue, cutoff, alerting.PageSize)
		if err != nil {
			s.logJobError(ctx, run, "scheduler.reclaim.list_failed", jobReclaimStale, 0, err, zap.String("queue", string(queue)))
			jobErr = errors.Join(jobErr, err)
			continue
		}

		reclaimed := 0
		for _, activity := range stale {
			ok, err := s.activityRepo.Release(ctx, s.db, queue, activity.ID, &cutoff)
			if err != nil {
				s.logJobError(ctx, run, "scheduler.reclaim.failed", jobReclaimStale, activity.OrgID, err,
					zap.String("queue", string(queue)),
					zap.String("activity_id", activity.ID.String()),
				)
				jobErr = errors.Join(jobErr, err)
				continue
			}
			if !ok {
				continue
			}
			reclaimed++
			jobMetrics.IncClaim(string(queue), obsmetrics.ClaimOutcomeReleased)
			s.logger(s.withLogContext(ctx, activity.OrgID)).Info("scheduler.activity.reclaimed",
				zap.String("queue", string(queue)),
				zap.String("activity_id", activity.ID.String()),
				zap.String("target_id", activity.TargetID),
			)
		}
		run.AddProcessed(reclaimed)
		jobMetrics.AddBatchProcessed(jobReclaimStale, string(queue), reclaimed)
	}
	return jobErr
}

// RelayNotificationsJob pushes pending outbox events to the publisher.
func (s *Scheduler) RelayNotificationsJob(ctx context.Context) error {
	if s.relayer == nil {
		return nil
	}
	limit := s.alerting.Get().RelayBatchSize
	ctx, run, owner := s.ensureJobRun(ctx, jobRelayNotifications, limit)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	result, err := s.relayer.Relay(ctx, limit)
	run.AddProcessed(result.Published)
	obsmetrics.Alerting().AddBatchProcessed(jobRelayNotifications, "notification_events", result.Published)
	if result.Retried > 0 || result.Failed > 0 {
		obsmetrics.Alerting().IncBatchDeferred(jobRelayNotifications, obsmetrics.DeferredReasonPublishErr)
	}
	if err != nil {
		s.logJobError(ctx, run, "scheduler.relay.failed", jobRelayNotifications, 0, err)
		return err
	}
	return nil
}
