// Package evaluator turns claimed activity into threshold evaluations.
//
// Every alert is evaluated in its own transaction that writes the triggered
// alert, the outbox event, the fired state and the new baseline together. The
// activity row is removed only after every alert of the target succeeded, so a
// failure leaves the claim in place for the reconciliation sweep.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	activitydomain "github.com/smallbiznis/railzway-alerts/internal/activity/domain"
	alertdomain "github.com/smallbiznis/railzway-alerts/internal/alert/domain"
	"github.com/smallbiznis/railzway-alerts/internal/clock"
	"github.com/smallbiznis/railzway-alerts/internal/config"
	notificationdomain "github.com/smallbiznis/railzway-alerts/internal/notification/domain"
	obscontext "github.com/smallbiznis/railzway-alerts/internal/observability/context"
	obslogger "github.com/smallbiznis/railzway-alerts/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/railzway-alerts/internal/observability/metrics"
	"github.com/smallbiznis/railzway-alerts/internal/observability/tracing"
	subscriptiondomain "github.com/smallbiznis/railzway-alerts/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/railzway-alerts/internal/usage/domain"
	walletdomain "github.com/smallbiznis/railzway-alerts/internal/wallet/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	resultTriggered = "triggered"
	resultQuiet     = "quiet"
	resultError     = "error"
	resultStale     = "stale"
)

var tracer = otel.Tracer("github.com/smallbiznis/railzway-alerts/internal/alert/evaluator")

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Repo            alertdomain.Repository
	ActivityRepo    activitydomain.Repository
	SubSvc          subscriptiondomain.Service
	UsageSvc        usagedomain.Service
	WalletSvc       walletdomain.Service
	Notifier        notificationdomain.Notifier
	Config          *config.AlertingConfigHolder `optional:"true"`
	Clock           clock.Clock                  `optional:"true"`
	Metrics         *obsmetrics.Metrics          `optional:"true"`
	AlertingMetrics *obsmetrics.AlertingMetrics  `optional:"true"`
}

type Evaluator struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	repo            alertdomain.Repository
	activityRepo    activitydomain.Repository
	subSvc          subscriptiondomain.Service
	usageSvc        usagedomain.Service
	walletSvc       walletdomain.Service
	notifier        notificationdomain.Notifier
	cfg             *config.AlertingConfigHolder
	clock           clock.Clock
	metrics         *obsmetrics.Metrics
	alertingMetrics *obsmetrics.AlertingMetrics
}

func New(p Params) *Evaluator {
	cfg := p.Config
	if cfg == nil {
		cfg = config.NewStaticAlertingConfig(config.DefaultAlertingConfig())
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Evaluator{
		db:              p.DB,
		log:             p.Log.Named("alert.evaluator"),
		genID:           p.GenID,
		repo:            p.Repo,
		activityRepo:    p.ActivityRepo,
		subSvc:          p.SubSvc,
		usageSvc:        p.UsageSvc,
		walletSvc:       p.WalletSvc,
		notifier:        p.Notifier,
		cfg:             cfg,
		clock:           clk,
		metrics:         p.Metrics,
		alertingMetrics: p.AlertingMetrics,
	}
}

// target is what the alerts of one activity row are scoped to.
type target struct {
	orgID        snowflake.ID
	subscription *subscriptiondomain.Subscription
	walletID     snowflake.ID
}

// Process evaluates the alerts owed by a claimed activity row.
func (e *Evaluator) Process(ctx context.Context, activity activitydomain.Activity) error {
	start := e.clock.Now()
	defer func() {
		e.alertingMetrics.ObserveEvaluation(string(activity.Queue), e.clock.Now().Sub(start))
	}()

	ctx = obscontext.WithOrgID(ctx, activity.OrgID.String())
	ctx = obscontext.WithQueue(ctx, string(activity.Queue))
	ctx, span := tracer.Start(ctx, "alerting.evaluate")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("queue", string(activity.Queue)),
		attribute.String("org_id", activity.OrgID.String()),
	)...)

	var err error
	switch activity.Queue {
	case activitydomain.QueueSubscription:
		err = e.ProcessSubscription(ctx, activity)
	case activitydomain.QueueWallet:
		err = e.ProcessWallet(ctx, activity)
	default:
		err = fmt.Errorf("%w: %q", activitydomain.ErrUnknownQueue, activity.Queue)
	}
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "evaluation failed")
	}
	return err
}

func (e *Evaluator) ProcessSubscription(ctx context.Context, activity activitydomain.Activity) error {
	log := obslogger.WithContext(ctx, e.log).With(
		zap.String("subscription_external_id", activity.TargetID),
		zap.String("activity_id", activity.ID.String()),
	)

	alerts, err := e.repo.ListBySubscription(ctx, e.db, activity.OrgID, activity.TargetID)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		return e.clear(ctx, activity)
	}

	subscription, err := e.subSvc.GetByExternalID(ctx, activity.OrgID, activity.TargetID)
	if errors.Is(err, subscriptiondomain.ErrNotFound) {
		log.Debug("subscription not found, skipping evaluation")
		return e.clear(ctx, activity)
	}
	if err != nil {
		return err
	}
	if !subscription.Billable() {
		log.Debug("subscription not billable, skipping evaluation", zap.String("status", string(subscription.Status)))
		return e.clear(ctx, activity)
	}

	t := target{orgID: activity.OrgID, subscription: subscription}
	if err := e.evaluateAll(ctx, log, t, alerts); err != nil {
		return err
	}
	return e.clear(ctx, activity)
}

func (e *Evaluator) ProcessWallet(ctx context.Context, activity activitydomain.Activity) error {
	walletID, err := snowflake.ParseString(activity.TargetID)
	if err != nil {
		return fmt.Errorf("%w: %q", activitydomain.ErrInvalidTarget, activity.TargetID)
	}
	log := obslogger.WithContext(ctx, e.log).With(
		zap.String("wallet_id", activity.TargetID),
		zap.String("activity_id", activity.ID.String()),
	)

	alerts, err := e.repo.ListByWallet(ctx, e.db, activity.OrgID, walletID)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		return e.clear(ctx, activity)
	}

	if _, err := e.walletSvc.Get(ctx, activity.OrgID, walletID); err != nil {
		if errors.Is(err, walletdomain.ErrNotFound) {
			log.Debug("wallet not found, skipping evaluation")
			return e.clear(ctx, activity)
		}
		return err
	}

	t := target{orgID: activity.OrgID, walletID: walletID}
	if err := e.evaluateAll(ctx, log, t, alerts); err != nil {
		return err
	}
	return e.clear(ctx, activity)
}

// evaluateAll keeps going after a failed alert so one bad alert does not
// starve the others; any failure is returned so the activity stays claimed.
func (e *Evaluator) evaluateAll(ctx context.Context, log *zap.Logger, t target, alerts []alertdomain.Alert) error {
	ids := make([]snowflake.ID, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.ID)
	}
	thresholds, err := e.repo.ListThresholds(ctx, e.db, ids)
	if err != nil {
		return err
	}
	byAlert := make(map[snowflake.ID][]alertdomain.Threshold, len(alerts))
	for _, th := range thresholds {
		byAlert[th.AlertID] = append(byAlert[th.AlertID], th)
	}

	var errs []error
	for i := range alerts {
		alert := &alerts[i]
		alert.Thresholds = byAlert[alert.ID]

		if err := e.evaluate(ctx, log, t, alert); err != nil {
			e.alertingMetrics.IncEvaluation(string(alert.Kind), resultError)
			log.Warn("alert evaluation failed",
				zap.String("alert_id", alert.ID.String()),
				zap.String("alert_type", string(alert.Kind)),
				zap.String("error_type", obsmetrics.ClassifyErrorType(err)),
				zap.Bool("retryable", obsmetrics.IsRetryable(err)),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("alert %s: %w", alert.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Evaluator) evaluate(ctx context.Context, log *zap.Logger, t target, alert *alertdomain.Alert) error {
	source, ok := valueSources[alert.Kind]
	if !ok {
		return fmt.Errorf("no value source for alert type %q", alert.Kind)
	}
	current, err := source(ctx, e, t, alert)
	if err != nil {
		return err
	}

	cfg := e.cfg.Get()
	states := make([]alertdomain.ThresholdState, 0, len(alert.Thresholds))
	for _, th := range alert.Thresholds {
		states = append(states, alertdomain.ThresholdState{
			Code:           th.Code,
			Value:          th.Value,
			Recurring:      th.Recurring,
			Fired:          !th.Recurring && th.FiredAt != nil,
			LastFiredValue: th.LastFiredValue,
		})
	}
	result := alertdomain.Crossings(alertdomain.CrossingInput{
		Previous:   alert.PreviousValue,
		Current:    current,
		Direction:  alert.Direction,
		Thresholds: states,
		Policy:     alertdomain.FirstEvaluationPolicy(cfg.FirstEvaluation),
		MaxTicks:   cfg.MaxRecurringTicks,
	})
	if len(result.Truncated) > 0 {
		e.alertingMetrics.IncTickCapHit(string(alert.Kind))
		log.Warn("recurring threshold tick cap reached",
			zap.String("alert_id", alert.ID.String()),
			zap.Strings("threshold_codes", result.Truncated),
			zap.Int("max_recurring_ticks", cfg.MaxRecurringTicks),
		)
	}

	now := e.clock.Now().Truncate(time.Microsecond)
	read := *alert
	read.PreviousValue = decimal.NewNullDecimal(result.Baseline(current))
	read.LastProcessedAt = &now
	read.UpdatedAt = now
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The guarded baseline write goes first so a concurrent evaluation of
		// the same alert blocks on the row lock and then misses the guard.
		won, err := e.repo.UpdateEvaluation(ctx, tx, &read, alert.PreviousValue)
		if err != nil {
			return err
		}
		if !won {
			return alertdomain.ErrStaleEvaluation
		}
		if result.Empty() {
			return nil
		}
		return e.recordCrossings(ctx, tx, t, alert, current, result, now)
	})
	if errors.Is(err, alertdomain.ErrStaleEvaluation) {
		e.alertingMetrics.IncEvaluation(string(alert.Kind), resultStale)
		log.Info("baseline moved during evaluation, dropping crossings",
			zap.String("alert_id", alert.ID.String()),
			zap.Int("crossed", len(result.Crossed)),
		)
		return nil
	}
	if err != nil {
		return err
	}
	alert.PreviousValue = read.PreviousValue
	alert.LastProcessedAt = read.LastProcessedAt
	alert.UpdatedAt = now

	if result.Empty() {
		e.alertingMetrics.IncEvaluation(string(alert.Kind), resultQuiet)
		return nil
	}
	e.alertingMetrics.IncEvaluation(string(alert.Kind), resultTriggered)
	e.metrics.RecordTriggered(ctx, string(alert.Kind), len(result.Crossed))
	log.Info("alert triggered",
		zap.String("alert_id", alert.ID.String()),
		zap.String("alert_type", string(alert.Kind)),
		zap.Int("crossed", len(result.Crossed)),
	)
	return nil
}

func (e *Evaluator) recordCrossings(
	ctx context.Context,
	tx *gorm.DB,
	t target,
	alert *alertdomain.Alert,
	current decimal.Decimal,
	result alertdomain.CrossingResult,
	now time.Time,
) error {
	triggered := &alertdomain.TriggeredAlert{
		ID:                e.genID.Generate(),
		OrgID:             alert.OrgID,
		AlertID:           alert.ID,
		WalletID:          alert.WalletID,
		CurrentValue:      current,
		PreviousValue:     alert.PreviousValue,
		CrossedThresholds: datatypes.NewJSONType(result.Crossed),
		TriggeredAt:       now,
	}
	if t.subscription != nil {
		subscriptionID := t.subscription.ID
		externalID := t.subscription.ExternalID
		triggered.SubscriptionID = &subscriptionID
		triggered.SubscriptionExternalID = &externalID
	}
	if err := e.repo.InsertTriggered(ctx, tx, triggered); err != nil {
		return err
	}

	for _, u := range result.Updates {
		th := &alert.Thresholds[u.Index]
		th.FiredAt = &now
		if u.LastFiredValue.Valid {
			th.LastFiredValue = u.LastFiredValue
		}
		th.UpdatedAt = now
		if err := e.repo.UpdateThresholdFired(ctx, tx, th); err != nil {
			return err
		}
	}

	_, err := e.notifier.Notify(ctx, tx, alert.OrgID, notificationdomain.EventTypeAlertTriggered, triggeredPayload{
		Alert:          alert,
		TriggeredAlert: triggered,
	})
	return err
}

func (e *Evaluator) clear(ctx context.Context, activity activitydomain.Activity) error {
	return e.activityRepo.Delete(ctx, e.db, activity.Queue, activity.ID)
}

type triggeredPayload struct {
	Alert          *alertdomain.Alert          `json:"alert"`
	TriggeredAlert *alertdomain.TriggeredAlert `json:"triggered_alert"`
}
