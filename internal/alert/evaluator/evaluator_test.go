package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	activitydomain "github.com/smallbiznis/railzway-alerts/internal/activity/domain"
	activityrepo "github.com/smallbiznis/railzway-alerts/internal/activity/repository"
	activityservice "github.com/smallbiznis/railzway-alerts/internal/activity/service"
	"github.com/smallbiznis/railzway-alerts/internal/alert/alerttest"
	alertdomain "github.com/smallbiznis/railzway-alerts/internal/alert/domain"
	alertrepo "github.com/smallbiznis/railzway-alerts/internal/alert/repository"
	alertservice "github.com/smallbiznis/railzway-alerts/internal/alert/service"
	"github.com/smallbiznis/railzway-alerts/internal/clock"
	"github.com/smallbiznis/railzway-alerts/internal/config"
	notificationdomain "github.com/smallbiznis/railzway-alerts/internal/notification/domain"
	"github.com/smallbiznis/railzway-alerts/internal/notification/publisher"
	notificationrepo "github.com/smallbiznis/railzway-alerts/internal/notification/repository"
	notificationservice "github.com/smallbiznis/railzway-alerts/internal/notification/service"
	subscriptionrepo "github.com/smallbiznis/railzway-alerts/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/railzway-alerts/internal/subscription/service"
	usagedomain "github.com/smallbiznis/railzway-alerts/internal/usage/domain"
	usagerepo "github.com/smallbiznis/railzway-alerts/internal/usage/repository"
	usageservice "github.com/smallbiznis/railzway-alerts/internal/usage/service"
	walletrepo "github.com/smallbiznis/railzway-alerts/internal/wallet/repository"
	walletservice "github.com/smallbiznis/railzway-alerts/internal/wallet/service"
	"github.com/smallbiznis/railzway-alerts/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	orgID    = snowflake.ID(7)
	orgIDStr = "7"
	subID    = snowflake.ID(1)
	metricID = snowflake.ID(40)
	walletID = snowflake.ID(900)
)

type fixture struct {
	db           *gorm.DB
	clock        *clock.FakeClock
	eval         *Evaluator
	alerts       alertdomain.Service
	activity     activitydomain.Service
	activityRepo activitydomain.Repository
	repo         alertdomain.Repository
}

type fixtureOption func(*Params)

func withPolicy(policy string) fixtureOption {
	return func(p *Params) {
		cfg := config.DefaultAlertingConfig()
		cfg.FirstEvaluation = policy
		p.Config = config.NewStaticAlertingConfig(cfg)
	}
}

func withNotifier(n notificationdomain.Notifier) fixtureOption {
	return func(p *Params) { p.Notifier = n }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	db := alerttest.NewDB(t)
	node := alerttest.Node(t)
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))

	actRepo := activityrepo.Provide()
	activity := activityservice.New(activityservice.Params{DB: db, Log: log, GenID: node, Repo: actRepo, Clock: clk})
	subs := subscriptionservice.New(subscriptionservice.Params{DB: db, Repo: subscriptionrepo.Provide()})
	wallets := walletservice.New(walletservice.Params{DB: db, Log: log, Repo: walletrepo.Provide(), ActivitySvc: activity, Clock: clk})
	usage := usageservice.New(usageservice.Params{DB: db, Log: log, GenID: node, Repo: usagerepo.Provide(), SubSvc: subs, ActivitySvc: activity, Clock: clk})
	repo := alertrepo.Provide()
	outbox := notificationservice.New(notificationservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Repo:      notificationrepo.Provide(),
		Publisher: publisher.NewLogPublisher(log),
		Clock:     clk,
	})

	p := Params{
		DB:           db,
		Log:          log,
		GenID:        node,
		Repo:         repo,
		ActivityRepo: actRepo,
		SubSvc:       subs,
		UsageSvc:     usage,
		WalletSvc:    wallets,
		Notifier:     notificationservice.NewNotifier(outbox),
		Clock:        clk,
	}
	for _, opt := range opts {
		opt(&p)
	}

	alerttest.SeedSubscription(t, db, orgID, subID, "sub_a")
	alerttest.SetUsage(t, db, orgID, subID, metricID, "0", "0", "0")
	alerttest.SeedWallet(t, db, orgID, walletID, "500")

	return &fixture{
		db:    db,
		clock: clk,
		eval:  New(p),
		alerts: alertservice.New(alertservice.Params{
			DB: db, Log: log, GenID: node, Repo: repo, SubSvc: subs, WalletSvc: wallets, Clock: clk,
		}),
		activity:     activity,
		activityRepo: actRepo,
		repo:         repo,
	}
}

func (f *fixture) createAlert(t *testing.T, req alertdomain.CreateRequest) snowflake.ID {
	t.Helper()
	req.OrganizationID = orgIDStr
	resp, err := f.alerts.Create(context.Background(), req)
	require.NoError(t, err)
	id, err := snowflake.ParseString(resp.ID)
	require.NoError(t, err)
	return id
}

// claim pulls the single pending row of the queue the way the dispatcher does.
func (f *fixture) claim(t *testing.T, queue activitydomain.Queue) activitydomain.Activity {
	t.Helper()
	ctx := context.Background()
	due, err := f.activityRepo.ListDue(ctx, f.db, queue, orgID, f.clock.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	ok, err := f.activityRepo.Claim(ctx, f.db, queue, due[0].ID, f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)
	return due[0]
}

func (f *fixture) evaluateSubscription(t *testing.T) error {
	t.Helper()
	require.NoError(t, f.activity.RecordSubscriptionActivity(context.Background(), orgID, "sub_a"))
	act := f.claim(t, activitydomain.QueueSubscription)
	f.clock.Advance(time.Minute)
	return f.eval.Process(context.Background(), act)
}

func (f *fixture) evaluateWallet(t *testing.T) error {
	t.Helper()
	require.NoError(t, f.activity.RecordWalletActivity(context.Background(), orgID, walletID))
	act := f.claim(t, activitydomain.QueueWallet)
	f.clock.Advance(time.Minute)
	return f.eval.Process(context.Background(), act)
}

// triggered returns the ledger of an alert oldest first.
func (f *fixture) triggered(t *testing.T, alertID snowflake.ID) []alertdomain.TriggeredAlert {
	t.Helper()
	rows, err := f.repo.ListTriggered(context.Background(), f.db, orgID, alertID, 0, 100)
	require.NoError(t, err)
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

func (f *fixture) alert(t *testing.T, id snowflake.ID) *alertdomain.Alert {
	t.Helper()
	a, err := f.repo.FindByID(context.Background(), f.db, orgID, id)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

func crossedSummary(rows []alertdomain.CrossedThreshold) []string {
	out := make([]string, 0, len(rows))
	for _, c := range rows {
		out = append(out, c.Code+"@"+c.Value.String())
	}
	return out
}

func spendAlert() alertdomain.CreateRequest {
	return alertdomain.CreateRequest{
		Kind:                   "usage_amount",
		SubscriptionExternalID: "sub_a",
		Code:                   "spend",
		Thresholds: []alertdomain.ThresholdSpec{
			{Code: "warn", Value: "1000"},
			{Code: "rec", Value: "500", Recurring: true},
		},
	}
}

func TestFirstEvaluationRecordsBaseline(t *testing.T) {
	f := newFixture(t)
	id := f.createAlert(t, spendAlert())
	alerttest.SetUsage(t, f.db, orgID, subID, metricID, "1600", "1600", "0")

	require.NoError(t, f.evaluateSubscription(t))

	assert.Empty(t, f.triggered(t, id))
	a := f.alert(t, id)
	require.True(t, a.PreviousValue.Valid)
	assert.Equal(t, "1600", a.PreviousValue.Decimal.String())
	require.NotNil(t, a.LastProcessedAt)
	assert.True(t, a.LastProcessedAt.Equal(f.clock.Now().Truncate(time.Microsecond)))
}

func TestCrossingOrderAcrossOneShotAndRecurring(t *testing.T) {
	f := newFixture(t)
	id := f.createAlert(t, spendAlert())

	require.NoError(t, f.evaluateSubscription(t))
	alerttest.SetUsage(t, f.db, orgID, subID, metricID, "1600", "1600", "0")
	require.NoError(t, f.evaluateSubscription(t))

	rows := f.triggered(t, id)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"rec@500", "warn@1000", "rec@1000", "rec@1500"}, crossedSummary(rows[0].Crossed()))
	assert.Equal(t, "1600", rows[0].CurrentValue.String())
	require.True(t, rows[0].PreviousValue.Valid)
	assert.Equal(t, "0", rows[0].PreviousValue.Decimal.String())
	require.NotNil(t, rows[0].SubscriptionID)
	assert.Equal(t, subID, *rows[0].SubscriptionID)
	require.NotNil(t, rows[0].SubscriptionExternalID)
	assert.Equal(t, "sub_a", *rows[0].SubscriptionExternalID)

	// The one-shot stays fired; the recurring threshold resumes after 1500.
	alerttest.SetUsage(t, f.db, orgID, subID, metricID, "2100", "2100", "0")
	require.NoError(t, f.evaluateSubscription(t))

	rows = f.triggered(t, id)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"rec@2000"}, crossedSummary(rows[1].Crossed()))

	thresholds, err := f.repo.ListThresholds(context.Background(), f.db, []snowflake.ID{id})
	require.NoError(t, err)
	require.Len(t, thresholds, 2)
	for _, th := range thresholds {
		require.NotNil(t, th.FiredAt, th.Code)
		if th.Recurring {
			require.True(t, th.LastFiredValue.Valid)
			assert.Equal(t, "2000", th.LastFiredValue.Decimal.String())
		}
	}
}

func TestUnchangedValueDoesNotRetrigger(t *testing.T) {
	f := newFixture(t)
	id := f.createAlert(t, spendAlert())

	require.NoError(t, f.evaluateSubscription(t))
	alerttest.SetUsage(t, f.db, orgID, subID, metricID, "1200", "1200", "0")
	require.NoError(t, f.evaluateSubscription(t))
	require.NoError(t, f.evaluateSubscription(t))

	assert.Len(t, f.triggered(t, id), 1)
}

func TestFirePolicyFiresOnFirstEvaluation(t *testing.T) {
	f := newFixture(t, withPolicy(config.FirstEvaluationFire))
	id := f.createAlert(t, spendAlert())
	alerttest.SetUsage(t, f.db, orgID, subID, metricID, "1100", "1100", "0")

	require.NoError(t, f.evaluateSubscription(t))

	rows := f.triggered(t, id)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"rec@500", "warn@1000", "rec@1000"}, crossedSummary(rows[0].Crossed()))
	assert.False(t, rows[0].PreviousValue.Valid)
}

func TestBillableMetricUnits(t *testing.T) {
	f := newFixture(t)
	id := f.createAlert(t, alertdomain.CreateRequest{
		Kind:                   "billable_metric_usage_units",
		SubscriptionExternalID: "sub_a",
		BillableMetricID:       metricID.String(),
		Code:                   "calls",
		Thresholds:             []alertdomain.ThresholdSpec{{Code: "cap", Value: "10000"}},
	})

	require.NoError(t, f.evaluateSubscription(t))
	alerttest.SetUsage(t, f.db, orgID, subID, metricID, "5", "5", "12000")
	require.NoError(t, f.evaluateSubscription(t))

	rows := f.triggered(t, id)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"cap@10000"}, crossedSummary(rows[0].Crossed()))
}

func TestWalletBalanceFallingThroughThreshold(t *testing.T) {
	f := newFixture(t)
	id := f.createAlert(t, alertdomain.CreateRequest{
		Kind:       "wallet_balance_amount",
		WalletID:   walletID.String(),
		Code:       "low",
		Thresholds: []alertdomain.ThresholdSpec{{Code: "low", Value: "150"}},
	})

	require.NoError(t, f.evaluateWallet(t))
	alerttest.SetWalletBalance(t, f.db, walletID, "250")
	require.NoError(t, f.evaluateWallet(t))
	assert.Empty(t, f.triggered(t, id))

	alerttest.SetWalletBalance(t, f.db, walletID, "150")
	require.NoError(t, f.evaluateWallet(t))

	rows := f.triggered(t, id)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"low@150"}, crossedSummary(rows[0].Crossed()))
	require.NotNil(t, rows[0].WalletID)
	assert.Equal(t, walletID, *rows[0].WalletID)
	assert.Nil(t, rows[0].SubscriptionID)
}

func TestActivityWithoutAlertsIsCleared(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.activity.RecordSubscriptionActivity(context.Background(), orgID, "sub_nobody"))
	due, err := f.activityRepo.ListDue(context.Background(), f.db, activitydomain.QueueSubscription, orgID, f.clock.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, f.eval.Process(context.Background(), due[0]))

	row, err := f.activityRepo.FindByID(context.Background(), f.db, activitydomain.QueueSubscription, due[0].ID)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestInactiveSubscriptionIsSkipped(t *testing.T) {
	f := newFixture(t)
	id := f.createAlert(t, spendAlert())
	require.NoError(t, f.evaluateSubscription(t))
	require.NoError(t, f.db.Exec(`UPDATE subscriptions SET status = 'CANCELED' WHERE id = ?`, subID).Error)

	alerttest.SetUsage(t, f.db, orgID, subID, metricID, "5000", "5000", "0")
	require.NoError(t, f.evaluateSubscription(t))

	assert.Empty(t, f.triggered(t, id))
	assert.Equal(t, "0", f.alert(t, id).PreviousValue.Decimal.String())
}

type failingNotifier struct {
	next     notificationdomain.Notifier
	failCode string
}

func (n failingNotifier) Notify(ctx context.Context, tx *gorm.DB, org snowflake.ID, eventType string, payload any) (*notificationdomain.Event, error) {
	if p, ok := payload.(triggeredPayload); ok && p.Alert.Code == n.failCode {
		return nil, errors.New("outbox unavailable")
	}
	return n.next.Notify(ctx, tx, org, eventType, payload)
}

func TestFailedAlertKeepsActivityClaimed(t *testing.T) {
	f := newFixture(t)
	f.eval.notifier = failingNotifier{next: f.eval.notifier, failCode: "broken"}

	good := f.createAlert(t, spendAlert())
	broken := spendAlert()
	broken.Code = "broken"
	bad := f.createAlert(t, broken)

	require.NoError(t, f.evaluateSubscription(t))
	alerttest.SetUsage(t, f.db, orgID, subID, metricID, "1100", "1100", "0")

	require.NoError(t, f.activity.RecordSubscriptionActivity(context.Background(), orgID, "sub_a"))
	act := f.claim(t, activitydomain.QueueSubscription)
	err := f.eval.Process(context.Background(), act)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outbox unavailable")

	assert.Len(t, f.triggered(t, good), 1)
	assert.Empty(t, f.triggered(t, bad))
	assert.Equal(t, "0", f.alert(t, bad).PreviousValue.Decimal.String(), "failed alert keeps its baseline")
	assert.Equal(t, "1100", f.alert(t, good).PreviousValue.Decimal.String())

	row, err := f.activityRepo.FindByID(context.Background(), f.db, activitydomain.QueueSubscription, act.ID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.True(t, row.Enqueued)
}

func TestTriggerWritesOutboxEvent(t *testing.T) {
	f := newFixture(t)
	id := f.createAlert(t, spendAlert())

	require.NoError(t, f.evaluateSubscription(t))
	alerttest.SetUsage(t, f.db, orgID, subID, metricID, "600", "600", "0")
	require.NoError(t, f.evaluateSubscription(t))

	var events []notificationdomain.Event
	require.NoError(t, f.db.Raw(`SELECT * FROM notification_events`).Scan(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, notificationdomain.EventTypeAlertTriggered, events[0].EventType)
	assert.Equal(t, notificationdomain.EventStatusPending, events[0].Status)

	var payload struct {
		Alert struct {
			ID   string `json:"id"`
			Code string `json:"code"`
		} `json:"alert"`
		TriggeredAlert struct {
			CurrentValue      string `json:"current_value"`
			CrossedThresholds []struct {
				Code string `json:"code"`
			} `json:"crossed_thresholds"`
		} `json:"triggered_alert"`
	}
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, id.String(), payload.Alert.ID)
	assert.Equal(t, "spend", payload.Alert.Code)
	assert.Equal(t, "600", payload.TriggeredAlert.CurrentValue)
	require.Len(t, payload.TriggeredAlert.CrossedThresholds, 1)
	assert.Equal(t, "rec", payload.TriggeredAlert.CrossedThresholds[0].Code)
}

func TestUnknownQueueIsRejected(t *testing.T) {
	f := newFixture(t)
	err := f.eval.Process(context.Background(), activitydomain.Activity{Queue: "invoice"})
	assert.ErrorIs(t, err, activitydomain.ErrUnknownQueue)
}

// rendezvousUsage holds every caller until parties readers have read the
// current usage, so their evaluations overlap.
type rendezvousUsage struct {
	usagedomain.Service
	arrived sync.WaitGroup
}

func newRendezvousUsage(next usagedomain.Service, parties int) *rendezvousUsage {
	u := &rendezvousUsage{Service: next}
	u.arrived.Add(parties)
	return u
}

func (u *rendezvousUsage) CurrentUsageAmount(ctx context.Context, orgID, subscriptionID snowflake.ID) (decimal.Decimal, error) {
	amount, err := u.Service.CurrentUsageAmount(ctx, orgID, subscriptionID)
	u.arrived.Done()
	u.arrived.Wait()
	return amount, err
}

func TestOverlappingEvaluationsFireOnce(t *testing.T) {
	f := newFixture(t)
	id := f.createAlert(t, spendAlert())
	alerttest.SetUsage(t, f.db, orgID, subID, metricID, "400", "400", "0")
	require.NoError(t, f.evaluateSubscription(t))

	alerttest.SetUsage(t, f.db, orgID, subID, metricID, "1600", "1600", "0")
	require.NoError(t, f.activity.RecordSubscriptionActivity(context.Background(), orgID, "sub_a"))
	act := f.claim(t, activitydomain.QueueSubscription)
	f.eval.usageSvc = newRendezvousUsage(f.eval.usageSvc, 2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.eval.Process(context.Background(), act)
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	rows := f.triggered(t, id)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"rec@500", "warn@1000", "rec@1000", "rec@1500"}, crossedSummary(rows[0].Crossed()))
	assert.Equal(t, "400", rows[0].PreviousValue.Decimal.String())
	assert.Equal(t, "1600", f.alert(t, id).PreviousValue.Decimal.String())

	var events int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM notification_events`).Scan(&events).Error)
	assert.EqualValues(t, 1, events)
}

func TestUpdateEvaluationRequiresReadBaseline(t *testing.T) {
	f := newFixture(t)
	id := f.createAlert(t, spendAlert())
	require.NoError(t, f.evaluateSubscription(t))

	a := f.alert(t, id)
	a.PreviousValue = decimal.NewNullDecimal(decimal.NewFromInt(900))
	won, err := f.repo.UpdateEvaluation(context.Background(), f.db, a, decimal.NewNullDecimal(decimal.NewFromInt(5)))
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, "0", f.alert(t, id).PreviousValue.Decimal.String())

	won, err = f.repo.UpdateEvaluation(context.Background(), f.db, a, decimal.NewNullDecimal(decimal.Zero))
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, "900", f.alert(t, id).PreviousValue.Decimal.String())
}

func TestDestroyedAlertIsNotEvaluatedButKeepsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createAlert(t, spendAlert())

	require.NoError(t, f.evaluateSubscription(t))
	alerttest.SetUsage(t, f.db, orgID, subID, metricID, "600", "600", "0")
	require.NoError(t, f.evaluateSubscription(t))
	require.Len(t, f.triggered(t, id), 1)

	deleted, err := f.alerts.DestroyAll(ctx, orgIDStr, "sub_a")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	alerttest.SetUsage(t, f.db, orgID, subID, metricID, "1600", "1600", "0")
	require.NoError(t, f.activity.RecordSubscriptionActivity(ctx, orgID, "sub_a"))
	act := f.claim(t, activitydomain.QueueSubscription)
	require.NoError(t, f.eval.Process(ctx, act))

	assert.Len(t, f.triggered(t, id), 1)
	assert.Equal(t, "600", f.alert(t, id).PreviousValue.Decimal.String())

	row, err := f.activityRepo.FindByID(ctx, f.db, activitydomain.QueueSubscription, act.ID)
	require.NoError(t, err)
	assert.Nil(t, row)

	page, err := f.alerts.ListTriggered(ctx, orgIDStr, id.String(), pagination.Pagination{PageSize: 20})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, []string{"rec@500"}, crossedSummary(page.Items[0].CrossedThresholds))
}
