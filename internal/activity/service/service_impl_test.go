package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	activitydomain "github.com/smallbiznis/railzway-alerts/internal/activity/domain"
	"github.com/smallbiznis/railzway-alerts/internal/activity/repository"
	"github.com/smallbiznis/railzway-alerts/internal/alert/alerttest"
	"github.com/smallbiznis/railzway-alerts/internal/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const orgID = snowflake.ID(42)

func newTestService(t *testing.T) (*Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := alerttest.NewDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: alerttest.Node(t),
		Repo:  repository.Provide(),
		Clock: clk,
	}).(*Service)
	return svc, db, clk
}

func TestRecordSubscriptionActivityCoalesces(t *testing.T) {
	svc, db, clk := newTestService(t)
	ctx := context.Background()
	first := clk.Now()

	for i := 0; i < 25; i++ {
		require.NoError(t, svc.RecordSubscriptionActivity(ctx, orgID, "sub_1"))
		clk.Advance(time.Second)
	}

	repo := repository.Provide()
	rows, err := repo.ListDue(ctx, db, activitydomain.QueueSubscription, orgID, clk.Now(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "sub_1", rows[0].TargetID)
	require.True(t, rows[0].InsertedAt.Equal(first), "inserted_at keeps the oldest pending activity")
	require.False(t, rows[0].Enqueued)
}

func TestRecordActivityConcurrentCallers(t *testing.T) {
	svc, db, clk := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.RecordSubscriptionActivity(ctx, orgID, "sub_hot")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rows, err := repository.Provide().ListDue(ctx, db, activitydomain.QueueSubscription, orgID, clk.Now(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestRecordActivityAfterClaimQueuesAgain(t *testing.T) {
	svc, db, clk := newTestService(t)
	ctx := context.Background()
	repo := repository.Provide()

	require.NoError(t, svc.RecordSubscriptionActivity(ctx, orgID, "sub_1"))
	rows, err := repo.ListDue(ctx, db, activitydomain.QueueSubscription, orgID, clk.Now(), 10)
	require.NoError(t, err)
	won, err := repo.Claim(ctx, db, activitydomain.QueueSubscription, rows[0].ID, clk.Now())
	require.NoError(t, err)
	require.True(t, won)

	clk.Advance(time.Second)
	require.NoError(t, svc.RecordSubscriptionActivity(ctx, orgID, "sub_1"))

	pending, err := repo.ListDue(ctx, db, activitydomain.QueueSubscription, orgID, clk.Now(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotEqual(t, rows[0].ID, pending[0].ID)
}

func TestRecordWalletActivity(t *testing.T) {
	svc, db, clk := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordWalletActivity(ctx, orgID, 777))
	require.NoError(t, svc.RecordWalletActivity(ctx, orgID, 777))
	require.NoError(t, svc.RecordWalletActivity(ctx, orgID, 778))

	rows, err := repository.Provide().ListDue(ctx, db, activitydomain.QueueWallet, orgID, clk.Now(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "777", rows[0].TargetID)
}

func TestRecordActivityRejectsBadInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.RecordSubscriptionActivity(ctx, orgID, "  "), activitydomain.ErrInvalidTarget)
	require.ErrorIs(t, svc.RecordSubscriptionActivity(ctx, 0, "sub"), activitydomain.ErrInvalidOrganization)
	require.ErrorIs(t, svc.RecordWalletActivity(ctx, orgID, 0), activitydomain.ErrInvalidTarget)
}
