package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-alerts/internal/alert/alerttest"
	"github.com/smallbiznis/railzway-alerts/internal/clock"
	notificationdomain "github.com/smallbiznis/railzway-alerts/internal/notification/domain"
	"github.com/smallbiznis/railzway-alerts/internal/notification/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []notificationdomain.Message
	err  error
}

func (p *recordingPublisher) Name() string { return "recording" }

func (p *recordingPublisher) Publish(_ context.Context, msg notificationdomain.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func newTestOutbox(t *testing.T, pub notificationdomain.Publisher) (*Outbox, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := alerttest.NewDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	return New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     alerttest.Node(t),
		Repo:      repository.Provide(),
		Publisher: pub,
		Clock:     clk,
	}), db, clk
}

const orgID = snowflake.ID(5)

func TestNotifyCommitsWithCallerTransaction(t *testing.T) {
	outbox, db, _ := newTestOutbox(t, &recordingPublisher{})
	ctx := context.Background()

	boom := errors.New("rollback")
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := outbox.Notify(ctx, tx, orgID, notificationdomain.EventTypeAlertTriggered, map[string]string{"k": "v"})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(1) FROM notification_events`).Scan(&count).Error)
	assert.Zero(t, count)

	var event *notificationdomain.Event
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		event, err = outbox.Notify(ctx, tx, orgID, notificationdomain.EventTypeAlertTriggered, map[string]string{"k": "v"})
		return err
	}))
	assert.Len(t, event.EventID, 26)

	stored, err := repository.Provide().FindByEventID(ctx, db, event.EventID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, notificationdomain.EventStatusPending, stored.Status)
	assert.JSONEq(t, `{"k":"v"}`, string(stored.Payload))
}

func TestNotifyRejectsEmptyEventType(t *testing.T) {
	outbox, db, _ := newTestOutbox(t, &recordingPublisher{})
	_, err := outbox.Notify(context.Background(), db, orgID, " ", nil)
	require.ErrorIs(t, err, notificationdomain.ErrInvalidEventType)
}

func TestRelayPublishesOnce(t *testing.T) {
	pub := &recordingPublisher{}
	outbox, db, _ := newTestOutbox(t, pub)
	ctx := context.Background()

	event, err := outbox.Notify(ctx, db, orgID, notificationdomain.EventTypeAlertTriggered, map[string]int{"n": 1})
	require.NoError(t, err)

	result, err := outbox.Relay(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Published)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, event.EventID, pub.msgs[0].EventID)
	assert.Equal(t, "5", pub.msgs[0].OrgID)

	var payload map[string]int
	require.NoError(t, json.Unmarshal(pub.msgs[0].Payload, &payload))
	assert.Equal(t, 1, payload["n"])

	result, err = outbox.Relay(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, result.Published)
	assert.Len(t, pub.msgs, 1)

	stored, err := repository.Provide().FindByEventID(ctx, db, event.EventID)
	require.NoError(t, err)
	assert.Equal(t, notificationdomain.EventStatusPublished, stored.Status)
	assert.NotNil(t, stored.PublishedAt)
	assert.Equal(t, 1, stored.Attempts)
}

func TestRelayRetriesWithBackoff(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	outbox, db, clk := newTestOutbox(t, pub)
	ctx := context.Background()

	event, err := outbox.Notify(ctx, db, orgID, notificationdomain.EventTypeAlertTriggered, struct{}{})
	require.NoError(t, err)

	result, err := outbox.Relay(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retried)

	// Not due until the backoff elapses.
	result, err = outbox.Relay(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, RelayResult{}, result)

	stored, err := repository.Provide().FindByEventID(ctx, db, event.EventID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "broker down", *stored.LastError)

	pub.err = nil
	clk.Advance(baseRetryDelay)
	result, err = outbox.Relay(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Published)
}

func TestRelayGivesUpAfterMaxAttempts(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("rejected")}
	outbox, db, clk := newTestOutbox(t, pub)
	ctx := context.Background()

	event, err := outbox.Notify(ctx, db, orgID, notificationdomain.EventTypeAlertTriggered, struct{}{})
	require.NoError(t, err)

	for i := 0; i < maxRelayAttempts; i++ {
		_, err := outbox.Relay(ctx, 10)
		require.NoError(t, err)
		clk.Advance(maxRetryDelay)
	}

	stored, err := repository.Provide().FindByEventID(ctx, db, event.EventID)
	require.NoError(t, err)
	assert.Equal(t, notificationdomain.EventStatusFailed, stored.Status)
	assert.Equal(t, maxRelayAttempts, stored.Attempts)

	result, err := outbox.Relay(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, RelayResult{}, result)
}

func TestLeaseIsExclusive(t *testing.T) {
	outbox, db, clk := newTestOutbox(t, &recordingPublisher{})
	ctx := context.Background()
	repo := repository.Provide()

	event, err := outbox.Notify(ctx, db, orgID, notificationdomain.EventTypeAlertTriggered, struct{}{})
	require.NoError(t, err)

	now := clk.Now()
	ok, err := repo.Lease(ctx, db, event.ID, now, now.Add(relayLease))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Lease(ctx, db, event.ID, now, now.Add(relayLease))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryDelay(1))
	assert.Equal(t, 4*time.Second, retryDelay(2))
	assert.Equal(t, 16*time.Second, retryDelay(4))
	assert.Equal(t, maxRetryDelay, retryDelay(40))
}
