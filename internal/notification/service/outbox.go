package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/railzway-alerts/internal/clock"
	notificationdomain "github.com/smallbiznis/railzway-alerts/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/railzway-alerts/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	relayLease       = time.Minute
	maxRelayAttempts = 10
	baseRetryDelay   = 2 * time.Second
	maxRetryDelay    = 5 * time.Minute
	maxErrorLength   = 512
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      notificationdomain.Repository
	Publisher notificationdomain.Publisher
	Clock     clock.Clock         `optional:"true"`
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

// Outbox persists notification requests and relays them to the publisher.
type Outbox struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      notificationdomain.Repository
	publisher notificationdomain.Publisher
	clock     clock.Clock
	metrics   *obsmetrics.Metrics
}

// RelayResult summarizes one relay pass.
type RelayResult struct {
	Published int
	Retried   int
	Failed    int
	Skipped   int
}

func New(p Params) *Outbox {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Outbox{
		db:        p.DB,
		log:       p.Log.Named("notification.outbox"),
		genID:     p.GenID,
		repo:      p.Repo,
		publisher: p.Publisher,
		clock:     clk,
		metrics:   p.Metrics,
	}
}

func NewNotifier(o *Outbox) notificationdomain.Notifier {
	return o
}

// Notify writes the event through tx so it commits or rolls back with the
// caller's own rows.
func (o *Outbox) Notify(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, eventType string, payload any) (*notificationdomain.Event, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, notificationdomain.ErrInvalidEventType
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	now := o.clock.Now()
	event := &notificationdomain.Event{
		ID:          o.genID.Generate(),
		OrgID:       orgID,
		EventID:     ulid.Make().String(),
		EventType:   eventType,
		Payload:     datatypes.JSON(body),
		Status:      notificationdomain.EventStatusPending,
		AvailableAt: now,
		CreatedAt:   now,
	}
	if err := o.repo.Insert(ctx, tx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// Relay publishes up to limit due events. Publishing is at-least-once; the
// event id lets the transport drop duplicates.
func (o *Outbox) Relay(ctx context.Context, limit int) (RelayResult, error) {
	var result RelayResult
	if limit <= 0 {
		return result, nil
	}

	now := o.clock.Now()
	events, err := o.repo.ListDue(ctx, o.db, now, limit)
	if err != nil {
		return result, err
	}

	for i := range events {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		event := &events[i]

		leased, err := o.repo.Lease(ctx, o.db, event.ID, now, now.Add(relayLease))
		if err != nil {
			return result, err
		}
		if !leased {
			result.Skipped++
			continue
		}
		attempts := event.Attempts + 1

		pubErr := o.publisher.Publish(ctx, notificationdomain.Message{
			EventID:   event.EventID,
			EventType: event.EventType,
			OrgID:     event.OrgID.String(),
			Payload:   event.Payload,
			CreatedAt: event.CreatedAt,
		})
		if pubErr == nil {
			if err := o.repo.MarkPublished(ctx, o.db, event.ID, o.clock.Now()); err != nil {
				return result, err
			}
			result.Published++
			o.metrics.RecordNotificationRelayed(ctx, o.publisher.Name(), string(notificationdomain.EventStatusPublished))
			continue
		}

		status := notificationdomain.EventStatusPending
		if attempts >= maxRelayAttempts {
			status = notificationdomain.EventStatusFailed
			result.Failed++
		} else {
			result.Retried++
		}
		o.log.Warn("notification publish failed",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
			zap.String("org_id", event.OrgID.String()),
			zap.Int("attempts", attempts),
			zap.String("status", string(status)),
			zap.Error(pubErr),
		)
		retryAt := o.clock.Now().Add(retryDelay(attempts))
		if err := o.repo.MarkFailed(ctx, o.db, event.ID, status, truncate(pubErr.Error(), maxErrorLength), retryAt); err != nil {
			return result, err
		}
		o.metrics.RecordNotificationRelayed(ctx, o.publisher.Name(), string(status))
	}
	return result, nil
}

func retryDelay(attempts int) time.Duration {
	delay := baseRetryDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
