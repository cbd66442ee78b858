package publisher

import (
	"context"

	notificationdomain "github.com/smallbiznis/railzway-alerts/internal/notification/domain"
	"go.uber.org/zap"
)

// LogPublisher writes notifications to the log. It is the fallback when no
// broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("notification.log_publisher")}
}

func (p *LogPublisher) Name() string { return "log" }

func (p *LogPublisher) Publish(_ context.Context, msg notificationdomain.Message) error {
	p.log.Info("notification published",
		zap.String("event_id", msg.EventID),
		zap.String("event_type", msg.EventType),
		zap.String("org_id", msg.OrgID),
		zap.ByteString("payload", msg.Payload),
	)
	return nil
}
