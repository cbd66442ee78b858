package notification

import (
	"context"

	"github.com/smallbiznis/railzway-alerts/internal/config"
	notificationdomain "github.com/smallbiznis/railzway-alerts/internal/notification/domain"
	"github.com/smallbiznis/railzway-alerts/internal/notification/publisher"
	"github.com/smallbiznis/railzway-alerts/internal/notification/repository"
	"github.com/smallbiznis/railzway-alerts/internal/notification/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(repository.Provide),
	fx.Provide(NewPublisher),
	fx.Provide(service.New),
	fx.Provide(service.NewNotifier),
)

// NewPublisher picks JetStream when NATS is enabled and the log publisher otherwise.
func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (notificationdomain.Publisher, error) {
	if !cfg.NATS.Enabled {
		log.Info("nats disabled, notifications go to the log")
		return publisher.NewLogPublisher(log), nil
	}

	pub, err := publisher.NewNATSPublisher(cfg.NATS)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	})
	log.Info("notifications published to jetstream",
		zap.String("stream", cfg.NATS.Stream),
		zap.String("subject", cfg.NATS.Subject),
	)
	return pub, nil
}
