package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-alerts/internal/activity"
	"github.com/smallbiznis/railzway-alerts/internal/alert"
	"github.com/smallbiznis/railzway-alerts/internal/clock"
	"github.com/smallbiznis/railzway-alerts/internal/config"
	"github.com/smallbiznis/railzway-alerts/internal/distlock"
	"github.com/smallbiznis/railzway-alerts/internal/notification"
	"github.com/smallbiznis/railzway-alerts/internal/observability"
	"github.com/smallbiznis/railzway-alerts/internal/scheduler"
	"github.com/smallbiznis/railzway-alerts/internal/subscription"
	"github.com/smallbiznis/railzway-alerts/internal/taskqueue"
	"github.com/smallbiznis/railzway-alerts/internal/usage"
	"github.com/smallbiznis/railzway-alerts/internal/wallet"
	"github.com/smallbiznis/railzway-alerts/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		distlock.Module,
		taskqueue.Module,

		// Value sources read by the evaluators
		subscription.Module,
		usage.Module,
		wallet.Module,

		activity.Module,
		alert.Module,
		notification.Module,
		scheduler.Module,

		// No server module!
		fx.Invoke(warnWhenDisabled),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

func warnWhenDisabled(cfg config.Config, log *zap.Logger) {
	if !cfg.SchedulerEnabled {
		log.Warn("scheduler worker started with SCHEDULER_ENABLED=false, no jobs will run")
	}
}
