package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-alerts/internal/activity"
	"github.com/smallbiznis/railzway-alerts/internal/alert"
	"github.com/smallbiznis/railzway-alerts/internal/clock"
	"github.com/smallbiznis/railzway-alerts/internal/config"
	"github.com/smallbiznis/railzway-alerts/internal/distlock"
	"github.com/smallbiznis/railzway-alerts/internal/migration"
	"github.com/smallbiznis/railzway-alerts/internal/notification"
	"github.com/smallbiznis/railzway-alerts/internal/observability"
	"github.com/smallbiznis/railzway-alerts/internal/scheduler"
	"github.com/smallbiznis/railzway-alerts/internal/server"
	"github.com/smallbiznis/railzway-alerts/internal/subscription"
	"github.com/smallbiznis/railzway-alerts/internal/taskqueue"
	"github.com/smallbiznis/railzway-alerts/internal/usage"
	"github.com/smallbiznis/railzway-alerts/internal/wallet"
	"github.com/smallbiznis/railzway-alerts/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		distlock.Module,
		taskqueue.Module,

		// Value sources
		subscription.Module,
		usage.Module,
		wallet.Module,

		// Alerting
		activity.Module,
		alert.Module,
		notification.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
