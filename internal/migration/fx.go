package migration

import (
	"strings"

	"github.com/smallbiznis/railzway-alerts/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !strings.EqualFold(strings.TrimSpace(cfg.DBType), "postgres") {
			log.Warn("skipping schema migrations", zap.String("database_type", cfg.DBType))
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		result, err := RunMigrations(sqlDB)
		if err != nil {
			return err
		}
		log.Info("schema migrations checked",
			zap.Uint("version", result.Version),
			zap.Bool("applied", result.Applied),
		)
		return nil
	}),
)
