package migration

import (
	"github.com/vyomcloud/vyom/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(cfg config.Config, gdb *gorm.DB, log *zap.Logger) error {
		if cfg.DBType != "postgres" {
			log.Warn("skipping startup migrations for non-postgres database", zap.String("type", cfg.DBType))
			return nil
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		log.Info("migrations applied")
		return nil
	}),
)
