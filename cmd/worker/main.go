package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"promopay-engine/pkg/cache"
	"promopay-engine/pkg/config"
	"promopay-engine/pkg/db"
	"promopay-engine/pkg/gen"
	"promopay-engine/pkg/health"
	"promopay-engine/pkg/logger"
	"promopay-engine/pkg/redis"
	"promopay-engine/pkg/task"
	"promopay-engine/services/collector"
	"promopay-engine/services/fraud"
	"promopay-engine/services/payout"
	"promopay-engine/services/platform"
	"promopay-engine/services/promotion"
	"promopay-engine/services/scheduler"
	"promopay-engine/services/token"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		redis.Module,
		cache.Module,
		db.Module,
		gen.Module,
		task.Client,
		task.Server,
		platform.Module,
		token.Module,
		fraud.Module,
		promotion.Module,
		collector.Module,
		collector.TaskModule,
		payout.Module,
		scheduler.Module,
		health.Module,
		fx.Invoke(migrate, registerHealthReporters),
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func registerHealthReporters(h *health.Service, col *collector.Service, sch *scheduler.Scheduler) {
	h.Register("collector", col)
	h.Register("scheduler", sch)
}

func migrate(lc fx.Lifecycle, db *gorm.DB) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := db.WithContext(ctx).AutoMigrate(
				&collector.EngagementRecord{},
				&promotion.Promotion{},
				&payout.PayoutBatch{},
				&payout.PayoutJob{},
			); err != nil {
				return err
			}
			zap.L().Info("[DB] migrations applied")
			return nil
		},
	})
}
