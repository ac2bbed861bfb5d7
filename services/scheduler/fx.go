package scheduler

import (
	"context"
	"time"

	"promopay-engine/pkg/cache"
	"promopay-engine/pkg/cachekey"
	"promopay-engine/pkg/config"
	"promopay-engine/services/collector"
	"promopay-engine/services/payout"
	"promopay-engine/services/platform"
	"promopay-engine/services/promotion"
	"promopay-engine/services/token"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(New),
	fx.Invoke(registerJobs),
)

type jobsParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Scheduler  *Scheduler
	Cache      *cache.Cache
	Cfg        *config.Config
	Collector  *collector.Service
	Payout     *payout.Engine
	Tokens     *token.Store
	Promotions promotion.Store
}

func registerJobs(p jobsParams) error {
	jobs := []struct {
		name, schedule, description string
		fn                          JobFunc
	}{
		{
			name:        "collection.tick",
			schedule:    p.Cfg.Cron.CollectionTick,
			description: "enqueue metric collection for every active promotion",
			fn:          collectionTick(p.Collector, p.Promotions),
		},
		{
			name:        "health.check",
			schedule:    p.Cfg.Cron.HealthCheck,
			description: "probe cache and durable store health",
			fn: func(ctx context.Context) error {
				return p.Collector.CheckHealth(ctx)
			},
		},
		{
			name:        "token.cleanup",
			schedule:    p.Cfg.Cron.TokenCleanup,
			description: "remove credentials whose expiry has passed",
			fn: func(ctx context.Context) error {
				_, err := p.Tokens.CleanupExpiredTokens(ctx)
				return err
			},
		},
		{
			name:        "cache.sweep",
			schedule:    p.Cfg.Cron.CacheSweep,
			description: "drop stale derived analysis entries",
			fn: func(ctx context.Context) error {
				removed, err := p.Cache.DelByPattern(ctx, cachekey.BotAnalysisPrefix+":*")
				if err != nil {
					return err
				}
				zap.L().Info("[Cron] cache sweep finished", zap.Int("removed", removed))
				return nil
			},
		},
		{
			name:        "payout.daily",
			schedule:    p.Cfg.Cron.DailyPayout,
			description: "compute creator payouts for the prior day",
			fn:          dailyPayout(p.Payout, p.Cfg),
		},
	}

	for _, j := range jobs {
		if err := p.Scheduler.AddCronJob(j.name, j.schedule, j.description, j.fn); err != nil {
			return err
		}
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return p.Scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return p.Scheduler.Stop(ctx)
		},
	})
	return nil
}

// collectionTick fans the active promotion set out into collection jobs.
// One promotion failing to enqueue does not block the rest.
func collectionTick(svc *collector.Service, store promotion.Store) JobFunc {
	return func(ctx context.Context) error {
		promos, err := store.ListActivePromotions(ctx)
		if err != nil {
			return err
		}

		var lastErr error
		for _, promo := range promos {
			plat, err := platform.Parse(promo.Platform)
			if err != nil {
				zap.L().Warn("[Cron] promotion has unknown platform",
					zap.String("promotion_id", promo.ID), zap.String("platform", promo.Platform))
				continue
			}
			if _, err := svc.ScheduleMetricsCollection(ctx, promo.PromoterID, plat, promo.ContentID, promo.CampaignID, collector.ScheduleOptions{}); err != nil {
				zap.L().Error("[Cron] failed to schedule collection",
					zap.String("promotion_id", promo.ID), zap.Error(err))
				lastErr = err
			}
		}
		return lastErr
	}
}

// dailyPayout runs the batch for "yesterday" in the payout timezone.
func dailyPayout(engine *payout.Engine, cfg *config.Config) JobFunc {
	return func(ctx context.Context) error {
		loc, err := time.LoadLocation(cfg.Payout.Timezone)
		if err != nil {
			return err
		}
		yesterday := time.Now().In(loc).AddDate(0, 0, -1)

		batch, err := engine.CalculateDailyPayouts(ctx, yesterday)
		if err != nil {
			return err
		}

		zap.L().Info("[Cron] payout report\n" + payout.GenerateReport(batch))
		return nil
	}
}
