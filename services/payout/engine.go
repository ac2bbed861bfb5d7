package payout

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"promopay-engine/pkg/cache"
	"promopay-engine/pkg/cachekey"
	"promopay-engine/pkg/config"
	"promopay-engine/pkg/errutil"
	"promopay-engine/services/promotion"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var payoutOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "engine_payout_jobs_total",
}, []string{"outcome"})

// botViewWarningPct is the high-water mark past which a batch's bot share is
// flagged to operators. Heavy filtering is a healthy outcome, not an error.
const botViewWarningPct = 50.0

// Engine runs the daily creator payout batch. A run is single-flight within
// the process and additionally holds a date-scoped cache lock so two
// scheduler instances cannot both run the same day.
type Engine struct {
	processing atomic.Bool

	db    *gorm.DB
	cache *cache.Cache
	store promotion.Store
	node  *snowflake.Node
	cfg   *config.Config
}

type EngineParams struct {
	fx.In
	DB    *gorm.DB
	Cache *cache.Cache
	Store promotion.Store
	Node  *snowflake.Node
	Cfg   *config.Config
}

var Module = fx.Module("payout",
	fx.Provide(NewEngine),
)

func NewEngine(p EngineParams) *Engine {
	return &Engine{
		db:    p.DB,
		cache: p.Cache,
		store: p.Store,
		node:  p.Node,
		cfg:   p.Cfg,
	}
}

// CalculateDailyPayouts aggregates legitimate views for every active
// promotion over the given calendar day and computes creator-owed amounts.
// A second invocation while one is in flight fails fast with a conflict.
func (e *Engine) CalculateDailyPayouts(ctx context.Context, date time.Time) (*PayoutBatch, error) {
	if !e.processing.CompareAndSwap(false, true) {
		return nil, errutil.Conflict("payout calculation already in progress")
	}
	defer e.processing.Store(false)

	loc, err := time.LoadLocation(e.cfg.Payout.Timezone)
	if err != nil {
		return nil, err
	}
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.Add(24 * time.Hour)
	dateKey := dayStart.Format("2006-01-02")

	lock := cache.NewLock(e.cache, cachekey.BuildPayoutLockKey(dateKey), e.cfg.TTL.Payout)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, errutil.Conflict(fmt.Sprintf("payout run for %s already in progress on another instance", dateKey))
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			zap.L().Warn("[Payout] failed to release date lock", zap.String("date", dateKey), zap.Error(err))
		}
	}()

	zapLog := zap.L().With(zap.String("date", dateKey))
	zapLog.Info("[Payout] daily payout run started")

	promos, err := e.store.ListActivePromotions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active promotions: %w", err)
	}

	batch := &PayoutBatch{
		ID:        e.node.Generate().String(),
		Date:      dateKey,
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
	}

	for _, promo := range promos {
		job := e.runPromotion(ctx, batch.ID, promo, dayStart, dayEnd)
		batch.Jobs = append(batch.Jobs, job)
		batch.JobCount++
		if job.Status == StatusFailed {
			batch.FailedCount++
			payoutOutcomes.WithLabelValues("failed").Inc()
			continue
		}
		payoutOutcomes.WithLabelValues("completed").Inc()
		batch.TotalGross += job.Calculation.GrossAmount
		batch.TotalFee += job.Calculation.PlatformFee
		batch.TotalNet += job.Calculation.NetAmount
	}

	batch.CompletedAt = time.Now().UTC()
	if batch.FailedCount == 0 {
		batch.Status = StatusCompleted
	} else {
		batch.Status = StatusFailed
	}

	if err := e.db.WithContext(ctx).Create(batch).Error; err != nil {
		return nil, fmt.Errorf("persist payout batch: %w", err)
	}

	if err := e.cache.SetJSON(ctx, cachekey.NamespaceKey("payout:batch", dateKey), batch, e.cfg.TTL.Payout); err != nil {
		zapLog.Warn("[Payout] failed to cache batch", zap.Error(err))
	}

	zapLog.Info("[Payout] daily payout run finished",
		zap.String("batch_id", batch.ID),
		zap.String("status", batch.Status),
		zap.Int("jobs", batch.JobCount),
		zap.Int("failed", batch.FailedCount),
		zap.Int64("total_net", batch.TotalNet),
		zap.Duration("duration", batch.Duration()),
	)
	return batch, nil
}

// runPromotion isolates one promotion's calculation; its failure never
// aborts the rest of the batch.
func (e *Engine) runPromotion(ctx context.Context, batchID string, promo promotion.Promotion, from, to time.Time) PayoutJob {
	job := PayoutJob{
		ID:          e.node.Generate().String(),
		BatchID:     batchID,
		PromoterID:  promo.PromoterID,
		CampaignID:  promo.CampaignID,
		RatePerView: promo.RatePerView,
		Status:      StatusPending,
	}

	records, err := e.store.ListViewRecords(ctx, promo.PromoterID, promo.CampaignID, from, to)
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		zap.L().Error("[Payout] view record fetch failed",
			zap.String("promoter_id", promo.PromoterID),
			zap.String("campaign_id", promo.CampaignID),
			zap.Error(err),
		)
		return job
	}

	calc := PaymentCalculation{}
	for _, r := range records {
		calc.TotalViews += r.ViewCount
		if r.IsLegitimate {
			calc.LegitimateViews += r.ViewCount
		} else {
			calc.BotViews += r.ViewCount
		}
	}

	calc.GrossAmount = calc.LegitimateViews * promo.RatePerView
	calc.PlatformFee = feeFor(calc.GrossAmount, e.cfg.Payout.PlatformFeePct)
	calc.NetAmount = calc.GrossAmount - calc.PlatformFee

	// below the minimum nothing is paid, and no fee is charged on a
	// non-payable amount
	if calc.NetAmount < e.cfg.Payout.MinPayout {
		calc.NetAmount = 0
		calc.PlatformFee = 0
	}

	validation := ValidatePayoutRules(calc)
	if !validation.Valid {
		job.Status = StatusFailed
		job.Error = validation.Error
		job.Calculation = calc
		// invariant violations are logged distinctly from ordinary failures
		zap.L().Error("[Payout] calculation violated payout invariants",
			zap.String("promoter_id", promo.PromoterID),
			zap.String("campaign_id", promo.CampaignID),
			zap.String("violation", validation.Error),
		)
		return job
	}
	for _, w := range validation.Warnings {
		zap.L().Warn("[Payout] "+w,
			zap.String("promoter_id", promo.PromoterID),
			zap.String("campaign_id", promo.CampaignID),
		)
	}

	job.Calculation = calc
	job.Status = StatusCompleted
	return job
}

func feeFor(gross int64, pct float64) int64 {
	return int64(math.Round(float64(gross) * pct / 100))
}

// ValidatePayoutRules audits a finished calculation. It rejects model
// invariant violations and warns, without blocking payment, when the bot
// share crosses the high-water mark.
func ValidatePayoutRules(calc PaymentCalculation) RuleValidation {
	v := RuleValidation{Valid: true}

	if calc.LegitimateViews > calc.TotalViews {
		v.Valid = false
		v.Error = fmt.Sprintf("legitimate views (%d) exceed total views (%d)", calc.LegitimateViews, calc.TotalViews)
		return v
	}
	if calc.NetAmount < 0 || calc.PlatformFee < 0 || calc.GrossAmount < 0 {
		v.Valid = false
		v.Error = fmt.Sprintf("negative amounts: gross=%d fee=%d net=%d", calc.GrossAmount, calc.PlatformFee, calc.NetAmount)
		return v
	}

	if calc.TotalViews > 0 {
		botPct := float64(calc.BotViews) / float64(calc.TotalViews) * 100
		if botPct > botViewWarningPct {
			v.Warnings = append(v.Warnings,
				fmt.Sprintf("bot views are %.1f%% of total, above the %.0f%% watermark", botPct, botViewWarningPct))
		}
	}
	return v
}

// GetBatch reads a persisted batch with its jobs.
func (e *Engine) GetBatch(ctx context.Context, batchID string) (*PayoutBatch, error) {
	var batch PayoutBatch
	err := e.db.WithContext(ctx).
		Preload("Jobs").
		Where("id = ?", batchID).
		First(&batch).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errutil.NotFound("payout batch " + batchID + " not found")
		}
		return nil, err
	}
	return &batch, nil
}
