package payout

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"promopay-engine/pkg/cache"
	"promopay-engine/pkg/cachekey"
	"promopay-engine/pkg/config"
	"promopay-engine/pkg/errutil"
	"promopay-engine/services/collector"
	"promopay-engine/services/promotion"
	"promopay-engine/services/testutil"
)

func testPayoutConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Payout.PlatformFeePct = 5.0
	cfg.Payout.MinPayout = 1000
	cfg.Payout.Timezone = "UTC"
	cfg.TTL.Payout = 24 * time.Hour
	return cfg
}

func newTestEngine(t *testing.T) (*Engine, *gorm.DB, *cache.Cache) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&promotion.Promotion{},
		&collector.EngagementRecord{},
		&PayoutBatch{},
		&PayoutJob{},
	)
	_, client := testutil.NewTestRedis(t)
	c := cache.New(client)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	engine := NewEngine(EngineParams{
		DB:    db,
		Cache: c,
		Store: promotion.NewStore(db),
		Node:  node,
		Cfg:   testPayoutConfig(),
	})
	return engine, db, c
}

func seedPromotion(t *testing.T, db *gorm.DB, id, promoterID, campaignID string, rate int64) {
	t.Helper()
	require.NoError(t, db.Create(&promotion.Promotion{
		ID:          id,
		PromoterID:  promoterID,
		CampaignID:  campaignID,
		Platform:    "tiktok",
		ContentID:   "post-" + id,
		RatePerView: rate,
		Status:      promotion.StatusActive,
	}).Error)
}

func seedViewRecord(t *testing.T, db *gorm.DB, id, promoterID, campaignID string, views int64, legitimate bool, capturedAt time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&collector.EngagementRecord{
		ID:           id,
		PromoterID:   promoterID,
		CampaignID:   campaignID,
		Platform:     "tiktok",
		ContentID:    "post-1",
		ViewCount:    views,
		CapturedAt:   capturedAt,
		IsLegitimate: legitimate,
	}).Error)
}

func TestEngine_CalculateDailyPayouts(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	seedPromotion(t, db, "promo-1", "u1", "c1", 1000)
	seedViewRecord(t, db, "r1", "u1", "c1", 100, true, day.Add(6*time.Hour))
	seedViewRecord(t, db, "r2", "u1", "c1", 50, true, day.Add(12*time.Hour))
	seedViewRecord(t, db, "r3", "u1", "c1", 25, false, day.Add(18*time.Hour))

	batch, err := engine.CalculateDailyPayouts(ctx, day)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, batch.Status)
	require.Equal(t, "2026-08-29", batch.Date)
	require.Equal(t, 1, batch.JobCount)
	require.Zero(t, batch.FailedCount)

	job := batch.Jobs[0]
	require.Equal(t, StatusCompleted, job.Status)
	require.Equal(t, int64(175), job.Calculation.TotalViews)
	require.Equal(t, int64(150), job.Calculation.LegitimateViews)
	require.Equal(t, int64(25), job.Calculation.BotViews)
	require.Equal(t, int64(150000), job.Calculation.GrossAmount, "only legitimate views earn")
	require.Equal(t, int64(7500), job.Calculation.PlatformFee)
	require.Equal(t, int64(142500), job.Calculation.NetAmount)

	require.Equal(t, batch.TotalNet, job.Calculation.NetAmount)
}

func TestEngine_BatchIsPersistedAndReadable(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	seedPromotion(t, db, "promo-1", "u1", "c1", 1000)
	seedViewRecord(t, db, "r1", "u1", "c1", 100, true, day.Add(time.Hour))

	batch, err := engine.CalculateDailyPayouts(ctx, day)
	require.NoError(t, err)

	got, err := engine.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, batch.ID, got.ID)
	require.Len(t, got.Jobs, 1)
	require.Equal(t, int64(100), got.Jobs[0].Calculation.LegitimateViews)
}

func TestEngine_GetBatchUnknown(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.GetBatch(context.Background(), "missing")
	require.Error(t, err)
}

func TestEngine_RecordsOutsideDayExcluded(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	seedPromotion(t, db, "promo-1", "u1", "c1", 1000)
	seedViewRecord(t, db, "r1", "u1", "c1", 100, true, day.Add(-time.Minute))
	seedViewRecord(t, db, "r2", "u1", "c1", 200, true, day.Add(time.Hour))
	seedViewRecord(t, db, "r3", "u1", "c1", 300, true, day.Add(24*time.Hour))

	batch, err := engine.CalculateDailyPayouts(ctx, day)
	require.NoError(t, err)
	require.Equal(t, int64(200), batch.Jobs[0].Calculation.TotalViews)
}

func TestEngine_MinimumPayoutFloor(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	seedPromotion(t, db, "promo-1", "u1", "c1", 10)
	seedViewRecord(t, db, "r1", "u1", "c1", 50, true, day.Add(time.Hour))

	batch, err := engine.CalculateDailyPayouts(ctx, day)
	require.NoError(t, err)

	calc := batch.Jobs[0].Calculation
	require.Equal(t, int64(500), calc.GrossAmount)
	require.Zero(t, calc.NetAmount, "below the minimum nothing is paid")
	require.Zero(t, calc.PlatformFee, "and no fee is charged on a non-payable amount")
}

func TestEngine_ZeroViewsProducesZeroPayout(t *testing.T) {
	engine, db, _ := newTestEngine(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	seedPromotion(t, db, "promo-1", "u1", "c1", 1000)

	batch, err := engine.CalculateDailyPayouts(ctx, day)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, batch.Status)
	require.Zero(t, batch.Jobs[0].Calculation.NetAmount)
}

func TestEngine_ConcurrentRunConflicts(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	engine.processing.Store(true)
	_, err := engine.CalculateDailyPayouts(ctx, time.Now())
	require.True(t, errutil.IsConflict(err))
	engine.processing.Store(false)

	// after the in-flight run finishes a new one may start
	_, err = engine.CalculateDailyPayouts(ctx, time.Now())
	require.NoError(t, err)
}

func TestEngine_DateLockBlocksSecondInstance(t *testing.T) {
	engine, _, c := newTestEngine(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.Set(ctx, cachekey.BuildPayoutLockKey("2026-08-29"), "1", time.Hour))

	_, err := engine.CalculateDailyPayouts(ctx, day)
	require.True(t, errutil.IsConflict(err))
}

func TestValidatePayoutRules(t *testing.T) {
	v := ValidatePayoutRules(PaymentCalculation{
		TotalViews: 100, LegitimateViews: 80, BotViews: 20,
		GrossAmount: 80000, PlatformFee: 4000, NetAmount: 76000,
	})
	require.True(t, v.Valid)
	require.Empty(t, v.Warnings)
}

func TestValidatePayoutRules_LegitimateExceedsTotal(t *testing.T) {
	v := ValidatePayoutRules(PaymentCalculation{TotalViews: 100, LegitimateViews: 150})
	require.False(t, v.Valid)
	require.Contains(t, v.Error, "exceed total")
}

func TestValidatePayoutRules_NegativeAmounts(t *testing.T) {
	v := ValidatePayoutRules(PaymentCalculation{TotalViews: 100, LegitimateViews: 50, NetAmount: -1})
	require.False(t, v.Valid)
}

func TestValidatePayoutRules_HeavyBotShareWarnsOnly(t *testing.T) {
	v := ValidatePayoutRules(PaymentCalculation{
		TotalViews: 100, LegitimateViews: 30, BotViews: 70,
		GrossAmount: 30000, PlatformFee: 1500, NetAmount: 28500,
	})
	require.True(t, v.Valid, "heavy filtering is a healthy outcome")
	require.Len(t, v.Warnings, 1)
}

func TestFeeFor(t *testing.T) {
	require.Equal(t, int64(7500), feeFor(150000, 5.0))
	require.Equal(t, int64(25), feeFor(500, 5.0))
	require.Zero(t, feeFor(0, 5.0))
	// rounding, not truncation
	require.Equal(t, int64(3), feeFor(50, 5.0))
}

func TestGenerateReport(t *testing.T) {
	batch := &PayoutBatch{
		ID:          "batch-1",
		Date:        "2026-08-29",
		Status:      StatusFailed,
		JobCount:    3,
		FailedCount: 1,
		TotalGross:  150000,
		TotalFee:    7500,
		TotalNet:    142500,
		StartedAt:   time.Date(2026, 8, 30, 1, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2026, 8, 30, 1, 0, 2, 0, time.UTC),
		Jobs: []PayoutJob{
			{PromoterID: "u1", CampaignID: "c1", Status: StatusCompleted},
			{PromoterID: "u2", CampaignID: "c1", Status: StatusFailed, Error: "record fetch failed"},
			{PromoterID: "u3", CampaignID: "c2", Status: StatusCompleted},
		},
	}

	report := GenerateReport(batch)
	require.Contains(t, report, "Date:          2026-08-29")
	require.Contains(t, report, "3 total, 2 succeeded, 1 failed")
	require.Contains(t, report, "66.7%")
	require.Contains(t, report, "promoter=u2 campaign=c1: record fetch failed")

	// identical input, identical output
	require.Equal(t, report, GenerateReport(batch))
}
