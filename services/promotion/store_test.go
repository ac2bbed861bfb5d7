package promotion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"promopay-engine/services/collector"
	"promopay-engine/services/testutil"
)

func seed(t *testing.T, db *gorm.DB, p Promotion) {
	t.Helper()
	require.NoError(t, db.Create(&p).Error)
}

func TestStore_ListActivePromotions(t *testing.T) {
	db := testutil.NewTestDB(t, &Promotion{}, &collector.EngagementRecord{})
	store := NewStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	seed(t, db, Promotion{ID: "active", PromoterID: "u1", CampaignID: "c1", Platform: "tiktok", ContentID: "p1", RatePerView: 100, Status: StatusActive})
	seed(t, db, Promotion{ID: "paused", PromoterID: "u2", CampaignID: "c1", Platform: "tiktok", ContentID: "p2", RatePerView: 100, Status: StatusPaused})
	seed(t, db, Promotion{ID: "ended", PromoterID: "u3", CampaignID: "c1", Platform: "tiktok", ContentID: "p3", RatePerView: 100, Status: StatusEnded})
	seed(t, db, Promotion{ID: "not-started", PromoterID: "u4", CampaignID: "c1", Platform: "tiktok", ContentID: "p4", RatePerView: 100, Status: StatusActive, StartAt: &future})
	seed(t, db, Promotion{ID: "expired", PromoterID: "u5", CampaignID: "c1", Platform: "tiktok", ContentID: "p5", RatePerView: 100, Status: StatusActive, EndAt: &past})

	promos, err := store.ListActivePromotions(ctx)
	require.NoError(t, err)
	require.Len(t, promos, 1)
	require.Equal(t, "active", promos[0].ID)
}

func TestStore_ListViewRecords(t *testing.T) {
	db := testutil.NewTestDB(t, &Promotion{}, &collector.EngagementRecord{})
	store := NewStore(db)
	ctx := context.Background()

	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&collector.EngagementRecord{
		ID: "r1", PromoterID: "u1", CampaignID: "c1", Platform: "tiktok",
		ContentID: "p1", ViewCount: 100, CapturedAt: day.Add(time.Hour), IsLegitimate: true,
	}).Error)

	records, err := store.ListViewRecords(ctx, "u1", "c1", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, int64(100), records[0].ViewCount)
}

func TestPromotion_IsActive(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	p := Promotion{Status: StatusActive}
	require.True(t, p.IsActive(now))

	p = Promotion{Status: StatusPaused}
	require.False(t, p.IsActive(now))

	p = Promotion{Status: StatusActive, StartAt: &future}
	require.False(t, p.IsActive(now))

	p = Promotion{Status: StatusActive, EndAt: &past}
	require.False(t, p.IsActive(now))

	p = Promotion{Status: StatusActive, StartAt: &past, EndAt: &future}
	require.True(t, p.IsActive(now))
}
