package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"promopay-engine/services/testutil"
)

func seedRecord(t *testing.T, repo Repository, id string, capturedAt time.Time, views int64) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &EngagementRecord{
		ID:           id,
		PromoterID:   "u1",
		CampaignID:   "c1",
		Platform:     "tiktok",
		ContentID:    "post-1",
		ViewCount:    views,
		LikeCount:    views / 10,
		CapturedAt:   capturedAt,
		IsLegitimate: true,
	}))
}

func TestRepository_ListWindow(t *testing.T) {
	db := testutil.NewTestDB(t, &EngagementRecord{})
	repo := NewRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	seedRecord(t, repo, "r1", base.Add(-48*time.Hour), 100)
	seedRecord(t, repo, "r2", base.Add(-2*time.Hour), 200)
	seedRecord(t, repo, "r3", base.Add(-1*time.Hour), 300)

	records, err := repo.ListWindow(ctx, "u1", "c1", "post-1", base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "r2", records[0].ID, "oldest first")
	require.Equal(t, "r3", records[1].ID)
}

func TestRepository_ListRange(t *testing.T) {
	db := testutil.NewTestDB(t, &EngagementRecord{})
	repo := NewRepository(db)
	ctx := context.Background()

	dayStart := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	seedRecord(t, repo, "before", dayStart.Add(-time.Minute), 100)
	seedRecord(t, repo, "inside", dayStart.Add(6*time.Hour), 200)
	seedRecord(t, repo, "boundary", dayStart.Add(24*time.Hour), 300)

	records, err := repo.ListRange(ctx, "u1", "c1", dayStart, dayStart.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 1, "range is inclusive start, exclusive end")
	require.Equal(t, "inside", records[0].ID)
}

func TestRepository_Latest(t *testing.T) {
	db := testutil.NewTestDB(t, &EngagementRecord{})
	repo := NewRepository(db)
	ctx := context.Background()

	latest, err := repo.Latest(ctx, "u1", "c1", "post-1")
	require.NoError(t, err)
	require.Nil(t, latest, "no observations yet is not an error")

	base := time.Now().UTC()
	seedRecord(t, repo, "old", base.Add(-time.Hour), 100)
	seedRecord(t, repo, "new", base, 200)

	latest, err = repo.Latest(ctx, "u1", "c1", "post-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, "new", latest.ID)
}

func TestRepository_NilDB(t *testing.T) {
	repo := NewRepository(nil)
	_, err := repo.Latest(context.Background(), "u1", "c1", "post-1")
	require.Error(t, err)
}
