package fraud

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"promopay-engine/pkg/cache"
	"promopay-engine/services/testutil"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()

	_, client := testutil.NewTestRedis(t)
	return &Analyzer{
		cache: cache.New(client),
		th:    testThresholds(),
		ttl:   5 * time.Minute,
	}
}

func TestAnalyzer_AnalyzeCachesVerdict(t *testing.T) {
	a := newTestAnalyzer(t)
	ctx := context.Background()

	window := []Sample{{ViewCount: 5000, CapturedAt: at(0)}}
	verdict := a.Analyze(ctx, "u1", "c1", window)
	require.Equal(t, ActionBan, verdict.Action)

	loads := 0
	cached, err := a.CachedAnalysis(ctx, "u1", "c1", func(ctx context.Context) ([]Sample, error) {
		loads++
		return window, nil
	})
	require.NoError(t, err)
	require.Equal(t, verdict.BotScore, cached.BotScore)
	require.Zero(t, loads, "cached verdict served without reloading")
}

func TestAnalyzer_CacheMissLoadsOnce(t *testing.T) {
	a := newTestAnalyzer(t)
	ctx := context.Background()

	var loads atomic.Int32
	load := func(ctx context.Context) ([]Sample, error) {
		loads.Add(1)
		time.Sleep(20 * time.Millisecond)
		return []Sample{{ViewCount: 100, LikeCount: 20, CapturedAt: at(0)}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.CachedAnalysis(ctx, "u1", "c1", load)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, loads.Load(), int32(2), "concurrent misses collapse into a shared load")
}
