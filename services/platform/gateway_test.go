package platform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"promopay-engine/pkg/cache"
	"promopay-engine/pkg/config"
	"promopay-engine/pkg/errutil"
	"promopay-engine/services/testutil"
)

type stubClient struct {
	platform  Platform
	fetches   int
	refreshes int
}

func (s *stubClient) Platform() Platform { return s.platform }

func (s *stubClient) FetchPostMetrics(ctx context.Context, accessToken, postID string) (*PostMetrics, error) {
	s.fetches++
	return &PostMetrics{PostID: postID, ViewCount: 100, LikeCount: 10, FetchedAt: time.Now().UTC()}, nil
}

func (s *stubClient) RefreshToken(ctx context.Context, refreshToken string) (*RefreshedToken, error) {
	s.refreshes++
	return &RefreshedToken{AccessToken: "fresh", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func newTestGateway(t *testing.T, tiktokLimit int64) (*Gateway, *stubClient) {
	t.Helper()

	_, client := testutil.NewTestRedis(t)
	c := cache.New(client)

	cfg := &config.Config{}
	cfg.RateLimit.TikTokHourly = tiktokLimit
	cfg.RateLimit.InstagramHourly = 200
	cfg.TTL.RateLimit = time.Hour

	stub := &stubClient{platform: TikTok}
	return NewGateway(c, cfg, stub), stub
}

func TestGateway_FetchWithinQuota(t *testing.T) {
	gw, stub := newTestGateway(t, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m, err := gw.FetchPostMetrics(ctx, TikTok, "u1", "tok", "post-1")
		require.NoError(t, err)
		require.Equal(t, "post-1", m.PostID)
	}
	require.Equal(t, 5, stub.fetches)
}

func TestGateway_QuotaExhausted(t *testing.T) {
	gw, stub := newTestGateway(t, 2)
	ctx := context.Background()

	_, err := gw.FetchPostMetrics(ctx, TikTok, "u1", "tok", "post-1")
	require.NoError(t, err)
	_, err = gw.FetchPostMetrics(ctx, TikTok, "u1", "tok", "post-1")
	require.NoError(t, err)

	_, err = gw.FetchPostMetrics(ctx, TikTok, "u1", "tok", "post-1")
	require.Error(t, err)
	require.True(t, errutil.IsRetryable(err))
	require.Greater(t, errutil.RetryAfter(err), time.Duration(0), "caller learns when the window resets")
	require.Equal(t, 2, stub.fetches, "the provider is never hit past the quota")
}

func TestGateway_QuotaIsPerUser(t *testing.T) {
	gw, _ := newTestGateway(t, 1)
	ctx := context.Background()

	_, err := gw.FetchPostMetrics(ctx, TikTok, "u1", "tok", "post-1")
	require.NoError(t, err)
	_, err = gw.FetchPostMetrics(ctx, TikTok, "u1", "tok", "post-1")
	require.Error(t, err)

	// a different user has their own budget
	_, err = gw.FetchPostMetrics(ctx, TikTok, "u2", "tok", "post-1")
	require.NoError(t, err)
}

func TestGateway_RefreshNotQuotaCounted(t *testing.T) {
	gw, stub := newTestGateway(t, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := gw.RefreshToken(ctx, TikTok, "grant")
		require.NoError(t, err)
	}
	require.Equal(t, 3, stub.refreshes)
}

func TestGateway_UnknownPlatform(t *testing.T) {
	gw, _ := newTestGateway(t, 5)

	_, err := gw.FetchPostMetrics(context.Background(), Instagram, "u1", "tok", "post-1")
	require.Error(t, err, "no instagram client registered on this gateway")
}

func TestParse(t *testing.T) {
	p, err := Parse("tiktok")
	require.NoError(t, err)
	require.Equal(t, TikTok, p)

	p, err = Parse("instagram")
	require.NoError(t, err)
	require.Equal(t, Instagram, p)

	_, err = Parse("myspace")
	require.Error(t, err)
}
