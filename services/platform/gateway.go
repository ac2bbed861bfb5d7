package platform

import (
	"context"
	"fmt"
	"time"

	"promopay-engine/pkg/cache"
	"promopay-engine/pkg/cachekey"
	"promopay-engine/pkg/config"
	"promopay-engine/pkg/errutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "engine_platform_rate_limited_total",
}, []string{"platform"})

// Gateway fronts every outbound platform call with a per-user, per-platform
// quota. The quota counter lives in the cache so multiple worker processes
// share one budget.
type Gateway struct {
	clients map[Platform]Client
	cache   *cache.Cache
	limits  map[Platform]int64
	window  time.Duration
}

func NewGateway(c *cache.Cache, cfg *config.Config, clients ...Client) *Gateway {
	byPlatform := make(map[Platform]Client, len(clients))
	for _, cl := range clients {
		byPlatform[cl.Platform()] = cl
	}
	return &Gateway{
		clients: byPlatform,
		cache:   c,
		limits: map[Platform]int64{
			TikTok:    cfg.RateLimit.TikTokHourly,
			Instagram: cfg.RateLimit.InstagramHourly,
		},
		window: cfg.TTL.RateLimit,
	}
}

func (g *Gateway) client(p Platform) (Client, error) {
	cl, ok := g.clients[p]
	if !ok {
		return nil, errutil.NotFound(fmt.Sprintf("no client registered for platform %s", p))
	}
	return cl, nil
}

// IncrementRateLimit consumes one unit of the user's quota. Safe to call
// twice for the same request; at-least-once delivery only wastes budget,
// never corrupts it.
func (g *Gateway) IncrementRateLimit(ctx context.Context, p Platform, userID string) error {
	limit, ok := g.limits[p]
	if !ok || limit <= 0 {
		return nil
	}

	key := cachekey.BuildRateLimitKey(string(p), userID)
	n, err := g.cache.Incr(ctx, key, g.window)
	if err != nil {
		// quota bookkeeping must not take the pipeline down
		zap.L().Warn("[Gateway] rate limit counter unavailable", zap.String("key", key), zap.Error(err))
		return nil
	}

	if n > limit {
		rateLimited.WithLabelValues(string(p)).Inc()
		ttl, _ := g.cache.TTL(ctx, key)
		return errutil.TooManyRequests(
			fmt.Sprintf("%s quota exhausted for user %s (%d/%d)", p, userID, n, limit),
			errutil.WithRetryAfter(ttl),
		)
	}
	return nil
}

// FetchPostMetrics performs a quota-checked metrics fetch.
func (g *Gateway) FetchPostMetrics(ctx context.Context, p Platform, userID, accessToken, postID string) (*PostMetrics, error) {
	cl, err := g.client(p)
	if err != nil {
		return nil, err
	}
	if err := g.IncrementRateLimit(ctx, p, userID); err != nil {
		return nil, err
	}
	return cl.FetchPostMetrics(ctx, accessToken, postID)
}

// RefreshToken exchanges a refresh grant. Refresh calls are not counted
// against the metrics quota; providers budget them separately.
func (g *Gateway) RefreshToken(ctx context.Context, p Platform, refreshToken string) (*RefreshedToken, error) {
	cl, err := g.client(p)
	if err != nil {
		return nil, err
	}
	return cl.RefreshToken(ctx, refreshToken)
}
