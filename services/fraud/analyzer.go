package fraud

import (
	"context"
	"time"

	"promopay-engine/pkg/cache"
	"promopay-engine/pkg/cachekey"
	"promopay-engine/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var Module = fx.Module("fraud",
	fx.Provide(NewAnalyzer),
)

// Analyzer caches verdicts per (promoter, campaign) with a short TTL.
// Concurrent recomputes for the same pair collapse into one via singleflight;
// the analysis is derived data and cheap to rebuild, so cache loss is fine.
type Analyzer struct {
	cache *cache.Cache
	th    Thresholds
	ttl   time.Duration
	group singleflight.Group
}

type AnalyzerParams struct {
	fx.In
	Cache *cache.Cache
	Cfg   *config.Config
}

func NewAnalyzer(p AnalyzerParams) *Analyzer {
	return &Analyzer{
		cache: p.Cache,
		th:    ThresholdsFromConfig(p.Cfg),
		ttl:   p.Cfg.TTL.BotAnalysis,
	}
}

func ThresholdsFromConfig(cfg *config.Config) Thresholds {
	return Thresholds{
		ViewLikeRatioMax:    cfg.Fraud.ViewLikeRatioMax,
		ViewCommentRatioMax: cfg.Fraud.ViewCommentRatioMax,
		SpikePct:            cfg.Fraud.SpikePct,
		SpikeWindow:         cfg.Fraud.SpikeWindow,
		BanScore:            cfg.Fraud.BanScore,
		WarningScore:        cfg.Fraud.WarningScore,
		MonitorScore:        cfg.Fraud.MonitorScore,
		VolumeThreshold:     cfg.Fraud.VolumeThreshold,
	}
}

func (a *Analyzer) Thresholds() Thresholds { return a.th }

// Analyze scores the window and caches the verdict. The records remain the
// source of truth; the cached analysis only spares recomputation.
func (a *Analyzer) Analyze(ctx context.Context, promoterID, campaignID string, window []Sample) Analysis {
	analysis := Score(window, a.th)

	key := cachekey.BuildBotAnalysisKey(promoterID, campaignID)
	if err := a.cache.SetJSON(ctx, key, analysis, a.ttl); err != nil {
		zap.L().Warn("[Fraud] failed to cache analysis", zap.String("key", key), zap.Error(err))
	}
	return analysis
}

// CachedAnalysis returns the cached verdict, or recomputes it through load
// when absent. Concurrent callers for the same pair share one computation.
func (a *Analyzer) CachedAnalysis(ctx context.Context, promoterID, campaignID string, load func(context.Context) ([]Sample, error)) (Analysis, error) {
	key := cachekey.BuildBotAnalysisKey(promoterID, campaignID)

	var cached Analysis
	if ok := a.cache.GetJSON(ctx, key, &cached); ok {
		return cached, nil
	}

	v, err, _ := a.group.Do(key, func() (any, error) {
		window, err := load(ctx)
		if err != nil {
			return Analysis{}, err
		}
		return a.Analyze(ctx, promoterID, campaignID, window), nil
	})
	if err != nil {
		return Analysis{}, err
	}
	return v.(Analysis), nil
}
