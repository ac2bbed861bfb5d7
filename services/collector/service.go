package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"promopay-engine/pkg/cache"
	"promopay-engine/pkg/cachekey"
	"promopay-engine/pkg/config"
	"promopay-engine/pkg/errutil"
	"promopay-engine/pkg/task"
	"promopay-engine/pkg/taskname"
	"promopay-engine/services/fraud"
	"promopay-engine/services/platform"
	"promopay-engine/services/token"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var collectionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "engine_collection_jobs_total",
}, []string{"outcome"})

// scoringWindow bounds how much history feeds one fraud verdict.
const scoringWindow = 24 * time.Hour

type Service struct {
	db       *gorm.DB
	cache    *cache.Cache
	repo     Repository
	tokens   *token.Store
	gateway  *platform.Gateway
	analyzer *fraud.Analyzer
	enqueuer task.Enqueuer
	node     *snowflake.Node
	cfg      *config.Config
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Cache    *cache.Cache
	Tokens   *token.Store
	Gateway  *platform.Gateway
	Analyzer *fraud.Analyzer
	Enqueuer task.Enqueuer
	Node     *snowflake.Node
	Cfg      *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		cache:    p.Cache,
		repo:     NewRepository(p.DB),
		tokens:   p.Tokens,
		gateway:  p.Gateway,
		analyzer: p.Analyzer,
		enqueuer: p.Enqueuer,
		node:     p.Node,
		cfg:      p.Cfg,
	}
}

// ScheduleMetricsCollection enqueues one collection job and mirrors its
// metadata into the cache for inspection. Returns the job id.
func (s *Service) ScheduleMetricsCollection(ctx context.Context, userID string, p platform.Platform, postID, campaignID string, opts ScheduleOptions) (string, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = s.cfg.Collector.DefaultMaxRetries
	}
	if opts.Priority == "" {
		opts.Priority = "default"
	}

	now := time.Now().UTC()
	job := &CollectionJob{
		ID:             s.node.Generate().String(),
		UserID:         userID,
		Platform:       string(p),
		PostID:         postID,
		CampaignID:     campaignID,
		Status:         JobStatusPending,
		MaxRetries:     opts.MaxRetries,
		NextEligibleAt: now.Add(opts.ProcessIn),
		Priority:       opts.Priority,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.saveJob(ctx, job); err != nil {
		return "", err
	}

	payload, _ := json.Marshal(CollectPayload{
		JobID:      job.ID,
		UserID:     userID,
		Platform:   string(p),
		PostID:     postID,
		CampaignID: campaignID,
	})

	asynqOpts := []asynq.Option{
		asynq.MaxRetry(opts.MaxRetries),
		asynq.Queue(opts.Priority),
	}
	if opts.ProcessIn > 0 {
		asynqOpts = append(asynqOpts, asynq.ProcessIn(opts.ProcessIn))
	}

	if _, err := s.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.MetricsCollect, payload), asynqOpts...); err != nil {
		return "", err
	}

	zap.L().Info("[Collector] metrics collection scheduled",
		zap.String("job_id", job.ID),
		zap.String("user_id", userID),
		zap.String("platform", string(p)),
		zap.String("post_id", postID),
	)
	return job.ID, nil
}

// CollectMetricsNow runs one collection synchronously, bypassing the queue.
// Returns nil (not an error) when the user has no usable credential.
func (s *Service) CollectMetricsNow(ctx context.Context, userID string, p platform.Platform, postID, campaignID string) (*EngagementRecord, error) {
	record, err := s.collect(ctx, CollectPayload{
		UserID:     userID,
		Platform:   string(p),
		PostID:     postID,
		CampaignID: campaignID,
	})
	if err != nil && errutil.IsReauth(err) {
		return nil, nil
	}
	return record, err
}

// collect is the single processing path shared by the queue handler and the
// synchronous entry point.
func (s *Service) collect(ctx context.Context, payload CollectPayload) (*EngagementRecord, error) {
	plat, err := platform.Parse(payload.Platform)
	if err != nil {
		return nil, errutil.ValidationFailed(err.Error())
	}

	tok, err := s.tokens.GetValidToken(ctx, payload.UserID, plat)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		// counted against retries so a dead credential cannot loop forever
		return nil, errutil.ReauthRequired(fmt.Sprintf("no valid token for user %s on %s", payload.UserID, plat))
	}

	metrics, err := s.gateway.FetchPostMetrics(ctx, plat, payload.UserID, tok.AccessToken, payload.PostID)
	if err != nil {
		return nil, err
	}

	prev := s.previousMetrics(ctx, payload)
	flags, err := validateMetrics(metrics, prev, validationRules{
		VolumeThreshold:  s.cfg.Collector.VolumeThreshold,
		MinEngagementPct: s.cfg.Collector.MinEngagementPct,
	})
	if err != nil {
		return nil, err
	}

	history, err := s.repo.ListWindow(ctx, payload.UserID, payload.CampaignID, payload.PostID,
		metrics.FetchedAt.Add(-scoringWindow))
	if err != nil {
		return nil, err
	}

	window := make([]fraud.Sample, 0, len(history)+1)
	for _, r := range history {
		window = append(window, sampleFromRecord(r))
	}
	window = append(window, fraud.Sample{
		ViewCount:      metrics.ViewCount,
		LikeCount:      metrics.LikeCount,
		CommentCount:   metrics.CommentCount,
		ShareCount:     metrics.ShareCount,
		CapturedAt:     metrics.FetchedAt,
		CountRegressed: hasFlag(flags, FlagCountRegression),
	})

	analysis := s.analyzer.Analyze(ctx, payload.UserID, payload.CampaignID, window)

	score := analysis.BotScore
	record := &EngagementRecord{
		ID:           s.node.Generate().String(),
		PromoterID:   payload.UserID,
		CampaignID:   payload.CampaignID,
		Platform:     string(plat),
		ContentID:    payload.PostID,
		ViewCount:    metrics.ViewCount,
		LikeCount:    metrics.LikeCount,
		CommentCount: metrics.CommentCount,
		ShareCount:   metrics.ShareCount,
		CapturedAt:   metrics.FetchedAt,
		BotScore:     &score,
		IsLegitimate: analysis.Action != fraud.ActionBan,
	}
	if len(flags) > 0 {
		raw, _ := json.Marshal(flags)
		record.Flags = datatypes.JSON(raw)
	}

	if err := s.repo.Create(ctx, record); err != nil {
		return nil, err
	}

	// fast-read aggregate; rebuildable, so cache failure is non-fatal
	currentKey := cachekey.BuildMetricsKey(payload.UserID, payload.CampaignID, payload.PostID)
	if err := s.cache.SetJSON(ctx, currentKey, metrics, s.cfg.TTL.Tracking); err != nil {
		zap.L().Warn("[Collector] failed to cache current metrics", zap.String("key", currentKey), zap.Error(err))
	}

	return record, nil
}

func (s *Service) previousMetrics(ctx context.Context, payload CollectPayload) *platform.PostMetrics {
	var prev platform.PostMetrics
	key := cachekey.BuildMetricsKey(payload.UserID, payload.CampaignID, payload.PostID)
	if ok := s.cache.GetJSON(ctx, key, &prev); ok {
		return &prev
	}

	latest, err := s.repo.Latest(ctx, payload.UserID, payload.CampaignID, payload.PostID)
	if err != nil || latest == nil {
		return nil
	}
	return &platform.PostMetrics{
		PostID:       latest.ContentID,
		ViewCount:    latest.ViewCount,
		LikeCount:    latest.LikeCount,
		CommentCount: latest.CommentCount,
		ShareCount:   latest.ShareCount,
		FetchedAt:    latest.CapturedAt,
	}
}

func sampleFromRecord(r EngagementRecord) fraud.Sample {
	var flags []string
	if len(r.Flags) > 0 {
		_ = json.Unmarshal(r.Flags, &flags)
	}
	return fraud.Sample{
		ViewCount:      r.ViewCount,
		LikeCount:      r.LikeCount,
		CommentCount:   r.CommentCount,
		ShareCount:     r.ShareCount,
		CapturedAt:     r.CapturedAt,
		CountRegressed: hasFlag(flags, FlagCountRegression),
	}
}

// GetCachedMetrics returns the fast-read aggregate for one tracked post.
func (s *Service) GetCachedMetrics(ctx context.Context, promoterID, campaignID, postID string) (*platform.PostMetrics, bool) {
	var m platform.PostMetrics
	if ok := s.cache.GetJSON(ctx, cachekey.BuildMetricsKey(promoterID, campaignID, postID), &m); !ok {
		return nil, false
	}
	return &m, true
}

// ClearCache removes every user-scoped derived key: current metrics, bot
// analyses and rate-limit counters. Records in the durable store survive.
func (s *Service) ClearCache(ctx context.Context, userID string) error {
	patterns := []string{
		cachekey.MetricsPrefix + ":" + userID + ":*",
		cachekey.BotAnalysisPrefix + ":" + userID + ":*",
	}
	for _, p := range platform.All() {
		patterns = append(patterns, cachekey.BuildRateLimitKey(string(p), userID))
	}

	for _, pattern := range patterns {
		if _, err := s.cache.DelByPattern(ctx, pattern); err != nil {
			return err
		}
	}
	return nil
}

// GetJob reads a job's mirrored lifecycle state; nil when unknown or expired.
func (s *Service) GetJob(ctx context.Context, jobID string) (*CollectionJob, error) {
	var job CollectionJob
	if ok := s.cache.GetJSON(ctx, cachekey.BuildJobKey(jobID), &job); !ok {
		return nil, nil
	}
	return &job, nil
}

func (s *Service) saveJob(ctx context.Context, job *CollectionJob) error {
	job.UpdatedAt = time.Now().UTC()
	return s.cache.SetJSON(ctx, cachekey.BuildJobKey(job.ID), job, s.cfg.Collector.JobTTL)
}

// transitionJob applies one idempotent status transition. Terminal states
// never move again; applying the same transition twice is a no-op.
func (s *Service) transitionJob(ctx context.Context, jobID, status, lastError string, retryCount int) {
	if jobID == "" {
		return
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil || job == nil {
		return
	}
	if terminal(job.Status) || (job.Status == status && job.RetryCount == retryCount) {
		return
	}

	job.Status = status
	job.LastError = lastError
	if retryCount > job.RetryCount {
		job.RetryCount = retryCount
	}
	if err := s.saveJob(ctx, job); err != nil {
		zap.L().Warn("[Collector] failed to persist job transition",
			zap.String("job_id", jobID), zap.String("status", status), zap.Error(err))
	}
}

// Status reports the collection service's moving parts.
type Status struct {
	CacheHealthy bool     `json:"cache_healthy"`
	StoreHealthy bool     `json:"store_healthy"`
	Issues       []string `json:"issues,omitempty"`
}

func (s *Service) GetStatus(ctx context.Context) Status {
	st := Status{CacheHealthy: true, StoreHealthy: true}

	if err := s.cache.Ping(ctx); err != nil {
		st.CacheHealthy = false
		st.Issues = append(st.Issues, "cache: "+err.Error())
	}
	if sqlDB, err := s.db.DB(); err != nil {
		st.StoreHealthy = false
		st.Issues = append(st.Issues, "store: "+err.Error())
	} else if err := sqlDB.PingContext(ctx); err != nil {
		st.StoreHealthy = false
		st.Issues = append(st.Issues, "store: "+err.Error())
	}
	return st
}

func (s *Service) CheckHealth(ctx context.Context) error {
	st := s.GetStatus(ctx)
	if len(st.Issues) > 0 {
		return errutil.Unavailable(fmt.Sprintf("collector unhealthy: %v", st.Issues))
	}
	return nil
}
