package collector

import (
	"time"

	"gorm.io/datatypes"
)

// EngagementRecord is one observation of a promoted post at a point in time.
// Records are append-only: once scored they are never mutated, new
// observations are inserted instead.
type EngagementRecord struct {
	ID           string         `gorm:"column:id;primaryKey;type:char(26)" json:"id"`
	PromoterID   string         `gorm:"column:promoter_id;index:idx_record_pair;not null" json:"promoter_id"`
	CampaignID   string         `gorm:"column:campaign_id;index:idx_record_pair;not null" json:"campaign_id"`
	Platform     string         `gorm:"column:platform;type:varchar(20);not null" json:"platform"`
	ContentID    string         `gorm:"column:content_id;index;not null" json:"content_id"`
	ViewCount    int64          `gorm:"column:view_count;not null" json:"view_count"`
	LikeCount    int64          `gorm:"column:like_count;not null" json:"like_count"`
	CommentCount int64          `gorm:"column:comment_count;not null" json:"comment_count"`
	ShareCount   int64          `gorm:"column:share_count;not null" json:"share_count"`
	CapturedAt   time.Time      `gorm:"column:captured_at;index" json:"captured_at"`
	BotScore     *int           `gorm:"column:bot_score" json:"bot_score,omitempty"`
	IsLegitimate bool           `gorm:"column:is_legitimate" json:"is_legitimate"`
	Flags        datatypes.JSON `gorm:"column:flags" json:"flags,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (EngagementRecord) TableName() string { return "engagement_records" }

// CollectionJob states. Transitions are idempotent: marking a terminal job
// again is a no-op, because delivery is at-least-once.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// CollectionJob mirrors one queued unit of collection work into the cache so
// its lifecycle is inspectable; the durable queue itself owns delivery.
type CollectionJob struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Platform       string    `json:"platform"`
	PostID         string    `json:"post_id"`
	CampaignID     string    `json:"campaign_id"`
	Status         string    `json:"status"`
	RetryCount     int       `json:"retry_count"`
	MaxRetries     int       `json:"max_retries"`
	NextEligibleAt time.Time `json:"next_eligible_at"`
	Priority       string    `json:"priority"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func terminal(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// CollectPayload is the asynq task body for one collection attempt.
type CollectPayload struct {
	JobID      string `json:"job_id"`
	UserID     string `json:"user_id"`
	Platform   string `json:"platform"`
	PostID     string `json:"post_id"`
	CampaignID string `json:"campaign_id"`
}

// ScheduleOptions tune one scheduled collection.
type ScheduleOptions struct {
	MaxRetries int
	Priority   string // asynq queue name: critical|default|low
	ProcessIn  time.Duration
}
