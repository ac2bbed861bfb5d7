package payout

import (
	"time"
)

// Batch and job statuses. A batch is completed only when zero jobs failed;
// partial success is visible per job, never hidden behind the batch label.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// PaymentCalculation is the money math for one promotion on one day.
// Amounts are in currency minor units. Invariants: legitimateViews never
// exceeds totalViews, and netAmount = grossAmount - platformFee unless the
// minimum-payout floor zeroed both net and fee.
type PaymentCalculation struct {
	TotalViews      int64 `gorm:"column:total_views" json:"total_views"`
	LegitimateViews int64 `gorm:"column:legitimate_views" json:"legitimate_views"`
	BotViews        int64 `gorm:"column:bot_views" json:"bot_views"`
	GrossAmount     int64 `gorm:"column:gross_amount" json:"gross_amount"`
	PlatformFee     int64 `gorm:"column:platform_fee" json:"platform_fee"`
	NetAmount       int64 `gorm:"column:net_amount" json:"net_amount"`
}

// PayoutJob is one promotion's payout inside a daily batch.
type PayoutJob struct {
	ID          string             `gorm:"column:id;primaryKey;type:char(26)" json:"id"`
	BatchID     string             `gorm:"column:batch_id;index;not null" json:"batch_id"`
	PromoterID  string             `gorm:"column:promoter_id;index;not null" json:"promoter_id"`
	CampaignID  string             `gorm:"column:campaign_id;not null" json:"campaign_id"`
	RatePerView int64              `gorm:"column:rate_per_view;not null" json:"rate_per_view"`
	Calculation PaymentCalculation `gorm:"embedded" json:"calculation"`
	Status      string             `gorm:"column:status;type:varchar(20);not null" json:"status"`
	Error       string             `gorm:"column:error;type:text" json:"error,omitempty"`
	CreatedAt   time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

func (PayoutJob) TableName() string { return "payout_jobs" }

// PayoutBatch is one daily run over every active promotion.
type PayoutBatch struct {
	ID          string      `gorm:"column:id;primaryKey;type:char(26)" json:"id"`
	Date        string      `gorm:"column:date;index;not null" json:"date"` // 2006-01-02 in the payout timezone
	Status      string      `gorm:"column:status;type:varchar(20);not null" json:"status"`
	Jobs        []PayoutJob `gorm:"foreignKey:BatchID" json:"jobs"`
	TotalGross  int64       `gorm:"column:total_gross" json:"total_gross"`
	TotalFee    int64       `gorm:"column:total_fee" json:"total_fee"`
	TotalNet    int64       `gorm:"column:total_net" json:"total_net"`
	JobCount    int         `gorm:"column:job_count" json:"job_count"`
	FailedCount int         `gorm:"column:failed_count" json:"failed_count"`
	StartedAt   time.Time   `gorm:"column:started_at" json:"started_at"`
	CompletedAt time.Time   `gorm:"column:completed_at" json:"completed_at"`
}

func (PayoutBatch) TableName() string { return "payout_batches" }

func (b *PayoutBatch) Duration() time.Duration {
	return b.CompletedAt.Sub(b.StartedAt)
}

// RuleValidation is the auditor's answer for one calculation.
type RuleValidation struct {
	Valid    bool     `json:"valid"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}
