package promotion

import (
	"time"
)

type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusPaused Status = "PAUSED"
	StatusEnded  Status = "ENDED"
)

// Promotion is one promoter actively pushing one campaign's content.
// Owned by the surrounding product; this service only reads it.
type Promotion struct {
	ID          string     `gorm:"column:id;primaryKey;type:char(26)" json:"id"`
	PromoterID  string     `gorm:"column:promoter_id;index;not null" json:"promoter_id"`
	CampaignID  string     `gorm:"column:campaign_id;index;not null" json:"campaign_id"`
	Platform    string     `gorm:"column:platform;type:varchar(20);not null" json:"platform"`
	ContentID   string     `gorm:"column:content_id;not null" json:"content_id"`
	RatePerView int64      `gorm:"column:rate_per_view;not null" json:"rate_per_view"`
	Status      Status     `gorm:"column:status;type:varchar(20);not null;default:'ACTIVE'" json:"status"`
	StartAt     *time.Time `gorm:"column:start_at" json:"start_at,omitempty"`
	EndAt       *time.Time `gorm:"column:end_at" json:"end_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Promotion) TableName() string { return "promotions" }

// IsActive checks whether the promotion is currently running.
func (p *Promotion) IsActive(now time.Time) bool {
	if p.Status != StatusActive {
		return false
	}
	if p.StartAt != nil && now.Before(*p.StartAt) {
		return false
	}
	if p.EndAt != nil && now.After(*p.EndAt) {
		return false
	}
	return true
}
