package collector

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository describes database operations for engagement records.
type Repository interface {
	Create(ctx context.Context, record *EngagementRecord) error
	ListWindow(ctx context.Context, promoterID, campaignID, contentID string, since time.Time) ([]EngagementRecord, error)
	ListRange(ctx context.Context, promoterID, campaignID string, from, to time.Time) ([]EngagementRecord, error)
	Latest(ctx context.Context, promoterID, campaignID, contentID string) (*EngagementRecord, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, record *EngagementRecord) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *gormRepository) ListWindow(ctx context.Context, promoterID, campaignID, contentID string, since time.Time) ([]EngagementRecord, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var records []EngagementRecord
	err := r.db.WithContext(ctx).
		Where("promoter_id = ? AND campaign_id = ? AND content_id = ? AND captured_at >= ?",
			promoterID, campaignID, contentID, since).
		Order("captured_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *gormRepository) ListRange(ctx context.Context, promoterID, campaignID string, from, to time.Time) ([]EngagementRecord, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var records []EngagementRecord
	err := r.db.WithContext(ctx).
		Where("promoter_id = ? AND campaign_id = ? AND captured_at >= ? AND captured_at < ?",
			promoterID, campaignID, from, to).
		Order("captured_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *gormRepository) Latest(ctx context.Context, promoterID, campaignID, contentID string) (*EngagementRecord, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var record EngagementRecord
	err := r.db.WithContext(ctx).
		Where("promoter_id = ? AND campaign_id = ? AND content_id = ?", promoterID, campaignID, contentID).
		Order("captured_at DESC").
		First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}
