package promotion

import (
	"context"
	"time"

	"promopay-engine/services/collector"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("promotion",
	fx.Provide(NewStore),
)

// Store is the read surface the pipeline consumes; the surrounding product
// owns the write side.
type Store interface {
	ListActivePromotions(ctx context.Context) ([]Promotion, error)
	ListViewRecords(ctx context.Context, promoterID, campaignID string, from, to time.Time) ([]collector.EngagementRecord, error)
}

type gormStore struct {
	db      *gorm.DB
	records collector.Repository
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db, records: collector.NewRepository(db)}
}

func (s *gormStore) ListActivePromotions(ctx context.Context) ([]Promotion, error) {
	if s == nil || s.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var promos []Promotion
	err := s.db.WithContext(ctx).
		Where("status = ?", StatusActive).
		Find(&promos).Error
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	active := promos[:0]
	for _, p := range promos {
		if p.IsActive(now) {
			active = append(active, p)
		}
	}
	return active, nil
}

func (s *gormStore) ListViewRecords(ctx context.Context, promoterID, campaignID string, from, to time.Time) ([]collector.EngagementRecord, error) {
	return s.records.ListRange(ctx, promoterID, campaignID, from, to)
}
