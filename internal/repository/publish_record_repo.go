package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tomasv/fedipost/internal/domain"
)

// PublishRecordRepository handles publish history rows.
type PublishRecordRepository struct {
	db *gorm.DB
}

// NewPublishRecordRepository creates a new PublishRecordRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *PublishRecordRepository: repository instance bound to db.
func NewPublishRecordRepository(db *gorm.DB) *PublishRecordRepository {
	return &PublishRecordRepository{db: db}
}

// Record appends a publish history row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - record: row to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *PublishRecordRepository) Record(ctx context.Context, record *domain.PublishRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// LastPublished returns the most recent successfully published row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - *domain.PublishRecord: latest published row, nil when history is empty.
//   - error: non-nil if the lookup fails.
func (r *PublishRecordRepository) LastPublished(ctx context.Context) (*domain.PublishRecord, error) {
	var record domain.PublishRecord
	err := r.db.WithContext(ctx).
		Where("outcome = ?", domain.RecordPublished).
		Order("created_at DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// CountByOutcome returns the number of rows with the given outcome.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - outcome: outcome to count.
// Returns:
//   - int64: row count.
//   - error: non-nil if the count fails.
func (r *PublishRecordRepository) CountByOutcome(ctx context.Context, outcome domain.RecordOutcome) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.PublishRecord{}).
		Where("outcome = ?", outcome).
		Count(&count).Error
	return count, err
}

// Recent returns up to limit most recent rows, newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum rows to return.
// Returns:
//   - []domain.PublishRecord: recent rows.
//   - error: non-nil if the query fails.
func (r *PublishRecordRepository) Recent(ctx context.Context, limit int) ([]domain.PublishRecord, error) {
	var records []domain.PublishRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
