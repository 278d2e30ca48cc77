package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/movenbook/attribution-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PenaltyRepository persists per-(professional, category) penalty records.
// Mutate gives callers a transactional read-modify-write against a single
// row; penalty rows never participate in cross-row transactions.
type PenaltyRepository interface {
	Get(ctx context.Context, professionalID string, category domain.Category) (*domain.PenaltyRecord, error)
	Mutate(ctx context.Context, professionalID string, category domain.Category, fn func(record *domain.PenaltyRecord)) (*domain.PenaltyRecord, error)
	ListBlacklisted(ctx context.Context, category domain.Category) ([]string, error)
	ListByProfessional(ctx context.Context, professionalID string) ([]domain.PenaltyRecord, error)
}

type GormPenaltyRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormPenaltyRepo(db *gorm.DB) *GormPenaltyRepo {
	return &GormPenaltyRepo{db: db, now: time.Now}
}

func (r *GormPenaltyRepo) Get(ctx context.Context, professionalID string, category domain.Category) (*domain.PenaltyRecord, error) {
	var model PenaltyRecordModel
	err := r.db.WithContext(ctx).
		Where("professional_id = ? AND category = ?", professionalID, category).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no penalty record for professional %s in category %s",
			domain.ErrNotFound, professionalID, category)
	}
	if err != nil {
		return nil, storeError("failed to load penalty record", err)
	}
	return penaltyModelToDomain(&model), nil
}

// Mutate locks the (professional, category) row, creating it lazily on first
// use, applies fn, and saves the result.
func (r *GormPenaltyRepo) Mutate(
	ctx context.Context,
	professionalID string,
	category domain.Category,
	fn func(record *domain.PenaltyRecord),
) (*domain.PenaltyRecord, error) {
	var mutated *domain.PenaltyRecord

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model PenaltyRecordModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("professional_id = ? AND category = ?", professionalID, category).
			First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			now := r.now().UTC()
			model = PenaltyRecordModel{
				ID:             uuid.NewString(),
				ProfessionalID: professionalID,
				Category:       category,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		record := penaltyModelToDomain(&model)
		fn(record)
		record.UpdatedAt = r.now().UTC()

		if err := tx.Save(penaltyModelFromDomain(record)).Error; err != nil {
			return err
		}
		mutated = record
		return nil
	})
	if err != nil {
		return nil, storeError("failed to mutate penalty record", err)
	}

	return mutated, nil
}

func (r *GormPenaltyRepo) ListBlacklisted(ctx context.Context, category domain.Category) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&PenaltyRecordModel{}).
		Where("category = ? AND blacklisted = ?", category, true).
		Order("professional_id ASC").
		Pluck("professional_id", &ids).Error
	if err != nil {
		return nil, storeError("failed to list blacklisted professionals", err)
	}
	return ids, nil
}

func (r *GormPenaltyRepo) ListByProfessional(ctx context.Context, professionalID string) ([]domain.PenaltyRecord, error) {
	var models []PenaltyRecordModel
	err := r.db.WithContext(ctx).
		Where("professional_id = ?", professionalID).
		Order("category ASC").
		Find(&models).Error
	if err != nil {
		return nil, storeError("failed to list penalty records", err)
	}

	records := make([]domain.PenaltyRecord, 0, len(models))
	for i := range models {
		records = append(records, *penaltyModelToDomain(&models[i]))
	}
	return records, nil
}
