package repository

import (
	"context"

	"github.com/movenbook/attribution-engine/internal/domain"
	"gorm.io/gorm"
)

// ProfessionalRepository loads candidate professionals for matching.
type ProfessionalRepository interface {
	ListActiveByCategory(ctx context.Context, category domain.Category, excludedIDs []string) ([]domain.Professional, error)
}

type GormProfessionalRepo struct {
	db *gorm.DB
}

func NewGormProfessionalRepo(db *gorm.DB) *GormProfessionalRepo {
	return &GormProfessionalRepo{db: db}
}

// ListActiveByCategory returns active, verified professionals servicing the
// category, minus the exclusion set, ordered by id for reproducibility.
func (r *GormProfessionalRepo) ListActiveByCategory(
	ctx context.Context,
	category domain.Category,
	excludedIDs []string,
) ([]domain.Professional, error) {
	categorySubquery := r.db.
		Model(&ProfessionalCategoryModel{}).
		Select("professional_id").
		Where("category = ?", category)

	query := r.db.WithContext(ctx).
		Where("active = ? AND verified = ?", true, true).
		Where("id IN (?)", categorySubquery)
	if len(excludedIDs) > 0 {
		query = query.Where("id NOT IN ?", excludedIDs)
	}

	var models []ProfessionalModel
	if err := query.Order("id ASC").Find(&models).Error; err != nil {
		return nil, storeError("failed to list professionals", err)
	}

	professionals := make([]domain.Professional, 0, len(models))
	for i := range models {
		professionals = append(professionals, *professionalModelToDomain(&models[i], []domain.Category{category}))
	}
	return professionals, nil
}
