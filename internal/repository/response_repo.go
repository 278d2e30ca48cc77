package repository

import (
	"context"

	"github.com/movenbook/attribution-engine/internal/domain"
	"gorm.io/gorm"
)

// ResponseRepository is the append-only log of professional replies.
type ResponseRepository interface {
	Append(ctx context.Context, response *domain.AttributionResponse) error
	ListByAttribution(ctx context.Context, attributionID string) ([]domain.AttributionResponse, error)
}

type GormResponseRepo struct {
	db *gorm.DB
}

func NewGormResponseRepo(db *gorm.DB) *GormResponseRepo {
	return &GormResponseRepo{db: db}
}

func (r *GormResponseRepo) Append(ctx context.Context, response *domain.AttributionResponse) error {
	model := responseModelFromDomain(response)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return storeError("failed to append attribution response", err)
	}
	if response != nil {
		*response = *responseModelToDomain(model)
	}
	return nil
}

func (r *GormResponseRepo) ListByAttribution(ctx context.Context, attributionID string) ([]domain.AttributionResponse, error) {
	var models []AttributionResponseModel
	err := r.db.WithContext(ctx).
		Where("attribution_id = ?", attributionID).
		Order("responded_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, storeError("failed to list attribution responses", err)
	}

	responses := make([]domain.AttributionResponse, 0, len(models))
	for i := range models {
		responses = append(responses, *responseModelToDomain(&models[i]))
	}
	return responses, nil
}
