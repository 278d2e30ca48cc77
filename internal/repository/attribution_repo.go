package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/movenbook/attribution-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AttributionRepository persists attributions. The accept and release
// transitions are single conditional updates: a zero-rows-affected result is
// how the store arbitrates concurrent actions, not a consistency violation.
type AttributionRepository interface {
	Create(ctx context.Context, a *domain.Attribution) error
	GetByID(ctx context.Context, id string) (*domain.Attribution, error)
	FindLatestByBookingID(ctx context.Context, bookingID string) (*domain.Attribution, error)
	Accept(ctx context.Context, id, professionalID string) error
	ReleaseForRebroadcast(ctx context.Context, id, professionalID string) error
	AppendExclusion(ctx context.Context, id, professionalID string) error
	MarkExpiredIfOpen(ctx context.Context, id string) (bool, error)
	ListStaleOpen(ctx context.Context, olderThan time.Time, limit int) ([]domain.Attribution, error)
}

type GormAttributionRepo struct {
	db *gorm.DB
}

func NewGormAttributionRepo(db *gorm.DB) *GormAttributionRepo {
	return &GormAttributionRepo{db: db}
}

var openStatuses = []domain.Status{domain.StatusBroadcasting, domain.StatusReBroadcasting}

func (r *GormAttributionRepo) Create(ctx context.Context, a *domain.Attribution) error {
	model := attributionModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return storeError("failed to create attribution", err)
	}
	if a != nil {
		*a = *attributionModelToDomain(model)
	}
	return nil
}

func (r *GormAttributionRepo) GetByID(ctx context.Context, id string) (*domain.Attribution, error) {
	var model AttributionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: attribution %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, storeError("failed to load attribution", err)
	}
	return attributionModelToDomain(&model), nil
}

// FindLatestByBookingID returns the most recent attribution for a booking.
// Used to keep paid-event consumption idempotent under redelivery.
func (r *GormAttributionRepo) FindLatestByBookingID(ctx context.Context, bookingID string) (*domain.Attribution, error) {
	var model AttributionModel
	err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no attribution for booking %s", domain.ErrNotFound, bookingID)
	}
	if err != nil {
		return nil, storeError("failed to find attribution by booking", err)
	}
	return attributionModelToDomain(&model), nil
}

// Accept claims the attribution for a professional. At most one professional
// ever holds the claim; re-entry by the current holder succeeds so a caller
// retrying a partially failed accept can finish its remaining writes.
func (r *GormAttributionRepo) Accept(ctx context.Context, id, professionalID string) error {
	result := r.db.WithContext(ctx).
		Model(&AttributionModel{}).
		Where("id = ? AND status IN ? AND accepted_professional_id IS NULL", id, openStatuses).
		Updates(map[string]any{
			"status":                   domain.StatusAccepted,
			"accepted_professional_id": professionalID,
		})
	if result.Error != nil {
		return storeError("failed to accept attribution", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	return r.classifyAcceptFailure(ctx, id, professionalID)
}

func (r *GormAttributionRepo) classifyAcceptFailure(ctx context.Context, id, professionalID string) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if current.AcceptedProfessionalID != nil {
		if *current.AcceptedProfessionalID == professionalID {
			return nil
		}
		return fmt.Errorf("%w: attribution %s already accepted", domain.ErrRaceLost, id)
	}
	if current.Status == domain.StatusAccepted {
		return fmt.Errorf("%w: attribution %s already accepted", domain.ErrRaceLost, id)
	}
	return fmt.Errorf("%w: attribution %s is %s", domain.ErrInvalidTransition, id, current.Status)
}

// ReleaseForRebroadcast backs the accepted professional out: only the current
// winner may release, and the broadcast counter moves in the same update.
func (r *GormAttributionRepo) ReleaseForRebroadcast(ctx context.Context, id, professionalID string) error {
	result := r.db.WithContext(ctx).
		Model(&AttributionModel{}).
		Where("id = ? AND status = ? AND accepted_professional_id = ?", id, domain.StatusAccepted, professionalID).
		Updates(map[string]any{
			"status":                   domain.StatusReBroadcasting,
			"accepted_professional_id": nil,
			"broadcast_count":          gorm.Expr("broadcast_count + 1"),
		})
	if result.Error != nil {
		return storeError("failed to release attribution", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: attribution %s is %s and not held by professional %s",
		domain.ErrInvalidTransition, id, current.Status, professionalID)
}

// AppendExclusion adds a professional to the exclusion set. Locks the row so
// concurrent appends never drop each other's entries; the set only grows.
func (r *GormAttributionRepo) AppendExclusion(ctx context.Context, id, professionalID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model AttributionModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: attribution %s", domain.ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		for _, existing := range model.ExcludedProfessionalIDs {
			if existing == professionalID {
				return nil
			}
		}

		model.ExcludedProfessionalIDs = append(model.ExcludedProfessionalIDs, professionalID)
		return tx.Model(&model).
			Update("excluded_professional_ids", model.ExcludedProfessionalIDs).Error
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return storeError("failed to append exclusion", err)
	}
	return err
}

// MarkExpiredIfOpen expires the attribution; a no-op when it is no longer
// open. Returns whether the transition happened.
func (r *GormAttributionRepo) MarkExpiredIfOpen(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&AttributionModel{}).
		Where("id = ? AND status IN ?", id, openStatuses).
		Update("status", domain.StatusExpired)
	if result.Error != nil {
		return false, storeError("failed to expire attribution", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *GormAttributionRepo) ListStaleOpen(ctx context.Context, olderThan time.Time, limit int) ([]domain.Attribution, error) {
	var models []AttributionModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at <= ?", openStatuses, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, storeError("failed to list stale attributions", err)
	}

	attributions := make([]domain.Attribution, 0, len(models))
	for i := range models {
		attributions = append(attributions, *attributionModelToDomain(&models[i]))
	}
	return attributions, nil
}

func storeError(msg string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrDataUnavailable, msg, err)
}
