package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/movenbook/attribution-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BookingRepository maintains the engine's projection of bookings: the offer
// summary used in broadcasts and the assigned-professional column.
type BookingRepository interface {
	Upsert(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	Assign(ctx context.Context, bookingID, professionalID string) error
	Unassign(ctx context.Context, bookingID string) error
}

type GormBookingRepo struct {
	db *gorm.DB
}

func NewGormBookingRepo(db *gorm.DB) *GormBookingRepo {
	return &GormBookingRepo{db: db}
}

func (r *GormBookingRepo) Upsert(ctx context.Context, booking *domain.Booking) error {
	model := bookingModelFromDomain(booking)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"summary", "address", "scheduled_at", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return storeError("failed to upsert booking", err)
	}
	if booking != nil {
		*booking = *bookingModelToDomain(model)
	}
	return nil
}

func (r *GormBookingRepo) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	var model BookingModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: booking %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, storeError("failed to load booking", err)
	}
	return bookingModelToDomain(&model), nil
}

func (r *GormBookingRepo) Assign(ctx context.Context, bookingID, professionalID string) error {
	result := r.db.WithContext(ctx).
		Model(&BookingModel{}).
		Where("id = ?", bookingID).
		Update("assigned_professional_id", professionalID)
	if result.Error != nil {
		return storeError("failed to assign booking", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: booking %s", domain.ErrNotFound, bookingID)
	}
	return nil
}

func (r *GormBookingRepo) Unassign(ctx context.Context, bookingID string) error {
	result := r.db.WithContext(ctx).
		Model(&BookingModel{}).
		Where("id = ?", bookingID).
		Update("assigned_professional_id", nil)
	if result.Error != nil {
		return storeError("failed to unassign booking", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: booking %s", domain.ErrNotFound, bookingID)
	}
	return nil
}
