package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/movenbook/attribution-engine/internal/domain"
)

// StringList persists a []string as a JSON text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(data), nil
}

func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported string list source type %T", value)
	}

	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, (*[]string)(l))
}

// AttributionModel is the persistence model for the attributions table.
type AttributionModel struct {
	ID                      string          `gorm:"type:uuid;primaryKey"`
	BookingID               string          `gorm:"type:varchar(64);not null"`
	Category                domain.Category `gorm:"type:varchar(64);not null"`
	Status                  domain.Status   `gorm:"type:varchar(20);not null"`
	Lat                     float64         `gorm:"not null"`
	Lon                     float64         `gorm:"not null"`
	MaxRadiusKm             float64         `gorm:"not null"`
	AcceptedProfessionalID  *string         `gorm:"type:uuid"`
	ExcludedProfessionalIDs StringList      `gorm:"type:text;not null;default:'[]'"`
	BroadcastCount          int             `gorm:"not null;default:1"`
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (AttributionModel) TableName() string {
	return "attributions"
}

// AttributionResponseModel is the persistence model for attribution_responses.
type AttributionResponseModel struct {
	ID             string              `gorm:"type:uuid;primaryKey"`
	AttributionID  string              `gorm:"type:uuid;not null"`
	ProfessionalID string              `gorm:"type:uuid;not null"`
	Type           domain.ResponseType `gorm:"type:varchar(10);not null"`
	Reason         *string             `gorm:"type:text"`
	RespondedAt    time.Time           `gorm:"not null"`
}

func (AttributionResponseModel) TableName() string {
	return "attribution_responses"
}

// PenaltyRecordModel is the persistence model for penalty_records.
type PenaltyRecordModel struct {
	ID                  string          `gorm:"type:uuid;primaryKey"`
	ProfessionalID      string          `gorm:"type:uuid;not null"`
	Category            domain.Category `gorm:"type:varchar(64);not null"`
	ConsecutiveRefusals int             `gorm:"not null;default:0"`
	TotalRefusals       int             `gorm:"not null;default:0"`
	Blacklisted         bool            `gorm:"not null;default:false"`
	BlacklistedAt       *time.Time
	LastAttributionID   *string `gorm:"type:uuid"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (PenaltyRecordModel) TableName() string {
	return "penalty_records"
}

// ProfessionalModel is the persistence model for professionals.
type ProfessionalModel struct {
	ID              string  `gorm:"type:uuid;primaryKey"`
	Name            string  `gorm:"type:varchar(255);not null"`
	Email           string  `gorm:"type:varchar(255);not null"`
	Phone           string  `gorm:"type:varchar(32)"`
	Address         string  `gorm:"type:text"`
	Lat             float64 `gorm:"not null"`
	Lon             float64 `gorm:"not null"`
	ServiceRadiusKm float64 `gorm:"not null"`
	Active          bool    `gorm:"not null;default:true"`
	Verified        bool    `gorm:"not null;default:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (ProfessionalModel) TableName() string {
	return "professionals"
}

// ProfessionalCategoryModel maps professionals to the categories they service.
type ProfessionalCategoryModel struct {
	ProfessionalID string          `gorm:"type:uuid;primaryKey"`
	Category       domain.Category `gorm:"type:varchar(64);primaryKey"`
}

func (ProfessionalCategoryModel) TableName() string {
	return "professional_categories"
}

// BookingModel is the engine's projection of the bookings table.
type BookingModel struct {
	ID                     string `gorm:"type:varchar(64);primaryKey"`
	Summary                string `gorm:"type:text"`
	Address                string `gorm:"type:text"`
	ScheduledAt            *time.Time
	AssignedProfessionalID *string `gorm:"type:uuid"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (BookingModel) TableName() string {
	return "bookings"
}

func attributionModelFromDomain(a *domain.Attribution) *AttributionModel {
	if a == nil {
		return nil
	}

	return &AttributionModel{
		ID:                      a.ID,
		BookingID:               a.BookingID,
		Category:                a.Category,
		Status:                  a.Status,
		Lat:                     a.Lat,
		Lon:                     a.Lon,
		MaxRadiusKm:             a.MaxRadiusKm,
		AcceptedProfessionalID:  a.AcceptedProfessionalID,
		ExcludedProfessionalIDs: StringList(a.ExcludedProfessionalIDs),
		BroadcastCount:          a.BroadcastCount,
		CreatedAt:               a.CreatedAt,
		UpdatedAt:               a.UpdatedAt,
	}
}

func attributionModelToDomain(m *AttributionModel) *domain.Attribution {
	if m == nil {
		return nil
	}

	return &domain.Attribution{
		ID:                      m.ID,
		BookingID:               m.BookingID,
		Category:                m.Category,
		Status:                  m.Status,
		Lat:                     m.Lat,
		Lon:                     m.Lon,
		MaxRadiusKm:             m.MaxRadiusKm,
		AcceptedProfessionalID:  m.AcceptedProfessionalID,
		ExcludedProfessionalIDs: []string(m.ExcludedProfessionalIDs),
		BroadcastCount:          m.BroadcastCount,
		CreatedAt:               m.CreatedAt,
		UpdatedAt:               m.UpdatedAt,
	}
}

func responseModelFromDomain(r *domain.AttributionResponse) *AttributionResponseModel {
	if r == nil {
		return nil
	}

	return &AttributionResponseModel{
		ID:             r.ID,
		AttributionID:  r.AttributionID,
		ProfessionalID: r.ProfessionalID,
		Type:           r.Type,
		Reason:         r.Reason,
		RespondedAt:    r.RespondedAt,
	}
}

func responseModelToDomain(m *AttributionResponseModel) *domain.AttributionResponse {
	if m == nil {
		return nil
	}

	return &domain.AttributionResponse{
		ID:             m.ID,
		AttributionID:  m.AttributionID,
		ProfessionalID: m.ProfessionalID,
		Type:           m.Type,
		Reason:         m.Reason,
		RespondedAt:    m.RespondedAt,
	}
}

func penaltyModelFromDomain(p *domain.PenaltyRecord) *PenaltyRecordModel {
	if p == nil {
		return nil
	}

	return &PenaltyRecordModel{
		ID:                  p.ID,
		ProfessionalID:      p.ProfessionalID,
		Category:            p.Category,
		ConsecutiveRefusals: p.ConsecutiveRefusals,
		TotalRefusals:       p.TotalRefusals,
		Blacklisted:         p.Blacklisted,
		BlacklistedAt:       p.BlacklistedAt,
		LastAttributionID:   p.LastAttributionID,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

func penaltyModelToDomain(m *PenaltyRecordModel) *domain.PenaltyRecord {
	if m == nil {
		return nil
	}

	return &domain.PenaltyRecord{
		ID:                  m.ID,
		ProfessionalID:      m.ProfessionalID,
		Category:            m.Category,
		ConsecutiveRefusals: m.ConsecutiveRefusals,
		TotalRefusals:       m.TotalRefusals,
		Blacklisted:         m.Blacklisted,
		BlacklistedAt:       m.BlacklistedAt,
		LastAttributionID:   m.LastAttributionID,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func professionalModelToDomain(m *ProfessionalModel, categories []domain.Category) *domain.Professional {
	if m == nil {
		return nil
	}

	return &domain.Professional{
		ID:              m.ID,
		Name:            m.Name,
		Email:           m.Email,
		Phone:           m.Phone,
		Address:         m.Address,
		Lat:             m.Lat,
		Lon:             m.Lon,
		ServiceRadiusKm: m.ServiceRadiusKm,
		Categories:      categories,
		Active:          m.Active,
		Verified:        m.Verified,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func bookingModelFromDomain(b *domain.Booking) *BookingModel {
	if b == nil {
		return nil
	}

	return &BookingModel{
		ID:                     b.ID,
		Summary:                b.Summary,
		Address:                b.Address,
		ScheduledAt:            b.ScheduledAt,
		AssignedProfessionalID: b.AssignedProfessionalID,
		CreatedAt:              b.CreatedAt,
		UpdatedAt:              b.UpdatedAt,
	}
}

func bookingModelToDomain(m *BookingModel) *domain.Booking {
	if m == nil {
		return nil
	}

	return &domain.Booking{
		ID:                     m.ID,
		Summary:                m.Summary,
		Address:                m.Address,
		ScheduledAt:            m.ScheduledAt,
		AssignedProfessionalID: m.AssignedProfessionalID,
		CreatedAt:              m.CreatedAt,
		UpdatedAt:              m.UpdatedAt,
	}
}
