package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of an attribution.
type Status string

const (
	StatusBroadcasting   Status = "BROADCASTING"
	StatusReBroadcasting Status = "RE_BROADCASTING"
	StatusAccepted       Status = "ACCEPTED"
	StatusExpired        Status = "EXPIRED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusBroadcasting, StatusReBroadcasting, StatusAccepted, StatusExpired:
		return true
	}
	return false
}

// IsOpen reports whether the attribution is still accepting responses.
func (s Status) IsOpen() bool {
	return s == StatusBroadcasting || s == StatusReBroadcasting
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// ResponseType classifies a professional's reply to an attribution.
type ResponseType string

const (
	ResponseAccepted ResponseType = "ACCEPTED"
	ResponseRefused  ResponseType = "REFUSED"
)

func (t ResponseType) String() string { return string(t) }

func (t ResponseType) IsValid() bool {
	return t == ResponseAccepted || t == ResponseRefused
}

// Attribution is one dispatch attempt of a single booking to the
// professional pool.
type Attribution struct {
	ID                      string
	BookingID               string
	Category                Category
	Status                  Status
	Lat                     float64
	Lon                     float64
	MaxRadiusKm             float64
	AcceptedProfessionalID  *string
	ExcludedProfessionalIDs []string
	BroadcastCount          int
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (a *Attribution) Validate() error {
	if a.BookingID == "" {
		return fmt.Errorf("%w: booking id is required", ErrValidation)
	}
	if err := a.Category.Validate(); err != nil {
		return err
	}
	if a.MaxRadiusKm <= 0 {
		return fmt.Errorf("%w: max radius must be positive (got %g)", ErrValidation, a.MaxRadiusKm)
	}
	if a.Lat < -90 || a.Lat > 90 {
		return fmt.Errorf("%w: latitude out of range (got %g)", ErrValidation, a.Lat)
	}
	if a.Lon < -180 || a.Lon > 180 {
		return fmt.Errorf("%w: longitude out of range (got %g)", ErrValidation, a.Lon)
	}
	return nil
}

// IsExcluded reports whether the professional is already in the exclusion set.
func (a *Attribution) IsExcluded(professionalID string) bool {
	for _, id := range a.ExcludedProfessionalIDs {
		if id == professionalID {
			return true
		}
	}
	return false
}

// AttributionResponse is one professional's reply to one attribution.
// Append-only: never mutated after creation.
type AttributionResponse struct {
	ID             string
	AttributionID  string
	ProfessionalID string
	Type           ResponseType
	Reason         *string
	RespondedAt    time.Time
}
