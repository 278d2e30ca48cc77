package queue

import (
	"fmt"
	"strings"
	"time"
)

// BookingPaidMessage is the broker payload emitted by the booking platform
// once a booking is paid.
type BookingPaidMessage struct {
	BookingID     string     `json:"bookingId"`
	Category      string     `json:"category"`
	Lat           float64    `json:"lat"`
	Lon           float64    `json:"lon"`
	MaxRadiusKm   float64    `json:"maxRadiusKm"`
	Summary       string     `json:"summary,omitempty"`
	Address       string     `json:"address,omitempty"`
	ScheduledAt   *time.Time `json:"scheduledAt,omitempty"`
	CorrelationID string     `json:"correlationId,omitempty"`
}

func (m BookingPaidMessage) Validate() error {
	if strings.TrimSpace(m.BookingID) == "" {
		return fmt.Errorf("bookingId is required")
	}
	if strings.TrimSpace(m.Category) == "" {
		return fmt.Errorf("category is required")
	}
	if m.MaxRadiusKm <= 0 {
		return fmt.Errorf("maxRadiusKm must be positive")
	}
	return nil
}

// EventType classifies attribution lifecycle events.
type EventType string

const (
	EventAccepted    EventType = "attribution.accepted"
	EventExpired     EventType = "attribution.expired"
	EventRebroadcast EventType = "attribution.rebroadcast"
)

// AttributionEventMessage is the broker payload for lifecycle events.
type AttributionEventMessage struct {
	Type           EventType `json:"type"`
	AttributionID  string    `json:"attributionId"`
	BookingID      string    `json:"bookingId"`
	ProfessionalID *string   `json:"professionalId,omitempty"`
	BroadcastCount int       `json:"broadcastCount,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func (m AttributionEventMessage) Validate() error {
	switch m.Type {
	case EventAccepted, EventExpired, EventRebroadcast:
	default:
		return fmt.Errorf("invalid event type %q", m.Type)
	}
	if strings.TrimSpace(m.AttributionID) == "" {
		return fmt.Errorf("attributionId is required")
	}
	return nil
}
