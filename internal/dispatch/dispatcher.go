package dispatch

import (
	"context"
	"time"

	"github.com/movenbook/attribution-engine/internal/domain"
)

// BookingSummary is the offer payload sent with each broadcast.
type BookingSummary struct {
	BookingID   string
	Category    domain.Category
	Summary     string
	Address     string
	ScheduledAt *time.Time
	Priority    domain.OfferPriority
	RespondBy   time.Time
}

// DeliveryOutcome is the per-candidate result of a broadcast. A failed
// delivery never aborts the rest of the fan-out.
type DeliveryOutcome struct {
	ProfessionalID string
	Delivered      bool
	Error          string
}

// Dispatcher is the outbound notification port. The engine only awaits
// completion of the calls; delivery semantics (email, WhatsApp, documents)
// belong to the notification platform behind it.
type Dispatcher interface {
	Broadcast(ctx context.Context, attributionID string, candidates []domain.EligibleProfessional, summary BookingSummary) ([]DeliveryOutcome, error)
	NotifyTaken(ctx context.Context, attributionID, winningProfessionalID string) error
}

// FailedDeliveries counts the outcomes that did not reach their recipient.
func FailedDeliveries(outcomes []DeliveryOutcome) int {
	failed := 0
	for _, outcome := range outcomes {
		if !outcome.Delivered {
			failed++
		}
	}
	return failed
}
