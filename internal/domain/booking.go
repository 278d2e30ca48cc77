package domain

import "time"

// Booking is the minimal projection of a booking the engine needs: enough to
// build an offer summary and to record the assigned professional. The full
// booking lifecycle lives in the booking platform, not here.
type Booking struct {
	ID                     string
	Summary                string
	Address                string
	ScheduledAt            *time.Time
	AssignedProfessionalID *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}
