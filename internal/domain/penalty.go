package domain

import "time"

// BlacklistThreshold is the consecutive-refusal count at which a professional
// stops receiving offers for a category.
const BlacklistThreshold = 2

// PenaltyRecord tracks refusals and blacklisting for one
// (professional, category) pair. Scoped per category: a professional
// blacklisted for one category stays eligible for the others.
type PenaltyRecord struct {
	ID                  string
	ProfessionalID      string
	Category            Category
	ConsecutiveRefusals int
	TotalRefusals       int
	Blacklisted         bool
	BlacklistedAt       *time.Time
	LastAttributionID   *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
