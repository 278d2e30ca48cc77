package domain

import "time"

// Professional is a registered service professional as persisted.
type Professional struct {
	ID              string
	Name            string
	Email           string
	Phone           string
	Address         string
	Lat             float64
	Lon             float64
	ServiceRadiusKm float64
	Categories      []Category
	Active          bool
	Verified        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EligibleProfessional is a matching-time view of a professional: contact
// info plus the computed distance to the attribution target. Produced fresh
// on every matcher call, never persisted or cached across attributions.
type EligibleProfessional struct {
	ID         string
	Name       string
	Email      string
	Phone      string
	Address    string
	Lat        float64
	Lon        float64
	DistanceKm float64
}
