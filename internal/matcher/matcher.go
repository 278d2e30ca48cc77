package matcher

import (
	"context"
	"fmt"
	"sort"

	"github.com/movenbook/attribution-engine/internal/domain"
	"github.com/movenbook/attribution-engine/internal/geo"
	"github.com/movenbook/attribution-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// refineMarginRatio bounds which survivors get the expensive routing
	// lookup: only those within this share of the effective radius.
	refineMarginRatio = 0.8

	refineConcurrency = 8
)

// Query describes one matching request.
type Query struct {
	Category    domain.Category
	TargetLat   float64
	TargetLon   float64
	MaxRadiusKm float64
	ExcludedIDs []string
}

// Matcher finds professionals eligible to receive an offer, nearest first.
type Matcher struct {
	professionals repository.ProfessionalRepository
	lookup        geo.Lookup
	logger        *zap.Logger
}

// New builds a Matcher. lookup may be nil: matching then runs on the local
// great-circle estimate alone.
func New(professionals repository.ProfessionalRepository, lookup geo.Lookup, logger *zap.Logger) (*Matcher, error) {
	if professionals == nil {
		return nil, fmt.Errorf("professional repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Matcher{
		professionals: professionals,
		lookup:        lookup,
		logger:        logger,
	}, nil
}

// FindEligible returns professionals matching category, radius, and exclusion
// constraints, sorted ascending by distance (ties broken by id). An empty
// result is not an error; the caller decides what "no candidates" means.
func (m *Matcher) FindEligible(ctx context.Context, query Query) ([]domain.EligibleProfessional, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := query.Category.Validate(); err != nil {
		return nil, err
	}
	if query.MaxRadiusKm <= 0 {
		return nil, fmt.Errorf("%w: max radius must be positive (got %g)", domain.ErrValidation, query.MaxRadiusKm)
	}

	professionals, err := m.professionals.ListActiveByCategory(ctx, query.Category, query.ExcludedIDs)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		professional domain.Professional
		effectiveKm  float64
		distanceKm   float64
	}

	candidates := make([]candidate, 0, len(professionals))
	for _, p := range professionals {
		effective := query.MaxRadiusKm
		if p.ServiceRadiusKm > 0 && p.ServiceRadiusKm < effective {
			effective = p.ServiceRadiusKm
		}

		distance := geo.HaversineKm(p.Lat, p.Lon, query.TargetLat, query.TargetLon)
		if distance > effective {
			continue
		}

		candidates = append(candidates, candidate{
			professional: p,
			effectiveKm:  effective,
			distanceKm:   distance,
		})
	}

	if m.lookup != nil && len(candidates) > 0 {
		destination := geo.CoordinateString(query.TargetLat, query.TargetLon)

		g, groupCtx := errgroup.WithContext(ctx)
		g.SetLimit(refineConcurrency)
		for i := range candidates {
			if candidates[i].distanceKm > candidates[i].effectiveKm*refineMarginRatio {
				continue
			}

			c := &candidates[i]
			g.Go(func() error {
				origin := domain.NormalizeAddress(c.professional.Address)
				if origin == "" {
					origin = geo.CoordinateString(c.professional.Lat, c.professional.Lon)
				}

				refined, err := m.lookup.PreciseDistanceKm(groupCtx, origin, destination)
				if err != nil {
					// Degrade silently to the great-circle estimate.
					m.logger.Warn("precise distance lookup failed, using great-circle estimate",
						zap.String("professionalId", c.professional.ID),
						zap.Error(err),
					)
					return nil
				}

				c.distanceKm = refined
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	eligible := make([]domain.EligibleProfessional, 0, len(candidates))
	for _, c := range candidates {
		if c.distanceKm > c.effectiveKm {
			continue
		}
		eligible = append(eligible, domain.EligibleProfessional{
			ID:         c.professional.ID,
			Name:       c.professional.Name,
			Email:      c.professional.Email,
			Phone:      c.professional.Phone,
			Address:    c.professional.Address,
			Lat:        c.professional.Lat,
			Lon:        c.professional.Lon,
			DistanceKm: c.distanceKm,
		})
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].DistanceKm != eligible[j].DistanceKm {
			return eligible[i].DistanceKm < eligible[j].DistanceKm
		}
		return eligible[i].ID < eligible[j].ID
	})

	return eligible, nil
}
