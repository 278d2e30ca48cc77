package penalty

import (
	"context"
	"fmt"
	"time"

	"github.com/movenbook/attribution-engine/internal/domain"
	"github.com/movenbook/attribution-engine/internal/repository"
	"go.uber.org/zap"
)

// Ledger tracks refusals and cancellations per (professional, category) pair
// and derives the blacklist the matcher excludes from. Scoped per category:
// a professional blacklisted for moving still receives cleaning offers.
type Ledger struct {
	penalties repository.PenaltyRepository
	logger    *zap.Logger
	now       func() time.Time
}

func NewLedger(penalties repository.PenaltyRepository, logger *zap.Logger) (*Ledger, error) {
	if penalties == nil {
		return nil, fmt.Errorf("penalty repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Ledger{
		penalties: penalties,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// RecordRefusal bumps both refusal counters. The pair is blacklisted once the
// consecutive counter reaches the threshold; there is no automatic expiry.
func (l *Ledger) RecordRefusal(ctx context.Context, professionalID string, category domain.Category, attributionID string) (*domain.PenaltyRecord, error) {
	record, err := l.penalties.Mutate(ctx, professionalID, category, func(r *domain.PenaltyRecord) {
		r.ConsecutiveRefusals++
		r.TotalRefusals++
		r.LastAttributionID = &attributionID
		if r.ConsecutiveRefusals >= domain.BlacklistThreshold && !r.Blacklisted {
			r.Blacklisted = true
			at := l.now().UTC()
			r.BlacklistedAt = &at
		}
	})
	if err != nil {
		return nil, err
	}

	if record.Blacklisted {
		l.logger.Info("professional blacklisted after refusal",
			zap.String("professionalId", professionalID),
			zap.String("category", category.String()),
			zap.Int("consecutiveRefusals", record.ConsecutiveRefusals),
		)
	}
	return record, nil
}

// RecordCancellation penalizes backing out of an accepted attribution:
// the consecutive counter jumps straight to the threshold and the pair is
// blacklisted immediately, since the cancellation wastes the window the
// booking already spent off-market.
func (l *Ledger) RecordCancellation(ctx context.Context, professionalID string, category domain.Category, attributionID string) (*domain.PenaltyRecord, error) {
	record, err := l.penalties.Mutate(ctx, professionalID, category, func(r *domain.PenaltyRecord) {
		if r.ConsecutiveRefusals < domain.BlacklistThreshold {
			r.ConsecutiveRefusals = domain.BlacklistThreshold
		}
		r.TotalRefusals++
		r.LastAttributionID = &attributionID
		if !r.Blacklisted {
			r.Blacklisted = true
			at := l.now().UTC()
			r.BlacklistedAt = &at
		}
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("professional blacklisted after cancellation",
		zap.String("professionalId", professionalID),
		zap.String("category", category.String()),
		zap.String("attributionId", attributionID),
	)
	return record, nil
}

// ResetOnAcceptance zeroes the consecutive counter and clears the blacklist
// for the pair. The lifetime counter is never reset.
func (l *Ledger) ResetOnAcceptance(ctx context.Context, professionalID string, category domain.Category) error {
	_, err := l.penalties.Mutate(ctx, professionalID, category, func(r *domain.PenaltyRecord) {
		r.ConsecutiveRefusals = 0
		r.Blacklisted = false
		r.BlacklistedAt = nil
	})
	return err
}

// LiftManually is the administrative override: clears the blacklist without
// touching the counters' history beyond the consecutive reset.
func (l *Ledger) LiftManually(ctx context.Context, professionalID string, category domain.Category) error {
	_, err := l.penalties.Mutate(ctx, professionalID, category, func(r *domain.PenaltyRecord) {
		r.ConsecutiveRefusals = 0
		r.Blacklisted = false
		r.BlacklistedAt = nil
	})
	if err != nil {
		return err
	}

	l.logger.Info("blacklist lifted manually",
		zap.String("professionalId", professionalID),
		zap.String("category", category.String()),
	)
	return nil
}

// GetBlacklisted returns the professional ids currently blacklisted for the
// category, feeding the matcher's exclusion parameter.
func (l *Ledger) GetBlacklisted(ctx context.Context, category domain.Category) ([]string, error) {
	return l.penalties.ListBlacklisted(ctx, category)
}

// RecordsFor lists all penalty records of one professional across categories.
func (l *Ledger) RecordsFor(ctx context.Context, professionalID string) ([]domain.PenaltyRecord, error) {
	return l.penalties.ListByProfessional(ctx, professionalID)
}
