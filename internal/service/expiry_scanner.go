package service

import (
	"context"
	"fmt"
	"time"

	"github.com/movenbook/attribution-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultExpiryScanInterval = time.Minute
	defaultExpiryScanLimit    = 100
	defaultStaleAfter         = 24 * time.Hour
)

// AttributionExpirer closes a single stale attribution.
type AttributionExpirer interface {
	Expire(ctx context.Context, attributionID string) (bool, error)
}

// ExpiryScanner periodically expires attributions that stayed open with no
// acceptance past the staleness window.
type ExpiryScanner struct {
	attributions repository.AttributionRepository
	coordinator  AttributionExpirer
	logger       *zap.Logger
	interval     time.Duration
	staleAfter   time.Duration
	limit        int
	now          func() time.Time
}

func NewExpiryScanner(
	attributions repository.AttributionRepository,
	coordinator AttributionExpirer,
	interval time.Duration,
	staleAfter time.Duration,
	limit int,
	logger *zap.Logger,
) (*ExpiryScanner, error) {
	if attributions == nil {
		return nil, fmt.Errorf("attribution repository is required")
	}
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if interval <= 0 {
		interval = defaultExpiryScanInterval
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	if limit <= 0 {
		limit = defaultExpiryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ExpiryScanner{
		attributions: attributions,
		coordinator:  coordinator,
		logger:       logger,
		interval:     interval,
		staleAfter:   staleAfter,
		limit:        limit,
		now:          time.Now,
	}, nil
}

func (s *ExpiryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-stale attributions do not wait for the
	// first ticker edge.
	if err := s.scanStale(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("expiry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanStale(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("expiry scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *ExpiryScanner) scanStale(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-s.staleAfter)
	stale, err := s.attributions.ListStaleOpen(ctx, cutoff, s.limit)
	if err != nil {
		return fmt.Errorf("failed to list stale attributions: %w", err)
	}

	for i := range stale {
		attribution := stale[i]
		expired, err := s.coordinator.Expire(ctx, attribution.ID)
		if err != nil {
			// An attribution accepted between the scan and the expire call
			// surfaces here as a no-op, not an error; real failures are
			// logged and the scan moves on.
			s.logger.Error("failed to expire stale attribution",
				zap.String("attributionId", attribution.ID),
				zap.Error(err),
			)
			continue
		}
		if expired {
			s.logger.Info("stale attribution expired",
				zap.String("attributionId", attribution.ID),
				zap.String("bookingId", attribution.BookingID),
			)
		}
	}

	return nil
}
