package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/movenbook/attribution-engine/internal/domain"
	"github.com/movenbook/attribution-engine/internal/observability"
	"github.com/movenbook/attribution-engine/internal/queue"
	"github.com/movenbook/attribution-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// AttributionStarter starts an attribution for a paid booking.
type AttributionStarter interface {
	Start(ctx context.Context, input StartInput) (*domain.Attribution, error)
}

// PaymentWorker consumes payment confirmations from the booking platform
// and starts one attribution per paid booking.
type PaymentWorker struct {
	attributions repository.AttributionRepository
	bookings     repository.BookingRepository
	coordinator  AttributionStarter
	consumer     queue.Consumer
	logger       *zap.Logger
	concurrency  int
}

func NewPaymentWorker(
	attributions repository.AttributionRepository,
	bookings repository.BookingRepository,
	coordinator AttributionStarter,
	consumer queue.Consumer,
	concurrency int,
	logger *zap.Logger,
) (*PaymentWorker, error) {
	if attributions == nil {
		return nil, fmt.Errorf("attribution repository is required")
	}
	if bookings == nil {
		return nil, fmt.Errorf("booking repository is required")
	}
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PaymentWorker{
		attributions: attributions,
		bookings:     bookings,
		coordinator:  coordinator,
		consumer:     consumer,
		logger:       logger,
		concurrency:  concurrency,
	}, nil
}

// Start consumes the paid-booking queue until context cancellation.
func (w *PaymentWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("payment worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.BookingPaidQueue),
			)

			if err := w.consumer.Consume(groupCtx, w.processMessage); err != nil {
				w.logger.Error("payment worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("payment worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *PaymentWorker) processMessage(ctx context.Context, msg queue.BookingPaidMessage) error {
	if correlationID := strings.TrimSpace(msg.CorrelationID); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	logger := observability.WithContextLogger(w.logger, ctx)

	bookingID := strings.TrimSpace(msg.BookingID)

	// Redeliveries are routine with at-least-once consumption; a booking
	// that already has an attribution is simply acked again.
	if _, err := w.attributions.FindLatestByBookingID(ctx, bookingID); err == nil {
		logger.Info("booking already attributed, skipping",
			zap.String("bookingId", bookingID),
		)
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to check existing attribution: %w", err)
	}

	category, err := domain.ParseCategoryFromString(msg.Category)
	if err != nil {
		// Unmappable category is a poison message, not a transient failure.
		logger.Warn("dropping paid booking with unknown category",
			zap.String("bookingId", bookingID),
			zap.String("category", msg.Category),
		)
		return nil
	}

	booking := &domain.Booking{
		ID:          bookingID,
		Summary:     strings.TrimSpace(msg.Summary),
		Address:     domain.NormalizeAddress(msg.Address),
		ScheduledAt: normalizeScheduledAt(msg.ScheduledAt),
	}
	if err := w.bookings.Upsert(ctx, booking); err != nil {
		return fmt.Errorf("failed to upsert booking projection: %w", err)
	}

	attribution, err := w.coordinator.Start(ctx, StartInput{
		BookingID:   bookingID,
		Category:    category,
		Lat:         msg.Lat,
		Lon:         msg.Lon,
		MaxRadiusKm: msg.MaxRadiusKm,
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			logger.Warn("dropping paid booking with invalid payload",
				zap.String("bookingId", bookingID),
				zap.Error(err),
			)
			return nil
		}
		return fmt.Errorf("failed to start attribution: %w", err)
	}

	logger.Info("paid booking attributed",
		zap.String("bookingId", bookingID),
		zap.String("attributionId", attribution.ID),
		zap.String("status", attribution.Status.String()),
	)
	return nil
}

func normalizeScheduledAt(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
