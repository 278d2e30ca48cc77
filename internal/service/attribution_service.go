package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/movenbook/attribution-engine/internal/dispatch"
	"github.com/movenbook/attribution-engine/internal/domain"
	"github.com/movenbook/attribution-engine/internal/matcher"
	"github.com/movenbook/attribution-engine/internal/observability"
	"github.com/movenbook/attribution-engine/internal/queue"
	"github.com/movenbook/attribution-engine/internal/repository"
	"go.uber.org/zap"
)

// MsgMissionUnavailable is what a professional sees when the job is already
// taken or the attribution is no longer open. The expected outcome of the
// accept race, not an error.
const MsgMissionUnavailable = "mission no longer available"

const (
	msgMissionAccepted     = "mission accepted"
	msgRefusalRecorded     = "refusal recorded"
	msgCancellationHandled = "cancellation recorded, searching for a replacement"
)

// ActionResult is the structured outcome of a professional-facing action.
// State-machine violations land here instead of propagating as errors.
type ActionResult struct {
	Success bool
	Message string
}

// Snapshot is the read-only view of an attribution with its response log.
type Snapshot struct {
	Attribution domain.Attribution
	Responses   []domain.AttributionResponse
}

// StartInput describes one booking to staff.
type StartInput struct {
	BookingID   string
	Category    domain.Category
	Lat         float64
	Lon         float64
	MaxRadiusKm float64
}

// CandidateFinder is the matching port consumed by the coordinator.
type CandidateFinder interface {
	FindEligible(ctx context.Context, query matcher.Query) ([]domain.EligibleProfessional, error)
}

// PenaltyLedger is the penalty port consumed by the coordinator.
type PenaltyLedger interface {
	RecordRefusal(ctx context.Context, professionalID string, category domain.Category, attributionID string) (*domain.PenaltyRecord, error)
	RecordCancellation(ctx context.Context, professionalID string, category domain.Category, attributionID string) (*domain.PenaltyRecord, error)
	ResetOnAcceptance(ctx context.Context, professionalID string, category domain.Category) error
	GetBlacklisted(ctx context.Context, category domain.Category) ([]string, error)
}

// Coordinator owns the attribution state machine. All cross-request
// coordination goes through the store's conditional updates; the coordinator
// itself holds no locks and no in-memory state.
type Coordinator struct {
	attributions repository.AttributionRepository
	responses    repository.ResponseRepository
	bookings     repository.BookingRepository
	finder       CandidateFinder
	ledger       PenaltyLedger
	dispatcher   dispatch.Dispatcher
	events       queue.EventPublisher
	logger       *zap.Logger
	metrics      *observability.Metrics
	now          func() time.Time
}

func NewCoordinator(
	attributions repository.AttributionRepository,
	responses repository.ResponseRepository,
	bookings repository.BookingRepository,
	finder CandidateFinder,
	ledger PenaltyLedger,
	dispatcher dispatch.Dispatcher,
	logger *zap.Logger,
) (*Coordinator, error) {
	if attributions == nil {
		return nil, fmt.Errorf("attribution repository is required")
	}
	if responses == nil {
		return nil, fmt.Errorf("response repository is required")
	}
	if bookings == nil {
		return nil, fmt.Errorf("booking repository is required")
	}
	if finder == nil {
		return nil, fmt.Errorf("candidate finder is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("penalty ledger is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Coordinator{
		attributions: attributions,
		responses:    responses,
		bookings:     bookings,
		finder:       finder,
		ledger:       ledger,
		dispatcher:   dispatcher,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// SetEventPublisher attaches an optional lifecycle-event publisher.
func (c *Coordinator) SetEventPublisher(events queue.EventPublisher) {
	if c == nil {
		return
	}
	c.events = events
}

func (c *Coordinator) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// Start creates an attribution for a paid booking and runs the first
// broadcast round. When nobody qualifies, the attribution is created and
// immediately expired: the caller learns there is no professional available.
func (c *Coordinator) Start(ctx context.Context, input StartInput) (*domain.Attribution, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	attribution := &domain.Attribution{
		ID:             uuid.NewString(),
		BookingID:      strings.TrimSpace(input.BookingID),
		Category:       input.Category,
		Status:         domain.StatusBroadcasting,
		Lat:            input.Lat,
		Lon:            input.Lon,
		MaxRadiusKm:    input.MaxRadiusKm,
		BroadcastCount: 1,
	}
	if err := attribution.Validate(); err != nil {
		return nil, err
	}

	if err := c.attributions.Create(ctx, attribution); err != nil {
		return nil, err
	}

	c.metrics.IncAttributionStarted(attribution.Category.String())
	c.logger.Info("attribution started",
		zap.String("attributionId", attribution.ID),
		zap.String("bookingId", attribution.BookingID),
		zap.String("category", attribution.Category.String()),
	)

	return c.broadcast(ctx, attribution)
}

// broadcast runs one full matching + notification round. The exclusion
// passed to the matcher is the per-category blacklist joined with the
// attribution's own accumulated exclusion set; the two are distinct
// mechanisms and only the latter is stored on the attribution.
func (c *Coordinator) broadcast(ctx context.Context, attribution *domain.Attribution) (*domain.Attribution, error) {
	blacklisted, err := c.ledger.GetBlacklisted(ctx, attribution.Category)
	if err != nil {
		return nil, err
	}

	candidates, err := c.finder.FindEligible(ctx, matcher.Query{
		Category:    attribution.Category,
		TargetLat:   attribution.Lat,
		TargetLon:   attribution.Lon,
		MaxRadiusKm: attribution.MaxRadiusKm,
		ExcludedIDs: unionIDs(blacklisted, attribution.ExcludedProfessionalIDs),
	})
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		expired, err := c.attributions.MarkExpiredIfOpen(ctx, attribution.ID)
		if err != nil {
			return nil, err
		}
		if expired {
			attribution.Status = domain.StatusExpired
			c.metrics.IncAttributionExpired(attribution.Category.String())
			c.publishEvent(ctx, queue.AttributionEventMessage{
				Type:          queue.EventExpired,
				AttributionID: attribution.ID,
				BookingID:     attribution.BookingID,
				OccurredAt:    c.now().UTC(),
			})
			c.logger.Warn("no eligible professionals, attribution expired",
				zap.String("attributionId", attribution.ID),
				zap.String("category", attribution.Category.String()),
			)
		}
		return attribution, nil
	}

	summary := c.buildSummary(ctx, attribution)
	outcomes, err := c.dispatcher.Broadcast(ctx, attribution.ID, candidates, summary)
	if err != nil {
		return nil, fmt.Errorf("broadcast failed: %w", err)
	}

	c.metrics.ObserveBroadcast(attribution.Category.String(), len(candidates))
	if failed := dispatch.FailedDeliveries(outcomes); failed > 0 {
		// Partial delivery failure never rolls back the attribution.
		c.metrics.AddOfferDeliveryFailures(attribution.Category.String(), failed)
		c.logger.Warn("broadcast completed with partial delivery failure",
			zap.String("attributionId", attribution.ID),
			zap.Int("failed", failed),
			zap.Int("total", len(candidates)),
		)
	}

	return attribution, nil
}

func (c *Coordinator) buildSummary(ctx context.Context, attribution *domain.Attribution) dispatch.BookingSummary {
	summary := dispatch.BookingSummary{
		BookingID: attribution.BookingID,
		Category:  attribution.Category,
		Priority:  domain.PriorityForBroadcast(attribution.BroadcastCount),
		RespondBy: c.now().UTC().Add(domain.ResponseWindowForBroadcast(attribution.BroadcastCount)),
	}

	booking, err := c.bookings.GetByID(ctx, attribution.BookingID)
	if err != nil {
		// The projection may lag behind the booking platform; offers still
		// go out with the coordinates-only summary.
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("failed to load booking summary",
				zap.String("bookingId", attribution.BookingID),
				zap.Error(err),
			)
		}
		return summary
	}

	summary.Summary = booking.Summary
	summary.Address = booking.Address
	summary.ScheduledAt = booking.ScheduledAt
	return summary
}

// Accept arbitrates the race: the store's conditional update decides the
// winner, everyone else gets a stale-action result. The winner may re-enter
// after a mid-accept store failure; the follow-up writes are idempotent, so
// a retry finishes whatever the first attempt left undone.
func (c *Coordinator) Accept(ctx context.Context, attributionID, professionalID string) (*ActionResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateActionInput(attributionID, professionalID); err != nil {
		return nil, err
	}

	err := c.attributions.Accept(ctx, attributionID, professionalID)
	if errors.Is(err, domain.ErrRaceLost) || errors.Is(err, domain.ErrInvalidTransition) {
		c.metrics.IncAcceptResult("lost")
		return &ActionResult{Success: false, Message: MsgMissionUnavailable}, nil
	}
	if err != nil {
		return nil, err
	}

	attribution, err := c.attributions.GetByID(ctx, attributionID)
	if err != nil {
		return nil, err
	}

	if err := c.bookings.Assign(ctx, attribution.BookingID, professionalID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		c.logger.Warn("booking projection missing during assignment",
			zap.String("bookingId", attribution.BookingID),
		)
	}

	if err := c.appendAcceptedResponse(ctx, attributionID, professionalID); err != nil {
		return nil, err
	}
	if err := c.ledger.ResetOnAcceptance(ctx, professionalID, attribution.Category); err != nil {
		return nil, err
	}

	if err := c.dispatcher.NotifyTaken(ctx, attributionID, professionalID); err != nil {
		// Best-effort: losing candidates finding out late is acceptable.
		c.logger.Warn("failed to notify candidate pool",
			zap.String("attributionId", attributionID),
			zap.Error(err),
		)
	}

	c.metrics.IncAcceptResult("won")
	c.publishEvent(ctx, queue.AttributionEventMessage{
		Type:           queue.EventAccepted,
		AttributionID:  attributionID,
		BookingID:      attribution.BookingID,
		ProfessionalID: &professionalID,
		OccurredAt:     c.now().UTC(),
	})
	c.logger.Info("attribution accepted",
		zap.String("attributionId", attributionID),
		zap.String("professionalId", professionalID),
	)

	return &ActionResult{Success: true, Message: msgMissionAccepted}, nil
}

// Refuse records the reply, penalizes the professional, and grows the
// exclusion set. It never changes the attribution status and never triggers
// a new broadcast round: candidates who already hold the offer stay in play.
func (c *Coordinator) Refuse(ctx context.Context, attributionID, professionalID string, reason *string) (*ActionResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateActionInput(attributionID, professionalID); err != nil {
		return nil, err
	}

	attribution, err := c.attributions.GetByID(ctx, attributionID)
	if err != nil {
		return nil, err
	}

	if err := c.appendResponse(ctx, attributionID, professionalID, domain.ResponseRefused, reason); err != nil {
		return nil, err
	}
	if _, err := c.ledger.RecordRefusal(ctx, professionalID, attribution.Category, attributionID); err != nil {
		return nil, err
	}
	if err := c.attributions.AppendExclusion(ctx, attributionID, professionalID); err != nil {
		return nil, err
	}

	c.logger.Info("attribution refused",
		zap.String("attributionId", attributionID),
		zap.String("professionalId", professionalID),
	)

	return &ActionResult{Success: true, Message: msgRefusalRecorded}, nil
}

// CancelAfterAccept backs the winner out, penalizes the cancellation, and
// re-broadcasts with the now-larger exclusion set.
func (c *Coordinator) CancelAfterAccept(ctx context.Context, attributionID, professionalID string, reason *string) (*ActionResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateActionInput(attributionID, professionalID); err != nil {
		return nil, err
	}

	err := c.attributions.ReleaseForRebroadcast(ctx, attributionID, professionalID)
	if errors.Is(err, domain.ErrInvalidTransition) {
		return &ActionResult{Success: false, Message: MsgMissionUnavailable}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := c.attributions.AppendExclusion(ctx, attributionID, professionalID); err != nil {
		return nil, err
	}

	attribution, err := c.attributions.GetByID(ctx, attributionID)
	if err != nil {
		return nil, err
	}

	if err := c.bookings.Unassign(ctx, attribution.BookingID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		c.logger.Warn("booking projection missing during unassignment",
			zap.String("bookingId", attribution.BookingID),
		)
	}

	if _, err := c.ledger.RecordCancellation(ctx, professionalID, attribution.Category, attributionID); err != nil {
		return nil, err
	}

	c.metrics.IncCancellation(attribution.Category.String())
	c.publishEvent(ctx, queue.AttributionEventMessage{
		Type:           queue.EventRebroadcast,
		AttributionID:  attributionID,
		BookingID:      attribution.BookingID,
		ProfessionalID: &professionalID,
		BroadcastCount: attribution.BroadcastCount,
		OccurredAt:     c.now().UTC(),
	})
	c.logger.Info("attribution released after cancellation, rebroadcasting",
		zap.String("attributionId", attributionID),
		zap.String("professionalId", professionalID),
		zap.Int("broadcastCount", attribution.BroadcastCount),
	)

	if _, err := c.broadcast(ctx, attribution); err != nil {
		return nil, err
	}

	return &ActionResult{Success: true, Message: msgCancellationHandled}, nil
}

// Expire closes a stale attribution. A no-op unless it is still open.
func (c *Coordinator) Expire(ctx context.Context, attributionID string) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(attributionID) == "" {
		return false, fmt.Errorf("%w: attribution id is required", domain.ErrValidation)
	}

	expired, err := c.attributions.MarkExpiredIfOpen(ctx, attributionID)
	if err != nil {
		return false, err
	}
	if !expired {
		return false, nil
	}

	attribution, err := c.attributions.GetByID(ctx, attributionID)
	if err != nil {
		return true, nil
	}

	c.metrics.IncAttributionExpired(attribution.Category.String())
	c.publishEvent(ctx, queue.AttributionEventMessage{
		Type:          queue.EventExpired,
		AttributionID: attributionID,
		BookingID:     attribution.BookingID,
		OccurredAt:    c.now().UTC(),
	})
	c.logger.Info("attribution expired", zap.String("attributionId", attributionID))
	return true, nil
}

// GetStatus returns the attribution snapshot with its response log.
func (c *Coordinator) GetStatus(ctx context.Context, attributionID string) (*Snapshot, error) {
	if strings.TrimSpace(attributionID) == "" {
		return nil, fmt.Errorf("%w: attribution id is required", domain.ErrValidation)
	}

	attribution, err := c.attributions.GetByID(ctx, strings.TrimSpace(attributionID))
	if err != nil {
		return nil, err
	}
	responses, err := c.responses.ListByAttribution(ctx, attribution.ID)
	if err != nil {
		return nil, err
	}

	return &Snapshot{Attribution: *attribution, Responses: responses}, nil
}

// appendAcceptedResponse is safe to re-enter: the winner retrying a
// partially failed accept must not duplicate the audit row.
func (c *Coordinator) appendAcceptedResponse(ctx context.Context, attributionID, professionalID string) error {
	existing, err := c.responses.ListByAttribution(ctx, attributionID)
	if err != nil {
		return err
	}
	for _, response := range existing {
		if response.ProfessionalID == professionalID && response.Type == domain.ResponseAccepted {
			return nil
		}
	}
	return c.appendResponse(ctx, attributionID, professionalID, domain.ResponseAccepted, nil)
}

func (c *Coordinator) appendResponse(ctx context.Context, attributionID, professionalID string, responseType domain.ResponseType, reason *string) error {
	return c.responses.Append(ctx, &domain.AttributionResponse{
		ID:             uuid.NewString(),
		AttributionID:  attributionID,
		ProfessionalID: professionalID,
		Type:           responseType,
		Reason:         normalizeOptionalString(reason),
		RespondedAt:    c.now().UTC(),
	})
}

func (c *Coordinator) publishEvent(ctx context.Context, event queue.AttributionEventMessage) {
	if c.events == nil {
		return
	}
	if err := c.events.PublishEvent(ctx, event); err != nil {
		c.logger.Warn("failed to publish attribution event",
			zap.String("attributionId", event.AttributionID),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}
}

func validateActionInput(attributionID, professionalID string) error {
	if strings.TrimSpace(attributionID) == "" {
		return fmt.Errorf("%w: attribution id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(professionalID) == "" {
		return fmt.Errorf("%w: professional id is required", domain.ErrValidation)
	}
	return nil
}

func unionIDs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	union := make([]string, 0, len(a)+len(b))
	for _, ids := range [][]string{a, b} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			union = append(union, id)
		}
	}
	return union
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
