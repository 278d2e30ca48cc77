package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/movenbook/attribution-engine/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	broadcastConcurrency  = 8
)

type offerRequest struct {
	AttributionID string  `json:"attributionId"`
	BookingID     string  `json:"bookingId"`
	Category      string  `json:"category"`
	Summary       string  `json:"summary"`
	Address       string  `json:"address"`
	ScheduledAt   *string `json:"scheduledAt,omitempty"`
	Priority      string  `json:"priority"`
	RespondBy     string  `json:"respondBy"`
	Recipient     string  `json:"recipient"`
	RecipientID   string  `json:"recipientId"`
	DistanceKm    float64 `json:"distanceKm"`
}

type takenRequest struct {
	AttributionID         string `json:"attributionId"`
	WinningProfessionalID string `json:"winningProfessionalId"`
}

// WebhookDispatcher posts offers to the notification platform's webhook.
// Broadcast fans out one request per candidate and collects per-candidate
// outcomes; an individual failure never aborts the rest.
type WebhookDispatcher struct {
	client   *resty.Client
	endpoint string
	logger   *zap.Logger
}

func NewWebhookDispatcher(endpoint string, logger *zap.Logger) (*WebhookDispatcher, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookDispatcherWithClient(endpoint, client, logger)
}

func NewWebhookDispatcherWithClient(endpoint string, client *resty.Client, logger *zap.Logger) (*WebhookDispatcher, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("dispatch endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid dispatch endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookDispatcher{
		client:   client,
		endpoint: trimmedEndpoint,
		logger:   logger,
	}, nil
}

func (d *WebhookDispatcher) Broadcast(
	ctx context.Context,
	attributionID string,
	candidates []domain.EligibleProfessional,
	summary BookingSummary,
) ([]DeliveryOutcome, error) {
	if d == nil || d.client == nil {
		return nil, fmt.Errorf("dispatcher is not initialized")
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	outcomes := make([]DeliveryOutcome, len(candidates))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(broadcastConcurrency)
	for i := range candidates {
		i := i
		g.Go(func() error {
			outcomes[i] = d.deliver(groupCtx, attributionID, candidates[i], summary)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, nil
}

func (d *WebhookDispatcher) deliver(
	ctx context.Context,
	attributionID string,
	candidate domain.EligibleProfessional,
	summary BookingSummary,
) DeliveryOutcome {
	req := offerRequest{
		AttributionID: attributionID,
		BookingID:     summary.BookingID,
		Category:      summary.Category.String(),
		Summary:       summary.Summary,
		Address:       summary.Address,
		Priority:      summary.Priority.String(),
		RespondBy:     summary.RespondBy.UTC().Format(time.RFC3339),
		Recipient:     candidate.Email,
		RecipientID:   candidate.ID,
		DistanceKm:    candidate.DistanceKm,
	}
	if summary.ScheduledAt != nil {
		formatted := summary.ScheduledAt.UTC().Format(time.RFC3339)
		req.ScheduledAt = &formatted
	}

	response, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(d.endpoint + "/offers")
	if err != nil {
		d.logger.Warn("offer delivery failed",
			zap.String("attributionId", attributionID),
			zap.String("professionalId", candidate.ID),
			zap.Error(err),
		)
		return DeliveryOutcome{ProfessionalID: candidate.ID, Error: err.Error()}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		message := fmt.Sprintf("dispatch webhook returned status %d", statusCode)
		d.logger.Warn("offer delivery rejected",
			zap.String("attributionId", attributionID),
			zap.String("professionalId", candidate.ID),
			zap.Int("status", statusCode),
		)
		return DeliveryOutcome{ProfessionalID: candidate.ID, Error: message}
	}

	return DeliveryOutcome{ProfessionalID: candidate.ID, Delivered: true}
}

func (d *WebhookDispatcher) NotifyTaken(ctx context.Context, attributionID, winningProfessionalID string) error {
	if d == nil || d.client == nil {
		return fmt.Errorf("dispatcher is not initialized")
	}

	response, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(takenRequest{
			AttributionID:         attributionID,
			WinningProfessionalID: winningProfessionalID,
		}).
		Post(d.endpoint + "/taken")
	if err != nil {
		return fmt.Errorf("taken notification failed: %w", err)
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("dispatch webhook returned status %d", statusCode)
	}
	return nil
}
