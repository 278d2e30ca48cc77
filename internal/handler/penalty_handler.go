package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/movenbook/attribution-engine/internal/domain"
)

// PenaltyService is the ledger surface consumed by the admin routes.
type PenaltyService interface {
	RecordsFor(ctx context.Context, professionalID string) ([]domain.PenaltyRecord, error)
	LiftManually(ctx context.Context, professionalID string, category domain.Category) error
}

type PenaltyHandler struct {
	service PenaltyService
}

func NewPenaltyHandler(service PenaltyService) (*PenaltyHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("penalty service is required")
	}
	return &PenaltyHandler{service: service}, nil
}

func RegisterPenaltyRoutes(router fiber.Router, service PenaltyService) error {
	h, err := NewPenaltyHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/professionals/:id/penalties", h.ListPenalties)
	v1.Post("/professionals/:id/penalties/:category/lift", h.LiftBlacklist)

	return nil
}

type penaltyRecordResponse struct {
	Category            string     `json:"category"`
	ConsecutiveRefusals int        `json:"consecutiveRefusals"`
	TotalRefusals       int        `json:"totalRefusals"`
	Blacklisted         bool       `json:"blacklisted"`
	BlacklistedAt       *time.Time `json:"blacklistedAt,omitempty"`
	LastAttributionID   *string    `json:"lastAttributionId,omitempty"`
}

func (h *PenaltyHandler) ListPenalties(c *fiber.Ctx) error {
	professionalID := strings.TrimSpace(c.Params("id"))
	if professionalID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "professional id is required")
	}

	records, err := h.service.RecordsFor(c.Context(), professionalID)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]penaltyRecordResponse, 0, len(records))
	for _, record := range records {
		items = append(items, penaltyRecordResponse{
			Category:            record.Category.String(),
			ConsecutiveRefusals: record.ConsecutiveRefusals,
			TotalRefusals:       record.TotalRefusals,
			Blacklisted:         record.Blacklisted,
			BlacklistedAt:       record.BlacklistedAt,
			LastAttributionID:   record.LastAttributionID,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"professionalId": professionalID,
		"penalties":      items,
	})
}

func (h *PenaltyHandler) LiftBlacklist(c *fiber.Ctx) error {
	professionalID := strings.TrimSpace(c.Params("id"))
	if professionalID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "professional id is required")
	}

	category, err := domain.ParseCategoryFromString(c.Params("category"))
	if err != nil {
		return toHTTPError(err)
	}

	if err := h.service.LiftManually(c.Context(), professionalID, category); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"professionalId": professionalID,
		"category":       category.String(),
		"blacklisted":    false,
	})
}
