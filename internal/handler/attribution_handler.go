package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/movenbook/attribution-engine/internal/domain"
	"github.com/movenbook/attribution-engine/internal/service"
)

// AttributionService is the coordinator surface consumed by the HTTP layer.
type AttributionService interface {
	Start(ctx context.Context, input service.StartInput) (*domain.Attribution, error)
	Accept(ctx context.Context, attributionID, professionalID string) (*service.ActionResult, error)
	Refuse(ctx context.Context, attributionID, professionalID string, reason *string) (*service.ActionResult, error)
	CancelAfterAccept(ctx context.Context, attributionID, professionalID string, reason *string) (*service.ActionResult, error)
	Expire(ctx context.Context, attributionID string) (bool, error)
	GetStatus(ctx context.Context, attributionID string) (*service.Snapshot, error)
}

type AttributionHandler struct {
	service AttributionService
}

func NewAttributionHandler(service AttributionService) (*AttributionHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("attribution service is required")
	}
	return &AttributionHandler{service: service}, nil
}

// RegisterAttributionRoutes mounts the attribution API. The optional
// callbackLimiter middleware throttles the professional-facing action routes;
// the admin and read routes stay unthrottled.
func RegisterAttributionRoutes(router fiber.Router, service AttributionService, callbackLimiter fiber.Handler) error {
	h, err := NewAttributionHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/attributions", h.StartAttribution)
	v1.Get("/attributions/:id", h.GetAttribution)
	v1.Post("/attributions/:id/expire", h.ExpireAttribution)

	actions := v1.Group("")
	if callbackLimiter != nil {
		actions = v1.Group("", callbackLimiter)
	}
	actions.Post("/attributions/:id/accept", h.AcceptAttribution)
	actions.Post("/attributions/:id/refuse", h.RefuseAttribution)
	actions.Post("/attributions/:id/cancel", h.CancelAttribution)

	return nil
}

type startAttributionRequest struct {
	BookingID   string  `json:"bookingId"`
	Category    string  `json:"category"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	MaxRadiusKm float64 `json:"maxRadiusKm"`
}

type professionalActionRequest struct {
	ProfessionalID string  `json:"professionalId"`
	Reason         *string `json:"reason,omitempty"`
}

type actionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type attributionResponse struct {
	ID                      string     `json:"id"`
	BookingID               string     `json:"bookingId"`
	Category                string     `json:"category"`
	Status                  string     `json:"status"`
	Lat                     float64    `json:"lat"`
	Lon                     float64    `json:"lon"`
	MaxRadiusKm             float64    `json:"maxRadiusKm"`
	AcceptedProfessionalID  *string    `json:"acceptedProfessionalId,omitempty"`
	ExcludedProfessionalIDs []string   `json:"excludedProfessionalIds,omitempty"`
	BroadcastCount          int        `json:"broadcastCount"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt"`
}

type responseLogItem struct {
	ProfessionalID string    `json:"professionalId"`
	Type           string    `json:"type"`
	Reason         *string   `json:"reason,omitempty"`
	RespondedAt    time.Time `json:"respondedAt"`
}

type attributionStatusResponse struct {
	attributionResponse
	Responses []responseLogItem `json:"responses"`
}

func (h *AttributionHandler) StartAttribution(c *fiber.Ctx) error {
	var req startAttributionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	category, err := domain.ParseCategoryFromString(req.Category)
	if err != nil {
		return toHTTPError(err)
	}

	attribution, err := h.service.Start(c.Context(), service.StartInput{
		BookingID:   strings.TrimSpace(req.BookingID),
		Category:    category,
		Lat:         req.Lat,
		Lon:         req.Lon,
		MaxRadiusKm: req.MaxRadiusKm,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toAttributionResponse(attribution))
}

func (h *AttributionHandler) GetAttribution(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	snapshot, err := h.service.GetStatus(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]responseLogItem, 0, len(snapshot.Responses))
	for _, response := range snapshot.Responses {
		items = append(items, responseLogItem{
			ProfessionalID: response.ProfessionalID,
			Type:           response.Type.String(),
			Reason:         response.Reason,
			RespondedAt:    response.RespondedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(attributionStatusResponse{
		attributionResponse: toAttributionResponse(&snapshot.Attribution),
		Responses:           items,
	})
}

func (h *AttributionHandler) AcceptAttribution(c *fiber.Ctx) error {
	id, req, err := parseActionRequest(c)
	if err != nil {
		return err
	}

	result, err := h.service.Accept(c.Context(), id, req.ProfessionalID)
	if errors.Is(err, domain.ErrDataUnavailable) {
		// One immediate retry: accepting is the one action where a dropped
		// request can cost the professional the job.
		result, err = h.service.Accept(c.Context(), id, req.ProfessionalID)
	}
	if err != nil {
		return toHTTPError(err)
	}

	return writeActionResult(c, result)
}

func (h *AttributionHandler) RefuseAttribution(c *fiber.Ctx) error {
	id, req, err := parseActionRequest(c)
	if err != nil {
		return err
	}

	result, err := h.service.Refuse(c.Context(), id, req.ProfessionalID, req.Reason)
	if err != nil {
		return toHTTPError(err)
	}

	return writeActionResult(c, result)
}

func (h *AttributionHandler) CancelAttribution(c *fiber.Ctx) error {
	id, req, err := parseActionRequest(c)
	if err != nil {
		return err
	}

	result, err := h.service.CancelAfterAccept(c.Context(), id, req.ProfessionalID, req.Reason)
	if err != nil {
		return toHTTPError(err)
	}

	return writeActionResult(c, result)
}

func (h *AttributionHandler) ExpireAttribution(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	expired, err := h.service.Expire(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"attributionId": id,
		"expired":       expired,
	})
}

func parseActionRequest(c *fiber.Ctx) (string, professionalActionRequest, error) {
	var req professionalActionRequest
	if err := c.BodyParser(&req); err != nil {
		return "", professionalActionRequest{}, fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	req.ProfessionalID = strings.TrimSpace(req.ProfessionalID)
	return strings.TrimSpace(c.Params("id")), req, nil
}

// writeActionResult maps a lost race or stale action to 409: the request was
// well-formed, the mission just is not available to this caller anymore.
func writeActionResult(c *fiber.Ctx, result *service.ActionResult) error {
	status := fiber.StatusOK
	if !result.Success {
		status = fiber.StatusConflict
	}

	return c.Status(status).JSON(actionResponse{
		Success: result.Success,
		Message: result.Message,
	})
}

func toAttributionResponse(a *domain.Attribution) attributionResponse {
	if a == nil {
		return attributionResponse{}
	}

	return attributionResponse{
		ID:                      a.ID,
		BookingID:               a.BookingID,
		Category:                a.Category.String(),
		Status:                  a.Status.String(),
		Lat:                     a.Lat,
		Lon:                     a.Lon,
		MaxRadiusKm:             a.MaxRadiusKm,
		AcceptedProfessionalID:  a.AcceptedProfessionalID,
		ExcludedProfessionalIDs: a.ExcludedProfessionalIDs,
		BroadcastCount:          a.BroadcastCount,
		CreatedAt:               a.CreatedAt,
		UpdatedAt:               a.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDataUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, "data store unavailable")
	default:
		return err
	}
}
