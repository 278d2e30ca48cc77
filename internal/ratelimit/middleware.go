package ratelimit

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type actorPayload struct {
	ProfessionalID string `json:"professionalId"`
}

// CallbackLimiter throttles professional action callbacks per professional.
// Requests without a parseable professional id fall back to the client IP so
// malformed floods are still capped. Limiter errors fail open: a Redis outage
// must not take the accept path down with it.
func CallbackLimiter(limiter RateLimiter, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if limiter == nil {
			return c.Next()
		}

		actor := actorFromRequest(c)
		allowed, err := limiter.Allow(c.Context(), actor)
		if err != nil {
			logger.Warn("rate limiter unavailable, failing open",
				zap.String("actor", actor),
				zap.Error(err),
			)
			return c.Next()
		}
		if !allowed {
			return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")
		}

		return c.Next()
	}
}

func actorFromRequest(c *fiber.Ctx) string {
	var payload actorPayload
	if err := json.Unmarshal(c.Body(), &payload); err == nil {
		if id := strings.TrimSpace(payload.ProfessionalID); id != "" {
			return id
		}
	}
	return "ip:" + c.IP()
}
