package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/vendora/webhook-engine/internal/provider"
)

// ProviderHandler receives inbound payment-provider callbacks.
type ProviderHandler struct {
	Stripe *provider.StripeGateway
	Logger *zap.Logger
}

func NewProviderHandler(stripe *provider.StripeGateway, logger *zap.Logger) *ProviderHandler {
	return &ProviderHandler{Stripe: stripe, Logger: logger}
}

// StripeCallback handles POST /webhooks/stripe. Responds 200 on
// accepted, 400 on bad or missing signature; Stripe owns its own retry
// policy for rejected callbacks.
func (h *ProviderHandler) StripeCallback(c *fiber.Ctx) error {
	body := c.Body()
	sigHeader := c.Get("Stripe-Signature")

	event, err := h.Stripe.HandleCallback(body, sigHeader)
	if err != nil {
		if errors.Is(err, provider.ErrMissingSignature) || errors.Is(err, provider.ErrInvalidSignature) {
			h.Logger.Warn("Rejected stripe callback",
				zap.Error(err),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "signature verification failed",
			})
		}
		h.Logger.Error("Failed to process stripe callback",
			zap.Error(err),
		)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"received": true,
		"event_id": event.ID.String(),
	})
}
