package provider

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vendora/webhook-engine/internal/models"
	"github.com/vendora/webhook-engine/internal/signature"
)

var (
	// ErrMissingSignature is returned when the callback carries no
	// signature header.
	ErrMissingSignature = errors.New("missing provider signature")
	// ErrInvalidSignature is returned when the signature does not match
	// the raw body. Surfaced to callers as an authentication failure.
	ErrInvalidSignature = errors.New("invalid provider signature")
)

// StripeEvent is the typed shape of an inbound Stripe callback body.
type StripeEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EventIngester is the slice of the engine the gateway needs.
type EventIngester interface {
	CreateEvent(eventType string, data any, source string) (*models.WebhookEvent, error)
}

// StripeGateway verifies inbound Stripe callbacks and translates them
// into internal events. Provider-specific side effects run synchronously
// before the callback is acknowledged.
type StripeGateway struct {
	engine   EventIngester
	secret   string
	logger   *zap.Logger
	handlers map[string]func(StripeEvent) error
}

func NewStripeGateway(engine EventIngester, webhookSecret string, logger *zap.Logger) *StripeGateway {
	return &StripeGateway{
		engine:   engine,
		secret:   webhookSecret,
		logger:   logger,
		handlers: make(map[string]func(StripeEvent) error),
	}
}

// On registers a synchronous side-effect handler for a Stripe event
// type (e.g. "payment_intent.succeeded").
func (g *StripeGateway) On(eventType string, fn func(StripeEvent) error) {
	g.handlers[eventType] = fn
}

// VerifySignature checks a Stripe-Signature header ("t=...,v1=...,...")
// against the raw body using a constant-time comparison.
func (g *StripeGateway) VerifySignature(body []byte, header string) error {
	if header == "" {
		return ErrMissingSignature
	}
	parts := signature.ParseHeader(header)
	sig, ok := parts["v1"]
	if !ok || sig == "" {
		return ErrMissingSignature
	}
	if !signature.Verify(body, g.secret, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// HandleCallback verifies, parses and ingests one provider callback.
// No event is created when verification fails.
func (g *StripeGateway) HandleCallback(body []byte, sigHeader string) (*models.WebhookEvent, error) {
	if err := g.VerifySignature(body, sigHeader); err != nil {
		return nil, err
	}

	var stripeEvent StripeEvent
	if err := json.Unmarshal(body, &stripeEvent); err != nil {
		return nil, fmt.Errorf("failed to parse stripe event: %w", err)
	}
	if stripeEvent.Type == "" {
		return nil, fmt.Errorf("stripe event has no type")
	}

	event, err := g.engine.CreateEvent("stripe."+stripeEvent.Type, stripeEvent.Data, models.SourceStripe)
	if err != nil {
		return nil, err
	}

	if handler, ok := g.handlers[stripeEvent.Type]; ok {
		if err := handler(stripeEvent); err != nil {
			g.logger.Error("Stripe side-effect handler failed",
				zap.String("stripe_event_type", stripeEvent.Type),
				zap.String("stripe_event_id", stripeEvent.ID),
				zap.Error(err),
			)
			return nil, fmt.Errorf("stripe handler for %s failed: %w", stripeEvent.Type, err)
		}
	}

	g.logger.Info("Stripe callback accepted",
		zap.String("stripe_event_type", stripeEvent.Type),
		zap.String("stripe_event_id", stripeEvent.ID),
		zap.String("event_id", event.ID.String()),
	)
	return event, nil
}
