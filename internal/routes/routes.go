package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vendora/webhook-engine/internal/handlers"
)

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(
	app *fiber.App,
	health *handlers.HealthHandler,
	endpoints *handlers.EndpointsHandler,
	events *handlers.EventsHandler,
	providers *handlers.ProviderHandler,
) {
	app.Get("/health", health.HealthCheck)

	// Inbound provider callbacks live outside the API group: providers
	// POST the raw body here and sign it themselves.
	app.Post("/webhooks/stripe", providers.StripeCallback)

	api := app.Group("/api/v1")
	{
		api.Post("/events", events.CreateEvent)
		api.Get("/events", events.GetEvents)
		api.Get("/events/:id/deliveries", events.GetEventDeliveries)

		api.Post("/endpoints", endpoints.Register)
		api.Get("/endpoints", endpoints.List)
		api.Patch("/endpoints/:id", endpoints.Update)
		api.Delete("/endpoints/:id", endpoints.Delete)
	}
}
