package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vendora/webhook-engine/internal/registry"
)

// EndpointsHandler exposes endpoint registry operations over HTTP.
type EndpointsHandler struct {
	Registry *registry.Registry
	Logger   *zap.Logger
}

func NewEndpointsHandler(reg *registry.Registry, logger *zap.Logger) *EndpointsHandler {
	return &EndpointsHandler{Registry: reg, Logger: logger}
}

type registerEndpointRequest struct {
	URL               string            `json:"url"`
	Events            []string          `json:"events"`
	Secret            string            `json:"secret"`
	MaxRetries        int               `json:"max_retries"`
	BackoffMultiplier int               `json:"backoff_multiplier"`
	InitialDelayMs    int               `json:"initial_delay_ms"`
	Headers           map[string]string `json:"headers"`
}

type updateEndpointRequest struct {
	URL      *string           `json:"url"`
	Events   []string          `json:"events"`
	IsActive *bool             `json:"is_active"`
	Headers  map[string]string `json:"headers"`
}

// Register handles POST /api/v1/endpoints.
func (h *EndpointsHandler) Register(c *fiber.Ctx) error {
	var req registerEndpointRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	endpoint, err := h.Registry.Register(req.URL, req.Events, &registry.RegisterOptions{
		Secret:            req.Secret,
		MaxRetries:        req.MaxRetries,
		BackoffMultiplier: req.BackoffMultiplier,
		InitialDelayMs:    req.InitialDelayMs,
		Headers:           req.Headers,
	})
	if err != nil {
		h.Logger.Error("Failed to register endpoint",
			zap.String("url", req.URL),
			zap.Error(err),
		)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	// The secret is returned once, at registration time.
	return c.Status(fiber.StatusCreated).JSON(endpoint)
}

// List handles GET /api/v1/endpoints.
func (h *EndpointsHandler) List(c *fiber.Ctx) error {
	endpoints := h.Registry.List()
	for i := range endpoints {
		endpoints[i].Secret = ""
	}
	return c.JSON(fiber.Map{
		"endpoints": endpoints,
	})
}

// Update handles PATCH /api/v1/endpoints/:id.
func (h *EndpointsHandler) Update(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid endpoint id",
		})
	}

	var req updateEndpointRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	endpoint, err := h.Registry.Update(id, registry.EndpointUpdate{
		URL:      req.URL,
		Events:   req.Events,
		IsActive: req.IsActive,
		Headers:  req.Headers,
	})
	if err != nil {
		h.Logger.Error("Failed to update endpoint",
			zap.String("endpoint_id", id.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to update endpoint",
		})
	}
	if endpoint == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "endpoint not found",
		})
	}

	endpoint.Secret = ""
	return c.JSON(endpoint)
}

// Delete handles DELETE /api/v1/endpoints/:id (soft delete).
func (h *EndpointsHandler) Delete(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid endpoint id",
		})
	}

	deleted, err := h.Registry.Delete(id)
	if err != nil {
		h.Logger.Error("Failed to delete endpoint",
			zap.String("endpoint_id", id.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete endpoint",
		})
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "endpoint not found",
		})
	}

	return c.JSON(fiber.Map{
		"deleted": true,
	})
}
