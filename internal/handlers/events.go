package handlers

import (
	"encoding/json"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vendora/webhook-engine/internal/engine"
	"github.com/vendora/webhook-engine/internal/models"
)

// EventsHandler exposes event ingestion and the event/delivery audit
// trail. Exhausted events (processed with an error) are visible here;
// this is the engine's dead-letter query surface.
type EventsHandler struct {
	DB     *gorm.DB
	Engine *engine.Engine
	Logger *zap.Logger
}

func NewEventsHandler(db *gorm.DB, eng *engine.Engine, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{DB: db, Engine: eng, Logger: logger}
}

type createEventRequest struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	Source string          `json:"source"`
}

// CreateEvent handles POST /api/v1/events for in-cluster producers.
func (h *EventsHandler) CreateEvent(c *fiber.Ctx) error {
	var req createEventRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Type == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "type is required",
		})
	}

	event, err := h.Engine.CreateEvent(req.Type, req.Data, req.Source)
	if err != nil {
		h.Logger.Error("Failed to create event",
			zap.String("event_type", req.Type),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create event",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(event)
}

type EventsResponse struct {
	Events  []models.WebhookEvent `json:"events"`
	HasMore bool                  `json:"has_more"`
}

// GetEvents handles GET /api/v1/events.
// Query parameters:
//   - limit (optional, default 25)
//   - offset (optional, default 0)
//   - processed (optional): "true" or "false" filter
//   - type (optional): exact event type filter
func (h *EventsHandler) GetEvents(c *fiber.Ctx) error {
	limit := 25
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = parsed
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil || parsed < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "offset must be a non-negative integer",
			})
		}
		offset = parsed
	}

	query := h.DB.Model(&models.WebhookEvent{}).
		Order("created_at DESC").
		Limit(limit + 1). // fetch one extra to determine has_more
		Offset(offset)

	if processedStr := c.Query("processed"); processedStr != "" {
		processed, err := strconv.ParseBool(processedStr)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "processed must be a boolean",
			})
		}
		query = query.Where("processed = ?", processed)
	}
	if eventType := c.Query("type"); eventType != "" {
		query = query.Where("type = ?", eventType)
	}

	var events []models.WebhookEvent
	if err := query.Find(&events).Error; err != nil {
		h.Logger.Error("Failed to query webhook events",
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch events",
		})
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}
	if events == nil {
		events = []models.WebhookEvent{}
	}

	return c.JSON(EventsResponse{
		Events:  events,
		HasMore: hasMore,
	})
}

// GetEventDeliveries handles GET /api/v1/events/:id/deliveries, the
// full attempt audit trail for one event.
func (h *EventsHandler) GetEventDeliveries(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid event id",
		})
	}

	var deliveries []models.WebhookDelivery
	err = h.DB.
		Where("event_id = ?", id).
		Order("created_at ASC").
		Find(&deliveries).Error
	if err != nil {
		h.Logger.Error("Failed to query webhook deliveries",
			zap.String("event_id", id.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch deliveries",
		})
	}
	if deliveries == nil {
		deliveries = []models.WebhookDelivery{}
	}

	return c.JSON(fiber.Map{
		"deliveries": deliveries,
	})
}
