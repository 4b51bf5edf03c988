package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/vendora/webhook-engine/internal/models"
	"github.com/vendora/webhook-engine/internal/signature"
)

const userAgent = "vendora-webhook-engine/1.0"

type deliveryOutcome struct {
	success bool
	errMsg  string
}

// webhookPayload is the stable wire representation posted to endpoints.
type webhookPayload struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// deliver performs one signed HTTP POST of event to endpoint. Every
// attempt, successful or not, writes exactly one delivery record.
func (e *Engine) deliver(event *models.WebhookEvent, endpoint *models.WebhookEndpoint) deliveryOutcome {
	delivery := &models.WebhookDelivery{
		ID:         uuid.New(),
		WebhookID:  endpoint.ID,
		EventID:    event.ID,
		URL:        endpoint.URL,
		RetryCount: event.RetryCount,
		CreatedAt:  e.now().UTC(),
	}

	payload := webhookPayload{
		ID:        event.ID.String(),
		Type:      event.Type,
		Data:      json.RawMessage(event.Data),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return e.failDelivery(delivery, fmt.Sprintf("failed to marshal payload: %v", err))
	}

	req, err := http.NewRequest(http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return e.failDelivery(delivery, fmt.Sprintf("failed to build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-Signature", signature.Sign(body, endpoint.Secret))
	req.Header.Set("X-Webhook-Event-Type", event.Type)
	req.Header.Set("X-Webhook-Event-Id", event.ID.String())
	for key, value := range endpoint.Headers.Data() {
		req.Header.Set(key, value)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		// Transport error or timeout: no HTTP status to record.
		return e.failDelivery(delivery, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, int64(e.cfg.MaxResponseBodySize)))
	if readErr != nil {
		e.logger.Warn("Failed to read endpoint response body",
			zap.String("endpoint_id", endpoint.ID.String()),
			zap.Error(readErr),
		)
	}
	bodyStr := string(respBody)
	delivery.ResponseBody = &bodyStr
	if headerJSON, err := json.Marshal(resp.Header); err == nil {
		delivery.ResponseHeaders = datatypes.JSON(headerJSON)
	}

	status := resp.StatusCode
	delivery.HTTPStatus = &status
	deliveredAt := e.now().UTC()
	delivery.DeliveredAt = &deliveredAt

	if status < 200 || status >= 300 {
		// Completed exchange, failed attempt: keep status and body for
		// diagnosis and let reconciliation drive the retry.
		errMsg := fmt.Sprintf("endpoint returned status %d", status)
		delivery.Error = &errMsg
		e.recordDelivery(delivery)
		return deliveryOutcome{success: false, errMsg: errMsg}
	}

	e.recordDelivery(delivery)
	return deliveryOutcome{success: true}
}

func (e *Engine) failDelivery(delivery *models.WebhookDelivery, errMsg string) deliveryOutcome {
	delivery.Error = &errMsg
	e.recordDelivery(delivery)
	e.logger.Warn("Webhook delivery failed",
		zap.String("event_id", delivery.EventID.String()),
		zap.String("webhook_id", delivery.WebhookID.String()),
		zap.String("url", delivery.URL),
		zap.String("error", errMsg),
	)
	return deliveryOutcome{success: false, errMsg: errMsg}
}

func (e *Engine) recordDelivery(delivery *models.WebhookDelivery) {
	if err := insertDelivery(e.db, delivery); err != nil {
		e.logger.Error("Failed to record webhook delivery",
			zap.String("event_id", delivery.EventID.String()),
			zap.String("webhook_id", delivery.WebhookID.String()),
			zap.Error(err),
		)
	}
}
