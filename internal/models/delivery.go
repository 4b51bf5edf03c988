package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// WebhookDelivery is one attempt record of one event to one endpoint.
// Rows are append-only: written once by the dispatcher, never mutated.
type WebhookDelivery struct {
	ID              uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	WebhookID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"webhook_id"`
	EventID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"event_id"`
	URL             string         `gorm:"not null" json:"url"`
	HTTPStatus      *int           `json:"http_status"`
	ResponseBody    *string        `json:"response_body"`
	ResponseHeaders datatypes.JSON `json:"response_headers"`
	DeliveredAt     *time.Time     `json:"delivered_at"`
	Error           *string        `json:"error"`
	RetryCount      int            `gorm:"not null;default:0" json:"retry_count"`
	NextRetryAt     *time.Time     `json:"next_retry_at"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
}

func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}
