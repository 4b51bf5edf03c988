package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Event sources. Internal events come from application code in this
// process or over the broker; provider events come from verified
// third-party callbacks.
const (
	SourceInternal = "internal"
	SourceStripe   = "stripe"
	SourceExternal = "external"
)

// DefaultMaxRetries is applied to every event at creation time.
const DefaultMaxRetries = 3

// WebhookEvent is a fact to be fanned out to subscribed endpoints.
// Processing state is owned exclusively by the dispatcher; once
// Processed is true no further delivery attempts are made.
type WebhookEvent struct {
	ID          uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	Type        string         `gorm:"not null;index" json:"type"`
	Source      string         `gorm:"not null;default:'internal'" json:"source"`
	Data        datatypes.JSON `json:"data"`
	Timestamp   time.Time      `gorm:"not null" json:"timestamp"`
	Processed   bool           `gorm:"not null;default:false;index:idx_webhook_events_pending" json:"processed"`
	ProcessedAt *time.Time     `json:"processed_at"`
	RetryCount  int            `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries  int            `gorm:"not null;default:3" json:"max_retries"`
	NextRetryAt *time.Time     `gorm:"index:idx_webhook_events_pending" json:"next_retry_at"`
	LastError   *string        `gorm:"column:error" json:"error"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
