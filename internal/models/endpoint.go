package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// RetryPolicy is stored per endpoint. The dispatcher currently applies a
// single global backoff schedule; the policy is persisted so per-endpoint
// schedules can be honored without a migration.
type RetryPolicy struct {
	MaxRetries        int `json:"max_retries"`
	BackoffMultiplier int `json:"backoff_multiplier"`
	InitialDelayMs    int `json:"initial_delay_ms"`
}

// DefaultRetryPolicy matches the engine-wide defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        DefaultMaxRetries,
		BackoffMultiplier: 2,
		InitialDelayMs:    1000,
	}
}

// WebhookEndpoint is a registered delivery target. Deletion is a soft
// delete: IsActive flips to false and the row stays referenced by
// historical deliveries.
type WebhookEndpoint struct {
	ID          uuid.UUID                             `gorm:"type:uuid;primary_key" json:"id"`
	URL         string                                `gorm:"not null" json:"url"`
	Events      datatypes.JSONType[[]string]          `json:"events"`
	Secret      string                                `gorm:"not null" json:"secret,omitempty"`
	IsActive    bool                                  `gorm:"not null;default:true" json:"is_active"`
	RetryPolicy datatypes.JSONType[RetryPolicy]       `json:"retry_policy"`
	Headers     datatypes.JSONType[map[string]string] `json:"headers,omitempty"`
	CreatedAt   time.Time                             `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time                             `gorm:"not null" json:"updated_at"`
}

func (WebhookEndpoint) TableName() string {
	return "webhook_endpoints"
}

// SubscribesTo reports whether the endpoint's subscription set contains
// eventType. Matching is exact, no wildcards.
func (e *WebhookEndpoint) SubscribesTo(eventType string) bool {
	for _, t := range e.Events.Data() {
		if t == eventType {
			return true
		}
	}
	return false
}
