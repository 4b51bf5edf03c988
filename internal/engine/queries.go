package engine

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vendora/webhook-engine/internal/models"
)

// listUnprocessedEventIDs returns the ids of all events still awaiting
// dispatch, oldest first.
func listUnprocessedEventIDs(db *gorm.DB) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := db.Model(&models.WebhookEvent{}).
		Where("processed = ?", false).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// loadEvent fetches an event by id. Returns (nil, nil) when it does not
// exist.
func loadEvent(db *gorm.DB, id uuid.UUID) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := db.First(&event, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// markEventProcessed finalizes an event. A nil lastError means success
// (or no subscribers); a non-nil one records terminal exhaustion.
func markEventProcessed(db *gorm.DB, id uuid.UUID, retryCount int, lastError *string, now time.Time) error {
	updates := map[string]interface{}{
		"processed":    true,
		"processed_at": now,
		"retry_count":  retryCount,
		"updated_at":   now,
	}
	if lastError != nil {
		updates["error"] = *lastError
	} else {
		// Processed without an error means success or no subscribers;
		// clear any error left by an earlier failed attempt.
		updates["error"] = nil
	}
	return db.Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// scheduleEventRetry persists the incremented retry count and the next
// attempt time, leaving the event unprocessed.
func scheduleEventRetry(db *gorm.DB, id uuid.UUID, retryCount int, nextRetryAt time.Time, lastError string, now time.Time) error {
	updates := map[string]interface{}{
		"retry_count":   retryCount,
		"next_retry_at": nextRetryAt,
		"updated_at":    now,
	}
	if lastError != "" {
		updates["error"] = lastError
	}
	return db.Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// insertDelivery appends one attempt record. Delivery rows are never
// mutated after creation.
func insertDelivery(db *gorm.DB, delivery *models.WebhookDelivery) error {
	return db.Create(delivery).Error
}
