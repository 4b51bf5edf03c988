package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vendora/webhook-engine/internal/models"
)

// Start launches the background dispatch loop.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.run()
	e.logger.Info("Delivery dispatcher started",
		zap.Duration("interval", e.cfg.Interval),
		zap.Int("batch_size", e.cfg.BatchSize),
	)
}

// Stop halts the dispatch loop and waits for an in-flight tick to finish.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	e.wg.Wait()
	e.logger.Info("Delivery dispatcher stopped")
}

func (e *Engine) run() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick runs one dispatch pass. Overlapping runs are skipped: if the
// previous batch is still delivering, this tick is a no-op.
func (e *Engine) tick() {
	if !e.busy.CompareAndSwap(false, true) {
		return
	}
	defer e.busy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Dispatch tick panicked",
				zap.Any("panic", r),
			)
		}
	}()

	e.dispatchPending()
}

// dispatchPending drains one bounded batch from the pending queue and
// reconciles each event. A bad event never stops the rest of the batch.
func (e *Engine) dispatchPending() {
	ids := e.dequeue(e.cfg.BatchSize)

	for _, id := range ids {
		event, err := loadEvent(e.db, id)
		if err != nil {
			e.logger.Error("Failed to load webhook event",
				zap.String("event_id", id.String()),
				zap.Error(err),
			)
			e.requeue(id)
			continue
		}
		if event == nil || event.Processed {
			continue
		}
		if event.NextRetryAt != nil && event.NextRetryAt.After(e.now()) {
			// Not due yet, put it back for a future tick.
			e.requeue(id)
			continue
		}
		e.processEvent(event)
	}
}

// processEvent delivers one event to every matching endpoint and
// reconciles the outcome. Deliveries run concurrently and are all
// awaited; one slow endpoint never cancels its siblings.
func (e *Engine) processEvent(event *models.WebhookEvent) {
	endpoints := e.registry.Matching(event.Type)

	if len(endpoints) == 0 {
		// Nobody subscribes: the event is complete, no retry semantics.
		if err := markEventProcessed(e.db, event.ID, event.RetryCount, nil, e.now().UTC()); err != nil {
			e.logger.Error("Failed to mark event processed",
				zap.String("event_id", event.ID.String()),
				zap.Error(err),
			)
			e.requeue(event.ID)
		}
		return
	}

	outcomes := make([]deliveryOutcome, len(endpoints))
	var wg sync.WaitGroup
	for i := range endpoints {
		wg.Add(1)
		go func(i int, endpoint models.WebhookEndpoint) {
			defer wg.Done()
			outcomes[i] = e.deliver(event, &endpoint)
		}(i, endpoints[i])
	}
	wg.Wait()

	allSucceeded := true
	var firstError string
	for _, outcome := range outcomes {
		if !outcome.success {
			allSucceeded = false
			if firstError == "" {
				firstError = outcome.errMsg
			}
		}
	}

	now := e.now().UTC()
	if allSucceeded {
		if err := markEventProcessed(e.db, event.ID, event.RetryCount, nil, now); err != nil {
			e.logger.Error("Failed to mark event processed",
				zap.String("event_id", event.ID.String()),
				zap.Error(err),
			)
			e.requeue(event.ID)
			return
		}
		e.logger.Info("Webhook event delivered",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", event.Type),
			zap.Int("endpoint_count", len(endpoints)),
		)
		return
	}

	retryCount := event.RetryCount + 1
	if retryCount >= event.MaxRetries {
		errMsg := "Max retries exceeded"
		if err := markEventProcessed(e.db, event.ID, retryCount, &errMsg, now); err != nil {
			e.logger.Error("Failed to mark event exhausted",
				zap.String("event_id", event.ID.String()),
				zap.Error(err),
			)
			e.requeue(event.ID)
			return
		}
		e.logger.Warn("Webhook event exhausted retries",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", event.Type),
			zap.Int("retry_count", retryCount),
			zap.String("last_error", firstError),
		)
		return
	}

	nextRetryAt := now.Add(backoffDelay(retryCount))
	if err := scheduleEventRetry(e.db, event.ID, retryCount, nextRetryAt, firstError, now); err != nil {
		e.logger.Error("Failed to schedule event retry",
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
	}
	// Back in the queue either way; the durable record is the source of
	// truth and re-processing a failed write is safe.
	e.requeue(event.ID)
	e.logger.Info("Webhook event scheduled for retry",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.Type),
		zap.Int("retry_count", retryCount),
		zap.Time("next_retry_at", nextRetryAt),
		zap.String("last_error", firstError),
	)
}
