package engine

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vendora/webhook-engine/internal/config"
	"github.com/vendora/webhook-engine/internal/models"
	"github.com/vendora/webhook-engine/internal/registry"
)

// Engine is the webhook event delivery engine: it ingests events,
// dispatches them to subscribed endpoints on a periodic tick, and owns
// every event state transition. One instance drives retries per
// deployment; delivery is at-least-once.
type Engine struct {
	db       *gorm.DB
	registry *registry.Registry
	cfg      *config.DispatcherConfig
	logger   *zap.Logger
	client   *http.Client
	now      func() time.Time

	mu     sync.Mutex
	queue  []uuid.UUID
	queued map[uuid.UUID]struct{}

	listenersMu sync.RWMutex
	listeners   []func(*models.WebhookEvent)

	busy     atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an engine with its dependencies injected. The HTTP client
// carries the delivery timeout; tests swap now for a fake clock.
func New(db *gorm.DB, reg *registry.Registry, cfg *config.DispatcherConfig, logger *zap.Logger) *Engine {
	return &Engine{
		db:       db,
		registry: reg,
		cfg:      cfg,
		logger:   logger,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
		now:      time.Now,
		queued:   make(map[uuid.UUID]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Registry exposes the endpoint registry the engine dispatches against.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// CreateEvent persists a new unprocessed event, enqueues it for
// dispatch and notifies local listeners synchronously. A persistence
// failure is returned to the caller and nothing is enqueued.
func (e *Engine) CreateEvent(eventType string, data any, source string) (*models.WebhookEvent, error) {
	if eventType == "" {
		return nil, fmt.Errorf("event type is required")
	}
	if source == "" {
		source = models.SourceInternal
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	now := e.now().UTC()
	event := &models.WebhookEvent{
		ID:         uuid.New(),
		Type:       eventType,
		Source:     source,
		Data:       datatypes.JSON(payload),
		Timestamp:  now,
		Processed:  false,
		RetryCount: 0,
		MaxRetries: e.cfg.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := e.db.Create(event).Error; err != nil {
		return nil, fmt.Errorf("failed to persist webhook event: %w", err)
	}

	e.enqueue(event.ID)
	e.notifyListeners(event)

	e.logger.Debug("Webhook event created",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.Type),
		zap.String("source", event.Source),
	)
	return event, nil
}

// OnEventCreated registers a listener invoked synchronously after every
// successful CreateEvent, in registration order.
func (e *Engine) OnEventCreated(fn func(*models.WebhookEvent)) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Recover re-queues all unprocessed events from the database. Called at
// startup so events persisted before a crash are not lost.
func (e *Engine) Recover() error {
	ids, err := listUnprocessedEventIDs(e.db)
	if err != nil {
		return fmt.Errorf("failed to recover unprocessed events: %w", err)
	}
	for _, id := range ids {
		e.enqueue(id)
	}
	if len(ids) > 0 {
		e.logger.Info("Recovered unprocessed webhook events",
			zap.Int("event_count", len(ids)),
		)
	}
	return nil
}

func (e *Engine) notifyListeners(event *models.WebhookEvent) {
	e.listenersMu.RLock()
	listeners := make([]func(*models.WebhookEvent), len(e.listeners))
	copy(listeners, e.listeners)
	e.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(event)
	}
}

func (e *Engine) enqueue(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.queued[id]; ok {
		return
	}
	e.queued[id] = struct{}{}
	e.queue = append(e.queue, id)
}

// dequeue pops up to n event ids from the front of the pending queue.
func (e *Engine) dequeue(n int) []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n > len(e.queue) {
		n = len(e.queue)
	}
	ids := make([]uuid.UUID, n)
	copy(ids, e.queue[:n])
	e.queue = e.queue[n:]
	for _, id := range ids {
		delete(e.queued, id)
	}
	return ids
}

func (e *Engine) requeue(id uuid.UUID) {
	e.enqueue(id)
}

// PendingCount reports the in-memory queue depth.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}
