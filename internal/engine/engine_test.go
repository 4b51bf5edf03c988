package engine

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vendora/webhook-engine/internal/config"
	"github.com/vendora/webhook-engine/internal/models"
	"github.com/vendora/webhook-engine/internal/registry"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	err = db.AutoMigrate(
		&models.WebhookEvent{},
		&models.WebhookEndpoint{},
		&models.WebhookDelivery{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func newTestEngineWithDB(t *testing.T, db *gorm.DB) *Engine {
	t.Helper()
	log := zap.NewNop()
	reg := registry.New(db, log)
	if err := reg.Load(); err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}
	cfg := &config.DispatcherConfig{
		Interval:            time.Second,
		BatchSize:           10,
		MaxRetries:          3,
		HTTPTimeout:         5 * time.Second,
		MaxResponseBodySize: 64 * 1024,
	}
	return New(db, reg, cfg, log)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return newTestEngineWithDB(t, newTestDB(t))
}

func mustLoadEvent(t *testing.T, db *gorm.DB, id uuid.UUID) *models.WebhookEvent {
	t.Helper()
	event, err := loadEvent(db, id)
	if err != nil {
		t.Fatalf("failed to load event: %v", err)
	}
	if event == nil {
		t.Fatalf("event %s not found", id)
	}
	return event
}

func TestCreateEventPersistsAndEnqueues(t *testing.T) {
	e := newTestEngine(t)

	event, err := e.CreateEvent("order.paid", map[string]string{"orderId": "o1"}, models.SourceInternal)
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	if event.ID == uuid.Nil {
		t.Error("expected a generated event id")
	}
	if event.Processed {
		t.Error("new event must not be processed")
	}
	if event.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", event.RetryCount)
	}
	if event.MaxRetries != 3 {
		t.Errorf("max retries = %d, want 3", event.MaxRetries)
	}

	stored := mustLoadEvent(t, e.db, event.ID)
	if stored.Type != "order.paid" || stored.Source != models.SourceInternal {
		t.Errorf("stored event = %s/%s, want order.paid/internal", stored.Type, stored.Source)
	}
	if e.PendingCount() != 1 {
		t.Errorf("pending count = %d, want 1", e.PendingCount())
	}
}

func TestCreateEventRejectsEmptyType(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.CreateEvent("", nil, ""); err == nil {
		t.Fatal("expected an error for an empty event type")
	}
}

func TestCreateEventDefaultsSourceToInternal(t *testing.T) {
	e := newTestEngine(t)
	event, err := e.CreateEvent("stream.started", map[string]string{"streamId": "s1"}, "")
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	if event.Source != models.SourceInternal {
		t.Errorf("source = %q, want internal", event.Source)
	}
}

func TestCreateEventNotifiesListenersSynchronously(t *testing.T) {
	e := newTestEngine(t)

	var seen []string
	e.OnEventCreated(func(ev *models.WebhookEvent) {
		seen = append(seen, ev.Type)
	})
	e.OnEventCreated(func(ev *models.WebhookEvent) {
		seen = append(seen, ev.Type+"/second")
	})

	if _, err := e.CreateEvent("user.created", map[string]string{"id": "u1"}, ""); err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	if len(seen) != 2 || seen[0] != "user.created" || seen[1] != "user.created/second" {
		t.Errorf("listeners saw %v, want both in registration order", seen)
	}
}

func TestRecoverRequeuesUnprocessedEvents(t *testing.T) {
	db := newTestDB(t)

	// Simulate a crash between persist and enqueue: the row exists but
	// no engine ever saw it.
	now := time.Now().UTC()
	orphan := models.WebhookEvent{
		ID:         uuid.New(),
		Type:       "order.paid",
		Source:     models.SourceInternal,
		Timestamp:  now,
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.Create(&orphan).Error; err != nil {
		t.Fatalf("failed to seed orphan event: %v", err)
	}
	processed := models.WebhookEvent{
		ID:         uuid.New(),
		Type:       "order.paid",
		Source:     models.SourceInternal,
		Timestamp:  now,
		Processed:  true,
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.Create(&processed).Error; err != nil {
		t.Fatalf("failed to seed processed event: %v", err)
	}

	e := newTestEngineWithDB(t, db)
	if err := e.Recover(); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if e.PendingCount() != 1 {
		t.Errorf("pending count = %d, want 1 (processed events are not requeued)", e.PendingCount())
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	e := newTestEngine(t)
	id := uuid.New()
	e.enqueue(id)
	e.enqueue(id)
	if e.PendingCount() != 1 {
		t.Errorf("pending count = %d, want 1", e.PendingCount())
	}
}
