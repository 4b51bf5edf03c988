package registry

import (
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vendora/webhook-engine/internal/models"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.WebhookEndpoint{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	r := New(db, zap.NewNop())
	if err := r.Load(); err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}
	return r
}

func TestRegisterPersistsEndpoint(t *testing.T) {
	r := newTestRegistry(t)

	endpoint, err := r.Register("https://example.com/hooks", []string{"order.paid", "order.refunded"}, nil)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if endpoint.ID == uuid.Nil {
		t.Error("expected a generated endpoint id")
	}
	if !endpoint.IsActive {
		t.Error("new endpoints start active")
	}
	if !strings.HasPrefix(endpoint.Secret, "whsec_") {
		t.Errorf("secret = %q, want whsec_ prefix", endpoint.Secret)
	}
	if len(endpoint.Secret) != len("whsec_")+48 {
		t.Errorf("secret length = %d, want 48 hex chars after the prefix", len(endpoint.Secret))
	}

	var stored models.WebhookEndpoint
	if err := r.db.First(&stored, "id = ?", endpoint.ID).Error; err != nil {
		t.Fatalf("endpoint was not persisted: %v", err)
	}
	if got := stored.Events.Data(); len(got) != 2 || got[0] != "order.paid" {
		t.Errorf("stored events = %v", got)
	}
	if policy := stored.RetryPolicy.Data(); policy.MaxRetries != 3 {
		t.Errorf("default retry policy max = %d, want 3", policy.MaxRetries)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Register("", []string{"order.paid"}, nil); err == nil {
		t.Error("expected an error for a missing url")
	}
	if _, err := r.Register("https://example.com", nil, nil); err == nil {
		t.Error("expected an error for an empty event list")
	}
}

func TestRegisterKeepsSuppliedSecret(t *testing.T) {
	r := newTestRegistry(t)

	endpoint, err := r.Register("https://example.com", []string{"order.paid"}, &RegisterOptions{
		Secret: "whsec_caller_supplied",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if endpoint.Secret != "whsec_caller_supplied" {
		t.Errorf("secret = %q, want the supplied one", endpoint.Secret)
	}
}

func TestMatchingFiltersByTypeAndActivity(t *testing.T) {
	r := newTestRegistry(t)

	paid, err := r.Register("https://a.example.com", []string{"order.paid"}, nil)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := r.Register("https://b.example.com", []string{"user.created"}, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	inactive, err := r.Register("https://c.example.com", []string{"order.paid"}, nil)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if ok, err := r.Delete(inactive.ID); err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}

	matches := r.Matching("order.paid")
	if len(matches) != 1 || matches[0].ID != paid.ID {
		t.Fatalf("Matching returned %d endpoints, want just the active order.paid one", len(matches))
	}
	if len(r.Matching("order.shipped")) != 0 {
		t.Error("unsubscribed type should match nothing")
	}
}

func TestUpdateAppliesPartialChanges(t *testing.T) {
	r := newTestRegistry(t)

	endpoint, err := r.Register("https://old.example.com", []string{"order.paid"}, nil)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	newURL := "https://new.example.com"
	updated, err := r.Update(endpoint.ID, EndpointUpdate{
		URL:    &newURL,
		Events: []string{"order.paid", "order.refunded"},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.URL != newURL {
		t.Errorf("url = %q, want %q", updated.URL, newURL)
	}
	if got := updated.Events.Data(); len(got) != 2 {
		t.Errorf("events = %v, want 2 entries", got)
	}
	if updated.Secret != endpoint.Secret {
		t.Error("secret must survive updates untouched")
	}

	if matches := r.Matching("order.refunded"); len(matches) != 1 {
		t.Errorf("Matching after update returned %d endpoints, want 1", len(matches))
	}
}

func TestUpdateUnknownEndpointReturnsNil(t *testing.T) {
	r := newTestRegistry(t)
	updated, err := r.Update(uuid.New(), EndpointUpdate{})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated != nil {
		t.Error("unknown endpoint should yield nil, not an error")
	}
}

func TestDeleteSoftDeletes(t *testing.T) {
	r := newTestRegistry(t)

	endpoint, err := r.Register("https://example.com", []string{"order.paid"}, nil)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	ok, err := r.Delete(endpoint.ID)
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}

	// Soft delete: the row stays for delivery history, only matching stops.
	got := r.Get(endpoint.ID)
	if got == nil {
		t.Fatal("deleted endpoint should remain retrievable")
	}
	if got.IsActive {
		t.Error("deleted endpoint should be inactive")
	}
	if len(r.Matching("order.paid")) != 0 {
		t.Error("deleted endpoint must not match")
	}

	ok, err = r.Delete(uuid.New())
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok {
		t.Error("deleting an unknown endpoint reports false")
	}
}

func TestLoadRebuildsIndexFromDatabase(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Register("https://example.com", []string{"order.paid"}, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// A fresh registry on the same database sees the endpoint after Load.
	fresh := New(r.db, zap.NewNop())
	if len(fresh.Matching("order.paid")) != 0 {
		t.Fatal("index should be empty before Load")
	}
	if err := fresh.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(fresh.Matching("order.paid")) != 1 {
		t.Error("Load should rebuild the index from persisted endpoints")
	}
}
