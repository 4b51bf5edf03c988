package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vendora/webhook-engine/internal/models"
)

// Registry is the in-memory index of registered endpoints. The database
// is the source of truth: every mutation writes through to it before the
// index is touched, and Load rebuilds the index after a restart.
type Registry struct {
	db     *gorm.DB
	logger *zap.Logger

	mu        sync.RWMutex
	endpoints map[uuid.UUID]models.WebhookEndpoint
}

// RegisterOptions carries the optional fields of an endpoint
// registration. Zero values fall back to engine defaults.
type RegisterOptions struct {
	Secret            string
	MaxRetries        int
	BackoffMultiplier int
	InitialDelayMs    int
	Headers           map[string]string
}

// EndpointUpdate is a partial update; nil fields are left unchanged.
type EndpointUpdate struct {
	URL      *string
	Events   []string
	IsActive *bool
	Headers  map[string]string
}

func New(db *gorm.DB, logger *zap.Logger) *Registry {
	return &Registry{
		db:        db,
		logger:    logger,
		endpoints: make(map[uuid.UUID]models.WebhookEndpoint),
	}
}

// Load rebuilds the in-memory index from the database. Called once at
// startup before the dispatcher starts.
func (r *Registry) Load() error {
	var endpoints []models.WebhookEndpoint
	if err := r.db.Find(&endpoints).Error; err != nil {
		return fmt.Errorf("failed to load webhook endpoints: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = make(map[uuid.UUID]models.WebhookEndpoint, len(endpoints))
	for _, ep := range endpoints {
		r.endpoints[ep.ID] = ep
	}

	r.logger.Info("Endpoint registry loaded",
		zap.Int("endpoint_count", len(endpoints)),
	)
	return nil
}

// Register persists a new endpoint and adds it to the index. A
// cryptographically random secret is generated when none is supplied.
func (r *Registry) Register(url string, events []string, opts *RegisterOptions) (*models.WebhookEndpoint, error) {
	if url == "" {
		return nil, fmt.Errorf("endpoint url is required")
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("endpoint must subscribe to at least one event type")
	}
	if opts == nil {
		opts = &RegisterOptions{}
	}

	secret := opts.Secret
	if secret == "" {
		generated, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate endpoint secret: %w", err)
		}
		secret = generated
	}

	policy := models.DefaultRetryPolicy()
	if opts.MaxRetries > 0 {
		policy.MaxRetries = opts.MaxRetries
	}
	if opts.BackoffMultiplier > 0 {
		policy.BackoffMultiplier = opts.BackoffMultiplier
	}
	if opts.InitialDelayMs > 0 {
		policy.InitialDelayMs = opts.InitialDelayMs
	}

	now := time.Now().UTC()
	endpoint := models.WebhookEndpoint{
		ID:          uuid.New(),
		URL:         url,
		Events:      datatypes.NewJSONType(events),
		Secret:      secret,
		IsActive:    true,
		RetryPolicy: datatypes.NewJSONType(policy),
		Headers:     datatypes.NewJSONType(opts.Headers),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := r.db.Create(&endpoint).Error; err != nil {
		return nil, fmt.Errorf("failed to persist webhook endpoint: %w", err)
	}

	r.mu.Lock()
	r.endpoints[endpoint.ID] = endpoint
	r.mu.Unlock()

	r.logger.Info("Webhook endpoint registered",
		zap.String("endpoint_id", endpoint.ID.String()),
		zap.String("url", endpoint.URL),
		zap.Strings("events", events),
	)
	return &endpoint, nil
}

// Update applies a partial update. Returns (nil, nil) when the endpoint
// does not exist.
func (r *Registry) Update(id uuid.UUID, update EndpointUpdate) (*models.WebhookEndpoint, error) {
	r.mu.RLock()
	endpoint, ok := r.endpoints[id]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if update.URL != nil {
		endpoint.URL = *update.URL
	}
	if update.Events != nil {
		endpoint.Events = datatypes.NewJSONType(update.Events)
	}
	if update.IsActive != nil {
		endpoint.IsActive = *update.IsActive
	}
	if update.Headers != nil {
		endpoint.Headers = datatypes.NewJSONType(update.Headers)
	}
	endpoint.UpdatedAt = time.Now().UTC()

	if err := r.db.Save(&endpoint).Error; err != nil {
		return nil, fmt.Errorf("failed to update webhook endpoint: %w", err)
	}

	r.mu.Lock()
	r.endpoints[id] = endpoint
	r.mu.Unlock()

	return &endpoint, nil
}

// Delete soft-deletes an endpoint by flipping is_active. The row is kept
// because historical deliveries reference it.
func (r *Registry) Delete(id uuid.UUID) (bool, error) {
	inactive := false
	endpoint, err := r.Update(id, EndpointUpdate{IsActive: &inactive})
	if err != nil {
		return false, err
	}
	return endpoint != nil, nil
}

// Get returns a copy of the endpoint, or nil when unknown.
func (r *Registry) Get(id uuid.UUID) *models.WebhookEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if endpoint, ok := r.endpoints[id]; ok {
		return &endpoint
	}
	return nil
}

// List returns copies of all endpoints, active and inactive.
func (r *Registry) List() []models.WebhookEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.WebhookEndpoint, 0, len(r.endpoints))
	for _, endpoint := range r.endpoints {
		out = append(out, endpoint)
	}
	return out
}

// Matching returns all active endpoints subscribed to eventType.
// Matching is resolved at dispatch time, so deactivating an endpoint
// stops retries of already-pending events as well.
func (r *Registry) Matching(eventType string) []models.WebhookEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.WebhookEndpoint
	for _, endpoint := range r.endpoints {
		if endpoint.IsActive && endpoint.SubscribesTo(eventType) {
			out = append(out, endpoint)
		}
	}
	return out
}

func generateSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}
