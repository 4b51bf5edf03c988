package sweeper

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vendora/webhook-engine/internal/config"
	"github.com/vendora/webhook-engine/internal/models"
)

// Sweeper deletes fully processed events and aged delivery records past
// the retention window. It runs independently of the dispatch loop;
// failures are logged and the next run tries again.
type Sweeper struct {
	db     *gorm.DB
	cfg    *config.RetentionConfig
	logger *zap.Logger
	now    func() time.Time

	busy     atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(db *gorm.DB, cfg *config.RetentionConfig, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		db:     db,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start launches the periodic retention sweep.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("Retention sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("window", s.cfg.Window),
	)
}

// Stop halts the sweeper and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	s.logger.Info("Retention sweeper stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.busy.CompareAndSwap(false, true) {
				continue
			}
			s.sweep()
			s.busy.Store(false)
		}
	}
}

// sweep runs one retention pass. Unprocessed events are never touched;
// deliveries age out regardless of outcome (the audit trail has a
// bounded lifetime).
func (s *Sweeper) sweep() {
	cutoff := s.now().UTC().Add(-s.cfg.Window)

	// Deliveries go first so aged events lose their references before
	// deletion.
	deliveries := s.db.
		Where("created_at < ?", cutoff).
		Delete(&models.WebhookDelivery{})
	if deliveries.Error != nil {
		s.logger.Error("Failed to sweep delivery records",
			zap.Error(deliveries.Error),
		)
	}

	events := s.db.
		Where("processed = ? AND created_at < ?", true, cutoff).
		Delete(&models.WebhookEvent{})
	if events.Error != nil {
		s.logger.Error("Failed to sweep processed events",
			zap.Error(events.Error),
		)
	}

	if events.RowsAffected > 0 || deliveries.RowsAffected > 0 {
		s.logger.Info("Retention sweep completed",
			zap.Int64("events_deleted", events.RowsAffected),
			zap.Int64("deliveries_deleted", deliveries.RowsAffected),
			zap.Time("cutoff", cutoff),
		)
	}
}
