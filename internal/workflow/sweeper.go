// internal/workflow/sweeper.go
package workflow

import (
	"context"
	"time"

	"gacp-engine/internal/common/logger"
	"gacp-engine/internal/common/metrics"
	"gacp-engine/internal/storage"
)

// Evictor removes expired idempotency records. Implemented by the
// idempotency stores.
type Evictor interface {
	EvictExpired(ctx context.Context, now time.Time) (int, error)
}

// Sweeper is the only background loop in the engine. On each tick it expires
// lapsed payment windows and evicts stale idempotency records. It stops when
// its context is cancelled.
type Sweeper struct {
	engine   *Engine
	store    storage.Store
	evictor  Evictor
	interval time.Duration
	log      logger.Logger
	now      func() time.Time
}

func NewSweeper(engine *Engine, store storage.Store, evictor Evictor, interval time.Duration, log logger.Logger) *Sweeper {
	return &Sweeper{
		engine:   engine,
		store:    store,
		evictor:  evictor,
		interval: interval,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until ctx is cancelled. Callers start it in its own goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("sweeper started", map[string]interface{}{"interval": s.interval.String()})
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped", nil)
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Exported so tests and operators can trigger it
// directly without the ticker.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now()

	expired, err := s.store.ExpiredPendingPayments(ctx, now)
	if err != nil {
		s.log.WithError(err).Error("sweep: listing expired payments failed", nil)
	} else {
		for _, payment := range expired {
			if err := s.engine.ExpirePayment(ctx, payment); err != nil {
				s.log.WithError(err).Error("sweep: expiring payment failed", map[string]interface{}{
					"paymentId": payment.ID,
				})
				continue
			}
			metrics.SweeperExpiredPayments.Inc()
		}
	}

	if s.evictor != nil {
		evicted, err := s.evictor.EvictExpired(ctx, now)
		if err != nil {
			s.log.WithError(err).Error("sweep: idempotency eviction failed", nil)
			return
		}
		metrics.SweeperEvictedRecords.Add(float64(evicted))
		if evicted > 0 {
			s.log.Debug("sweep: evicted idempotency records", map[string]interface{}{"count": evicted})
		}
	}
}
