package crawlqueue

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"grocery-price/internal/model"
	"grocery-price/internal/store"
)

// Sweeper periodically scans the catalog for coverage gaps and stale
// prices and feeds the crawl queue. Staleness and coverage are the
// system-driven half of the priority scoring; user requests arrive through
// the API instead.
type Sweeper struct {
	store      store.Store
	queue      *Queue
	log        *zap.Logger
	staleAfter time.Duration
	limit      int

	cron *cron.Cron
}

// NewSweeper creates a sweeper. staleAfter is how old a product's
// price_last_updated may get before its retailer pairs are requeued; limit
// caps how many products one sweep touches.
func NewSweeper(st store.Store, queue *Queue, staleAfter time.Duration, limit int, log *zap.Logger) *Sweeper {
	if limit <= 0 {
		limit = 200
	}
	return &Sweeper{store: st, queue: queue, log: log, staleAfter: staleAfter, limit: limit}
}

// Start schedules sweeps with a cron expression (e.g. "@every 15m").
func (s *Sweeper) Start(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.log.Info("sweeper started", zap.String("schedule", schedule))
	return nil
}

// Stop halts scheduled sweeps. A sweep in flight finishes.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep runs one pass. Per-product errors are logged and skipped so one bad
// row cannot starve the rest of the catalog.
func (s *Sweeper) Sweep(ctx context.Context) {
	uncovered, err := s.store.UncoveredProducts(ctx, s.limit)
	if err != nil {
		s.log.Error("sweep: list uncovered products", zap.Error(err))
		return
	}
	for _, p := range uncovered {
		err := s.queue.Enqueue(ctx, ProductTarget(p.ID), p.ID, "", model.RequestedBySystem, model.ReasonNoCoverage)
		if err != nil {
			s.log.Error("sweep: enqueue uncovered product",
				zap.String("product_id", p.ID), zap.Error(err))
		}
	}

	stale, err := s.store.StaleProducts(ctx, time.Now().Add(-s.staleAfter), s.limit)
	if err != nil {
		s.log.Error("sweep: list stale products", zap.Error(err))
		return
	}
	requeued := 0
	for _, p := range stale {
		records, err := s.store.PriceRecords(ctx, p.ID)
		if err != nil {
			s.log.Error("sweep: list price records",
				zap.String("product_id", p.ID), zap.Error(err))
			continue
		}
		for _, rec := range records {
			err := s.queue.Enqueue(ctx, PairTarget(p.ID, rec.RetailerID), p.ID, rec.RetailerID,
				model.RequestedBySystem, model.ReasonStale)
			if err != nil {
				s.log.Error("sweep: enqueue stale pair",
					zap.String("product_id", p.ID),
					zap.String("retailer_id", rec.RetailerID),
					zap.Error(err))
				continue
			}
			requeued++
		}
	}

	s.log.Info("sweep complete",
		zap.Int("uncovered", len(uncovered)),
		zap.Int("stale_products", len(stale)),
		zap.Int("requeued_pairs", requeued))
}
