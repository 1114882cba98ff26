package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"grocery-price/internal/model"
	"grocery-price/internal/store"
)

// Ledger records retailer prices against canonical products. It keeps at
// most one current record per (product, retailer) pair and defers every
// overwrite decision to the arbiter.
type Ledger struct {
	store   store.Store
	arbiter *Arbiter
	log     *zap.Logger
}

// NewLedger creates a ledger backed by the given store.
func NewLedger(st store.Store, arbiter *Arbiter, log *zap.Logger) *Ledger {
	return &Ledger{store: st, arbiter: arbiter, log: log}
}

// maxWriteRetries bounds re-arbitration when concurrent writers race on the
// same (product, retailer) pair.
const maxWriteRetries = 3

// RecordPrice arbitrates and, when accepted, upserts the current price for
// (productID, retailerID), shifting the prior value into PreviousPrice.
// The write is conditional on the record the arbiter saw; a concurrent
// writer landing in between forces a re-read and a fresh decision, so
// PreviousPrice can never point at a value that was already replaced.
// Every submission is kept as an audit observation regardless of the
// verdict, so rejected crawler data stays available for a later resync.
// The caller is responsible for triggering an aggregator recompute after
// accepted writes; returns whether the write was accepted.
func (l *Ledger) RecordPrice(ctx context.Context, productID, retailerID string, price float64, source model.Source, observedAt time.Time) (bool, error) {
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		existing, err := l.store.PriceRecord(ctx, productID, retailerID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("load price record: %w", err)
		}
		if errors.Is(err, store.ErrNotFound) {
			existing = nil
		}

		decision := l.arbiter.Decide(existing, source, price)
		if !decision.Accept {
			if err := l.addObservation(ctx, productID, retailerID, price, source, decision, observedAt); err != nil {
				return false, err
			}
			return false, nil
		}

		rec := &model.RetailerPriceRecord{
			ProductID:  productID,
			RetailerID: retailerID,
			Price:      price,
			Source:     source,
			ObservedAt: observedAt,
		}
		if existing != nil {
			prev := existing.Price
			rec.PreviousPrice = &prev
		}

		err = l.store.SavePriceRecordIf(ctx, rec, existing)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("save price record: %w", err)
		}
		if err := l.addObservation(ctx, productID, retailerID, price, source, decision, observedAt); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, fmt.Errorf("record price %s@%s: lost %d write races", productID, retailerID, maxWriteRetries)
}

func (l *Ledger) addObservation(ctx context.Context, productID, retailerID string, price float64, source model.Source, decision Decision, observedAt time.Time) error {
	obs := &model.PriceObservation{
		ID:         uuid.NewString(),
		ProductID:  productID,
		RetailerID: retailerID,
		Price:      price,
		Source:     source,
		Accepted:   decision.Accept,
		Reason:     decision.Reason,
		ObservedAt: observedAt,
	}
	if err := l.store.AddObservation(ctx, obs); err != nil {
		return fmt.Errorf("record observation: %w", err)
	}
	return nil
}

// Resync re-applies the most recent crawler observation over a user
// override for one (product, retailer). It is an explicit operator action;
// returns false when there is nothing to resync.
func (l *Ledger) Resync(ctx context.Context, productID, retailerID string) (bool, error) {
	existing, err := l.store.PriceRecord(ctx, productID, retailerID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load price record: %w", err)
	}
	if existing.Source != model.SourceUser {
		return false, nil
	}

	observations, err := l.store.Observations(ctx, productID, retailerID, 50)
	if err != nil {
		return false, fmt.Errorf("load observations: %w", err)
	}

	var latest *model.PriceObservation
	for _, o := range observations {
		if o.Source == model.SourceCrawler {
			latest = o
			break
		}
	}
	if latest == nil {
		return false, nil
	}

	prev := existing.Price
	rec := &model.RetailerPriceRecord{
		ProductID:     productID,
		RetailerID:    retailerID,
		Price:         latest.Price,
		PreviousPrice: &prev,
		Source:        model.SourceCrawler,
		ObservedAt:    latest.ObservedAt,
	}
	err = l.store.SavePriceRecordIf(ctx, rec, existing)
	if errors.Is(err, store.ErrConflict) {
		// Someone wrote the pair while the resync was in flight; their
		// state is newer than what the operator was looking at.
		l.log.Warn("resync skipped, record changed underneath",
			zap.String("product_id", productID),
			zap.String("retailer_id", retailerID))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("save price record: %w", err)
	}

	l.log.Info("resynced user override to crawler data",
		zap.String("product_id", productID),
		zap.String("retailer_id", retailerID),
		zap.Float64("user_price", prev),
		zap.Float64("crawler_price", latest.Price),
	)
	return true, nil
}
