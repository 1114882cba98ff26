package pricing

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"grocery-price/internal/store"
)

// NationalStats is the result of one aggregation pass.
type NationalStats struct {
	Average float64 `json:"average"`
	Lowest  float64 `json:"lowest"`
	Highest float64 `json:"highest"`
}

// Aggregator recomputes national price statistics for canonical products.
// It is the only writer of the derived price fields.
type Aggregator struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

// NewAggregator creates an aggregator backed by the given store.
func NewAggregator(st store.Store, log *zap.Logger) *Aggregator {
	return &Aggregator{store: st, log: log, now: time.Now}
}

// Recompute collects every current retailer price for the product and
// writes mean (rounded half-up to whole pence), minimum and maximum back
// onto it. When no prices are left it keeps the previous values: a product
// must never appear free because of a transient coverage gap. Idempotent.
func (a *Aggregator) Recompute(ctx context.Context, productID string) (NationalStats, error) {
	records, err := a.store.PriceRecords(ctx, productID)
	if err != nil {
		return NationalStats{}, fmt.Errorf("collect prices: %w", err)
	}

	if len(records) == 0 {
		p, err := a.store.ProductByID(ctx, productID)
		if err != nil {
			return NationalStats{}, fmt.Errorf("load product: %w", err)
		}
		a.log.Warn("no retailer prices collected, keeping previous stats",
			zap.String("product_id", productID))
		return NationalStats{
			Average: p.NationalAveragePrice,
			Lowest:  p.LowestPrice,
			Highest: p.HighestPrice,
		}, nil
	}

	var sumPence int64
	lowest, highest := records[0].Price, records[0].Price
	for _, rec := range records {
		sumPence += toPence(rec.Price)
		if rec.Price < lowest {
			lowest = rec.Price
		}
		if rec.Price > highest {
			highest = rec.Price
		}
	}

	stats := NationalStats{
		Average: fromPence(meanHalfUp(sumPence, int64(len(records)))),
		Lowest:  lowest,
		Highest: highest,
	}
	if err := a.store.UpdateProductStats(ctx, productID, stats.Average, stats.Lowest, stats.Highest, a.now()); err != nil {
		return NationalStats{}, fmt.Errorf("write stats: %w", err)
	}
	return stats, nil
}

// meanHalfUp is sum/n rounded half-up, computed in integer pence so float
// artifacts cannot flip a .5 boundary.
func meanHalfUp(sum, n int64) int64 {
	return (2*sum + n) / (2 * n)
}

func toPence(v float64) int64 {
	return int64(math.Round(v * 100))
}

func fromPence(p int64) float64 {
	return float64(p) / 100
}
