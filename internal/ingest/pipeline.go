package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"grocery-price/internal/catalog"
	"grocery-price/internal/crawlqueue"
	"grocery-price/internal/model"
	"grocery-price/internal/pricing"
	"grocery-price/internal/store"
)

// Pipeline wires the engine together: raw record -> catalog resolution ->
// price ledger -> coalesced aggregation -> crawl-queue bookkeeping.
type Pipeline struct {
	catalog    *catalog.Catalog
	ledger     *pricing.Ledger
	aggregator *pricing.Aggregator
	queue      *crawlqueue.Queue
	limiter    *rate.Limiter
	log        *zap.Logger
	now        func() time.Time
}

// NewPipeline creates a pipeline. limiter may be nil to ingest unthrottled.
func NewPipeline(cat *catalog.Catalog, ledger *pricing.Ledger, agg *pricing.Aggregator,
	queue *crawlqueue.Queue, limiter *rate.Limiter, log *zap.Logger) *Pipeline {
	return &Pipeline{
		catalog:    cat,
		ledger:     ledger,
		aggregator: agg,
		queue:      queue,
		limiter:    limiter,
		log:        log,
		now:        time.Now,
	}
}

// BatchResult summarises one ingest batch.
type BatchResult struct {
	Processed  int `json:"processed"`
	Accepted   int `json:"accepted"`
	Overridden int `json:"overridden"` // arbiter kept the stored value
	Invalid    int `json:"invalid"`
	Failed     int `json:"failed"`
	Recomputed int `json:"recomputed"`
}

// ProcessBatch ingests a batch of raw records with per-record failure
// isolation: a malformed or failing record is counted and logged, and the
// batch continues. Only a systemic failure (store unreachable, context
// cancelled) aborts the batch. Aggregation is coalesced: each product dirtied
// by the batch is recomputed exactly once, after all its writes are durable.
func (p *Pipeline) ProcessBatch(ctx context.Context, records []model.RawRecord) (*BatchResult, error) {
	result := &BatchResult{}
	dirty := make(map[string]struct{})

	for i := range records {
		raw := &records[i]
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return result, err
			}
		}

		if err := p.processOne(ctx, raw, result, dirty); err != nil {
			if isFatal(err) {
				return result, err
			}
			result.Failed++
			p.log.Error("ingest record failed",
				zap.String("retailer_id", raw.RetailerID),
				zap.String("name", raw.Name),
				zap.Error(err))
		}
	}

	for id := range dirty {
		if _, err := p.aggregator.Recompute(ctx, id); err != nil {
			if isFatal(err) {
				return result, err
			}
			p.log.Error("recompute failed", zap.String("product_id", id), zap.Error(err))
			continue
		}
		result.Recomputed++
	}
	return result, nil
}

// ProcessOne ingests a single record and recomputes immediately. Used by
// the user price-submission path where there is no batch to coalesce with.
func (p *Pipeline) ProcessOne(ctx context.Context, raw model.RawRecord) (*BatchResult, error) {
	return p.ProcessBatch(ctx, []model.RawRecord{raw})
}

func (p *Pipeline) processOne(ctx context.Context, raw *model.RawRecord, result *BatchResult, dirty map[string]struct{}) error {
	price, err := Validate(raw)
	if errors.Is(err, ErrInvalidRecord) {
		result.Invalid++
		p.log.Warn("rejected malformed record",
			zap.String("retailer_id", raw.RetailerID),
			zap.String("name", raw.Name),
			zap.String("price", raw.Price),
			zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	source := raw.Source
	if source == "" {
		source = model.SourceCrawler
	}
	observedAt := raw.ObservedAt
	if observedAt.IsZero() {
		observedAt = p.now()
	}

	product, _, err := p.catalog.ResolveOrCreate(ctx, raw)
	if err != nil {
		return err
	}

	accepted, err := p.ledger.RecordPrice(ctx, product.ID, raw.RetailerID, price, source, observedAt)
	if err != nil {
		return err
	}
	result.Processed++
	if accepted {
		result.Accepted++
		dirty[product.ID] = struct{}{}
	} else {
		result.Overridden++
	}

	if err := p.queue.MarkObserved(ctx, product.ID, raw.RetailerID); err != nil {
		// Queue bookkeeping must not fail the price write.
		p.log.Warn("mark observed failed",
			zap.String("product_id", product.ID),
			zap.String("retailer_id", raw.RetailerID),
			zap.Error(err))
	}
	return nil
}

func isFatal(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, store.ErrUnavailable)
}
