package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"grocery-price/internal/catalog"
	"grocery-price/internal/crawlqueue"
	"grocery-price/internal/model"
	"grocery-price/internal/pricing"
	"grocery-price/internal/store"
)

func newPipeline(st store.Store) *Pipeline {
	log := zap.NewNop()
	arbiter := pricing.NewArbiter(pricing.Policy{}, log)
	return NewPipeline(
		catalog.New(st, log),
		pricing.NewLedger(st, arbiter, log),
		pricing.NewAggregator(st, log),
		crawlqueue.New(st, crawlqueue.DefaultConfig(), log),
		nil,
		log,
	)
}

func TestProcessBatchReconcilesAcrossRetailers(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	p := newPipeline(st)

	result, err := p.ProcessBatch(ctx, []model.RawRecord{
		{RetailerID: "morrisons", Name: "Hovis Soft White 800g", Price: "£1.25", Barcode: "5000169000861"},
		{RetailerID: "asda", Name: "Hovis Bread White 800g", Price: "£1.20", Barcode: "5000169000861"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Accepted)
	assert.Equal(t, 1, result.Recomputed, "same product must be recomputed once")

	products, err := st.SearchProducts(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, products, 1, "one barcode, one identity")

	product := products[0]
	assert.Equal(t, 1.23, product.NationalAveragePrice)
	assert.Equal(t, 1.20, product.LowestPrice)
	assert.Equal(t, 1.25, product.HighestPrice)

	recs, err := st.PriceRecords(ctx, product.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestProcessBatchIsolatesBadRecords(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	p := newPipeline(st)

	result, err := p.ProcessBatch(ctx, []model.RawRecord{
		{RetailerID: "tesco", Name: "Warburtons Toastie 800g", Price: "£1.45"},
		{RetailerID: "tesco", Name: "Broken Thing", Price: "not a price"},
		{RetailerID: "tesco", Name: "Kingsmill Medium 800g", Price: "£1.10"},
	})
	require.NoError(t, err, "a malformed record must not abort the batch")
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Invalid)
	assert.Equal(t, 0, result.Failed)

	products, err := st.SearchProducts(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, products, 2, "the invalid record never reaches the catalog")
}

func TestProcessBatchAbortsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := store.NewMemory()
	p := newPipeline(st)
	p.limiter = rate.NewLimiter(1, 1)

	_, err := p.ProcessBatch(ctx, []model.RawRecord{
		{RetailerID: "tesco", Name: "Warburtons Toastie 800g", Price: "£1.45"},
	})
	require.Error(t, err)

	products, err := st.SearchProducts(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestProcessOneUserSubmissionOverridesCrawler(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	p := newPipeline(st)

	_, err := p.ProcessOne(ctx, model.RawRecord{
		RetailerID: "tesco", Name: "Hovis Soft White 800g", Price: "£1.30",
	})
	require.NoError(t, err)

	result, err := p.ProcessOne(ctx, model.RawRecord{
		RetailerID: "tesco", Name: "Hovis Soft White 800g", Price: "£1.15", Source: model.SourceUser,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)

	// The crawler sees the old shelf price again; the user's figure holds.
	result, err = p.ProcessOne(ctx, model.RawRecord{
		RetailerID: "tesco", Name: "Hovis Soft White 800g", Price: "£1.30",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Overridden)
	assert.Equal(t, 0, result.Recomputed, "rejected write must not dirty the aggregate")

	products, err := st.SearchProducts(ctx, "Hovis", 1)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, 1.15, products[0].NationalAveragePrice)
}

func TestProcessBatchCompletesQueuedTargets(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	p := newPipeline(st)
	log := zap.NewNop()
	queue := crawlqueue.New(st, crawlqueue.DefaultConfig(), log)

	// First ingest creates the product so we can queue its pair target.
	_, err := p.ProcessOne(ctx, model.RawRecord{
		RetailerID: "tesco", Name: "Kingsmill Medium 800g", Price: "£1.10",
	})
	require.NoError(t, err)

	products, err := st.SearchProducts(ctx, "Kingsmill", 1)
	require.NoError(t, err)
	require.Len(t, products, 1)
	productID := products[0].ID

	target := crawlqueue.PairTarget(productID, "tesco")
	require.NoError(t, queue.Enqueue(ctx, target, productID, "tesco", model.RequestedByUser, model.ReasonUserRequest))

	before := time.Now()
	_, err = p.ProcessOne(ctx, model.RawRecord{
		RetailerID: "tesco", Name: "Kingsmill Medium 800g", Price: "£1.05",
	})
	require.NoError(t, err)

	task, err := st.CrawlTaskByTarget(ctx, target)
	require.NoError(t, err)
	require.NotNil(t, task.LastCrawled)
	assert.False(t, task.LastCrawled.Before(before))
}
