package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"grocery-price/internal/model"
	"grocery-price/internal/store"
)

func newLedger(st store.Store) *Ledger {
	return NewLedger(st, NewArbiter(Policy{}, zap.NewNop()), zap.NewNop())
}

func TestRecordPriceShiftsPreviousPrice(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedProduct(t, st, "p1")
	ledger := newLedger(st)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	accepted, err := ledger.RecordPrice(ctx, "p1", "tesco", 1.30, model.SourceCrawler, at)
	require.NoError(t, err)
	assert.True(t, accepted)

	rec, err := st.PriceRecord(ctx, "p1", "tesco")
	require.NoError(t, err)
	assert.Equal(t, 1.30, rec.Price)
	assert.Nil(t, rec.PreviousPrice, "first observation has no previous price")

	accepted, err = ledger.RecordPrice(ctx, "p1", "tesco", 1.25, model.SourceCrawler, at.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, accepted)

	rec, err = st.PriceRecord(ctx, "p1", "tesco")
	require.NoError(t, err)
	assert.Equal(t, 1.25, rec.Price)
	require.NotNil(t, rec.PreviousPrice)
	assert.Equal(t, 1.30, *rec.PreviousPrice)
}

func TestUserPriceBeatsCrawlerEitherOrder(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("user then crawler", func(t *testing.T) {
		st := store.NewMemory()
		seedProduct(t, st, "p1")
		ledger := newLedger(st)

		_, err := ledger.RecordPrice(ctx, "p1", "tesco", 1.15, model.SourceUser, at)
		require.NoError(t, err)
		accepted, err := ledger.RecordPrice(ctx, "p1", "tesco", 1.30, model.SourceCrawler, at.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, accepted)

		rec, err := st.PriceRecord(ctx, "p1", "tesco")
		require.NoError(t, err)
		assert.Equal(t, 1.15, rec.Price)
		assert.Equal(t, model.SourceUser, rec.Source)
	})

	t.Run("crawler then user", func(t *testing.T) {
		st := store.NewMemory()
		seedProduct(t, st, "p1")
		ledger := newLedger(st)

		_, err := ledger.RecordPrice(ctx, "p1", "tesco", 1.30, model.SourceCrawler, at)
		require.NoError(t, err)
		accepted, err := ledger.RecordPrice(ctx, "p1", "tesco", 1.15, model.SourceUser, at.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, accepted)

		rec, err := st.PriceRecord(ctx, "p1", "tesco")
		require.NoError(t, err)
		assert.Equal(t, 1.15, rec.Price)
	})
}

func TestRejectedCrawlerWriteLeavesAuditObservation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedProduct(t, st, "p1")
	ledger := newLedger(st)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := ledger.RecordPrice(ctx, "p1", "tesco", 1.15, model.SourceUser, at)
	require.NoError(t, err)
	_, err = ledger.RecordPrice(ctx, "p1", "tesco", 1.30, model.SourceCrawler, at.Add(time.Hour))
	require.NoError(t, err)

	observations, err := st.Observations(ctx, "p1", "tesco", 10)
	require.NoError(t, err)
	require.Len(t, observations, 2)

	latest := observations[0]
	assert.Equal(t, model.SourceCrawler, latest.Source)
	assert.Equal(t, 1.30, latest.Price)
	assert.False(t, latest.Accepted)
	assert.Equal(t, "user override active", latest.Reason)
}

func TestResyncAppliesLatestCrawlerObservation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedProduct(t, st, "p1")
	ledger := newLedger(st)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := ledger.RecordPrice(ctx, "p1", "tesco", 1.15, model.SourceUser, at)
	require.NoError(t, err)
	_, err = ledger.RecordPrice(ctx, "p1", "tesco", 1.28, model.SourceCrawler, at.Add(time.Hour))
	require.NoError(t, err)
	_, err = ledger.RecordPrice(ctx, "p1", "tesco", 1.32, model.SourceCrawler, at.Add(2*time.Hour))
	require.NoError(t, err)

	resynced, err := ledger.Resync(ctx, "p1", "tesco")
	require.NoError(t, err)
	assert.True(t, resynced)

	rec, err := st.PriceRecord(ctx, "p1", "tesco")
	require.NoError(t, err)
	assert.Equal(t, 1.32, rec.Price, "newest crawler observation wins")
	assert.Equal(t, model.SourceCrawler, rec.Source)
	require.NotNil(t, rec.PreviousPrice)
	assert.Equal(t, 1.15, *rec.PreviousPrice)
}

// racingStore sneaks a competing write in front of the first conditional
// save, as a second ingest worker hitting the same pair would.
type racingStore struct {
	store.Store
	raced bool
}

func (r *racingStore) SavePriceRecordIf(ctx context.Context, rec, expected *model.RetailerPriceRecord) error {
	if !r.raced {
		r.raced = true
		competing := &model.RetailerPriceRecord{
			ProductID:  rec.ProductID,
			RetailerID: rec.RetailerID,
			Price:      1.40,
			Source:     model.SourceCrawler,
			ObservedAt: rec.ObservedAt.Add(-time.Minute),
		}
		if err := r.Store.SavePriceRecord(ctx, competing); err != nil {
			return err
		}
	}
	return r.Store.SavePriceRecordIf(ctx, rec, expected)
}

func TestRecordPriceReArbitratesAfterWriteRace(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedProduct(t, mem, "p1")
	st := &racingStore{Store: mem}
	ledger := newLedger(st)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	accepted, err := ledger.RecordPrice(ctx, "p1", "tesco", 1.25, model.SourceCrawler, at)
	require.NoError(t, err)
	assert.True(t, accepted)

	rec, err := mem.PriceRecord(ctx, "p1", "tesco")
	require.NoError(t, err)
	assert.Equal(t, 1.25, rec.Price)
	require.NotNil(t, rec.PreviousPrice, "the competing write is the previous price")
	assert.Equal(t, 1.40, *rec.PreviousPrice)
}

func TestResyncNoopWithoutUserOverride(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedProduct(t, st, "p1")
	ledger := newLedger(st)

	resynced, err := ledger.Resync(ctx, "p1", "tesco")
	require.NoError(t, err)
	assert.False(t, resynced, "nothing to resync for an unknown pair")

	_, err = ledger.RecordPrice(ctx, "p1", "tesco", 1.30, model.SourceCrawler, time.Now())
	require.NoError(t, err)

	resynced, err = ledger.Resync(ctx, "p1", "tesco")
	require.NoError(t, err)
	assert.False(t, resynced, "crawler-owned records need no resync")
}
