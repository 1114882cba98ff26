package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grocery-price/internal/model"
)

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteProductRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	p := &model.CanonicalProduct{
		ID:           "p1",
		CanonicalKey: "hovissoftwhitebread800g",
		Barcode:      "5000169000861",
		DisplayName:  "Hovis Soft White Bread 800g",
		Brand:        "Hovis",
		Category:     "bread",
		SizeInfo:     "800g",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, st.CreateProduct(ctx, p))

	got, err := st.ProductByBarcode(ctx, "5000169000861")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.DisplayName, got.DisplayName)
	assert.Equal(t, p.Brand, got.Brand)
	assert.Equal(t, now, got.CreatedAt)
	assert.True(t, got.PriceLastUpdated.IsZero())

	got, err = st.ProductByKey(ctx, p.CanonicalKey)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestSQLiteUniqueConstraintsMapToErrDuplicate(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.CreateProduct(ctx, &model.CanonicalProduct{
		ID: "p1", CanonicalKey: "key1", Barcode: "111",
		DisplayName: "One", CreatedAt: now, UpdatedAt: now,
	}))

	err := st.CreateProduct(ctx, &model.CanonicalProduct{
		ID: "p2", CanonicalKey: "key2", Barcode: "111",
		DisplayName: "Two", CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, ErrDuplicate, "barcode is unique")

	err = st.CreateProduct(ctx, &model.CanonicalProduct{
		ID: "p3", CanonicalKey: "key1",
		DisplayName: "Three", CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, ErrDuplicate, "canonical key is unique")

	// The empty barcode is exempt from the uniqueness rule.
	require.NoError(t, st.CreateProduct(ctx, &model.CanonicalProduct{
		ID: "p4", CanonicalKey: "key4",
		DisplayName: "Four", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, st.CreateProduct(ctx, &model.CanonicalProduct{
		ID: "p5", CanonicalKey: "key5",
		DisplayName: "Five", CreatedAt: now, UpdatedAt: now,
	}))
}

func TestSQLitePriceRecordUpsert(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.CreateProduct(ctx, &model.CanonicalProduct{
		ID: "p1", CanonicalKey: "key1", DisplayName: "One", CreatedAt: now, UpdatedAt: now,
	}))

	require.NoError(t, st.SavePriceRecord(ctx, &model.RetailerPriceRecord{
		ProductID: "p1", RetailerID: "tesco", Price: 1.30,
		Source: model.SourceCrawler, ObservedAt: now,
	}))
	prev := 1.30
	require.NoError(t, st.SavePriceRecord(ctx, &model.RetailerPriceRecord{
		ProductID: "p1", RetailerID: "tesco", Price: 1.25, PreviousPrice: &prev,
		Source: model.SourceCrawler, ObservedAt: now.Add(time.Hour),
	}))

	rec, err := st.PriceRecord(ctx, "p1", "tesco")
	require.NoError(t, err)
	assert.Equal(t, 1.25, rec.Price)
	require.NotNil(t, rec.PreviousPrice)
	assert.Equal(t, 1.30, *rec.PreviousPrice)

	recs, err := st.PriceRecords(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, recs, 1, "upsert must not grow the table")
}

func TestSQLiteSavePriceRecordIf(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.CreateProduct(ctx, &model.CanonicalProduct{
		ID: "p1", CanonicalKey: "key1", DisplayName: "One", CreatedAt: now, UpdatedAt: now,
	}))

	rec := &model.RetailerPriceRecord{
		ProductID: "p1", RetailerID: "tesco", Price: 1.30,
		Source: model.SourceCrawler, ObservedAt: now,
	}
	require.NoError(t, st.SavePriceRecordIf(ctx, rec, nil))
	assert.ErrorIs(t, st.SavePriceRecordIf(ctx, rec, nil), ErrConflict)

	update := &model.RetailerPriceRecord{
		ProductID: "p1", RetailerID: "tesco", Price: 1.25,
		Source: model.SourceCrawler, ObservedAt: now.Add(time.Hour),
	}
	stale := &model.RetailerPriceRecord{
		ProductID: "p1", RetailerID: "tesco", Price: 1.10, ObservedAt: now,
	}
	assert.ErrorIs(t, st.SavePriceRecordIf(ctx, update, stale), ErrConflict)
	require.NoError(t, st.SavePriceRecordIf(ctx, update, rec))

	got, err := st.PriceRecord(ctx, "p1", "tesco")
	require.NoError(t, err)
	assert.Equal(t, 1.25, got.Price)
}

func TestSQLiteClaimCrawlTasks(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"t1", "t2"} {
		require.NoError(t, st.SaveCrawlTask(ctx, &model.CrawlTask{
			ID: id, Target: id + "@tesco", RetailerID: "tesco",
			Reason: model.ReasonStale, RequestedBy: model.RequestedBySystem,
			State: model.TaskPending, CreatedAt: now, UpdatedAt: now,
		}))
	}

	until := now.Add(10 * time.Minute)
	claimed, err := st.ClaimCrawlTasks(ctx, []string{"t1", "t2"}, "worker-a", until, now)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)

	again, err := st.ClaimCrawlTasks(ctx, []string{"t1", "t2"}, "worker-b", until.Add(time.Minute), now)
	require.NoError(t, err)
	assert.Empty(t, again, "a live lease blocks other workers")

	avail, err := st.AvailableCrawlTasks(ctx, until.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, avail, 2, "expired leases are available again")
}

func TestSQLiteObservationsNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, price := range []float64{1.20, 1.25, 1.30} {
		require.NoError(t, st.AddObservation(ctx, &model.PriceObservation{
			ID: string(rune('a' + i)), ProductID: "p1", RetailerID: "tesco",
			Price: price, Source: model.SourceCrawler, Accepted: true,
			ObservedAt: now.Add(time.Duration(i) * time.Hour),
		}))
	}

	obs, err := st.Observations(ctx, "p1", "tesco", 2)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, 1.30, obs[0].Price)
	assert.Equal(t, 1.25, obs[1].Price)
}
