package store

import (
	"context"
	"errors"
	"time"

	"grocery-price/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint (barcode, canonical key or crawl target). Callers treat it
	// as "someone else just created it" and retry as a lookup.
	ErrDuplicate = errors.New("store: duplicate key")
	// ErrUnavailable is returned when the backing store is unreachable.
	// It aborts the current batch instead of a single record.
	ErrUnavailable = errors.New("store: unavailable")
	// ErrConflict is returned by conditional writes when the current row no
	// longer matches what the caller read. Callers re-read and re-decide.
	ErrConflict = errors.New("store: write conflict")
)

// Store is the persistence boundary shared by every engine component.
// Both the in-memory store and the SQLite store implement it; all
// cross-worker coordination relies on its atomicity guarantees.
type Store interface {
	// Canonical products
	CreateProduct(ctx context.Context, p *model.CanonicalProduct) error
	ProductByID(ctx context.Context, id string) (*model.CanonicalProduct, error)
	ProductByBarcode(ctx context.Context, barcode string) (*model.CanonicalProduct, error)
	ProductByKey(ctx context.Context, key string) (*model.CanonicalProduct, error)
	UpdateProductMeta(ctx context.Context, p *model.CanonicalProduct) error
	// UpdateProductStats is the aggregator's write path; nothing else may
	// touch the derived price fields.
	UpdateProductStats(ctx context.Context, id string, avg, lowest, highest float64, at time.Time) error
	SearchProducts(ctx context.Context, query string, limit int) ([]*model.CanonicalProduct, error)
	StaleProducts(ctx context.Context, before time.Time, limit int) ([]*model.CanonicalProduct, error)
	UncoveredProducts(ctx context.Context, limit int) ([]*model.CanonicalProduct, error)

	// Retailer price records: at most one current row per (product, retailer)
	PriceRecord(ctx context.Context, productID, retailerID string) (*model.RetailerPriceRecord, error)
	SavePriceRecord(ctx context.Context, rec *model.RetailerPriceRecord) error
	// SavePriceRecordIf writes rec only while the stored row still matches
	// expected (nil means no row may exist yet); otherwise ErrConflict. This
	// is what makes the ledger's read-arbitrate-write sequence atomic.
	SavePriceRecordIf(ctx context.Context, rec, expected *model.RetailerPriceRecord) error
	PriceRecords(ctx context.Context, productID string) ([]*model.RetailerPriceRecord, error)
	DeletePriceRecord(ctx context.Context, productID, retailerID string) error

	// Audit observations
	AddObservation(ctx context.Context, obs *model.PriceObservation) error
	Observations(ctx context.Context, productID, retailerID string, limit int) ([]*model.PriceObservation, error)

	// Crawl queue
	SaveCrawlTask(ctx context.Context, t *model.CrawlTask) error
	CrawlTaskByTarget(ctx context.Context, target string) (*model.CrawlTask, error)
	AvailableCrawlTasks(ctx context.Context, now time.Time) ([]*model.CrawlTask, error)
	// ClaimCrawlTasks leases the given tasks until the deadline and returns
	// only the ones actually claimed; tasks leased by someone else in the
	// meantime are silently skipped.
	ClaimCrawlTasks(ctx context.Context, ids []string, worker string, until, now time.Time) ([]*model.CrawlTask, error)
	CrawlTasksByState(ctx context.Context, state model.TaskState) ([]*model.CrawlTask, error)

	Stats(ctx context.Context) (*model.Stats, error)
	Close() error
}
