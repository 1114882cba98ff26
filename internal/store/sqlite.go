package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"

	"grocery-price/internal/model"
)

// SQLiteStore is the durable Store backend. Uniqueness of barcode and
// canonical key is enforced by the schema, which is what makes concurrent
// resolve-or-create safe across processes.
type SQLiteStore struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS canonical_products (
	id TEXT PRIMARY KEY,
	canonical_key TEXT NOT NULL UNIQUE,
	barcode TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL,
	brand TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	size_info TEXT NOT NULL DEFAULT '',
	national_average_price REAL NOT NULL DEFAULT 0,
	lowest_price REAL NOT NULL DEFAULT 0,
	highest_price REAL NOT NULL DEFAULT 0,
	price_last_updated INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_products_barcode
	ON canonical_products(barcode) WHERE barcode != '';
CREATE INDEX IF NOT EXISTS idx_products_display_name
	ON canonical_products(display_name COLLATE NOCASE);

CREATE TABLE IF NOT EXISTS retailer_prices (
	product_id TEXT NOT NULL REFERENCES canonical_products(id) ON DELETE CASCADE,
	retailer_id TEXT NOT NULL,
	price REAL NOT NULL,
	previous_price REAL,
	source TEXT NOT NULL,
	observed_at INTEGER NOT NULL,
	PRIMARY KEY (product_id, retailer_id)
);

CREATE TABLE IF NOT EXISTS price_observations (
	id TEXT PRIMARY KEY,
	product_id TEXT NOT NULL,
	retailer_id TEXT NOT NULL,
	price REAL NOT NULL,
	source TEXT NOT NULL,
	accepted INTEGER NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	observed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_observations_pair
	ON price_observations(product_id, retailer_id, observed_at);

CREATE TABLE IF NOT EXISTS crawl_tasks (
	id TEXT PRIMARY KEY,
	target TEXT NOT NULL UNIQUE,
	product_id TEXT NOT NULL DEFAULT '',
	retailer_id TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL,
	requested_by TEXT NOT NULL,
	last_crawled INTEGER,
	failures INTEGER NOT NULL DEFAULT 0,
	not_before INTEGER,
	state TEXT NOT NULL DEFAULT 'pending',
	leased_by TEXT NOT NULL DEFAULT '',
	leased_until INTEGER,
	priority_score REAL NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crawl_tasks_state ON crawl_tasks(state);
`

// NewSQLite opens (and if needed creates) the database under dataDir.
func NewSQLite(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "grocery-price.db")
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_timeout=5000", dbPath)

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// wrapErr maps driver errors onto the store sentinels.
func wrapErr(op string, err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type productRow struct {
	ID                   string        `db:"id"`
	CanonicalKey         string        `db:"canonical_key"`
	Barcode              string        `db:"barcode"`
	DisplayName          string        `db:"display_name"`
	Brand                string        `db:"brand"`
	Category             string        `db:"category"`
	SizeInfo             string        `db:"size_info"`
	NationalAveragePrice float64       `db:"national_average_price"`
	LowestPrice          float64       `db:"lowest_price"`
	HighestPrice         float64       `db:"highest_price"`
	PriceLastUpdated     sql.NullInt64 `db:"price_last_updated"`
	CreatedAt            int64         `db:"created_at"`
	UpdatedAt            int64         `db:"updated_at"`
}

func (r productRow) toModel() *model.CanonicalProduct {
	p := &model.CanonicalProduct{
		ID:                   r.ID,
		CanonicalKey:         r.CanonicalKey,
		Barcode:              r.Barcode,
		DisplayName:          r.DisplayName,
		Brand:                r.Brand,
		Category:             r.Category,
		SizeInfo:             r.SizeInfo,
		NationalAveragePrice: r.NationalAveragePrice,
		LowestPrice:          r.LowestPrice,
		HighestPrice:         r.HighestPrice,
		CreatedAt:            time.Unix(r.CreatedAt, 0).UTC(),
		UpdatedAt:            time.Unix(r.UpdatedAt, 0).UTC(),
	}
	if r.PriceLastUpdated.Valid {
		p.PriceLastUpdated = time.Unix(r.PriceLastUpdated.Int64, 0).UTC()
	}
	return p
}

const productColumns = `id, canonical_key, barcode, display_name, brand, category, size_info,
	national_average_price, lowest_price, highest_price, price_last_updated, created_at, updated_at`

func (s *SQLiteStore) CreateProduct(ctx context.Context, p *model.CanonicalProduct) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO canonical_products
			(id, canonical_key, barcode, display_name, brand, category, size_info, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CanonicalKey, p.Barcode, p.DisplayName, p.Brand, p.Category, p.SizeInfo,
		p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		return wrapErr("create product", err)
	}
	return nil
}

func (s *SQLiteStore) productWhere(ctx context.Context, where string, arg any) (*model.CanonicalProduct, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+productColumns+` FROM canonical_products WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("load product", err)
	}
	return row.toModel(), nil
}

func (s *SQLiteStore) ProductByID(ctx context.Context, id string) (*model.CanonicalProduct, error) {
	return s.productWhere(ctx, "id = ?", id)
}

func (s *SQLiteStore) ProductByBarcode(ctx context.Context, barcode string) (*model.CanonicalProduct, error) {
	if barcode == "" {
		return nil, ErrNotFound
	}
	return s.productWhere(ctx, "barcode = ?", barcode)
}

func (s *SQLiteStore) ProductByKey(ctx context.Context, key string) (*model.CanonicalProduct, error) {
	return s.productWhere(ctx, "canonical_key = ?", key)
}

func (s *SQLiteStore) UpdateProductMeta(ctx context.Context, p *model.CanonicalProduct) error {
	// An empty incoming barcode leaves the stored one untouched; refreshes
	// may set or correct a barcode but never clear it.
	res, err := s.db.ExecContext(ctx, `
		UPDATE canonical_products
		SET barcode = CASE WHEN ? != '' THEN ? ELSE barcode END,
			display_name = ?, brand = ?, category = ?, size_info = ?, updated_at = ?
		WHERE id = ?`,
		p.Barcode, p.Barcode, p.DisplayName, p.Brand, p.Category, p.SizeInfo, p.UpdatedAt.Unix(), p.ID,
	)
	if err != nil {
		return wrapErr("update product meta", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateProductStats(ctx context.Context, id string, avg, lowest, highest float64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE canonical_products
		SET national_average_price = ?, lowest_price = ?, highest_price = ?,
			price_last_updated = ?, updated_at = ?
		WHERE id = ?`,
		avg, lowest, highest, at.Unix(), at.Unix(), id,
	)
	if err != nil {
		return wrapErr("update product stats", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SearchProducts(ctx context.Context, query string, limit int) ([]*model.CanonicalProduct, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []productRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+productColumns+` FROM canonical_products
		WHERE display_name LIKE '%' || ? || '%' COLLATE NOCASE
		   OR canonical_key LIKE '%' || ? || '%'
		ORDER BY display_name
		LIMIT ?`, query, query, limit)
	if err != nil {
		return nil, wrapErr("search products", err)
	}
	return productRowsToModel(rows), nil
}

func (s *SQLiteStore) StaleProducts(ctx context.Context, before time.Time, limit int) ([]*model.CanonicalProduct, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []productRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+productColumns+` FROM canonical_products
		WHERE price_last_updated IS NOT NULL AND price_last_updated < ?
		ORDER BY price_last_updated
		LIMIT ?`, before.Unix(), limit)
	if err != nil {
		return nil, wrapErr("stale products", err)
	}
	return productRowsToModel(rows), nil
}

func (s *SQLiteStore) UncoveredProducts(ctx context.Context, limit int) ([]*model.CanonicalProduct, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []productRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+prefixedProductColumns("p")+`
		FROM canonical_products p
		LEFT JOIN retailer_prices r ON r.product_id = p.id
		WHERE r.product_id IS NULL
		ORDER BY p.created_at
		LIMIT ?`, limit)
	if err != nil {
		return nil, wrapErr("uncovered products", err)
	}
	return productRowsToModel(rows), nil
}

func productRowsToModel(rows []productRow) []*model.CanonicalProduct {
	out := make([]*model.CanonicalProduct, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out
}

func prefixedProductColumns(alias string) string {
	return alias + `.id, ` + alias + `.canonical_key, ` + alias + `.barcode, ` +
		alias + `.display_name, ` + alias + `.brand, ` + alias + `.category, ` + alias + `.size_info, ` +
		alias + `.national_average_price, ` + alias + `.lowest_price, ` + alias + `.highest_price, ` +
		alias + `.price_last_updated, ` + alias + `.created_at, ` + alias + `.updated_at`
}

type priceRow struct {
	ProductID     string          `db:"product_id"`
	RetailerID    string          `db:"retailer_id"`
	Price         float64         `db:"price"`
	PreviousPrice sql.NullFloat64 `db:"previous_price"`
	Source        string          `db:"source"`
	ObservedAt    int64           `db:"observed_at"`
}

func (r priceRow) toModel() *model.RetailerPriceRecord {
	rec := &model.RetailerPriceRecord{
		ProductID:  r.ProductID,
		RetailerID: r.RetailerID,
		Price:      r.Price,
		Source:     model.Source(r.Source),
		ObservedAt: time.Unix(r.ObservedAt, 0).UTC(),
	}
	if r.PreviousPrice.Valid {
		v := r.PreviousPrice.Float64
		rec.PreviousPrice = &v
	}
	return rec
}

func (s *SQLiteStore) PriceRecord(ctx context.Context, productID, retailerID string) (*model.RetailerPriceRecord, error) {
	var row priceRow
	err := s.db.GetContext(ctx, &row, `
		SELECT product_id, retailer_id, price, previous_price, source, observed_at
		FROM retailer_prices WHERE product_id = ? AND retailer_id = ?`, productID, retailerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("load price record", err)
	}
	return row.toModel(), nil
}

func (s *SQLiteStore) SavePriceRecord(ctx context.Context, rec *model.RetailerPriceRecord) error {
	var prev any
	if rec.PreviousPrice != nil {
		prev = *rec.PreviousPrice
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retailer_prices (product_id, retailer_id, price, previous_price, source, observed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(product_id, retailer_id) DO UPDATE SET
			price = excluded.price,
			previous_price = excluded.previous_price,
			source = excluded.source,
			observed_at = excluded.observed_at`,
		rec.ProductID, rec.RetailerID, rec.Price, prev, string(rec.Source), rec.ObservedAt.Unix(),
	)
	if err != nil {
		return wrapErr("save price record", err)
	}
	return nil
}

func (s *SQLiteStore) SavePriceRecordIf(ctx context.Context, rec, expected *model.RetailerPriceRecord) error {
	var prev any
	if rec.PreviousPrice != nil {
		prev = *rec.PreviousPrice
	}

	if expected == nil {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO retailer_prices (product_id, retailer_id, price, previous_price, source, observed_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(product_id, retailer_id) DO NOTHING`,
			rec.ProductID, rec.RetailerID, rec.Price, prev, string(rec.Source), rec.ObservedAt.Unix(),
		)
		if err != nil {
			return wrapErr("insert price record", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrConflict
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE retailer_prices
		SET price = ?, previous_price = ?, source = ?, observed_at = ?
		WHERE product_id = ? AND retailer_id = ? AND price = ? AND observed_at = ?`,
		rec.Price, prev, string(rec.Source), rec.ObservedAt.Unix(),
		rec.ProductID, rec.RetailerID, expected.Price, expected.ObservedAt.Unix(),
	)
	if err != nil {
		return wrapErr("update price record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLiteStore) PriceRecords(ctx context.Context, productID string) ([]*model.RetailerPriceRecord, error) {
	var rows []priceRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT product_id, retailer_id, price, previous_price, source, observed_at
		FROM retailer_prices WHERE product_id = ? ORDER BY retailer_id`, productID)
	if err != nil {
		return nil, wrapErr("list price records", err)
	}
	out := make([]*model.RetailerPriceRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *SQLiteStore) DeletePriceRecord(ctx context.Context, productID, retailerID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM retailer_prices WHERE product_id = ? AND retailer_id = ?`, productID, retailerID)
	if err != nil {
		return wrapErr("delete price record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type observationRow struct {
	ID         string  `db:"id"`
	ProductID  string  `db:"product_id"`
	RetailerID string  `db:"retailer_id"`
	Price      float64 `db:"price"`
	Source     string  `db:"source"`
	Accepted   bool    `db:"accepted"`
	Reason     string  `db:"reason"`
	ObservedAt int64   `db:"observed_at"`
}

func (s *SQLiteStore) AddObservation(ctx context.Context, obs *model.PriceObservation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_observations (id, product_id, retailer_id, price, source, accepted, reason, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.ID, obs.ProductID, obs.RetailerID, obs.Price, string(obs.Source), obs.Accepted, obs.Reason, obs.ObservedAt.Unix(),
	)
	if err != nil {
		return wrapErr("add observation", err)
	}
	return nil
}

func (s *SQLiteStore) Observations(ctx context.Context, productID, retailerID string, limit int) ([]*model.PriceObservation, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []observationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, product_id, retailer_id, price, source, accepted, reason, observed_at
		FROM price_observations
		WHERE product_id = ? AND retailer_id = ?
		ORDER BY observed_at DESC
		LIMIT ?`, productID, retailerID, limit)
	if err != nil {
		return nil, wrapErr("list observations", err)
	}
	out := make([]*model.PriceObservation, 0, len(rows))
	for _, r := range rows {
		out = append(out, &model.PriceObservation{
			ID:         r.ID,
			ProductID:  r.ProductID,
			RetailerID: r.RetailerID,
			Price:      r.Price,
			Source:     model.Source(r.Source),
			Accepted:   r.Accepted,
			Reason:     r.Reason,
			ObservedAt: time.Unix(r.ObservedAt, 0).UTC(),
		})
	}
	return out, nil
}

type taskRow struct {
	ID            string        `db:"id"`
	Target        string        `db:"target"`
	ProductID     string        `db:"product_id"`
	RetailerID    string        `db:"retailer_id"`
	Reason        string        `db:"reason"`
	RequestedBy   string        `db:"requested_by"`
	LastCrawled   sql.NullInt64 `db:"last_crawled"`
	Failures      int           `db:"failures"`
	NotBefore     sql.NullInt64 `db:"not_before"`
	State         string        `db:"state"`
	LeasedBy      string        `db:"leased_by"`
	LeasedUntil   sql.NullInt64 `db:"leased_until"`
	PriorityScore float64       `db:"priority_score"`
	CreatedAt     int64         `db:"created_at"`
	UpdatedAt     int64         `db:"updated_at"`
}

func (r taskRow) toModel() *model.CrawlTask {
	t := &model.CrawlTask{
		ID:            r.ID,
		Target:        r.Target,
		ProductID:     r.ProductID,
		RetailerID:    r.RetailerID,
		Reason:        model.CrawlReason(r.Reason),
		RequestedBy:   model.Requester(r.RequestedBy),
		Failures:      r.Failures,
		State:         model.TaskState(r.State),
		LeasedBy:      r.LeasedBy,
		PriorityScore: r.PriorityScore,
		CreatedAt:     time.Unix(r.CreatedAt, 0).UTC(),
		UpdatedAt:     time.Unix(r.UpdatedAt, 0).UTC(),
	}
	if r.LastCrawled.Valid {
		v := time.Unix(r.LastCrawled.Int64, 0).UTC()
		t.LastCrawled = &v
	}
	if r.NotBefore.Valid {
		v := time.Unix(r.NotBefore.Int64, 0).UTC()
		t.NotBefore = &v
	}
	if r.LeasedUntil.Valid {
		v := time.Unix(r.LeasedUntil.Int64, 0).UTC()
		t.LeasedUntil = &v
	}
	return t
}

const taskColumns = `id, target, product_id, retailer_id, reason, requested_by, last_crawled,
	failures, not_before, state, leased_by, leased_until, priority_score, created_at, updated_at`

func (s *SQLiteStore) SaveCrawlTask(ctx context.Context, t *model.CrawlTask) error {
	var lastCrawled, notBefore, leasedUntil any
	if t.LastCrawled != nil {
		lastCrawled = t.LastCrawled.Unix()
	}
	if t.NotBefore != nil {
		notBefore = t.NotBefore.Unix()
	}
	if t.LeasedUntil != nil {
		leasedUntil = t.LeasedUntil.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crawl_tasks
			(id, target, product_id, retailer_id, reason, requested_by, last_crawled,
			 failures, not_before, state, leased_by, leased_until, priority_score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reason = excluded.reason,
			requested_by = excluded.requested_by,
			last_crawled = excluded.last_crawled,
			failures = excluded.failures,
			not_before = excluded.not_before,
			state = excluded.state,
			leased_by = excluded.leased_by,
			leased_until = excluded.leased_until,
			priority_score = excluded.priority_score,
			updated_at = excluded.updated_at`,
		t.ID, t.Target, t.ProductID, t.RetailerID, string(t.Reason), string(t.RequestedBy), lastCrawled,
		t.Failures, notBefore, string(t.State), t.LeasedBy, leasedUntil, t.PriorityScore,
		t.CreatedAt.Unix(), t.UpdatedAt.Unix(),
	)
	if err != nil {
		return wrapErr("save crawl task", err)
	}
	return nil
}

func (s *SQLiteStore) CrawlTaskByTarget(ctx context.Context, target string) (*model.CrawlTask, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+taskColumns+` FROM crawl_tasks WHERE target = ?`, target)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("load crawl task", err)
	}
	return row.toModel(), nil
}

func (s *SQLiteStore) AvailableCrawlTasks(ctx context.Context, now time.Time) ([]*model.CrawlTask, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+taskColumns+` FROM crawl_tasks
		WHERE (state = 'pending' AND (not_before IS NULL OR not_before <= ?))
		   OR (state = 'leased' AND leased_until IS NOT NULL AND leased_until <= ?)
		ORDER BY created_at`, now.Unix(), now.Unix())
	if err != nil {
		return nil, wrapErr("available crawl tasks", err)
	}
	out := make([]*model.CrawlTask, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *SQLiteStore) ClaimCrawlTasks(ctx context.Context, ids []string, worker string, until, now time.Time) ([]*model.CrawlTask, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
		UPDATE crawl_tasks
		SET state = 'leased', leased_by = ?, leased_until = ?, updated_at = ?
		WHERE id IN (?)
		  AND ((state = 'pending' AND (not_before IS NULL OR not_before <= ?))
		   OR (state = 'leased' AND leased_until IS NOT NULL AND leased_until <= ?))`,
		worker, until.Unix(), now.Unix(), ids, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("build claim query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return nil, wrapErr("claim crawl tasks", err)
	}

	query, args, err = sqlx.In(`
		SELECT `+taskColumns+` FROM crawl_tasks
		WHERE id IN (?) AND leased_by = ? AND leased_until = ?`,
		ids, worker, until.Unix())
	if err != nil {
		return nil, fmt.Errorf("build claimed query: %w", err)
	}
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, wrapErr("load claimed tasks", err)
	}
	out := make([]*model.CrawlTask, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *SQLiteStore) CrawlTasksByState(ctx context.Context, state model.TaskState) ([]*model.CrawlTask, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+taskColumns+` FROM crawl_tasks WHERE state = ? ORDER BY updated_at`, string(state))
	if err != nil {
		return nil, wrapErr("crawl tasks by state", err)
	}
	out := make([]*model.CrawlTask, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*model.Stats, error) {
	stats := &model.Stats{Retailers: make(map[string]int)}

	if err := s.db.GetContext(ctx, &stats.TotalProducts,
		`SELECT COUNT(*) FROM canonical_products`); err != nil {
		return nil, wrapErr("stats", err)
	}
	if err := s.db.GetContext(ctx, &stats.TotalPriceRecords,
		`SELECT COUNT(*) FROM retailer_prices`); err != nil {
		return nil, wrapErr("stats", err)
	}

	type retailerCount struct {
		RetailerID string `db:"retailer_id"`
		N          int    `db:"n"`
	}
	var counts []retailerCount
	if err := s.db.SelectContext(ctx, &counts,
		`SELECT retailer_id, COUNT(*) AS n FROM retailer_prices GROUP BY retailer_id`); err != nil {
		return nil, wrapErr("stats", err)
	}
	for _, c := range counts {
		stats.Retailers[c.RetailerID] = c.N
	}

	if err := s.db.GetContext(ctx, &stats.PendingCrawlTasks,
		`SELECT COUNT(*) FROM crawl_tasks WHERE state != 'dead'`); err != nil {
		return nil, wrapErr("stats", err)
	}
	if err := s.db.GetContext(ctx, &stats.DeadCrawlTasks,
		`SELECT COUNT(*) FROM crawl_tasks WHERE state = 'dead'`); err != nil {
		return nil, wrapErr("stats", err)
	}
	return stats, nil
}
