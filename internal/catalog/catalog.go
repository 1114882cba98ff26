// Package catalog resolves raw retailer records to canonical cross-retailer
// product identities.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"grocery-price/internal/canonical"
	"grocery-price/internal/model"
	"grocery-price/internal/store"
)

// Catalog owns the CanonicalProduct identity space. Retailer integrations
// must resolve identities through it and never mint product ids themselves.
type Catalog struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

// New creates a catalog backed by the given store.
func New(st store.Store, log *zap.Logger) *Catalog {
	return &Catalog{store: st, log: log, now: time.Now}
}

// ResolveOrCreate maps a raw record to exactly one canonical product:
// barcode match first, then canonical-key match, else a fresh product.
// A uniqueness violation on create means another worker created the same
// product concurrently, so it is retried as a lookup. Matched products get
// a last-writer-wins metadata refresh. Returns whether a product was created.
func (c *Catalog) ResolveOrCreate(ctx context.Context, raw *model.RawRecord) (*model.CanonicalProduct, bool, error) {
	res := canonical.Canonicalize(raw.Name)
	if res.CanonicalKey == "" {
		return nil, false, fmt.Errorf("name %q yields an empty canonical key", raw.Name)
	}

	if raw.Barcode != "" {
		p, err := c.store.ProductByBarcode(ctx, raw.Barcode)
		switch {
		case err == nil:
			return p, false, c.refreshMeta(ctx, p, raw, res)
		case !errors.Is(err, store.ErrNotFound):
			return nil, false, fmt.Errorf("barcode lookup: %w", err)
		}
	}

	p, err := c.store.ProductByKey(ctx, res.CanonicalKey)
	switch {
	case err == nil:
		return p, false, c.refreshMeta(ctx, p, raw, res)
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, fmt.Errorf("key lookup: %w", err)
	}

	now := c.now()
	fresh := &model.CanonicalProduct{
		ID:           uuid.NewString(),
		CanonicalKey: res.CanonicalKey,
		Barcode:      raw.Barcode,
		DisplayName:  raw.Name,
		Brand:        firstNonEmpty(raw.Brand, res.BrandGuess),
		Category:     raw.Category,
		SizeInfo:     firstNonEmpty(raw.Size, res.SizeGuess),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = c.store.CreateProduct(ctx, fresh)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost the creation race; the other worker's row is authoritative.
		p, lookupErr := c.lookupAfterConflict(ctx, raw, res.CanonicalKey)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		return p, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create product: %w", err)
	}
	return fresh, true, nil
}

func (c *Catalog) lookupAfterConflict(ctx context.Context, raw *model.RawRecord, key string) (*model.CanonicalProduct, error) {
	if raw.Barcode != "" {
		p, err := c.store.ProductByBarcode(ctx, raw.Barcode)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("barcode lookup after conflict: %w", err)
		}
	}
	p, err := c.store.ProductByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("key lookup after conflict: %w", err)
	}
	return p, nil
}

// refreshMeta applies last-writer-wins descriptive metadata from the raw
// record and backfills a missing barcode. A barcode conflict here is a
// data-quality defect, not a reason to drop the price observation, so it is
// logged and the refresh proceeds without the barcode.
func (c *Catalog) refreshMeta(ctx context.Context, p *model.CanonicalProduct, raw *model.RawRecord, res canonical.Result) error {
	p.DisplayName = raw.Name
	p.Brand = firstNonEmpty(raw.Brand, res.BrandGuess, p.Brand)
	p.Category = firstNonEmpty(raw.Category, p.Category)
	p.SizeInfo = firstNonEmpty(raw.Size, res.SizeGuess, p.SizeInfo)
	if p.Barcode == "" && raw.Barcode != "" {
		p.Barcode = raw.Barcode
	}
	p.UpdatedAt = c.now()

	err := c.store.UpdateProductMeta(ctx, p)
	if errors.Is(err, store.ErrDuplicate) {
		c.log.Warn("barcode already claimed by another product",
			zap.String("product_id", p.ID),
			zap.String("barcode", raw.Barcode))
		p.Barcode = ""
		err = c.store.UpdateProductMeta(ctx, p)
	}
	if err != nil {
		return fmt.Errorf("refresh metadata: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
