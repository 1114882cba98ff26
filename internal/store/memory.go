package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"grocery-price/internal/model"
)

// MemoryStore keeps everything in process memory behind a single RWMutex.
// It is the default backend for tests and small deployments; the SQLite
// store is the durable alternative.
type MemoryStore struct {
	mu sync.RWMutex

	products  map[string]*model.CanonicalProduct // by id
	byBarcode map[string]string                  // barcode -> product id
	byKey     map[string]string                  // canonical key -> product id

	prices       map[string]map[string]*model.RetailerPriceRecord // product id -> retailer id -> record
	observations []*model.PriceObservation

	tasks    map[string]*model.CrawlTask // by id
	byTarget map[string]string           // target -> task id
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		products:  make(map[string]*model.CanonicalProduct),
		byBarcode: make(map[string]string),
		byKey:     make(map[string]string),
		prices:    make(map[string]map[string]*model.RetailerPriceRecord),
		tasks:     make(map[string]*model.CrawlTask),
		byTarget:  make(map[string]string),
	}
}

func (s *MemoryStore) CreateProduct(_ context.Context, p *model.CanonicalProduct) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Barcode != "" {
		if _, taken := s.byBarcode[p.Barcode]; taken {
			return ErrDuplicate
		}
	}
	if _, taken := s.byKey[p.CanonicalKey]; taken {
		return ErrDuplicate
	}
	if _, taken := s.products[p.ID]; taken {
		return ErrDuplicate
	}

	cp := *p
	s.products[p.ID] = &cp
	s.byKey[p.CanonicalKey] = p.ID
	if p.Barcode != "" {
		s.byBarcode[p.Barcode] = p.ID
	}
	return nil
}

func (s *MemoryStore) ProductByID(_ context.Context, id string) (*model.CanonicalProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.productLocked(id)
}

func (s *MemoryStore) ProductByBarcode(_ context.Context, barcode string) (*model.CanonicalProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byBarcode[barcode]
	if !ok {
		return nil, ErrNotFound
	}
	return s.productLocked(id)
}

func (s *MemoryStore) ProductByKey(_ context.Context, key string) (*model.CanonicalProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return s.productLocked(id)
}

// productLocked returns a copy so callers never share mutable state.
func (s *MemoryStore) productLocked(id string) (*model.CanonicalProduct, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) UpdateProductMeta(_ context.Context, p *model.CanonicalProduct) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[p.ID]
	if !ok {
		return ErrNotFound
	}

	// A barcode can be set or corrected, never cleared through a metadata
	// refresh.
	if p.Barcode != "" && p.Barcode != existing.Barcode {
		if owner, taken := s.byBarcode[p.Barcode]; taken && owner != p.ID {
			return ErrDuplicate
		}
		if existing.Barcode != "" {
			delete(s.byBarcode, existing.Barcode)
		}
		s.byBarcode[p.Barcode] = p.ID
		existing.Barcode = p.Barcode
	}

	existing.DisplayName = p.DisplayName
	existing.Brand = p.Brand
	existing.Category = p.Category
	existing.SizeInfo = p.SizeInfo
	existing.UpdatedAt = p.UpdatedAt
	return nil
}

func (s *MemoryStore) UpdateProductStats(_ context.Context, id string, avg, lowest, highest float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return ErrNotFound
	}
	p.NationalAveragePrice = avg
	p.LowestPrice = lowest
	p.HighestPrice = highest
	p.PriceLastUpdated = at
	p.UpdatedAt = at
	return nil
}

func (s *MemoryStore) SearchProducts(_ context.Context, query string, limit int) ([]*model.CanonicalProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	var out []*model.CanonicalProduct
	for _, p := range s.products {
		if q == "" || strings.Contains(strings.ToLower(p.DisplayName), q) || strings.Contains(p.CanonicalKey, q) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) StaleProducts(_ context.Context, before time.Time, limit int) ([]*model.CanonicalProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.CanonicalProduct
	for _, p := range s.products {
		if !p.PriceLastUpdated.IsZero() && p.PriceLastUpdated.Before(before) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceLastUpdated.Before(out[j].PriceLastUpdated) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UncoveredProducts(_ context.Context, limit int) ([]*model.CanonicalProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.CanonicalProduct
	for id, p := range s.products {
		if len(s.prices[id]) == 0 {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) PriceRecord(_ context.Context, productID, retailerID string) (*model.RetailerPriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.prices[productID][retailerID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) SavePriceRecord(_ context.Context, rec *model.RetailerPriceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[rec.ProductID]; !ok {
		return ErrNotFound
	}
	if s.prices[rec.ProductID] == nil {
		s.prices[rec.ProductID] = make(map[string]*model.RetailerPriceRecord)
	}
	s.prices[rec.ProductID][rec.RetailerID] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) SavePriceRecordIf(_ context.Context, rec, expected *model.RetailerPriceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[rec.ProductID]; !ok {
		return ErrNotFound
	}
	current := s.prices[rec.ProductID][rec.RetailerID]
	if expected == nil {
		if current != nil {
			return ErrConflict
		}
	} else if current == nil || current.Price != expected.Price || !current.ObservedAt.Equal(expected.ObservedAt) {
		return ErrConflict
	}

	if s.prices[rec.ProductID] == nil {
		s.prices[rec.ProductID] = make(map[string]*model.RetailerPriceRecord)
	}
	s.prices[rec.ProductID][rec.RetailerID] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) PriceRecords(_ context.Context, productID string) ([]*model.RetailerPriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]*model.RetailerPriceRecord, 0, len(s.prices[productID]))
	for _, rec := range s.prices[productID] {
		recs = append(recs, cloneRecord(rec))
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].RetailerID < recs[j].RetailerID })
	return recs, nil
}

func (s *MemoryStore) DeletePriceRecord(_ context.Context, productID, retailerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.prices[productID][retailerID]; !ok {
		return ErrNotFound
	}
	delete(s.prices[productID], retailerID)
	return nil
}

func (s *MemoryStore) AddObservation(_ context.Context, obs *model.PriceObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *obs
	s.observations = append(s.observations, &cp)
	return nil
}

func (s *MemoryStore) Observations(_ context.Context, productID, retailerID string, limit int) ([]*model.PriceObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.PriceObservation
	for _, o := range s.observations {
		if o.ProductID == productID && o.RetailerID == retailerID {
			cp := *o
			out = append(out, &cp)
		}
	}
	// Newest first, so callers can take the latest crawler observation.
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.After(out[j].ObservedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveCrawlTask(_ context.Context, t *model.CrawlTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, taken := s.byTarget[t.Target]; taken && owner != t.ID {
		return ErrDuplicate
	}
	s.tasks[t.ID] = cloneTask(t)
	s.byTarget[t.Target] = t.ID
	return nil
}

func (s *MemoryStore) CrawlTaskByTarget(_ context.Context, target string) (*model.CrawlTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byTarget[target]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(s.tasks[id]), nil
}

func (s *MemoryStore) AvailableCrawlTasks(_ context.Context, now time.Time) ([]*model.CrawlTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.CrawlTask
	for _, t := range s.tasks {
		if taskAvailable(t, now) {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ClaimCrawlTasks(_ context.Context, ids []string, worker string, until, now time.Time) ([]*model.CrawlTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []*model.CrawlTask
	for _, id := range ids {
		t, ok := s.tasks[id]
		if !ok || !taskAvailable(t, now) {
			continue
		}
		t.State = model.TaskLeased
		t.LeasedBy = worker
		u := until
		t.LeasedUntil = &u
		t.UpdatedAt = now
		claimed = append(claimed, cloneTask(t))
	}
	return claimed, nil
}

func (s *MemoryStore) CrawlTasksByState(_ context.Context, state model.TaskState) ([]*model.CrawlTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.CrawlTask
	for _, t := range s.tasks {
		if t.State == state {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) Stats(_ context.Context) (*model.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &model.Stats{
		TotalProducts: len(s.products),
		Retailers:     make(map[string]int),
	}
	for _, recs := range s.prices {
		for retailer := range recs {
			stats.TotalPriceRecords++
			stats.Retailers[retailer]++
		}
	}
	for _, t := range s.tasks {
		switch t.State {
		case model.TaskDead:
			stats.DeadCrawlTasks++
		default:
			stats.PendingCrawlTasks++
		}
	}
	return stats, nil
}

func (s *MemoryStore) Close() error { return nil }

// taskAvailable reports whether a task can be leased: pending and past any
// retry delay, or leased but past its lease deadline. Dead tasks are never
// leased again.
func taskAvailable(t *model.CrawlTask, now time.Time) bool {
	switch t.State {
	case model.TaskPending:
		return t.NotBefore == nil || !t.NotBefore.After(now)
	case model.TaskLeased:
		return t.LeasedUntil != nil && !t.LeasedUntil.After(now)
	default:
		return false
	}
}

func cloneRecord(rec *model.RetailerPriceRecord) *model.RetailerPriceRecord {
	cp := *rec
	if rec.PreviousPrice != nil {
		v := *rec.PreviousPrice
		cp.PreviousPrice = &v
	}
	return &cp
}

func cloneTask(t *model.CrawlTask) *model.CrawlTask {
	cp := *t
	if t.LastCrawled != nil {
		v := *t.LastCrawled
		cp.LastCrawled = &v
	}
	if t.NotBefore != nil {
		v := *t.NotBefore
		cp.NotBefore = &v
	}
	if t.LeasedUntil != nil {
		v := *t.LeasedUntil
		cp.LeasedUntil = &v
	}
	return &cp
}
