// Package crawlqueue tracks which products and retailer pairs should be
// re-crawled next, with leases to keep two workers off the same target.
package crawlqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"grocery-price/internal/model"
	"grocery-price/internal/store"
)

// Config tunes scoring and lease behaviour.
type Config struct {
	// LeaseWindow is how long a claimed task stays invisible to other
	// workers before the lease expires on its own.
	LeaseWindow time.Duration
	// MaxFailures dead-letters a task once its failure counter reaches it.
	MaxFailures int
	// RetryBackoff delays a failed target before it can be leased again,
	// doubling with each consecutive failure up to MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	// UserBoost is added for explicit user requests, CoverageBoost for
	// products with no retailer coverage at all. Staleness contributes one
	// point per hour since the last crawl, capped at MaxStalenessScore.
	UserBoost         float64
	CoverageBoost     float64
	MaxStalenessScore float64
}

// DefaultConfig returns the scoring defaults.
func DefaultConfig() Config {
	return Config{
		LeaseWindow:       10 * time.Minute,
		MaxFailures:       5,
		RetryBackoff:      time.Minute,
		MaxRetryBackoff:   time.Hour,
		UserBoost:         1000,
		CoverageBoost:     500,
		MaxStalenessScore: 168, // a week of staleness
	}
}

// Queue is the crawl priority queue. All state lives in the store; the
// queue only scores, orders and drives the task lifecycle.
type Queue struct {
	store store.Store
	cfg   Config
	log   *zap.Logger
	now   func() time.Time
}

// New creates a queue backed by the given store.
func New(st store.Store, cfg Config, log *zap.Logger) *Queue {
	if cfg.LeaseWindow <= 0 {
		cfg.LeaseWindow = DefaultConfig().LeaseWindow
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultConfig().MaxFailures
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if cfg.MaxRetryBackoff < cfg.RetryBackoff {
		cfg.MaxRetryBackoff = DefaultConfig().MaxRetryBackoff
	}
	return &Queue{store: st, cfg: cfg, log: log, now: time.Now}
}

// PairTarget is the queue target for one (product, retailer) pair.
func PairTarget(productID, retailerID string) string {
	return productID + "@" + retailerID
}

// ProductTarget is the queue target for a product with no retailer
// coverage yet; any successful ingest for the product completes it.
func ProductTarget(productID string) string {
	return "product:" + productID
}

// Enqueue registers a crawl target, deduplicating by target string. A user
// request upgrades an existing entry (including a dead-lettered one, which
// gets its failure counter reset); a system request never downgrades one.
func (q *Queue) Enqueue(ctx context.Context, target, productID, retailerID string, requestedBy model.Requester, reason model.CrawlReason) error {
	now := q.now()

	existing, err := q.store.CrawlTaskByTarget(ctx, target)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("lookup crawl task: %w", err)
	}

	if existing != nil {
		if requestedBy == model.RequestedByUser {
			existing.RequestedBy = model.RequestedByUser
			existing.Reason = reason
			// A user asking for fresh data should not wait out a retry delay.
			existing.NotBefore = nil
			if existing.State == model.TaskDead {
				existing.State = model.TaskPending
				existing.Failures = 0
			}
		}
		existing.PriorityScore = q.score(existing, now)
		existing.UpdatedAt = now
		if err := q.store.SaveCrawlTask(ctx, existing); err != nil {
			return fmt.Errorf("update crawl task: %w", err)
		}
		return nil
	}

	t := &model.CrawlTask{
		ID:          uuid.NewString(),
		Target:      target,
		ProductID:   productID,
		RetailerID:  retailerID,
		Reason:      reason,
		RequestedBy: requestedBy,
		State:       model.TaskPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.PriorityScore = q.score(t, now)

	err = q.store.SaveCrawlTask(ctx, t)
	if errors.Is(err, store.ErrDuplicate) {
		// Concurrent enqueue of the same target; theirs is fine.
		return nil
	}
	if err != nil {
		return fmt.Errorf("save crawl task: %w", err)
	}
	return nil
}

// Lease returns up to n highest-scoring available tasks, claimed for this
// worker until the lease window elapses. A task claimed by a vanished
// worker becomes available again once its lease expires.
func (q *Queue) Lease(ctx context.Context, n int, worker string) ([]*model.CrawlTask, error) {
	if n <= 0 {
		return nil, nil
	}
	now := q.now()

	available, err := q.store.AvailableCrawlTasks(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list available tasks: %w", err)
	}
	for _, t := range available {
		t.PriorityScore = q.score(t, now)
	}
	sort.Slice(available, func(i, j int) bool {
		if available[i].PriorityScore != available[j].PriorityScore {
			return available[i].PriorityScore > available[j].PriorityScore
		}
		return available[i].CreatedAt.Before(available[j].CreatedAt)
	})
	if len(available) > n {
		available = available[:n]
	}

	ids := make([]string, len(available))
	for i, t := range available {
		ids[i] = t.ID
	}

	claimed, err := q.store.ClaimCrawlTasks(ctx, ids, worker, now.Add(q.cfg.LeaseWindow), now)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	return claimed, nil
}

// Complete clears the lease on a target. On success the task's clock
// resets; on failure it goes back in the queue after a backoff delay, or to
// the dead-letter state once the failure threshold is reached.
func (q *Queue) Complete(ctx context.Context, target string, ok bool) error {
	t, err := q.store.CrawlTaskByTarget(ctx, target)
	if err != nil {
		return fmt.Errorf("lookup crawl task: %w", err)
	}
	return q.finish(ctx, t, ok)
}

// MarkObserved completes any queue entries covered by a successful ingest
// of (product, retailer). Missing entries are not an error: most ingests
// are routine crawls that were never queued.
func (q *Queue) MarkObserved(ctx context.Context, productID, retailerID string) error {
	for _, target := range []string{PairTarget(productID, retailerID), ProductTarget(productID)} {
		t, err := q.store.CrawlTaskByTarget(ctx, target)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("lookup crawl task: %w", err)
		}
		if err := q.finish(ctx, t, true); err != nil {
			return err
		}
	}
	return nil
}

// DeadLetters lists tasks that exhausted their retries and await manual
// review.
func (q *Queue) DeadLetters(ctx context.Context) ([]*model.CrawlTask, error) {
	return q.store.CrawlTasksByState(ctx, model.TaskDead)
}

func (q *Queue) finish(ctx context.Context, t *model.CrawlTask, ok bool) error {
	now := q.now()
	t.LeasedBy = ""
	t.LeasedUntil = nil

	if ok {
		crawled := now
		t.LastCrawled = &crawled
		t.Failures = 0
		t.NotBefore = nil
		t.State = model.TaskPending
	} else {
		t.Failures++
		if t.Failures >= q.cfg.MaxFailures {
			t.State = model.TaskDead
			t.NotBefore = nil
			q.log.Warn("crawl task dead-lettered",
				zap.String("target", t.Target),
				zap.Int("failures", t.Failures))
		} else {
			t.State = model.TaskPending
			notBefore := now.Add(q.backoff(t.Failures))
			t.NotBefore = &notBefore
		}
	}

	t.PriorityScore = q.score(t, now)
	t.UpdatedAt = now
	if err := q.store.SaveCrawlTask(ctx, t); err != nil {
		return fmt.Errorf("save crawl task: %w", err)
	}
	return nil
}

// backoff is the retry delay after the given consecutive failure count:
// RetryBackoff doubled per failure, capped at MaxRetryBackoff.
func (q *Queue) backoff(failures int) time.Duration {
	d := q.cfg.RetryBackoff
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= q.cfg.MaxRetryBackoff {
			return q.cfg.MaxRetryBackoff
		}
	}
	return d
}

// score combines staleness, coverage and user-request boosts. Never-crawled
// targets start at the staleness cap so new gaps beat routine refreshes.
func (q *Queue) score(t *model.CrawlTask, now time.Time) float64 {
	var s float64
	if t.LastCrawled == nil {
		s = q.cfg.MaxStalenessScore
	} else {
		s = now.Sub(*t.LastCrawled).Hours()
		if s < 0 {
			s = 0
		}
		if s > q.cfg.MaxStalenessScore {
			s = q.cfg.MaxStalenessScore
		}
	}
	if t.Reason == model.ReasonNoCoverage {
		s += q.cfg.CoverageBoost
	}
	if t.RequestedBy == model.RequestedByUser {
		s += q.cfg.UserBoost
	}
	return s
}
