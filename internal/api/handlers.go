package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"grocery-price/internal/crawlqueue"
	"grocery-price/internal/ingest"
	"grocery-price/internal/model"
	"grocery-price/internal/pricing"
	"grocery-price/internal/store"
)

// Handlers is the thin HTTP glue over the engine. All non-trivial logic
// lives in the engine packages; handlers only translate requests.
type Handlers struct {
	store      store.Store
	pipeline   *ingest.Pipeline
	ledger     *pricing.Ledger
	aggregator *pricing.Aggregator
	queue      *crawlqueue.Queue
	log        *zap.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(st store.Store, pipeline *ingest.Pipeline, ledger *pricing.Ledger,
	aggregator *pricing.Aggregator, queue *crawlqueue.Queue, log *zap.Logger) *Handlers {
	return &Handlers{
		store:      st,
		pipeline:   pipeline,
		ledger:     ledger,
		aggregator: aggregator,
		queue:      queue,
		log:        log,
	}
}

// HealthCheck returns service health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now()})
}

// SearchProducts returns products matching a free-text query.
func (h *Handlers) SearchProducts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	products, err := h.store.SearchProducts(c.Request.Context(), c.Query("search"), limit)
	if err != nil {
		h.serverError(c, "search products", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}

// GetProduct returns one canonical product by id.
func (h *Handlers) GetProduct(c *gin.Context) {
	product, err := h.store.ProductByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	if err != nil {
		h.serverError(c, "get product", err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// GetProductByBarcode returns one canonical product by exact barcode.
func (h *Handlers) GetProductByBarcode(c *gin.Context) {
	product, err := h.store.ProductByBarcode(c.Request.Context(), c.Param("barcode"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	if err != nil {
		h.serverError(c, "get product by barcode", err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// GetProductPrices returns the price-comparison view: the canonical product
// joined with all its current retailer prices.
func (h *Handlers) GetProductPrices(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	product, err := h.store.ProductByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	if err != nil {
		h.serverError(c, "get product", err)
		return
	}

	prices, err := h.store.PriceRecords(ctx, id)
	if err != nil {
		h.serverError(c, "get price records", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": product, "prices": prices})
}

// SubmitPrice accepts a user price correction. It runs the full pipeline so
// the submission resolves identity the same way crawler data does.
func (h *Handlers) SubmitPrice(c *gin.Context) {
	var raw model.RawRecord
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	raw.Source = model.SourceUser

	result, err := h.pipeline.ProcessOne(c.Request.Context(), raw)
	if err != nil {
		h.serverError(c, "submit price", err)
		return
	}
	if result.Invalid > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record", "result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}

// IngestBatch accepts a batch of crawler records.
func (h *Handlers) IngestBatch(c *gin.Context) {
	var records []model.RawRecord
	if err := c.ShouldBindJSON(&records); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.pipeline.ProcessBatch(c.Request.Context(), records)
	if err != nil {
		h.serverError(c, "ingest batch", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type crawlRequest struct {
	ProductID  string `json:"product_id"`
	RetailerID string `json:"retailer_id"`
}

// RequestCrawl lets a user ask for fresher data on a product, boosting it
// above routine staleness-driven queue entries.
func (h *Handlers) RequestCrawl(c *gin.Context) {
	var req crawlRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ProductID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product_id is required"})
		return
	}

	target := crawlqueue.ProductTarget(req.ProductID)
	if req.RetailerID != "" {
		target = crawlqueue.PairTarget(req.ProductID, req.RetailerID)
	}
	err := h.queue.Enqueue(c.Request.Context(), target, req.ProductID, req.RetailerID,
		model.RequestedByUser, model.ReasonUserRequest)
	if err != nil {
		h.serverError(c, "request crawl", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"target": target})
}

type leaseRequest struct {
	Worker string `json:"worker"`
	N      int    `json:"n"`
}

// LeaseTasks hands the highest-priority crawl targets to a worker.
func (h *Handlers) LeaseTasks(c *gin.Context) {
	var req leaseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Worker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker is required"})
		return
	}
	if req.N <= 0 {
		req.N = 10
	}

	tasks, err := h.queue.Lease(c.Request.Context(), req.N, req.Worker)
	if err != nil {
		h.serverError(c, "lease tasks", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

type completeRequest struct {
	Target string `json:"target"`
	OK     bool   `json:"ok"`
}

// CompleteTask reports a crawl outcome for a leased target.
func (h *Handlers) CompleteTask(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target is required"})
		return
	}

	err := h.queue.Complete(c.Request.Context(), req.Target, req.OK)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown target"})
		return
	}
	if err != nil {
		h.serverError(c, "complete task", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"target": req.Target})
}

// GetDeadLetters lists crawl tasks waiting for manual review.
func (h *Handlers) GetDeadLetters(c *gin.Context) {
	tasks, err := h.queue.DeadLetters(c.Request.Context())
	if err != nil {
		h.serverError(c, "dead letters", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

type resyncRequest struct {
	RetailerID string `json:"retailer_id"`
}

// ResyncPrice re-applies crawler data over a user override for one
// (product, retailer) pair and recomputes the product's stats.
func (h *Handlers) ResyncPrice(c *gin.Context) {
	var req resyncRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RetailerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "retailer_id is required"})
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	resynced, err := h.ledger.Resync(ctx, id, req.RetailerID)
	if err != nil {
		h.serverError(c, "resync", err)
		return
	}
	if resynced {
		if _, err := h.aggregator.Recompute(ctx, id); err != nil {
			h.serverError(c, "recompute after resync", err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"resynced": resynced})
}

// GetObservations returns the audit trail for one (product, retailer) pair.
func (h *Handlers) GetObservations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	observations, err := h.store.Observations(c.Request.Context(), c.Param("id"), c.Query("retailer_id"), limit)
	if err != nil {
		h.serverError(c, "observations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"observations": observations, "count": len(observations)})
}

// GetStats returns catalog-wide counts.
func (h *Handlers) GetStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		h.serverError(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handlers) serverError(c *gin.Context, op string, err error) {
	h.log.Error(op, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
