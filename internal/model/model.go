package model

import "time"

// Source identifies who produced a price submission.
type Source string

const (
	SourceCrawler Source = "crawler"
	SourceUser    Source = "user"
)

// Requester identifies who asked for a crawl task.
type Requester string

const (
	RequestedBySystem Requester = "system"
	RequestedByUser   Requester = "user"
)

// TaskState is the lifecycle state of a crawl task.
type TaskState string

const (
	TaskPending TaskState = "pending"
	TaskLeased  TaskState = "leased"
	TaskDead    TaskState = "dead"
)

// CrawlReason explains why a crawl task was enqueued.
type CrawlReason string

const (
	ReasonStale       CrawlReason = "stale"
	ReasonNoCoverage  CrawlReason = "no_coverage"
	ReasonUserRequest CrawlReason = "user_request"
)

// CanonicalProduct is the single cross-retailer identity for one real-world
// product. Derived price fields are written only by the aggregator.
type CanonicalProduct struct {
	ID           string `json:"id" db:"id"`
	CanonicalKey string `json:"canonical_key" db:"canonical_key"`
	Barcode      string `json:"barcode,omitempty" db:"barcode"`
	DisplayName  string `json:"display_name" db:"display_name"`
	Brand        string `json:"brand,omitempty" db:"brand"`
	Category     string `json:"category,omitempty" db:"category"`
	SizeInfo     string `json:"size_info,omitempty" db:"size_info"`

	NationalAveragePrice float64 `json:"national_average_price" db:"national_average_price"`
	LowestPrice          float64 `json:"lowest_price" db:"lowest_price"`
	HighestPrice         float64 `json:"highest_price" db:"highest_price"`

	PriceLastUpdated time.Time `json:"price_last_updated" db:"price_last_updated"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// RetailerPriceRecord is the single current price for one (product, retailer)
// pair. Updates replace the record; PreviousPrice keeps the immediately prior
// value for "was £x" display.
type RetailerPriceRecord struct {
	ProductID     string   `json:"product_id" db:"product_id"`
	RetailerID    string   `json:"retailer_id" db:"retailer_id"`
	Price         float64  `json:"price" db:"price"`
	PreviousPrice *float64 `json:"previous_price,omitempty" db:"previous_price"`
	Source        Source   `json:"source" db:"source"`

	ObservedAt time.Time `json:"observed_at" db:"observed_at"`
}

// PriceObservation is one arbitrated submission, kept for audit regardless of
// whether the write was accepted. Rejected crawler observations are the input
// for an operator resync.
type PriceObservation struct {
	ID         string  `json:"id" db:"id"`
	ProductID  string  `json:"product_id" db:"product_id"`
	RetailerID string  `json:"retailer_id" db:"retailer_id"`
	Price      float64 `json:"price" db:"price"`
	Source     Source  `json:"source" db:"source"`
	Accepted   bool    `json:"accepted" db:"accepted"`
	Reason     string  `json:"reason" db:"reason"`

	ObservedAt time.Time `json:"observed_at" db:"observed_at"`
}

// CrawlTask is a work-queue entry for one crawl target, deduplicated by Target.
type CrawlTask struct {
	ID         string      `json:"id" db:"id"`
	Target     string      `json:"target" db:"target"`
	ProductID  string      `json:"product_id,omitempty" db:"product_id"`
	RetailerID string      `json:"retailer_id,omitempty" db:"retailer_id"`
	Reason     CrawlReason `json:"reason" db:"reason"`
	RequestedBy Requester  `json:"requested_by" db:"requested_by"`

	LastCrawled   *time.Time `json:"last_crawled,omitempty" db:"last_crawled"`
	Failures      int        `json:"failures" db:"failures"`
	NotBefore     *time.Time `json:"not_before,omitempty" db:"not_before"`
	State         TaskState  `json:"state" db:"state"`
	LeasedBy      string     `json:"leased_by,omitempty" db:"leased_by"`
	LeasedUntil   *time.Time `json:"leased_until,omitempty" db:"leased_until"`
	PriorityScore float64    `json:"priority_score" db:"priority_score"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RawRecord is an already-parsed product record handed in by the collection
// layer. Price stays a string until validation so malformed values can be
// rejected with the original input intact.
type RawRecord struct {
	RetailerID string `json:"retailer_id"`
	Name       string `json:"name"`
	Price      string `json:"price"`
	Barcode    string `json:"barcode,omitempty"`
	Brand      string `json:"brand,omitempty"`
	Category   string `json:"category,omitempty"`
	Size       string `json:"size,omitempty"`
	Source     Source `json:"source,omitempty"`

	ObservedAt time.Time `json:"observed_at,omitempty"`
}

// Stats is a snapshot of catalog-wide counts for the ops surface.
type Stats struct {
	TotalProducts     int            `json:"total_products"`
	TotalPriceRecords int            `json:"total_price_records"`
	Retailers         map[string]int `json:"retailers"`
	PendingCrawlTasks int            `json:"pending_crawl_tasks"`
	DeadCrawlTasks    int            `json:"dead_crawl_tasks"`
}
