// Package ingest validates raw retailer records and drives them through the
// resolution, ledger, aggregation and crawl-queue pipeline.
package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"grocery-price/internal/canonical"
	"grocery-price/internal/model"
)

// ErrInvalidRecord marks validation failures. They are rejected at the
// ingest boundary and never reach the catalog.
var ErrInvalidRecord = errors.New("invalid raw record")

// ParsePrice parses a retailer-reported price string. It accepts a leading
// currency symbol ("£1.25"), a bare decimal ("1.25") and a pence form
// ("85p"), and rejects anything else.
func ParsePrice(s string) (float64, error) {
	t := strings.TrimSpace(s)
	t = strings.ReplaceAll(t, ",", "")
	t = strings.TrimPrefix(t, "£")
	t = strings.TrimSpace(t)
	if t == "" {
		return 0, fmt.Errorf("%w: empty price", ErrInvalidRecord)
	}

	pence := false
	if lower := strings.ToLower(t); strings.HasSuffix(lower, "p") {
		pence = true
		t = t[:len(t)-1]
	}

	v, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unparseable price %q", ErrInvalidRecord, s)
	}
	if pence {
		v /= 100
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: non-positive price %q", ErrInvalidRecord, s)
	}
	return v, nil
}

// Validate checks a raw record before it is allowed near the canonicalizer
// and returns the parsed price.
func Validate(raw *model.RawRecord) (float64, error) {
	if strings.TrimSpace(raw.RetailerID) == "" {
		return 0, fmt.Errorf("%w: missing retailer_id", ErrInvalidRecord)
	}
	if strings.TrimSpace(raw.Name) == "" {
		return 0, fmt.Errorf("%w: empty name", ErrInvalidRecord)
	}
	if canonical.Key(raw.Name) == "" {
		return 0, fmt.Errorf("%w: name %q has no canonical content", ErrInvalidRecord, raw.Name)
	}
	return ParsePrice(raw.Price)
}
