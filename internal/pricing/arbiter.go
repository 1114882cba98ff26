// Package pricing owns the per-retailer price ledger, the override arbiter
// and the national price aggregator.
package pricing

import (
	"time"

	"go.uber.org/zap"

	"grocery-price/internal/model"
)

// Policy configures override arbitration.
type Policy struct {
	// UserOverrideTTL is how long a user-submitted price stays authoritative
	// against crawler data. Zero means user overrides never expire and only
	// an explicit resync can replace them.
	UserOverrideTTL time.Duration
}

// Decision is the arbiter's verdict on one submission.
type Decision struct {
	Accept bool
	Reason string
}

// Arbiter decides whether an incoming price submission replaces the stored
// value. Every decision is logged for the audit surface.
type Arbiter struct {
	policy Policy
	log    *zap.Logger
	now    func() time.Time
}

// NewArbiter creates an arbiter with the given policy.
func NewArbiter(policy Policy, log *zap.Logger) *Arbiter {
	return &Arbiter{policy: policy, log: log, now: time.Now}
}

// Decide applies the override precedence rules:
//   - user submissions always win
//   - crawler beats crawler only when the price actually changed
//   - crawler never silently beats a user override, unless the override has
//     outlived the configured TTL
func (a *Arbiter) Decide(existing *model.RetailerPriceRecord, source model.Source, price float64) Decision {
	d := a.decide(existing, source, price)

	fields := []zap.Field{
		zap.Bool("accept", d.Accept),
		zap.String("reason", d.Reason),
		zap.String("source", string(source)),
		zap.Float64("price", price),
	}
	if existing != nil {
		fields = append(fields,
			zap.String("product_id", existing.ProductID),
			zap.String("retailer_id", existing.RetailerID),
			zap.String("existing_source", string(existing.Source)),
			zap.Float64("existing_price", existing.Price),
		)
	}
	a.log.Info("override decision", fields...)
	return d
}

func (a *Arbiter) decide(existing *model.RetailerPriceRecord, source model.Source, price float64) Decision {
	if existing == nil {
		return Decision{Accept: true, Reason: "first observation"}
	}
	if source == model.SourceUser {
		return Decision{Accept: true, Reason: "user submission"}
	}

	// Crawler-sourced from here on.
	if existing.Source == model.SourceUser {
		if ttl := a.policy.UserOverrideTTL; ttl > 0 && a.now().Sub(existing.ObservedAt) > ttl {
			return Decision{Accept: true, Reason: "user override expired"}
		}
		return Decision{Accept: false, Reason: "user override active"}
	}
	if existing.Price == price {
		return Decision{Accept: false, Reason: "price unchanged"}
	}
	return Decision{Accept: true, Reason: "price changed"}
}
