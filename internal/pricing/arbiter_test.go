package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"grocery-price/internal/model"
)

func record(source model.Source, price float64, observedAt time.Time) *model.RetailerPriceRecord {
	return &model.RetailerPriceRecord{
		ProductID:  "prod-1",
		RetailerID: "tesco",
		Price:      price,
		Source:     source,
		ObservedAt: observedAt,
	}
}

func TestArbiterPrecedence(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		existing *model.RetailerPriceRecord
		source   model.Source
		price    float64
		want     bool
	}{
		{"first observation accepted", nil, model.SourceCrawler, 1.25, true},
		{"user overwrites crawler", record(model.SourceCrawler, 1.30, now), model.SourceUser, 1.15, true},
		{"user overwrites user", record(model.SourceUser, 1.30, now), model.SourceUser, 1.15, true},
		{"crawler change overwrites crawler", record(model.SourceCrawler, 1.30, now), model.SourceCrawler, 1.25, true},
		{"crawler no-op rejected", record(model.SourceCrawler, 1.30, now), model.SourceCrawler, 1.30, false},
		{"crawler never beats user", record(model.SourceUser, 1.15, now), model.SourceCrawler, 1.30, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewArbiter(Policy{}, zap.NewNop())
			a.now = func() time.Time { return now }

			got := a.Decide(tt.existing, tt.source, tt.price)
			assert.Equal(t, tt.want, got.Accept, got.Reason)
		})
	}
}

func TestArbiterUserOverrideTTL(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := NewArbiter(Policy{UserOverrideTTL: 48 * time.Hour}, zap.NewNop())
	a.now = func() time.Time { return now }

	fresh := record(model.SourceUser, 1.15, now.Add(-time.Hour))
	assert.False(t, a.Decide(fresh, model.SourceCrawler, 1.30).Accept,
		"fresh user override must hold")

	stale := record(model.SourceUser, 1.15, now.Add(-72*time.Hour))
	assert.True(t, a.Decide(stale, model.SourceCrawler, 1.30).Accept,
		"expired user override should yield to crawler data")
}
