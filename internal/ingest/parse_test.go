package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grocery-price/internal/model"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"£1.25", 1.25},
		{"1.25", 1.25},
		{" £2.40 ", 2.40},
		{"85p", 0.85},
		{"85P", 0.85},
		{"£1,099.00", 1099.00},
		{"3", 3},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePrice(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePriceRejects(t *testing.T) {
	for _, in := range []string{"", "  ", "£", "abc", "£abc", "-1.25", "0", "0p", "£-2"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParsePrice(in)
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestValidate(t *testing.T) {
	price, err := Validate(&model.RawRecord{
		RetailerID: "tesco",
		Name:       "Hovis Soft White Bread 800g",
		Price:      "£1.25",
	})
	require.NoError(t, err)
	assert.Equal(t, 1.25, price)

	cases := []model.RawRecord{
		{Name: "Hovis Soft White Bread 800g", Price: "£1.25"},
		{RetailerID: "tesco", Price: "£1.25"},
		{RetailerID: "tesco", Name: "!!!", Price: "£1.25"},
		{RetailerID: "tesco", Name: "Hovis Soft White Bread 800g", Price: "free"},
	}
	for _, raw := range cases {
		_, err := Validate(&raw)
		assert.ErrorIs(t, err, ErrInvalidRecord)
	}
}
