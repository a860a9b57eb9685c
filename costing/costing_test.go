package costing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRecomputeAverageCost(t *testing.T) {
	tests := []struct {
		name      string
		priorQty  int64
		priorCost string
		recvQty   int64
		recvCost  string
		want      string
	}{
		{"blends proportionally", 10, "5.00", 10, "7.00", "6"},
		{"zero prior stock takes received cost", 0, "0", 5, "3.50", "3.5"},
		{"negative prior stock takes received cost", -20, "5.00", 5, "3.50", "3.5"},
		{"uneven lots", 3, "2.00", 1, "6.00", "3"},
		{"fractional result rounds to cost scale", 1, "1.00", 2, "2.00", "1.6667"},
		{"zero received is a no-op", 10, "5.00", 0, "9.99", "5.00"},
		{"negative received is a no-op", 10, "5.00", -4, "9.99", "5.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RecomputeAverageCost(tt.priorQty, dec(tt.priorCost), tt.recvQty, dec(tt.recvCost))
			assert.True(t, dec(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestRecomputeAverageCostIgnoresCurrentSalePrice(t *testing.T) {
	// The basis must come from prior cost and received cost only; receiving
	// at the same cost twice never drifts.
	cost := dec("4.25")
	got := RecomputeAverageCost(100, cost, 50, cost)
	assert.True(t, cost.Equal(got))
}
