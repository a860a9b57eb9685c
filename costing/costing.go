// Package costing implements the weighted-average unit cost recomputation
// applied on purchase receipts. Sales, audits and internal consumption do
// not change the cost basis and never call into this package.
package costing

import "github.com/shopspring/decimal"

// costScale matches the decimal(20,4) cost columns.
const costScale = 4

// RecomputeAverageCost blends the existing cost basis with a newly
// received lot, proportional to quantities:
//
//	newCost = (priorQty*priorCost + recvQty*recvCost) / (priorQty + recvQty)
//
// Guards:
//   - recvQty <= 0 is not a valid receipt line; the prior cost stands.
//   - priorQty + recvQty <= 0 would divide by zero or let negative stock
//     distort the basis; the received unit cost is used as-is.
func RecomputeAverageCost(priorQuantity int64, priorCost decimal.Decimal, receivedQuantity int64, receivedUnitCost decimal.Decimal) decimal.Decimal {
	if receivedQuantity <= 0 {
		return priorCost
	}
	totalQuantity := priorQuantity + receivedQuantity
	if totalQuantity <= 0 {
		return receivedUnitCost
	}

	priorValue := priorCost.Mul(decimal.NewFromInt(priorQuantity))
	receivedValue := receivedUnitCost.Mul(decimal.NewFromInt(receivedQuantity))

	return priorValue.Add(receivedValue).DivRound(decimal.NewFromInt(totalQuantity), costScale)
}
