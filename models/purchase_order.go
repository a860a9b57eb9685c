package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"

	"goarcana.io/inventory/fault"
	"goarcana.io/inventory/models/enum"
)

// PurchaseOrder 代表對供應商的採購單
type PurchaseOrder struct {
	ID         string                   `json:"id"`
	PONumber   string                   `json:"po_number"`
	SupplierID string                   `json:"supplier_id"`
	Status     enum.PurchaseOrderStatus `json:"status"`
	Currency   stripe.Currency          `json:"currency"`
	TotalCost  decimal.Decimal          `json:"total_cost"`
	Notes      string                   `json:"notes,omitempty"`
	Items      []*PurchaseOrderItem     `json:"items,omitempty"`
	CreatedAt  time.Time                `json:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at"`
}

// PurchaseOrderItem 代表採購單中的單一品項
type PurchaseOrderItem struct {
	ID              string          `json:"id"`
	PurchaseOrderID string          `json:"purchase_order_id"`
	VariantID       string          `json:"variant_id"`
	Quantity        int64           `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	TotalCost       decimal.Decimal `json:"total_cost"`
}

func (po *PurchaseOrder) Validate() error {
	if po.SupplierID == "" {
		return fault.Validation("purchase order requires a supplier")
	}
	if len(po.Items) == 0 {
		return fault.Validation("purchase order requires at least one line item")
	}
	for _, item := range po.Items {
		if item.VariantID == "" {
			return fault.Validation("purchase order line requires a variant reference")
		}
		if item.Quantity <= 0 {
			return fault.Validation("ordered quantity must be positive for variant %s", item.VariantID)
		}
		if item.UnitCost.IsNegative() {
			return fault.Validation("expected unit cost cannot be negative for variant %s", item.VariantID)
		}
	}
	return nil
}
