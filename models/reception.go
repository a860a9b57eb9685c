package models

import (
	"time"

	"github.com/shopspring/decimal"

	"goarcana.io/inventory/models/enum"
)

// Reception 代表一次針對採購單的實際收貨事件。一張採購單可以有多次
// 部分收貨；已取消的收貨不計入採購單的累計收貨量。
type Reception struct {
	ID              string               `json:"id"`
	PurchaseOrderID string               `json:"purchase_order_id"`
	Status          enum.ReceptionStatus `json:"status"`
	Notes           string               `json:"notes,omitempty"`
	ReceivedBy      string               `json:"received_by,omitempty"`
	Items           []*ReceptionItem     `json:"items,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	CancelledAt     *time.Time           `json:"cancelled_at,omitempty"`
}

// ReceptionItem 代表收貨事件中的一個 (變體, 實收數量, 實際單位成本) 項目
type ReceptionItem struct {
	ID          string          `json:"id"`
	ReceptionID string          `json:"reception_id"`
	VariantID   string          `json:"variant_id"`
	Quantity    int64           `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}
