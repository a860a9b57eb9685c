package ledger

import (
	"goarcana.io/inventory/models/enum"
)

// AppendParams describes one ledger append. ChangeAmount is signed; a
// reversal references the entry it negates.
type AppendParams struct {
	VariantID       string
	ChangeAmount    int64
	Reason          enum.LedgerReason
	ReferenceType   enum.LedgerReferenceType
	ReferenceID     *string
	ReversedEntryID *string
	PerformedBy     string
	Note            string
}

// LowStockRow pairs a snapshot with the floor it sits under.
type LowStockRow struct {
	VariantID     string `json:"variant_id"`
	SKU           string `json:"sku"`
	Quantity      int64  `json:"quantity"`
	MinStockLevel int64  `json:"min_stock_level"`
}
