package models

import (
	"time"

	"goarcana.io/inventory/models/enum"
)

// LedgerEntry 代表一筆不可變的庫存異動紀錄。寫入後永不修改；
// 更正以反向分錄表達，並引用原始分錄。
type LedgerEntry struct {
	ID                 string                   `json:"id"`
	VariantID          string                   `json:"variant_id"`
	ChangeAmount       int64                    `json:"change_amount"`
	FinalStockSnapshot int64                    `json:"final_stock_snapshot"`
	Reason             enum.LedgerReason        `json:"reason"`
	ReferenceType      enum.LedgerReferenceType `json:"reference_type,omitempty"`
	ReferenceID        *string                  `json:"reference_id,omitempty"`
	ReversedEntryID    *string                  `json:"reversed_entry_id,omitempty"`
	PerformedBy        string                   `json:"performed_by,omitempty"`
	Note               string                   `json:"note,omitempty"`
	CreatedAt          time.Time                `json:"created_at"`
}
