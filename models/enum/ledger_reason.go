package enum

// LedgerReason classifies why a ledger entry changed stock.
type LedgerReason string

const (
	LedgerReasonSale                 LedgerReason = "sale"
	LedgerReasonPurchaseReceipt      LedgerReason = "purchase_receipt"
	LedgerReasonAuditAdjustment      LedgerReason = "audit_adjustment"
	LedgerReasonInternalConsumption  LedgerReason = "internal_consumption"
	LedgerReasonCancellationReversal LedgerReason = "cancellation_reversal"
)

func (r LedgerReason) Valid() bool {
	switch r {
	case LedgerReasonSale, LedgerReasonPurchaseReceipt, LedgerReasonAuditAdjustment,
		LedgerReasonInternalConsumption, LedgerReasonCancellationReversal:
		return true
	}
	return false
}

// TriggersCosting reports whether entries with this reason feed the
// weighted-average cost recomputation. Only purchase receipts change the
// cost basis.
func (r LedgerReason) TriggersCosting() bool {
	return r == LedgerReasonPurchaseReceipt
}
