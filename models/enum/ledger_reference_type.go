package enum

// LedgerReferenceType names the business document a ledger entry points at.
type LedgerReferenceType string

const (
	LedgerReferenceTypeOrder     LedgerReferenceType = "order"
	LedgerReferenceTypeReception LedgerReferenceType = "reception"
	LedgerReferenceTypeAudit     LedgerReferenceType = "audit"
	LedgerReferenceTypeManual    LedgerReferenceType = "manual"
)
