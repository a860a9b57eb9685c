package enum

// PurchaseOrderStatus 表示採購單的狀態
type PurchaseOrderStatus string

const (
	PurchaseOrderStatusDraft     PurchaseOrderStatus = "Draft"     // 草稿，尚未送出
	PurchaseOrderStatusSent      PurchaseOrderStatus = "Sent"      // 已送交供應商
	PurchaseOrderStatusPartial   PurchaseOrderStatus = "Partial"   // 部分收貨
	PurchaseOrderStatusReceived  PurchaseOrderStatus = "Received"  // 全部收貨完成
	PurchaseOrderStatusCancelled PurchaseOrderStatus = "Cancelled" // 已取消
)

// CanReceive reports whether a reception may be processed against a PO in
// this status.
func (s PurchaseOrderStatus) CanReceive() bool {
	return s == PurchaseOrderStatusSent || s == PurchaseOrderStatusPartial
}

// CanCancel reports whether the PO may still be cancelled. A fully
// received PO cannot be cancelled directly.
func (s PurchaseOrderStatus) CanCancel() bool {
	return s != PurchaseOrderStatusReceived && s != PurchaseOrderStatusCancelled
}
