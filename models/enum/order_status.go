package enum

// OrderStatus 表示銷售訂單的狀態
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"   // 訂單已創建
	OrderStatusCompleted OrderStatus = "completed" // 訂單完成
	OrderStatusCancelled OrderStatus = "cancelled" // 訂單取消
)

// FulfillmentStatus tracks physical fulfillment, independent of stock.
type FulfillmentStatus string

const (
	FulfillmentStatusPending FulfillmentStatus = "pending"
	FulfillmentStatusPacked  FulfillmentStatus = "packed"
	FulfillmentStatusShipped FulfillmentStatus = "shipped"
)

// rank orders fulfillment stages so transitions can only move forward.
func (f FulfillmentStatus) rank() int {
	switch f {
	case FulfillmentStatusPending:
		return 0
	case FulfillmentStatusPacked:
		return 1
	case FulfillmentStatusShipped:
		return 2
	}
	return -1
}

func (f FulfillmentStatus) CanAdvanceTo(next FulfillmentStatus) bool {
	return next.rank() > f.rank()
}
