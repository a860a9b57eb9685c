package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"

	"goarcana.io/inventory/fault"
	"goarcana.io/inventory/models/enum"
)

// Order 代表銷售訂單（POS 或線上）。CustomerID 為空代表匿名顧客。
type Order struct {
	ID              string                 `json:"id"`
	CustomerID      *string                `json:"customer_id,omitempty"`
	Origin          enum.OrderOrigin       `json:"origin"`
	Status          enum.OrderStatus       `json:"status"`
	Fulfillment     enum.FulfillmentStatus `json:"fulfillment_status"`
	Currency        stripe.Currency        `json:"currency"`
	Subtotal        decimal.Decimal        `json:"subtotal"`
	Tax             decimal.Decimal        `json:"tax"`
	TaxRate         decimal.Decimal        `json:"tax_rate"`
	ShippingCost    decimal.Decimal        `json:"shipping_cost"`
	ShippingCarrier string                 `json:"shipping_carrier,omitempty"`
	Total           decimal.Decimal        `json:"total"`
	PaymentMethod   string                 `json:"payment_method,omitempty"`
	Items           []*OrderItem           `json:"items,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// OrderItem 代表訂單中的單個商品項目，單價為售出當下的價格
type OrderItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	VariantID string          `json:"variant_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

func (o *Order) Validate() error {
	if len(o.Items) == 0 {
		return fault.Validation("order requires at least one line item")
	}
	if o.Origin == "" {
		return fault.Validation("order origin is required")
	}
	for _, item := range o.Items {
		if item.VariantID == "" {
			return fault.Validation("order line requires a variant reference")
		}
		if item.Quantity <= 0 {
			return fault.Validation("order quantity must be positive for variant %s", item.VariantID)
		}
		if item.UnitPrice.IsNegative() {
			return fault.Validation("unit price cannot be negative for variant %s", item.VariantID)
		}
	}
	return nil
}

func (o *Order) CanCancel() bool {
	return o.Status == enum.OrderStatusPending
}
