package models

import (
	"time"

	"goarcana.io/inventory/fault"
	"goarcana.io/inventory/models/enum"
)

// Product 代表一個商品（可擁有多個 SKU 變體）
type Product struct {
	ID             string           `json:"id"`
	Title          string           `json:"title"`
	Description    string           `json:"description,omitempty"`
	BaseSKU        string           `json:"base_sku,omitempty"`
	Category       string           `json:"category,omitempty"`
	ImageURL       string           `json:"image_url,omitempty"`
	Type           enum.ProductType `json:"type"`
	MinStockLevel  int64            `json:"min_stock_level"`
	AllowBackorder *bool            `json:"allow_backorder,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (p *Product) Validate() error {
	if p.Title == "" {
		return fault.Validation("product title is required")
	}
	if !p.Type.Valid() {
		return fault.Validation("unknown product type %q", p.Type)
	}
	if p.MinStockLevel < 0 {
		return fault.Validation("min stock level cannot be negative")
	}
	return nil
}

// BackorderAllowed resolves the effective policy: the explicit flag wins,
// otherwise the product type default applies.
func (p *Product) BackorderAllowed() bool {
	if p.AllowBackorder != nil {
		return *p.AllowBackorder
	}
	return p.Type.DefaultAllowBackorder()
}
