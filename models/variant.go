package models

import (
	"time"

	"github.com/shopspring/decimal"

	"goarcana.io/inventory/fault"
)

// Variant 代表單一可售 SKU。成本欄位只由成本引擎透過收貨流程改寫。
type Variant struct {
	ID             string           `json:"id"`
	ProductID      string           `json:"product_id"`
	SKU            string           `json:"sku"`
	Barcode        string           `json:"barcode,omitempty"`
	SetName        string           `json:"set_name,omitempty"`
	Rarity         string           `json:"rarity,omitempty"`
	Condition      string           `json:"variant_condition,omitempty"`
	Language       string           `json:"language,omitempty"`
	IsFoil         bool             `json:"is_foil"`
	WeightGrams    int64            `json:"weight_grams"`
	LengthCM       float64          `json:"length_cm"`
	WidthCM        float64          `json:"width_cm"`
	HeightCM       float64          `json:"height_cm"`
	Price          decimal.Decimal  `json:"price"`
	CompareAtPrice *decimal.Decimal `json:"compare_at_price,omitempty"`
	CostPrice      decimal.Decimal  `json:"cost_price"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (v *Variant) Validate() error {
	if v.ProductID == "" {
		return fault.Validation("variant requires a product reference")
	}
	if v.SKU == "" {
		return fault.Validation("variant SKU is required")
	}
	if v.Price.IsNegative() {
		return fault.Validation("variant price cannot be negative")
	}
	if v.CostPrice.IsNegative() {
		return fault.Validation("variant cost cannot be negative")
	}
	return nil
}
