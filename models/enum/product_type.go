package enum

// ProductType drives the backorder policy: resale stock is floored at
// zero on the sale path, supplies and assets may go negative.
type ProductType string

const (
	ProductTypeResale ProductType = "resale"
	ProductTypeSupply ProductType = "supply"
	ProductTypeAsset  ProductType = "asset"
)

func (t ProductType) Valid() bool {
	switch t {
	case ProductTypeResale, ProductTypeSupply, ProductTypeAsset:
		return true
	}
	return false
}

// DefaultAllowBackorder is the policy applied when a product carries no
// explicit backorder flag.
func (t ProductType) DefaultAllowBackorder() bool {
	return t != ProductTypeResale
}
