package models

import "time"

// StockSnapshot is the materialized current quantity for one variant. It
// is owned by the ledger projector and must always equal the fold of all
// ledger entries for the variant; callers never write it directly.
type StockSnapshot struct {
	VariantID   string    `json:"variant_id"`
	Quantity    int64     `json:"quantity"`
	Location    string    `json:"location,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}
