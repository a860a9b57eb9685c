package models

import "time"

// Event records an externally received event so processing stays idempotent.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Processed bool      `json:"processed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
