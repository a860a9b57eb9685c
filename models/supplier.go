package models

import (
	"encoding/json"
	"time"
)

type Supplier struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        string          `json:"type,omitempty"`
	ContactInfo json.RawMessage `json:"contact_info,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
