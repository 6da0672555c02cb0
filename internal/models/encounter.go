package models

import "time"

// Encounter is one accepted ingestion signal attributed to a concept.
// Rows are append-only evidence: written once, never mutated or deleted.
// The item back-reference is informational only and never used to mutate
// the owning concept.
type Encounter struct {
	ID         string    `json:"id"` // ULID, time-sortable
	ItemID     string    `json:"item_id"`
	ObservedAt time.Time `json:"observed_at"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
}
