package models

import "time"

// ReviewHistoryEntry is the immutable audit record of one review.
// It is written in the same transaction as the item state update, so an
// item's SM-2 numbers can never advance without a matching history row.
type ReviewHistoryEntry struct {
	ID         string    `json:"id"` // ULID, time-sortable
	ItemID     string    `json:"item_id"`
	ReviewedAt time.Time `json:"reviewed_at"`
	Quality    int       `json:"quality"`
	Before     SM2State  `json:"before"`
	After      SM2State  `json:"after"`
}

// Success reports whether the review counted as a successful recall.
func (e *ReviewHistoryEntry) Success() bool {
	return e.Quality >= 3
}
