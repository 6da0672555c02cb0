package models

// CollectionStats summarizes the reviewable collection at a point in time.
// All fields are defined (zero, not NaN) on an empty store.
type CollectionStats struct {
	Total              int64   `json:"total"`
	New                int64   `json:"new"`
	Active             int64   `json:"active"`
	Mastered           int64   `json:"mastered"`
	Archived           int64   `json:"archived"`
	DueToday           int64   `json:"due_today"`
	TotalReviews       int64   `json:"total_reviews"`
	AverageSuccessRate float64 `json:"average_success_rate"`
	CurrentStreak      int     `json:"current_streak"` // consecutive days with at least one review
}
