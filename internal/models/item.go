package models

import (
	"time"
)

// ItemKind distinguishes how a reviewable item came to exist.
type ItemKind string

const (
	// KindConcept is an auto-discovered concept resolved from ingestion signals.
	KindConcept ItemKind = "concept"
	// KindFlashcard is a manually authored question/answer card.
	KindFlashcard ItemKind = "flashcard"
)

// ValidItemKinds is the set of all valid item kinds.
var ValidItemKinds = []ItemKind{KindConcept, KindFlashcard}

// IsValid returns true if the item kind is recognized.
func (k ItemKind) IsValid() bool {
	for _, v := range ValidItemKinds {
		if k == v {
			return true
		}
	}
	return false
}

// ItemStatus is the lifecycle classification of a reviewable item.
// Except for Archived it is derived from the SM-2 numbers and never
// stored as an independent fact.
type ItemStatus string

const (
	StatusNew      ItemStatus = "new"
	StatusActive   ItemStatus = "active"
	StatusMastered ItemStatus = "mastered"
	StatusArchived ItemStatus = "archived"
)

// SM2State is the spaced-repetition state of an item. Ease is only ever
// written with the engine's clamped output.
type SM2State struct {
	Interval    float64   `json:"interval"` // days
	Ease        float64   `json:"ease_factor"`
	Repetitions int       `json:"repetitions"`
	NextReview  time.Time `json:"next_review_at"`
}

// Item is the uniform reviewable shape shared by tracked concepts and
// flashcards. Concepts carry a canonical key and encounter statistics;
// flashcards carry a question/answer pair. Both share identical SM-2 state.
type Item struct {
	ID           string   `json:"id"`
	Kind         ItemKind `json:"kind"`
	Label        string   `json:"label"`                   // display text; raw text as first seen for concepts
	CanonicalKey string   `json:"canonical_key,omitempty"` // empty for flashcards
	Question     string   `json:"question,omitempty"`
	Answer       string   `json:"answer,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Source       string   `json:"source,omitempty"`

	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	Encounters int64     `json:"encounter_count"`
	Relevance  float64   `json:"relevance_score"`
	Priority   int       `json:"priority"`
	Archived   bool      `json:"archived"`

	SM2 SM2State `json:"sm2"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MasteryThresholds configures when an item counts as mastered.
type MasteryThresholds struct {
	IntervalDays float64
	MinReps      int
}

// Status derives the item's lifecycle status from its current numbers.
// Archived wins over everything; mastery is recomputed from interval and
// repetitions on every call so it can never desynchronize from the SM-2 state.
func (it *Item) Status(m MasteryThresholds) ItemStatus {
	switch {
	case it.Archived:
		return StatusArchived
	case it.SM2.Repetitions == 0:
		return StatusNew
	case it.SM2.Interval >= m.IntervalDays && it.SM2.Repetitions >= m.MinReps:
		return StatusMastered
	default:
		return StatusActive
	}
}
