// Package metrics provides application-level counters using stdlib expvar.
// Counters are automatically exported on the /debug/vars HTTP endpoint
// when net/http/pprof is imported in the main binary.
package metrics

import "expvar"

// Operation counters.
var (
	SignalsAccepted = expvar.NewInt("retain_signals_accepted_total")
	SignalsRejected = expvar.NewInt("retain_signals_rejected_total")
	ConceptsCreated = expvar.NewInt("retain_concepts_created_total")
	ReviewsTotal    = expvar.NewInt("retain_reviews_total")
	ReviewConflicts = expvar.NewInt("retain_review_conflicts_total")
	FlashcardsTotal = expvar.NewInt("retain_flashcards_created_total")
	DueQueriesTotal = expvar.NewInt("retain_due_queries_total")
)

// Inc increments the given counter by 1.
func Inc(counter *expvar.Int) { counter.Add(1) }
