// Package query answers read-only questions about the collection: the due
// set and derived statistics. It is fully decoupled from the write paths
// and only ever observes committed state.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/retainhq/retain/internal/metrics"
	"github.com/retainhq/retain/internal/models"
	"github.com/retainhq/retain/internal/store"
)

// fallbackDueLimit bounds the due set when no default was configured.
const fallbackDueLimit = 50

// streakWindow bounds how far back the streak scan reaches. A streak longer
// than a year reports as 366.
const streakWindow = 366 * 24 * time.Hour

// Querier computes due sets and collection statistics.
type Querier struct {
	store    store.Store
	mastery  models.MasteryThresholds
	dueLimit int
	logger   *slog.Logger
}

// New creates a Querier. defaultDueLimit is the due-set bound applied when a
// caller passes a negative limit; values <= 0 fall back to 50.
func New(st store.Store, mastery models.MasteryThresholds, defaultDueLimit int, logger *slog.Logger) *Querier {
	if defaultDueLimit <= 0 {
		defaultDueLimit = fallbackDueLimit
	}
	return &Querier{store: st, mastery: mastery, dueLimit: defaultDueLimit, logger: logger}
}

// Due returns the items whose next review is at or before now, oldest
// overdue first, ties broken by priority then id for determinism. Archived
// items are never returned. limit semantics: zero yields an empty result,
// negative means "use the configured default".
func (q *Querier) Due(ctx context.Context, now time.Time, limit int) ([]models.Item, error) {
	metrics.Inc(metrics.DueQueriesTotal)

	if limit == 0 {
		return []models.Item{}, nil
	}
	if limit < 0 {
		limit = q.dueLimit
	}

	items, err := q.store.DueBefore(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due set: %w", err)
	}
	if items == nil {
		items = []models.Item{}
	}

	q.logger.Debug("due query", "limit", limit, "count", len(items))
	return items, nil
}

// Stats scans the committed items and history and returns derived counters.
// Every field is defined on an empty store: counts are zero and the success
// rate is 0, not NaN.
func (q *Querier) Stats(ctx context.Context, now time.Time) (*models.CollectionStats, error) {
	items, err := q.store.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: list items: %w", err)
	}

	stats := &models.CollectionStats{}
	for i := range items {
		stats.Total++
		switch items[i].Status(q.mastery) {
		case models.StatusArchived:
			stats.Archived++
		case models.StatusNew:
			stats.New++
		case models.StatusMastered:
			stats.Mastered++
		default:
			stats.Active++
		}
		if !items[i].Archived && !items[i].SM2.NextReview.After(now) {
			stats.DueToday++
		}
	}

	total, successes, err := q.store.ReviewOutcomes(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: review outcomes: %w", err)
	}
	stats.TotalReviews = total
	if total > 0 {
		stats.AverageSuccessRate = float64(successes) / float64(total)
	}

	times, err := q.store.ReviewTimes(ctx, now.Add(-streakWindow))
	if err != nil {
		return nil, fmt.Errorf("stats: review times: %w", err)
	}
	stats.CurrentStreak = streak(times, now)

	return stats, nil
}

// streak counts consecutive calendar days (UTC) with at least one review,
// ending today or yesterday. A day without reviews before yesterday breaks
// the chain; a quiet today does not, so an unbroken streak survives until
// the user actually misses a day.
func streak(times []time.Time, now time.Time) int {
	if len(times) == 0 {
		return 0
	}

	days := make(map[int64]bool, len(times))
	for _, t := range times {
		days[civilDay(t)] = true
	}

	today := civilDay(now)
	start := today
	if !days[start] {
		start = today - 1
		if !days[start] {
			return 0
		}
	}

	n := 0
	for d := start; days[d]; d-- {
		n++
	}
	return n
}

// civilDay maps a timestamp to its UTC calendar day ordinal.
func civilDay(t time.Time) int64 {
	return t.UTC().Unix() / 86400
}
