package store

import (
	"context"
	"errors"
	"time"

	"github.com/retainhq/retain/internal/models"
)

// ErrNotFound is returned when the requested item does not exist.
var ErrNotFound = errors.New("item not found")

// ErrBusy is returned when a per-entity lock could not be acquired within
// the configured timeout. Callers may retry with backoff; the store itself
// never retries silently.
var ErrBusy = errors.New("entity is busy")

// ErrDuplicateKey is returned by Put when an insert would violate
// canonical-key uniqueness. The resolver's key-locked region makes this a
// should-not-happen guard rather than a control-flow path.
var ErrDuplicateKey = errors.New("canonical key already exists")

// Store is the persistence boundary of the engine. All durable state is
// owned by the store; components operate on the values it returns and route
// every mutation back through it.
type Store interface {
	// GetByKey retrieves a concept item by canonical key.
	GetByKey(ctx context.Context, key string) (*models.Item, error)

	// GetByID retrieves an item by id.
	GetByID(ctx context.Context, id string) (*models.Item, error)

	// Put inserts or updates an item. Canonical-key uniqueness is enforced
	// by the store, not by best-effort application checks.
	Put(ctx context.Context, item *models.Item) error

	// UpdateEncounterStats writes only the encounter-derived columns of an
	// existing item (encounters, relevance, last_seen, updated_at). The
	// resolver's hit path must use this instead of Put: a full-row write
	// from a snapshot read under the key lock could clobber a review or
	// archive committed concurrently under the item lock.
	UpdateEncounterStats(ctx context.Context, item *models.Item) error

	// DueBefore returns non-archived items with next_review <= upper,
	// ordered by next_review ascending, priority descending, id ascending.
	// limit <= 0 means no bound.
	DueBefore(ctx context.Context, upper time.Time, limit int) ([]models.Item, error)

	// ListItems returns all items, including archived ones.
	ListItems(ctx context.Context) ([]models.Item, error)

	// AppendEncounter writes one immutable encounter row.
	AppendEncounter(ctx context.Context, enc *models.Encounter) error

	// CommitReview persists the post-review item state and appends the
	// history entry as a single transaction: both or neither.
	CommitReview(ctx context.Context, item *models.Item, entry *models.ReviewHistoryEntry) error

	// HistoryForItem returns an item's history, newest first.
	// limit <= 0 means no bound.
	HistoryForItem(ctx context.Context, itemID string, limit int) ([]models.ReviewHistoryEntry, error)

	// ReviewOutcomes returns the total review count and the count of
	// successful reviews (quality >= 3) across all history.
	ReviewOutcomes(ctx context.Context) (total, successes int64, err error)

	// ReviewTimes returns reviewed_at timestamps at or after since,
	// newest first. Used by the stats aggregator for streak computation.
	ReviewTimes(ctx context.Context, since time.Time) ([]time.Time, error)

	// WithItemLock runs fn while holding the exclusive per-item region.
	// Acquisition is bounded; on timeout it returns ErrBusy without
	// invoking fn.
	WithItemLock(ctx context.Context, id string, fn func(ctx context.Context) error) error

	// WithKeyLock is WithItemLock keyed by canonical key, used for the
	// resolver's atomic lookup-or-create region.
	WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error

	// Close releases resources.
	Close() error
}
