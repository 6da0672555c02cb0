package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/retainhq/retain/internal/models"
	_ "modernc.org/sqlite"
)

// schema defines the durable layout: one table per entity, a unique index
// enforcing canonical-key identity, and a secondary index on next_review
// for due-set range scans. Timestamps are unix nanoseconds (UTC).
const schema = `
CREATE TABLE IF NOT EXISTS items (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	label         TEXT NOT NULL,
	canonical_key TEXT NOT NULL DEFAULT '',
	question      TEXT NOT NULL DEFAULT '',
	answer        TEXT NOT NULL DEFAULT '',
	tags          TEXT NOT NULL DEFAULT '[]',
	source        TEXT NOT NULL DEFAULT '',
	first_seen    INTEGER NOT NULL,
	last_seen     INTEGER NOT NULL,
	encounters    INTEGER NOT NULL DEFAULT 0,
	relevance     REAL NOT NULL DEFAULT 0,
	priority      INTEGER NOT NULL DEFAULT 0,
	archived      INTEGER NOT NULL DEFAULT 0,
	interval      REAL NOT NULL DEFAULT 0,
	ease          REAL NOT NULL,
	repetitions   INTEGER NOT NULL DEFAULT 0,
	next_review   INTEGER NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_items_canonical_key
	ON items(canonical_key) WHERE canonical_key != '';

CREATE INDEX IF NOT EXISTS idx_items_next_review
	ON items(next_review) WHERE archived = 0;

CREATE TABLE IF NOT EXISTS encounters (
	id          TEXT PRIMARY KEY,
	item_id     TEXT NOT NULL,
	observed_at INTEGER NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	confidence  REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_encounters_item ON encounters(item_id, observed_at);

CREATE TABLE IF NOT EXISTS review_history (
	id              TEXT PRIMARY KEY,
	item_id         TEXT NOT NULL,
	reviewed_at     INTEGER NOT NULL,
	quality         INTEGER NOT NULL,
	before_interval REAL NOT NULL,
	before_ease     REAL NOT NULL,
	before_reps     INTEGER NOT NULL,
	before_next     INTEGER NOT NULL,
	after_interval  REAL NOT NULL,
	after_ease      REAL NOT NULL,
	after_reps      INTEGER NOT NULL,
	after_next      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_item ON review_history(item_id, reviewed_at);
CREATE INDEX IF NOT EXISTS idx_history_time ON review_history(reviewed_at);
`

const itemColumns = `id, kind, label, canonical_key, question, answer, tags, source,
	first_seen, last_seen, encounters, relevance, priority, archived,
	interval, ease, repetitions, next_review, created_at, updated_at`

// SQLiteStore is the SQLite-backed Store. Writers go through per-entity
// keyed locks plus transactions; readers observe committed state only
// (WAL mode), never a half-written item.
type SQLiteStore struct {
	db          *sql.DB
	locks       *keyedLock
	lockTimeout time.Duration
	logger      *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at dbPath, applies
// pragmas and the schema, and returns a ready store. Directory creation
// happens here, invoked explicitly by the entry point, never at import time.
func NewSQLiteStore(dbPath string, lockTimeout time.Duration, logger *slog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}

	return &SQLiteStore{
		db:          db,
		locks:       newKeyedLock(),
		lockTimeout: lockTimeout,
		logger:      logger,
	}, nil
}

// enablePragmas sets SQLite pragmas for safety and concurrent readers.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetByKey retrieves a concept item by canonical key.
func (s *SQLiteStore) GetByKey(ctx context.Context, key string) (*models.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE canonical_key = ? AND canonical_key != ''`, key)
	return scanItem(row)
}

// GetByID retrieves an item by id.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*models.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	return scanItem(row)
}

// Put upserts an item. The partial unique index on canonical_key enforces
// concept identity at the storage layer.
func (s *SQLiteStore) Put(ctx context.Context, item *models.Item) error {
	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			label = excluded.label,
			canonical_key = excluded.canonical_key,
			question = excluded.question,
			answer = excluded.answer,
			tags = excluded.tags,
			source = excluded.source,
			first_seen = excluded.first_seen,
			last_seen = excluded.last_seen,
			encounters = excluded.encounters,
			relevance = excluded.relevance,
			priority = excluded.priority,
			archived = excluded.archived,
			interval = excluded.interval,
			ease = excluded.ease,
			repetitions = excluded.repetitions,
			next_review = excluded.next_review,
			updated_at = excluded.updated_at`,
		item.ID, string(item.Kind), item.Label, item.CanonicalKey,
		item.Question, item.Answer, string(tags), item.Source,
		nanos(item.FirstSeen), nanos(item.LastSeen), item.Encounters,
		item.Relevance, item.Priority, boolInt(item.Archived),
		item.SM2.Interval, item.SM2.Ease, item.SM2.Repetitions,
		nanos(item.SM2.NextReview), nanos(item.CreatedAt), nanos(item.UpdatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("put item %s: %w", item.ID, ErrDuplicateKey)
		}
		return fmt.Errorf("put item %s: %w", item.ID, err)
	}
	return nil
}

// UpdateEncounterStats writes the encounter-derived columns only. Scheduling
// state, archive flag and identity columns are never touched, so this write
// cannot revert a review or archive committed under the item lock.
func (s *SQLiteStore) UpdateEncounterStats(ctx context.Context, item *models.Item) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET encounters = ?, relevance = ?, last_seen = ?, updated_at = ?
		WHERE id = ?`,
		item.Encounters, item.Relevance, nanos(item.LastSeen), nanos(item.UpdatedAt),
		item.ID)
	if err != nil {
		return fmt.Errorf("update encounter stats for %s: %w", item.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update encounter stats for %s: %w", item.ID, ErrNotFound)
	}
	return nil
}

// DueBefore returns non-archived items due at or before upper, ordered by
// next_review ascending, priority descending, id ascending.
func (s *SQLiteStore) DueBefore(ctx context.Context, upper time.Time, limit int) ([]models.Item, error) {
	q := `SELECT ` + itemColumns + ` FROM items
		WHERE archived = 0 AND next_review <= ?
		ORDER BY next_review ASC, priority DESC, id ASC`
	args := []any{nanos(upper)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query due items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// ListItems returns all items, archived included.
func (s *SQLiteStore) ListItems(ctx context.Context) ([]models.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// AppendEncounter writes one immutable encounter row.
func (s *SQLiteStore) AppendEncounter(ctx context.Context, enc *models.Encounter) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO encounters (id, item_id, observed_at, source, confidence)
		VALUES (?, ?, ?, ?, ?)`,
		enc.ID, enc.ItemID, nanos(enc.ObservedAt), enc.Source, enc.Confidence)
	if err != nil {
		return fmt.Errorf("append encounter: %w", err)
	}
	return nil
}

// CommitReview persists the post-review item state and the history entry in
// one transaction. A failure on either statement rolls back both.
func (s *SQLiteStore) CommitReview(ctx context.Context, item *models.Item, entry *models.ReviewHistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin review tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE items SET
			interval = ?, ease = ?, repetitions = ?, next_review = ?,
			last_seen = ?, updated_at = ?
		WHERE id = ?`,
		item.SM2.Interval, item.SM2.Ease, item.SM2.Repetitions,
		nanos(item.SM2.NextReview), nanos(item.LastSeen), nanos(item.UpdatedAt),
		item.ID)
	if err != nil {
		return fmt.Errorf("update reviewed item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update reviewed item %s: %w", item.ID, ErrNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO review_history (id, item_id, reviewed_at, quality,
			before_interval, before_ease, before_reps, before_next,
			after_interval, after_ease, after_reps, after_next)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ItemID, nanos(entry.ReviewedAt), entry.Quality,
		entry.Before.Interval, entry.Before.Ease, entry.Before.Repetitions, nanos(entry.Before.NextReview),
		entry.After.Interval, entry.After.Ease, entry.After.Repetitions, nanos(entry.After.NextReview))
	if err != nil {
		return fmt.Errorf("append review history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit review tx: %w", err)
	}

	s.logger.Debug("review committed", "item_id", item.ID, "history_id", entry.ID)
	return nil
}

// HistoryForItem returns an item's review history, newest first.
func (s *SQLiteStore) HistoryForItem(ctx context.Context, itemID string, limit int) ([]models.ReviewHistoryEntry, error) {
	q := `SELECT id, item_id, reviewed_at, quality,
			before_interval, before_ease, before_reps, before_next,
			after_interval, after_ease, after_reps, after_next
		FROM review_history WHERE item_id = ? ORDER BY reviewed_at DESC, id DESC`
	args := []any{itemID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []models.ReviewHistoryEntry
	for rows.Next() {
		var e models.ReviewHistoryEntry
		var reviewedAt, beforeNext, afterNext int64
		if err := rows.Scan(&e.ID, &e.ItemID, &reviewedAt, &e.Quality,
			&e.Before.Interval, &e.Before.Ease, &e.Before.Repetitions, &beforeNext,
			&e.After.Interval, &e.After.Ease, &e.After.Repetitions, &afterNext); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.ReviewedAt = fromNanos(reviewedAt)
		e.Before.NextReview = fromNanos(beforeNext)
		e.After.NextReview = fromNanos(afterNext)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReviewOutcomes returns total and successful review counts.
func (s *SQLiteStore) ReviewOutcomes(ctx context.Context) (int64, int64, error) {
	var total, successes int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN quality >= 3 THEN 1 ELSE 0 END), 0)
		FROM review_history`).Scan(&total, &successes)
	if err != nil {
		return 0, 0, fmt.Errorf("count review outcomes: %w", err)
	}
	return total, successes, nil
}

// ReviewTimes returns reviewed_at timestamps at or after since, newest first.
func (s *SQLiteStore) ReviewTimes(ctx context.Context, since time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reviewed_at FROM review_history
		WHERE reviewed_at >= ? ORDER BY reviewed_at DESC`, nanos(since))
	if err != nil {
		return nil, fmt.Errorf("query review times: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan review time: %w", err)
		}
		times = append(times, fromNanos(n))
	}
	return times, rows.Err()
}

// WithItemLock runs fn while holding the exclusive region for the item id.
func (s *SQLiteStore) WithItemLock(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	return s.withLock(ctx, "item:"+id, fn)
}

// WithKeyLock runs fn while holding the exclusive region for a canonical key.
func (s *SQLiteStore) WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return s.withLock(ctx, "key:"+key, fn)
}

func (s *SQLiteStore) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	release, err := s.locks.acquire(ctx, key, s.lockTimeout)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// --- row scanning ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.Item, error) {
	var it models.Item
	var kind, tags string
	var firstSeen, lastSeen, nextReview, createdAt, updatedAt int64
	var archived int

	err := row.Scan(&it.ID, &kind, &it.Label, &it.CanonicalKey,
		&it.Question, &it.Answer, &tags, &it.Source,
		&firstSeen, &lastSeen, &it.Encounters, &it.Relevance, &it.Priority, &archived,
		&it.SM2.Interval, &it.SM2.Ease, &it.SM2.Repetitions, &nextReview,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}

	it.Kind = models.ItemKind(kind)
	it.Archived = archived != 0
	it.FirstSeen = fromNanos(firstSeen)
	it.LastSeen = fromNanos(lastSeen)
	it.SM2.NextReview = fromNanos(nextReview)
	it.CreatedAt = fromNanos(createdAt)
	it.UpdatedAt = fromNanos(updatedAt)

	if err := json.Unmarshal([]byte(tags), &it.Tags); err != nil {
		return nil, fmt.Errorf("decode tags for item %s: %w", it.ID, err)
	}
	return &it, nil
}

func collectItems(rows *sql.Rows) ([]models.Item, error) {
	var items []models.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func nanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
