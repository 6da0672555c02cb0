package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retainhq/retain/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "retain.db"), 200*time.Millisecond, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testItem(id, key string, now time.Time) *models.Item {
	return &models.Item{
		ID:           id,
		Kind:         models.KindConcept,
		Label:        key,
		CanonicalKey: key,
		Tags:         []string{"test"},
		Source:       "test",
		FirstSeen:    now,
		LastSeen:     now,
		Encounters:   1,
		Relevance:    0.8,
		SM2:          models.SM2State{Interval: 0, Ease: 2.5, Repetitions: 0, NextReview: now},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestSQLiteStore_PutGetRoundtrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 30, 0, 123456789, time.UTC)

	want := testItem("id-1", "red-black trees", now)
	require.NoError(t, st.Put(ctx, want))

	byID, err := st.GetByID(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, want, byID)

	byKey, err := st.GetByKey(ctx, "red-black trees")
	require.NoError(t, err)
	assert.Equal(t, want.ID, byKey.ID)
	assert.True(t, byKey.SM2.NextReview.Equal(now), "timestamps must round-trip to the nanosecond")
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = st.GetByKey(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_PutUpdatesInPlace(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	it := testItem("id-1", "graphs", now)
	require.NoError(t, st.Put(ctx, it))

	it.Encounters = 5
	it.Relevance = 0.95
	require.NoError(t, st.Put(ctx, it))

	got, err := st.GetByID(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Encounters)
	assert.Equal(t, 0.95, got.Relevance)

	items, err := st.ListItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestSQLiteStore_DuplicateCanonicalKey(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.Put(ctx, testItem("id-1", "graphs", now)))
	err := st.Put(ctx, testItem("id-2", "graphs", now))
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestSQLiteStore_EmptyKeysDoNotCollide(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Flashcards have no canonical key; the partial index must not treat
	// their empty keys as duplicates.
	a := testItem("card-1", "", now)
	a.Kind = models.KindFlashcard
	b := testItem("card-2", "", now)
	b.Kind = models.KindFlashcard

	require.NoError(t, st.Put(ctx, a))
	require.NoError(t, st.Put(ctx, b))

	_, err := st.GetByKey(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_UpdateEncounterStats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	it := testItem("id-1", "graphs", now)
	require.NoError(t, st.Put(ctx, it))

	// Snapshot the row, then advance its scheduling state and archive it,
	// as a concurrent review/archive under the item lock would.
	stale := *it
	reviewed := *it
	reviewed.SM2 = models.SM2State{Interval: 1, Ease: 2.5, Repetitions: 1, NextReview: now.Add(24 * time.Hour)}
	entry := &models.ReviewHistoryEntry{ID: "h-1", ItemID: it.ID, ReviewedAt: now, Quality: 5, Before: it.SM2, After: reviewed.SM2}
	require.NoError(t, st.CommitReview(ctx, &reviewed, entry))
	reviewed.Archived = true
	require.NoError(t, st.Put(ctx, &reviewed))

	// Writing encounter stats from the stale snapshot must not touch the
	// scheduling columns or the archive flag.
	stale.Encounters = 2
	stale.Relevance = 0.9
	stale.LastSeen = now.Add(time.Minute)
	stale.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, st.UpdateEncounterStats(ctx, &stale))

	got, err := st.GetByID(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Encounters)
	assert.Equal(t, 0.9, got.Relevance)
	assert.Equal(t, 1, got.SM2.Repetitions, "committed review must survive")
	assert.Equal(t, 1.0, got.SM2.Interval)
	assert.True(t, got.Archived, "archive flag must survive")
}

func TestSQLiteStore_UpdateEncounterStatsMissing(t *testing.T) {
	st := newTestStore(t)
	it := testItem("ghost", "ghost", time.Now().UTC())
	err := st.UpdateEncounterStats(context.Background(), it)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_DueBeforeOrderingAndFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mk := func(id string, due time.Time, priority int, archived bool) *models.Item {
		it := testItem(id, "key-"+id, now)
		it.SM2.NextReview = due
		it.Priority = priority
		it.Archived = archived
		return it
	}

	require.NoError(t, st.Put(ctx, mk("b", now.Add(-time.Hour), 0, false)))
	require.NoError(t, st.Put(ctx, mk("a", now.Add(-time.Hour), 0, false)))
	require.NoError(t, st.Put(ctx, mk("c", now.Add(-2*time.Hour), 0, false)))
	require.NoError(t, st.Put(ctx, mk("hi", now.Add(-time.Hour), 9, false)))
	require.NoError(t, st.Put(ctx, mk("gone", now.Add(-3*time.Hour), 0, true)))
	require.NoError(t, st.Put(ctx, mk("future", now.Add(time.Hour), 0, false)))

	items, err := st.DueBefore(ctx, now, 0)
	require.NoError(t, err)

	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	// Oldest due first; same due time orders priority desc then id asc.
	// Archived and future items never appear.
	assert.Equal(t, []string{"c", "hi", "a", "b"}, ids)

	limited, err := st.DueBefore(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
	assert.Equal(t, "c", limited[0].ID)
}

func TestSQLiteStore_DueBeforeIncludesBoundary(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	it := testItem("id-1", "graphs", now)
	it.SM2.NextReview = now
	require.NoError(t, st.Put(ctx, it))

	items, err := st.DueBefore(ctx, now, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1, "an item due exactly now is due")
}

func TestSQLiteStore_CommitReview(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	it := testItem("id-1", "graphs", now)
	require.NoError(t, st.Put(ctx, it))

	before := it.SM2
	after := models.SM2State{Interval: 1, Ease: 2.5, Repetitions: 1, NextReview: now.Add(24 * time.Hour)}
	it.SM2 = after
	it.LastSeen = now
	it.UpdatedAt = now

	entry := &models.ReviewHistoryEntry{
		ID:         "h-1",
		ItemID:     it.ID,
		ReviewedAt: now,
		Quality:    5,
		Before:     before,
		After:      after,
	}
	require.NoError(t, st.CommitReview(ctx, it, entry))

	got, err := st.GetByID(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.SM2.Repetitions)
	assert.Equal(t, 1.0, got.SM2.Interval)

	hist, err := st.HistoryForItem(ctx, "id-1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "h-1", hist[0].ID)
	assert.Equal(t, 5, hist[0].Quality)
	assert.Equal(t, 0, hist[0].Before.Repetitions)
	assert.Equal(t, 1, hist[0].After.Repetitions)
}

func TestSQLiteStore_CommitReviewMissingItemWritesNothing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	it := testItem("ghost", "ghost", now)
	entry := &models.ReviewHistoryEntry{ID: "h-1", ItemID: "ghost", ReviewedAt: now, Quality: 4}

	err := st.CommitReview(ctx, it, entry)
	require.ErrorIs(t, err, ErrNotFound)

	// The rolled-back transaction must not have left the history row behind.
	total, _, err := st.ReviewOutcomes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestSQLiteStore_ReviewOutcomes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	it := testItem("id-1", "graphs", now)
	require.NoError(t, st.Put(ctx, it))

	for i, q := range []int{5, 4, 2, 3, 0} {
		entry := &models.ReviewHistoryEntry{
			ID:         string(rune('a' + i)),
			ItemID:     it.ID,
			ReviewedAt: now.Add(time.Duration(i) * time.Minute),
			Quality:    q,
		}
		require.NoError(t, st.CommitReview(ctx, it, entry))
	}

	total, successes, err := st.ReviewOutcomes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Equal(t, int64(3), successes)
}

func TestSQLiteStore_ReviewTimes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	it := testItem("id-1", "graphs", now)
	require.NoError(t, st.Put(ctx, it))

	stamps := []time.Time{now.Add(-48 * time.Hour), now.Add(-24 * time.Hour), now}
	for i, ts := range stamps {
		entry := &models.ReviewHistoryEntry{
			ID:         string(rune('a' + i)),
			ItemID:     it.ID,
			ReviewedAt: ts,
			Quality:    4,
		}
		require.NoError(t, st.CommitReview(ctx, it, entry))
	}

	times, err := st.ReviewTimes(ctx, now.Add(-36*time.Hour))
	require.NoError(t, err)
	require.Len(t, times, 2)
	assert.True(t, times[0].Equal(now), "newest first")
	assert.True(t, times[1].Equal(now.Add(-24*time.Hour)))
}

func TestSQLiteStore_Encounters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.AppendEncounter(ctx, &models.Encounter{
		ID:         "e-1",
		ItemID:     "id-1",
		ObservedAt: now,
		Source:     "ocr",
		Confidence: 0.7,
	}))
	// Append-only: a second row with the same id is an error.
	err := st.AppendEncounter(ctx, &models.Encounter{ID: "e-1", ItemID: "id-1", ObservedAt: now, Confidence: 0.7})
	assert.Error(t, err)
}

func TestSQLiteStore_LockTimeout(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = st.WithItemLock(ctx, "id-1", func(ctx context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	err := st.WithItemLock(ctx, "id-1", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrBusy)

	// A different id does not contend.
	err = st.WithItemLock(ctx, "id-2", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestSQLiteStore_ItemAndKeyLocksAreDisjoint(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.WithItemLock(ctx, "x", func(ctx context.Context) error {
		return st.WithKeyLock(ctx, "x", func(ctx context.Context) error { return nil })
	})
	assert.NoError(t, err, "item and key namespaces must not alias")
}

func TestSQLiteStore_LockSerializesWriters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = st.WithItemLock(ctx, "same", func(ctx context.Context) error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, counter)
}

func TestKeyedLock_ContextCancel(t *testing.T) {
	l := newKeyedLock()
	ctx := context.Background()

	release, err := l.acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	defer release()

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = l.acquire(cancelled, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
