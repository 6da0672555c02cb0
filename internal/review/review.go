// Package review executes review outcomes as atomic state transitions.
// The manager serializes mutation per item and commits the SM-2 update
// together with its history entry, so the scheduling state can never
// advance without an audit row or vice versa.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/retainhq/retain/internal/metrics"
	"github.com/retainhq/retain/internal/models"
	"github.com/retainhq/retain/internal/sm2"
	"github.com/retainhq/retain/internal/store"
)

// Result is the outcome of a submitted review.
type Result struct {
	Item           *models.Item      `json:"item"`
	Status         models.ItemStatus `json:"status"`
	HistoryEntryID string            `json:"history_entry_id"`
}

// Manager applies review outcomes to persisted item state.
type Manager struct {
	store   store.Store
	engine  *sm2.Engine
	mastery models.MasteryThresholds
	logger  *slog.Logger
}

// NewManager creates a review Manager.
func NewManager(st store.Store, engine *sm2.Engine, mastery models.MasteryThresholds, logger *slog.Logger) *Manager {
	return &Manager{store: st, engine: engine, mastery: mastery, logger: logger}
}

// Submit records one review of the item. It fails with sm2.ErrInvalidQuality
// for quality outside [0,5], store.ErrNotFound for an unknown id and
// store.ErrBusy when the per-item region could not be acquired in time.
// Two concurrent submissions for the same item apply in some serial order:
// the later writer's SM-2 input is the earlier writer's committed output.
func (m *Manager) Submit(ctx context.Context, itemID string, quality sm2.Quality, now time.Time) (*Result, error) {
	if !quality.IsValid() {
		return nil, fmt.Errorf("%w: got %d", sm2.ErrInvalidQuality, int(quality))
	}

	var result *Result
	err := m.store.WithItemLock(ctx, itemID, func(ctx context.Context) error {
		item, err := m.store.GetByID(ctx, itemID)
		if err != nil {
			return fmt.Errorf("load item %s: %w", itemID, err)
		}

		before := item.SM2
		after, err := m.engine.Apply(before, quality, now)
		if err != nil {
			return err
		}

		item.SM2 = after
		item.LastSeen = now
		item.UpdatedAt = now

		entry := &models.ReviewHistoryEntry{
			ID:         ulid.Make().String(),
			ItemID:     item.ID,
			ReviewedAt: now,
			Quality:    int(quality),
			Before:     before,
			After:      after,
		}

		if err := m.store.CommitReview(ctx, item, entry); err != nil {
			return fmt.Errorf("commit review for %s: %w", itemID, err)
		}

		result = &Result{
			Item:           item,
			Status:         item.Status(m.mastery),
			HistoryEntryID: entry.ID,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrBusy) {
			metrics.Inc(metrics.ReviewConflicts)
		}
		return nil, err
	}

	metrics.Inc(metrics.ReviewsTotal)
	m.logger.Info("review applied",
		"item_id", itemID,
		"quality", int(quality),
		"interval", result.Item.SM2.Interval,
		"repetitions", result.Item.SM2.Repetitions,
		"status", result.Status)
	return result, nil
}

// AddFlashcard constructs and persists a manually authored card. Flashcards
// bypass the resolver and enter the store as fully-formed reviewable items
// with the same initial SM-2 state as a new concept.
func (m *Manager) AddFlashcard(ctx context.Context, id, question, answer string, tags []string, priority int, now time.Time) (*models.Item, error) {
	if question == "" {
		return nil, errors.New("review: flashcard question must not be empty")
	}
	if answer == "" {
		return nil, errors.New("review: flashcard answer must not be empty")
	}

	item := &models.Item{
		ID:        id,
		Kind:      models.KindFlashcard,
		Label:     question,
		Question:  question,
		Answer:    answer,
		Tags:      tags,
		Source:    "manual",
		FirstSeen: now,
		LastSeen:  now,
		Priority:  priority,
		SM2:       m.engine.InitialState(now),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Put(ctx, item); err != nil {
		return nil, fmt.Errorf("store flashcard: %w", err)
	}

	metrics.Inc(metrics.FlashcardsTotal)
	m.logger.Info("flashcard created", "id", item.ID)
	return item, nil
}

// SetArchived flips the archive flag under the item's exclusive region.
// Archived items drop out of due-set queries but keep their history.
func (m *Manager) SetArchived(ctx context.Context, itemID string, archived bool, now time.Time) (*models.Item, error) {
	var updated *models.Item
	err := m.store.WithItemLock(ctx, itemID, func(ctx context.Context) error {
		item, err := m.store.GetByID(ctx, itemID)
		if err != nil {
			return fmt.Errorf("load item %s: %w", itemID, err)
		}
		item.Archived = archived
		item.UpdatedAt = now
		if err := m.store.Put(ctx, item); err != nil {
			return fmt.Errorf("update item %s: %w", itemID, err)
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
