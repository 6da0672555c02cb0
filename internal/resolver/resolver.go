// Package resolver merges repeated, fuzzy textual signals into canonical
// tracked concepts. A signal either matches an existing concept by canonical
// key, creates a new one, or is rejected with a specific reason, never
// silently coerced.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/retainhq/retain/internal/metrics"
	"github.com/retainhq/retain/internal/models"
	"github.com/retainhq/retain/internal/normalize"
	"github.com/retainhq/retain/internal/sm2"
	"github.com/retainhq/retain/internal/store"
)

// Rejection reasons. All are validation errors: the signal is dropped with
// no side effect, and the caller gets the specific cause.
var (
	ErrEmptyKey         = errors.New("resolver: text normalizes to the empty key")
	ErrLowConfidence    = errors.New("resolver: confidence below floor")
	ErrBadConfidence    = errors.New("resolver: confidence outside [0, 1]")
	ErrKeyLength        = errors.New("resolver: normalized text length out of bounds")
	ErrDenylisted       = errors.New("resolver: text matches the noise denylist")
	ErrNotConceptSignal = errors.New("resolver: item exists but is not a concept")
)

// Config holds the resolver's acceptance thresholds.
type Config struct {
	// Alpha is the exponential-moving-average weight for relevance updates:
	// relevance' = relevance*(1-alpha) + confidence*alpha.
	Alpha float64
	// ConfidenceFloor rejects signals below this confidence.
	ConfidenceFloor float64
	// MinKeyLen and MaxKeyLen bound the normalized key length in runes.
	MinKeyLen int
	MaxKeyLen int
	// Denylist contains noise tokens (UI chrome words, placeholders) that
	// never become concepts. Entries are compared post-normalization.
	Denylist []string
}

// DefaultConfig returns the documented default thresholds.
func DefaultConfig() Config {
	return Config{
		Alpha:           0.30,
		ConfidenceFloor: 0.40,
		MinKeyLen:       3,
		MaxKeyLen:       120,
		Denylist: []string{
			"ok", "cancel", "submit", "login", "logout", "settings",
			"loading", "untitled", "new tab", "file", "edit", "view",
			"help", "search",
		},
	}
}

// Resolver decides whether a signal matches an existing tracked concept or
// creates a new one, and maintains encounter statistics.
type Resolver struct {
	store    store.Store
	norm     *normalize.Normalizer
	engine   *sm2.Engine
	cfg      Config
	denylist map[string]bool
	logger   *slog.Logger
}

// New creates a Resolver. The denylist is normalized with the same
// normalizer the signals go through, so list entries match regardless of
// their casing in configuration.
func New(st store.Store, norm *normalize.Normalizer, engine *sm2.Engine, cfg Config, logger *slog.Logger) *Resolver {
	deny := make(map[string]bool, len(cfg.Denylist))
	for _, tok := range cfg.Denylist {
		if key := norm.Normalize(tok); key != "" {
			deny[key] = true
		}
	}
	return &Resolver{
		store:    st,
		norm:     norm,
		engine:   engine,
		cfg:      cfg,
		denylist: deny,
		logger:   logger,
	}
}

// Resolve processes one ingestion signal and returns the id of the concept
// it was attributed to. Lookup-or-create runs as a single exclusive region
// per canonical key: a concurrent resolve on the same key can neither create
// two concepts nor lose an encounter increment.
func (r *Resolver) Resolve(ctx context.Context, text string, confidence float64, source string, now time.Time) (string, error) {
	key := r.norm.Normalize(text)
	if err := r.accept(key, confidence); err != nil {
		metrics.Inc(metrics.SignalsRejected)
		r.logger.Debug("signal rejected", "reason", err, "source", source)
		return "", err
	}

	var itemID string
	err := r.store.WithKeyLock(ctx, key, func(ctx context.Context) error {
		item, err := r.store.GetByKey(ctx, key)
		switch {
		case errors.Is(err, store.ErrNotFound):
			item = r.newConcept(key, text, confidence, source, now)
			if err := r.store.Put(ctx, item); err != nil {
				return fmt.Errorf("create concept: %w", err)
			}
			metrics.Inc(metrics.ConceptsCreated)
			r.logger.Info("concept created", "id", item.ID, "key", key, "confidence", confidence)
		case err != nil:
			return fmt.Errorf("lookup concept: %w", err)
		default:
			if item.Kind != models.KindConcept {
				return fmt.Errorf("%w: %s", ErrNotConceptSignal, item.ID)
			}
			// Increments apply to the persisted counter read inside the
			// locked region, never to a value captured before it. The write
			// is column-scoped: a review or archive committing under the
			// item lock between this read and write must survive.
			item.Encounters++
			item.LastSeen = now
			item.UpdatedAt = now
			item.Relevance = item.Relevance*(1-r.cfg.Alpha) + confidence*r.cfg.Alpha
			if err := r.store.UpdateEncounterStats(ctx, item); err != nil {
				return fmt.Errorf("update concept: %w", err)
			}
		}

		itemID = item.ID
		enc := &models.Encounter{
			ID:         ulid.Make().String(),
			ItemID:     item.ID,
			ObservedAt: now,
			Source:     source,
			Confidence: confidence,
		}
		if err := r.store.AppendEncounter(ctx, enc); err != nil {
			return fmt.Errorf("append encounter: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	metrics.Inc(metrics.SignalsAccepted)
	return itemID, nil
}

// accept applies the rejection rules in order: empty key, confidence
// validity, confidence floor, length bounds, denylist.
func (r *Resolver) accept(key string, confidence float64) error {
	if key == "" {
		return ErrEmptyKey
	}
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("%w: %v", ErrBadConfidence, confidence)
	}
	if confidence < r.cfg.ConfidenceFloor {
		return fmt.Errorf("%w: %v < %v", ErrLowConfidence, confidence, r.cfg.ConfidenceFloor)
	}
	if n := len([]rune(key)); n < r.cfg.MinKeyLen || n > r.cfg.MaxKeyLen {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrKeyLength, n, r.cfg.MinKeyLen, r.cfg.MaxKeyLen)
	}
	if r.denylist[key] {
		return fmt.Errorf("%w: %q", ErrDenylisted, key)
	}
	return nil
}

// newConcept builds a freshly discovered concept: one encounter, relevance
// seeded with the signal confidence, SM-2 zero state due immediately.
func (r *Resolver) newConcept(key, rawText string, confidence float64, source string, now time.Time) *models.Item {
	return &models.Item{
		ID:           uuid.NewString(),
		Kind:         models.KindConcept,
		Label:        rawText,
		CanonicalKey: key,
		Source:       source,
		FirstSeen:    now,
		LastSeen:     now,
		Encounters:   1,
		Relevance:    confidence,
		SM2:          r.engine.InitialState(now),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
