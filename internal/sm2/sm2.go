// Package sm2 implements the SM-2 spaced-repetition scheduling algorithm as a
// pure function over scheduling state. It performs no I/O and holds no shared
// state; every code path that writes an ease factor goes through Apply so the
// clamp bounds hold for every persisted value.
package sm2

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/retainhq/retain/internal/models"
)

// ErrInvalidQuality is returned when a quality score is outside [0, 5].
// Out-of-range values are rejected, never clamped to the nearest valid score.
var ErrInvalidQuality = errors.New("sm2: quality must be an integer in [0, 5]")

// Quality is the 0-5 recall-quality score of a review.
type Quality int

const (
	QualityBlackout  Quality = 0 // no recall at all
	QualityWrong     Quality = 1 // incorrect, but the answer felt familiar
	QualityWrongEasy Quality = 2 // incorrect, answer seemed easy once seen
	QualityHard      Quality = 3 // correct with serious difficulty
	QualityHesitant  Quality = 4 // correct after hesitation
	QualityPerfect   Quality = 5 // correct with no hesitation
)

// IsValid reports whether q is a valid quality score.
func (q Quality) IsValid() bool {
	return q >= QualityBlackout && q <= QualityPerfect
}

// Failed reports whether q counts as a failed recall (quality below 3).
func (q Quality) Failed() bool {
	return q < QualityHard
}

func (q Quality) String() string {
	return fmt.Sprintf("%d", int(q))
}

// Params holds the tunable constants of the engine. The ease ceiling of 2.5
// deviates from textbook unbounded SM-2 on purpose; both bounds are
// configuration, not hardcoded literals.
type Params struct {
	EaseMin float64
	EaseMax float64
}

// DefaultParams returns the stock clamp bounds.
func DefaultParams() Params {
	return Params{EaseMin: 1.3, EaseMax: 2.5}
}

// Engine applies SM-2 transitions under a fixed set of Params.
type Engine struct {
	params Params
}

// New creates an Engine. Invalid bounds return an error.
func New(p Params) (*Engine, error) {
	if p.EaseMin <= 0 || p.EaseMax < p.EaseMin {
		return nil, fmt.Errorf("sm2: invalid ease bounds [%v, %v]", p.EaseMin, p.EaseMax)
	}
	return &Engine{params: p}, nil
}

// InitialState returns the state of a never-reviewed item: zero interval,
// ease at the ceiling, due immediately.
func (e *Engine) InitialState(now time.Time) models.SM2State {
	return models.SM2State{
		Interval:    0,
		Ease:        e.params.EaseMax,
		Repetitions: 0,
		NextReview:  now,
	}
}

// Apply computes the post-review state from the prior state and a quality
// score. The prior state is not mutated.
//
// The ease delta is 0.1 - (5-q)*(0.08 + (5-q)*0.02), clamped into
// [EaseMin, EaseMax] regardless of quality. A failed recall (q < 3) resets
// repetitions to zero and schedules a one-day interval; a success advances
// the 1, 6, round(interval*ease') progression. An item at either clamp bound
// receiving a delta pushing it further out stays pinned at the bound.
func (e *Engine) Apply(prior models.SM2State, q Quality, now time.Time) (models.SM2State, error) {
	if !q.IsValid() {
		return models.SM2State{}, fmt.Errorf("%w: got %d", ErrInvalidQuality, int(q))
	}

	miss := float64(QualityPerfect - q)
	delta := 0.1 - miss*(0.08+miss*0.02)
	ease := clamp(prior.Ease+delta, e.params.EaseMin, e.params.EaseMax)

	next := models.SM2State{Ease: ease}
	if q.Failed() {
		next.Repetitions = 0
		next.Interval = 1
	} else {
		next.Repetitions = prior.Repetitions + 1
		switch next.Repetitions {
		case 1:
			next.Interval = 1
		case 2:
			next.Interval = 6
		default:
			next.Interval = math.Round(prior.Interval * ease)
		}
	}

	next.NextReview = now.Add(time.Duration(next.Interval * 24 * float64(time.Hour)))
	return next, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
