// Package capability defines the external collaborators the scheduler relies
// on (text generation and bid scoring) and the primary/fallback combinator
// used to call them.
package capability

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dyluth/agora/internal/persona"
)

// ErrMalformedScore is returned when a bid score is not a number in [0,100].
var ErrMalformedScore = errors.New("malformed bid score")

// Generator produces a participant's next utterance from recent history.
type Generator interface {
	Generate(ctx context.Context, p persona.Participant, history string) (string, error)
}

// StreamGenerator is a Generator that can also deliver text incrementally.
// onDelta is called with each fragment in order; the returned string is the
// complete text.
type StreamGenerator interface {
	Generator
	GenerateStream(ctx context.Context, p persona.Participant, history string, onDelta func(string)) (string, error)
}

// BidScorer rates how strongly a participant wants to speak next, as a
// percentage in [0,100]. credits is a snapshot of every participant's
// remaining credits.
type BidScorer interface {
	ScoreBid(ctx context.Context, p persona.Participant, credits map[string]int) (float64, error)
}

// ValidateScore checks that score is a finite number in [0,100].
func ValidateScore(score float64) error {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return fmt.Errorf("%w: %v", ErrMalformedScore, score)
	}
	if score < 0 || score > 100 {
		return fmt.Errorf("%w: %v is outside [0,100]", ErrMalformedScore, score)
	}
	return nil
}
