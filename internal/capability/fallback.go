package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/agora/internal/persona"
)

var errNotConfigured = errors.New("not configured")

// Source records which implementation produced an Outcome.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
	SourceNone     Source = "none"
)

// Outcome is the tagged result of TryWithFallback. Exactly one of Value
// (when Ok) or Err is meaningful.
type Outcome[T any] struct {
	Value  T
	Source Source
	Err    error // Joined primary and fallback errors when both failed
}

// Ok reports whether either implementation succeeded.
func (o Outcome[T]) Ok() bool {
	return o.Source == SourcePrimary || o.Source == SourceFallback
}

// TryWithFallback calls primary and, if it fails, fallback once. A nil
// fallback means there is nothing to retry against. Cancellation of ctx
// skips the fallback.
func TryWithFallback[T any](ctx context.Context, primary, fallback func(context.Context) (T, error)) Outcome[T] {
	var (
		value T
		err   = errNotConfigured
	)
	if primary != nil {
		value, err = primary(ctx)
	}
	if err == nil {
		return Outcome[T]{Value: value, Source: SourcePrimary}
	}
	primaryErr := fmt.Errorf("primary: %w", err)

	if fallback == nil || ctx.Err() != nil {
		return Outcome[T]{Source: SourceNone, Err: primaryErr}
	}

	value, err = fallback(ctx)
	if err == nil {
		return Outcome[T]{Value: value, Source: SourceFallback}
	}
	return Outcome[T]{Source: SourceNone, Err: errors.Join(primaryErr, fmt.Errorf("fallback: %w", err))}
}

// ScoreWithFallback scores a bid with primary, then fallback. Scores outside
// [0,100] count as failures. A positive timeout bounds each scorer call on
// its own, so a primary that runs out of time still leaves the fallback its
// full allowance.
func ScoreWithFallback(ctx context.Context, primary, fallback BidScorer, p persona.Participant, credits map[string]int, timeout time.Duration) Outcome[float64] {
	call := func(s BidScorer) func(context.Context) (float64, error) {
		if s == nil {
			return nil
		}
		return func(ctx context.Context) (float64, error) {
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			score, err := s.ScoreBid(ctx, p, credits)
			if err != nil {
				return 0, err
			}
			if err := ValidateScore(score); err != nil {
				return 0, err
			}
			return score, nil
		}
	}
	return TryWithFallback(ctx, call(primary), call(fallback))
}

// FallbackGenerator generates with Primary and retries with Fallback on error.
// Streaming is taken from Primary when it supports it; fallback text is
// delivered in one piece through the final return value only.
type FallbackGenerator struct {
	Primary  Generator
	Fallback Generator
}

// Generate implements Generator.
func (g FallbackGenerator) Generate(ctx context.Context, p persona.Participant, history string) (string, error) {
	return g.GenerateStream(ctx, p, history, nil)
}

// GenerateStream implements StreamGenerator.
func (g FallbackGenerator) GenerateStream(ctx context.Context, p persona.Participant, history string, onDelta func(string)) (string, error) {
	var primary, fallback func(context.Context) (string, error)
	if g.Primary != nil {
		primary = func(ctx context.Context) (string, error) {
			if sg, ok := g.Primary.(StreamGenerator); ok && onDelta != nil {
				return sg.GenerateStream(ctx, p, history, onDelta)
			}
			return g.Primary.Generate(ctx, p, history)
		}
	}

	if g.Fallback != nil {
		fallback = func(ctx context.Context) (string, error) {
			return g.Fallback.Generate(ctx, p, history)
		}
	}

	out := TryWithFallback(ctx, primary, fallback)
	if !out.Ok() {
		return "", out.Err
	}
	return out.Value, nil
}
