package capability

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/dyluth/agora/internal/persona"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var anagha = persona.Participant{ID: "anagha", Role: "Anagha"}

type fixedScorer struct {
	score float64
	err   error
	calls int
}

func (s *fixedScorer) ScoreBid(context.Context, persona.Participant, map[string]int) (float64, error) {
	s.calls++
	return s.score, s.err
}

// blockingScorer waits for its context and records why it stopped.
type blockingScorer struct {
	err error
}

func (s *blockingScorer) ScoreBid(ctx context.Context, _ persona.Participant, _ map[string]int) (float64, error) {
	<-ctx.Done()
	s.err = ctx.Err()
	return 0, s.err
}

type fakeGenerator struct {
	text   string
	deltas []string
	err    error
	calls  int
}

func (g *fakeGenerator) Generate(context.Context, persona.Participant, string) (string, error) {
	g.calls++
	return g.text, g.err
}

type fakeStreamGenerator struct {
	fakeGenerator
}

func (g *fakeStreamGenerator) GenerateStream(_ context.Context, _ persona.Participant, _ string, onDelta func(string)) (string, error) {
	g.calls++
	for _, d := range g.deltas {
		onDelta(d)
	}
	return g.text, g.err
}

func TestTryWithFallback(t *testing.T) {
	ctx := context.Background()
	ok := func(v int) func(context.Context) (int, error) {
		return func(context.Context) (int, error) { return v, nil }
	}
	fail := func(msg string) func(context.Context) (int, error) {
		return func(context.Context) (int, error) { return 0, errors.New(msg) }
	}

	t.Run("primary succeeds", func(t *testing.T) {
		out := TryWithFallback(ctx, ok(1), ok(2))
		assert.True(t, out.Ok())
		assert.Equal(t, 1, out.Value)
		assert.Equal(t, SourcePrimary, out.Source)
	})

	t.Run("falls back once", func(t *testing.T) {
		out := TryWithFallback(ctx, fail("boom"), ok(2))
		assert.True(t, out.Ok())
		assert.Equal(t, 2, out.Value)
		assert.Equal(t, SourceFallback, out.Source)
	})

	t.Run("both fail", func(t *testing.T) {
		out := TryWithFallback(ctx, fail("first"), fail("second"))
		assert.False(t, out.Ok())
		assert.Equal(t, SourceNone, out.Source)
		assert.ErrorContains(t, out.Err, "primary: first")
		assert.ErrorContains(t, out.Err, "fallback: second")
	})

	t.Run("no fallback configured", func(t *testing.T) {
		out := TryWithFallback(ctx, fail("first"), nil)
		assert.False(t, out.Ok())
	})

	t.Run("no primary configured uses fallback", func(t *testing.T) {
		out := TryWithFallback(ctx, nil, ok(3))
		assert.Equal(t, SourceFallback, out.Source)
		assert.Equal(t, 3, out.Value)
	})

	t.Run("cancelled context skips fallback", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		called := false
		out := TryWithFallback(cctx, fail("first"), func(context.Context) (int, error) {
			called = true
			return 2, nil
		})
		assert.False(t, out.Ok())
		assert.False(t, called)
	})
}

func TestValidateScore(t *testing.T) {
	for _, s := range []float64{0, 42.5, 100} {
		assert.NoError(t, ValidateScore(s), "score %v", s)
	}
	for _, s := range []float64{-1, 100.01, math.NaN(), math.Inf(1)} {
		assert.ErrorIs(t, ValidateScore(s), ErrMalformedScore, "score %v", s)
	}
}

func TestScoreWithFallback(t *testing.T) {
	ctx := context.Background()
	credits := map[string]int{"anagha": 10}

	t.Run("out of range primary score triggers fallback", func(t *testing.T) {
		primary := &fixedScorer{score: 250}
		fallback := &fixedScorer{score: 40}

		out := ScoreWithFallback(ctx, primary, fallback, anagha, credits, 0)
		require.True(t, out.Ok())
		assert.Equal(t, 40.0, out.Value)
		assert.Equal(t, SourceFallback, out.Source)
		assert.Equal(t, 1, primary.calls)
		assert.Equal(t, 1, fallback.calls)
	})

	t.Run("primary success skips fallback", func(t *testing.T) {
		primary := &fixedScorer{score: 70}
		fallback := &fixedScorer{score: 40}

		out := ScoreWithFallback(ctx, primary, fallback, anagha, credits, 0)
		assert.Equal(t, 70.0, out.Value)
		assert.Equal(t, 0, fallback.calls)
	})

	t.Run("timed out primary leaves the fallback its own allowance", func(t *testing.T) {
		primary := &blockingScorer{}
		fallback := &fixedScorer{score: 40}

		out := ScoreWithFallback(ctx, primary, fallback, anagha, credits, 20*time.Millisecond)
		require.True(t, out.Ok())
		assert.Equal(t, 40.0, out.Value)
		assert.Equal(t, SourceFallback, out.Source)
		assert.ErrorIs(t, primary.err, context.DeadlineExceeded)
		assert.Equal(t, 1, fallback.calls)
	})

	t.Run("cancelled parent skips fallback", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		fallback := &fixedScorer{score: 40}

		out := ScoreWithFallback(cctx, &blockingScorer{}, fallback, anagha, credits, time.Second)
		assert.False(t, out.Ok())
		assert.Equal(t, 0, fallback.calls)
	})

	t.Run("both failing", func(t *testing.T) {
		out := ScoreWithFallback(ctx, &fixedScorer{err: errors.New("timeout")}, &fixedScorer{score: math.NaN()}, anagha, credits, 0)
		assert.False(t, out.Ok())
		assert.ErrorIs(t, out.Err, ErrMalformedScore)
	})
}

func TestFallbackGenerator(t *testing.T) {
	ctx := context.Background()

	t.Run("streams from primary", func(t *testing.T) {
		primary := &fakeStreamGenerator{fakeGenerator{text: "Hello there", deltas: []string{"Hello", " there"}}}
		g := FallbackGenerator{Primary: primary, Fallback: &fakeGenerator{text: "unused"}}

		var got []string
		text, err := g.GenerateStream(ctx, anagha, "history", func(d string) { got = append(got, d) })
		require.NoError(t, err)
		assert.Equal(t, "Hello there", text)
		assert.Equal(t, []string{"Hello", " there"}, got)
	})

	t.Run("falls back after primary error", func(t *testing.T) {
		primary := &fakeGenerator{err: errors.New("overloaded")}
		fallback := &fakeGenerator{text: "from fallback"}
		g := FallbackGenerator{Primary: primary, Fallback: fallback}

		text, err := g.Generate(ctx, anagha, "history")
		require.NoError(t, err)
		assert.Equal(t, "from fallback", text)
		assert.Equal(t, 1, primary.calls)
		assert.Equal(t, 1, fallback.calls)
	})

	t.Run("reports both failures", func(t *testing.T) {
		g := FallbackGenerator{
			Primary:  &fakeGenerator{err: errors.New("overloaded")},
			Fallback: &fakeGenerator{err: errors.New("rate limited")},
		}
		_, err := g.Generate(ctx, anagha, "history")
		assert.ErrorContains(t, err, "overloaded")
		assert.ErrorContains(t, err, "rate limited")
	})
}
