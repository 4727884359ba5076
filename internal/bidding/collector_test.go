package bidding

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/agora/internal/auction"
	"github.com/dyluth/agora/internal/metrics"
	"github.com/dyluth/agora/internal/persona"
)

// stubScorer returns a fixed score (or error) per participant ID and counts calls.
type stubScorer struct {
	mu     sync.Mutex
	scores map[string]float64
	errs   map[string]error
	calls  map[string]int
	delay  time.Duration
}

func newStub(scores map[string]float64) *stubScorer {
	return &stubScorer{scores: scores, errs: map[string]error{}, calls: map[string]int{}}
}

func (s *stubScorer) ScoreBid(ctx context.Context, p persona.Participant, _ map[string]int) (float64, error) {
	s.mu.Lock()
	s.calls[p.ID]++
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err := s.errs[p.ID]; err != nil {
		return 0, err
	}
	return s.scores[p.ID], nil
}

func (s *stubScorer) callCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func participants(ids ...string) []persona.Participant {
	out := make([]persona.Participant, len(ids))
	for i, id := range ids {
		out[i] = persona.Participant{ID: id, Role: id}
	}
	return out
}

func newPool(t *testing.T, credits map[string]int) *auction.CreditPool {
	t.Helper()
	ids := make([]string, 0, len(credits))
	top := 0
	for id, c := range credits {
		ids = append(ids, id)
		top = max(top, c)
	}
	pool, err := auction.NewCreditPool(ids, top)
	require.NoError(t, err)
	for id, c := range credits {
		require.NoError(t, pool.Debit(id, top-c))
	}
	return pool
}

func TestAmount(t *testing.T) {
	tests := []struct {
		score     float64
		remaining int
		want      int
	}{
		{70, 10, 7},
		{99.9, 10, 9},
		{100, 10, 10},
		{0, 10, 0},
		{50, 0, 0},
		{33, 100, 33},
		{150, 10, 10},
		{-5, 10, 0},
		{math.NaN(), 10, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Amount(tt.score, tt.remaining), "score=%v remaining=%d", tt.score, tt.remaining)
	}
}

func TestCollect_ZeroCreditParticipantIsNotScored(t *testing.T) {
	primary := newStub(map[string]float64{"X": 90, "Y": 60})
	pool := newPool(t, map[string]int{"X": 0, "Y": 5})

	bids, err := NewCollector(primary, nil).Collect(context.Background(), participants("X", "Y"), pool)
	require.NoError(t, err)

	assert.Equal(t, auction.Bids{"X": 0, "Y": 3}, bids)
	assert.Equal(t, 0, primary.callCount("X"))
	assert.Equal(t, 1, primary.callCount("Y"))

	round, err := auction.New(pool, nil).Run(bids, "")
	require.NoError(t, err)
	assert.Equal(t, "Y", round.Winner)
}

func TestCollect_FallbackOnPrimaryFailure(t *testing.T) {
	primary := newStub(map[string]float64{"X": 50, "Y": 50})
	primary.errs["Y"] = errors.New("rate limited")
	fallback := newStub(map[string]float64{"Y": 20})
	m := metrics.NewCollector("test", nil)

	bids, err := NewCollector(primary, fallback, WithMetrics(m)).
		Collect(context.Background(), participants("X", "Y"), newPool(t, map[string]int{"X": 10, "Y": 10}))
	require.NoError(t, err)

	assert.Equal(t, auction.Bids{"X": 5, "Y": 2}, bids)
	assert.Equal(t, 0, fallback.callCount("X"))
	assert.Equal(t, 1, fallback.callCount("Y"))
}

func TestCollect_OutOfRangeScoreUsesFallback(t *testing.T) {
	primary := newStub(map[string]float64{"X": 140})
	fallback := newStub(map[string]float64{"X": 40})

	bids, err := NewCollector(primary, fallback).
		Collect(context.Background(), participants("X", "Y"), newPool(t, map[string]int{"X": 10, "Y": 10}))
	require.NoError(t, err)
	assert.Equal(t, 4, bids["X"])
}

func TestCollect_BothFailBidsZero(t *testing.T) {
	primary := newStub(nil)
	primary.errs["X"] = errors.New("down")
	fallback := newStub(nil)
	fallback.errs["X"] = errors.New("also down")

	bids, err := NewCollector(primary, fallback).
		Collect(context.Background(), participants("X", "Y"), newPool(t, map[string]int{"X": 10, "Y": 10}))
	require.NoError(t, err)

	assert.Len(t, bids, 2, "every participant has an entry")
	assert.Equal(t, 0, bids["X"])
}

func TestCollect_NoScorersBidZero(t *testing.T) {
	bids, err := NewCollector(nil, nil).
		Collect(context.Background(), participants("X", "Y"), newPool(t, map[string]int{"X": 10, "Y": 10}))
	require.NoError(t, err)
	assert.Equal(t, auction.Bids{"X": 0, "Y": 0}, bids)
}

func TestCollect_TimeoutFallsBack(t *testing.T) {
	primary := newStub(map[string]float64{"X": 90})
	primary.delay = time.Second
	fallback := newStub(map[string]float64{"X": 10})

	start := time.Now()
	bids, err := NewCollector(primary, fallback, WithTimeout(20*time.Millisecond)).
		Collect(context.Background(), participants("X", "Y"), newPool(t, map[string]int{"X": 10, "Y": 10}))
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, bids["X"])
	assert.Equal(t, 1, primary.callCount("X"))
	assert.Equal(t, 1, fallback.callCount("X"))
}

func TestCollect_TimeoutAppliesToEachScorer(t *testing.T) {
	primary := newStub(map[string]float64{"X": 90})
	primary.delay = time.Second
	fallback := newStub(map[string]float64{"X": 50})
	fallback.delay = 30 * time.Millisecond

	// The fallback needs most of the allowance; it only succeeds if the
	// primary's overrun is not charged against it.
	bids, err := NewCollector(primary, fallback, WithTimeout(50*time.Millisecond)).
		Collect(context.Background(), participants("X"), newPool(t, map[string]int{"X": 10}))
	require.NoError(t, err)
	assert.Equal(t, 5, bids["X"])
}

func TestCollect_RunsConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	scorer := scorerFunc(func(ctx context.Context, p persona.Participant) (float64, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		return 50, nil
	})

	ids := []string{"A", "B", "C", "D"}
	credits := map[string]int{"A": 10, "B": 10, "C": 10, "D": 10}
	bids, err := NewCollector(scorer, nil).Collect(context.Background(), participants(ids...), newPool(t, credits))
	require.NoError(t, err)

	assert.Equal(t, auction.Bids{"A": 5, "B": 5, "C": 5, "D": 5}, bids)
	assert.Greater(t, peak.Load(), int32(1))
}

func TestCollect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCollector(newStub(nil), nil).
		Collect(ctx, participants("X", "Y"), newPool(t, map[string]int{"X": 10, "Y": 10}))
	assert.ErrorIs(t, err, context.Canceled)
}

type scorerFunc func(ctx context.Context, p persona.Participant) (float64, error)

func (f scorerFunc) ScoreBid(ctx context.Context, p persona.Participant, _ map[string]int) (float64, error) {
	return f(ctx, p)
}
