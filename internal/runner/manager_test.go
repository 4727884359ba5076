package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/agora/internal/auction"
	"github.com/dyluth/agora/pkg/ledger"
)

func TestManager_OneRunAtATime(t *testing.T) {
	l := newMemLedger(ledger.Entry{Role: "X", Content: "seed"})
	gen := &streamGen{block: make(chan struct{}), started: make(chan struct{})}
	started := gen.started
	r := newRunner(t, Deps{Ledger: l, Bidder: fixedBids(auction.Bids{"X": 1, "Y": 1}), Generator: gen}, Options{})
	m := NewManager(r, nil)

	_, ok := m.Last()
	assert.False(t, ok)
	assert.False(t, m.Stop(), "nothing to stop")

	done, err := m.Start(context.Background(), Overrides{})
	require.NoError(t, err)
	<-started
	assert.True(t, m.Active())

	_, err = m.Start(context.Background(), Overrides{})
	assert.ErrorIs(t, err, ErrRunActive)

	assert.True(t, m.Stop())
	close(gen.block)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}

	assert.False(t, m.Active())
	result, ok := m.Last()
	require.True(t, ok)
	require.NoError(t, result.Err)
	assert.Equal(t, StopCancelled, result.Summary.StopReason)
	assert.Equal(t, 1, result.Summary.Turns)
}

func TestManager_StartDetachedFromCallerContext(t *testing.T) {
	l := newMemLedger(ledger.Entry{Role: "X", Content: "seed"})
	r := newRunner(t, Deps{Ledger: l, Bidder: bidderFunc(allIn)}, Options{})
	m := NewManager(r, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := m.Start(ctx, Overrides{})
	require.NoError(t, err)
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, m.Wait(waitCtx))

	result, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, StopCreditsExhausted, result.Summary.StopReason)

	// A finished run frees the slot.
	_, err = m.Start(context.Background(), Overrides{})
	require.NoError(t, err)
	require.NoError(t, m.Wait(waitCtx))
}

func TestRunWith_Overrides(t *testing.T) {
	l := newMemLedger(ledger.Entry{Role: "X", Content: "seed"})
	r := newRunner(t, Deps{Ledger: l, Bidder: fixedBids(auction.Bids{"X": 1, "Y": 1})},
		Options{MaxRounds: 10, Pause: time.Minute})

	noPause := time.Duration(0)
	summary, err := r.RunWith(context.Background(), Overrides{MaxRounds: 2, Pause: &noPause})
	require.NoError(t, err)
	assert.Equal(t, StopMaxRounds, summary.StopReason)
	assert.Equal(t, 2, summary.Turns)
}
