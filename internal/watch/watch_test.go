package watch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/agora/pkg/blackboard"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *blackboard.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func testRun(id string, status blackboard.RunStatus) *blackboard.Run {
	return &blackboard.Run{
		ID:           id,
		Status:       status,
		Participants: []string{"X", "Y"},
		StartedAtMs:  time.Now().UnixMilli(),
	}
}

func TestPollForRun(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()

	t.Run("returns run when already finished", func(t *testing.T) {
		runID := uuid.New().String()
		require.NoError(t, client.SaveRun(ctx, testRun(runID, blackboard.RunStatusDone)))

		run, err := PollForRun(ctx, client, runID, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, runID, run.ID)
		assert.Equal(t, blackboard.RunStatusDone, run.Status)
	})

	t.Run("waits while the run is running", func(t *testing.T) {
		runID := uuid.New().String()
		require.NoError(t, client.SaveRun(ctx, testRun(runID, blackboard.RunStatusRunning)))

		go func() {
			time.Sleep(300 * time.Millisecond)
			client.SaveRun(ctx, testRun(runID, blackboard.RunStatusCancelled))
		}()

		run, err := PollForRun(ctx, client, runID, 3*time.Second)
		require.NoError(t, err)
		assert.Equal(t, blackboard.RunStatusCancelled, run.Status)
	})

	t.Run("returns error on timeout", func(t *testing.T) {
		_, err := PollForRun(ctx, client, uuid.New().String(), 500*time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})

	t.Run("returns error when context cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(100 * time.Millisecond)
			cancel()
		}()

		_, err := PollForRun(cctx, client, uuid.New().String(), 5*time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// syncBuffer is a bytes.Buffer safe for one writer and a polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitForSubscribers(t *testing.T, mr *miniredis.Miniredis) {
	t.Helper()
	channels := []string{
		blackboard.StreamEventsChannel("test-instance"),
		blackboard.RoundEventsChannel("test-instance"),
	}
	require.Eventually(t, func() bool {
		for _, n := range mr.PubSubNumSub(channels...) {
			if n == 0 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamActivity(t *testing.T) {
	mr, client := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := &syncBuffer{}
	errCh := make(chan error, 1)
	go func() {
		errCh <- StreamActivity(ctx, client, OutputFormatDefault, Options{ExitOnDone: true}, out)
	}()
	waitForSubscribers(t, mr)

	runID := uuid.New().String()
	require.NoError(t, client.RecordRound(ctx, &blackboard.RoundEvent{
		RunID:       runID,
		Round:       1,
		Outcome:     blackboard.RoundOutcomeGranted,
		Bids:        map[string]int{"X": 7, "Y": 7},
		Winner:      "Y",
		WinningBid:  7,
		Credits:     map[string]int{"X": 10, "Y": 3},
		TimestampMs: time.Now().UnixMilli(),
	}))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Round 1 granted")
	}, 2*time.Second, 10*time.Millisecond)

	for _, e := range []blackboard.Event{
		blackboard.MessageStart("Y"),
		blackboard.Chunk("Y", "Hel"),
		blackboard.MessageEnd("Y", "Hello"),
		blackboard.Done(),
	} {
		require.NoError(t, client.PublishEvent(ctx, e))
	}

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("StreamActivity did not return after done")
	}

	output := out.String()
	assert.Contains(t, output, "🏆 Round 1 granted: winner=Y, bid=7, bids=X:7,Y:7, credits=X:10,Y:3")
	assert.Contains(t, output, "🎙️  Y is speaking")
	assert.Contains(t, output, "💬 Y: Hello")
	assert.Contains(t, output, "🎉 Conversation finished")
	assert.NotContains(t, output, "…Hel", "chunks are hidden by default")
}

func TestStreamActivity_StopsOnContextCancel(t *testing.T) {
	mr, client := newClient(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- StreamActivity(ctx, client, OutputFormatJSON, Options{}, &syncBuffer{})
	}()
	waitForSubscribers(t, mr)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StreamActivity did not stop")
	}
}

func TestParseOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("json")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSON, f)

	f, err = ParseOutputFormat("")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatDefault, f)

	_, err = ParseOutputFormat("yaml")
	assert.Error(t, err)
}

func TestFormatters(t *testing.T) {
	t.Run("defaultFormatter formats skipped rounds", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &defaultFormatter{writer: buf}

		require.NoError(t, f.FormatRound(&blackboard.RoundEvent{
			Round:   4,
			Outcome: blackboard.RoundOutcomeNoViableBid,
			Bids:    map[string]int{"Y": 0, "X": 5},
		}))
		assert.Contains(t, buf.String(), "⏭️  Round 4 skipped: no viable bids (bids=X:5,Y:0)")
	})

	t.Run("defaultFormatter formats errors", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &defaultFormatter{writer: buf}

		require.NoError(t, f.FormatEvent(blackboard.Failure("disk full")))
		assert.Contains(t, buf.String(), "❌ Conversation failed: disk full")
	})

	t.Run("defaultFormatter shows chunks when asked", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &defaultFormatter{writer: buf, chunks: true}

		require.NoError(t, f.FormatEvent(blackboard.Chunk("X", "par")))
		assert.Contains(t, buf.String(), "X: …par")
	})

	t.Run("jsonFormatter formats stream events", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &jsonFormatter{writer: buf}

		require.NoError(t, f.FormatEvent(blackboard.MessageEnd("X", "hi")))
		assert.JSONEq(t, `{"event":"stream","data":{"type":"message_end","speaker":"X","text":"hi"}}`, buf.String())
	})

	t.Run("jsonFormatter drops chunks by default", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &jsonFormatter{writer: buf}

		require.NoError(t, f.FormatEvent(blackboard.Chunk("X", "hi")))
		assert.Empty(t, buf.String())
	})

	t.Run("jsonFormatter formats rounds", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &jsonFormatter{writer: buf}

		require.NoError(t, f.FormatRound(&blackboard.RoundEvent{Round: 2, Outcome: blackboard.RoundOutcomeGranted, Winner: "X", WinningBid: 3}))
		output := buf.String()
		assert.Contains(t, output, `"event":"round"`)
		assert.Contains(t, output, `"winner":"X"`)
		assert.Contains(t, output, `"winning_bid":3`)
	})

	t.Run("jsonFormatter formats warnings", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &jsonFormatter{writer: buf}

		require.NoError(t, f.FormatWarning(errors.New("bad payload")))
		assert.JSONEq(t, `{"event":"malformed","error":"bad payload"}`, buf.String())
	})
}
