package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dyluth/agora/internal/metrics"
	"github.com/dyluth/agora/pkg/blackboard"
	"github.com/dyluth/agora/pkg/ledger"
)

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []blackboard.Event
}

func (r *recorder) Emit(_ context.Context, e blackboard.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) snapshot() []blackboard.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]blackboard.Event(nil), r.events...)
}

func writeLedger(t *testing.T, lines ...string) *ledger.FileLedger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	l, err := ledger.Open(path, ledger.Entry{Role: "Seed", Content: "seed"})
	require.NoError(t, err)
	return l
}

func types(events []blackboard.Event) []blackboard.EventType {
	out := make([]blackboard.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestReplay_EmitsTriplePerEntry(t *testing.T) {
	l := writeLedger(t,
		`{"role":"gaurav","content":"Hello"}`,
		`{"role":"anagha","content":"Hi there"}`,
		`{"role":"nirbhay","content":""}`,
	)
	rec := &recorder{}

	require.NoError(t, Replay(context.Background(), l, 0, rec))

	events := rec.snapshot()
	require.Len(t, events, 10)
	assert.Equal(t, blackboard.EventDone, events[9].Type)

	starts, ends := 0, []string{}
	for _, e := range events {
		switch e.Type {
		case blackboard.EventMessageStart:
			starts++
		case blackboard.EventMessageEnd:
			ends = append(ends, e.Text)
		}
	}
	assert.Equal(t, 3, starts)
	assert.Equal(t, []string{"Hello", "Hi there", ""}, ends)
	assert.Equal(t, blackboard.Chunk("anagha", "Hi there"), events[4])
}

func TestReplay_SkipsMalformedLine(t *testing.T) {
	l := writeLedger(t,
		`{"role":"A","content":"first"}`,
		`not-json`,
		`{"role":"B","content":"second"}`,
	)
	rec := &recorder{}

	require.NoError(t, Replay(context.Background(), l, 0, rec))

	events := rec.snapshot()
	assert.Equal(t, []blackboard.EventType{
		blackboard.EventMessageStart, blackboard.EventChunk, blackboard.EventMessageEnd,
		blackboard.EventMessageStart, blackboard.EventChunk, blackboard.EventMessageEnd,
		blackboard.EventDone,
	}, types(events))
	assert.Equal(t, "A", events[0].Speaker)
	assert.Equal(t, "B", events[3].Speaker)
	assert.Equal(t, "second", events[5].Text)
}

func TestReplay_ByteIdentical(t *testing.T) {
	l := writeLedger(t,
		`{"role":"A","content":"one"}{"role":"B","content":"two"}`,
		`{"role":"C","content":"quote \" and newline \n"}`,
	)

	render := func() []byte {
		var buf bytes.Buffer
		require.NoError(t, Replay(context.Background(), l, 0, NewEncoder(&buf)))
		return buf.Bytes()
	}

	first := render()
	assert.Equal(t, first, render())
	assert.Contains(t, string(first), "id: 1\ndata: {\"type\":\"message_start\",\"speaker\":\"A\"}\n\n")
	assert.Equal(t, 10, bytes.Count(first, []byte("data: ")))
}

func TestReplay_DelayBetweenMessagesOnly(t *testing.T) {
	l := writeLedger(t, `{"role":"A","content":"1"}`, `{"role":"B","content":"2"}`)

	start := time.Now()
	require.NoError(t, Replay(context.Background(), l, 60*time.Millisecond, &recorder{}))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Less(t, elapsed, 120*time.Millisecond, "no pause after the last message")
}

func TestReplay_Cancelled(t *testing.T) {
	l := writeLedger(t, `{"role":"A","content":"1"}`, `{"role":"B","content":"2"}`)
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := Replay(ctx, l, time.Minute, rec)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, rec.snapshot(), 3)
}

type readerFunc func(ctx context.Context) ([]ledger.Entry, error)

func (f readerFunc) ReadAll(ctx context.Context) ([]ledger.Entry, error) { return f(ctx) }

func TestReplay_NothingToReplay(t *testing.T) {
	tests := []struct {
		name   string
		reader readerFunc
		want   error
	}{
		{"missing", func(context.Context) ([]ledger.Entry, error) { return nil, ledger.ErrNoLedger }, ErrNothingToReplay},
		{"empty", func(context.Context) ([]ledger.Entry, error) { return nil, nil }, ErrNothingToReplay},
		{"io failure", func(context.Context) ([]ledger.Entry, error) { return nil, ledger.ErrLedgerIO }, ledger.ErrLedgerIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			err := Replay(context.Background(), tt.reader, 0, rec)

			assert.ErrorIs(t, err, tt.want)
			events := rec.snapshot()
			require.Len(t, events, 1)
			assert.Equal(t, blackboard.EventError, events[0].Type)
			assert.NotEmpty(t, events[0].Detail)
		})
	}
}

func TestHub_SubscribersSeeEventsAfterSubscribing(t *testing.T) {
	m := metrics.NewCollector("test", nil)
	hub := NewHub(m)

	hub.Publish(blackboard.MessageStart("early"))
	sub := hub.Subscribe()
	defer sub.Close()

	hub.Publish(blackboard.MessageStart("A"))
	hub.Publish(blackboard.Chunk("A", "hi"))
	hub.Publish(blackboard.Done())

	rec := &recorder{}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sub.Pipe(ctx, rec))

	assert.Equal(t, []blackboard.EventType{
		blackboard.EventMessageStart, blackboard.EventChunk, blackboard.EventDone,
	}, types(rec.snapshot()))
	assert.Equal(t, "A", rec.snapshot()[0].Speaker)
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			hub.Publish(blackboard.Chunk("A", "x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing blocked on an idle subscriber")
	}

	e, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", e.Delta)
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe()
	hub.Publish(blackboard.MessageStart("A"))
	hub.Close()

	e, err := sub.Next(context.Background())
	require.NoError(t, err, "queued events survive close")
	assert.Equal(t, "A", e.Speaker)

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)

	late := hub.Subscribe()
	_, err = late.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
	assert.Equal(t, 0, hub.Len())
}

func TestSubscriber_CloseDetaches(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe()
	assert.Equal(t, 1, hub.Len())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	other := hub.Subscribe()
	_, err := other.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMultiEmitter(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	failing := EmitterFunc(func(context.Context, blackboard.Event) error { return errors.New("boom") })

	err := MultiEmitter{a, failing, nil, b}.Emit(context.Background(), blackboard.Done())

	assert.ErrorContains(t, err, "boom")
	assert.Len(t, a.snapshot(), 1)
	assert.Len(t, b.snapshot(), 1, "later emitters still run")
}

func TestEncoder_Frames(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	require.NoError(t, enc.Encode(blackboard.Chunk("A", "")))
	require.NoError(t, enc.Encode(blackboard.Failure("disk full")))

	assert.Equal(t,
		"id: 1\ndata: {\"type\":\"chunk\",\"speaker\":\"A\",\"delta\":\"\"}\n\n"+
			"id: 2\ndata: {\"type\":\"error\",\"detail\":\"disk full\"}\n\n",
		buf.String())

	var decoded blackboard.Event
	line := strings.TrimPrefix(strings.Split(buf.String(), "\n")[1], "data: ")
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	assert.Equal(t, blackboard.EventChunk, decoded.Type)
}

func TestFollow_EmitsNewEntriesOnly(t *testing.T) {
	l := writeLedger(t, `{"role":"A","content":"old"}`)
	from, err := l.End(context.Background())
	require.NoError(t, err)

	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tailer := ledger.NewTailer(l, l.Path(), 10*time.Millisecond, zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- Follow(ctx, tailer, from, rec) }()

	require.NoError(t, l.Append(ledger.Entry{Role: "B", Content: "new"}))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []blackboard.Event{
		blackboard.MessageStart("B"),
		blackboard.MessageEnd("B", "new"),
	}, rec.snapshot())
}

func setupBlackboard(t *testing.T) *blackboard.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestForwarderAndRelay(t *testing.T) {
	client := setupBlackboard(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := client.SubscribeEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	fwd := NewForwarder(client, nil)
	require.NoError(t, fwd.Emit(ctx, blackboard.MessageStart("A")))
	require.NoError(t, fwd.Emit(ctx, blackboard.MessageEnd("A", "hello")))
	require.NoError(t, fwd.Emit(ctx, blackboard.Done()))

	rec := &recorder{}
	require.NoError(t, Relay(ctx, sub, rec, nil))

	assert.Equal(t, []blackboard.Event{
		blackboard.MessageStart("A"),
		blackboard.MessageEnd("A", "hello"),
		blackboard.Done(),
	}, rec.snapshot())
}

func TestForwarder_SwallowsPublishErrors(t *testing.T) {
	client := setupBlackboard(t)
	fwd := NewForwarder(client, nil)

	// Invalid events are rejected by the client but must not fail the caller.
	assert.NoError(t, fwd.Emit(context.Background(), blackboard.Event{Type: "bogus"}))
}
