package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/agora/pkg/blackboard"
	"github.com/dyluth/agora/pkg/ledger"
)

// ErrNothingToReplay is returned when the ledger is missing or holds no
// valid entries.
var ErrNothingToReplay = errors.New("no conversation history to replay")

// EntryReader reads every valid ledger entry.
type EntryReader interface {
	ReadAll(ctx context.Context) ([]ledger.Entry, error)
}

// Replay emits message_start, chunk and message_end for every valid entry in
// ledger order, waiting delay between messages, then done. The chunk carries
// the whole stored content. A missing or empty ledger and read failures
// produce an error event instead; the returned error says which.
//
// Two replays of the same ledger produce identical event sequences.
func Replay(ctx context.Context, reader EntryReader, delay time.Duration, emit Emitter) error {
	entries, err := reader.ReadAll(ctx)
	switch {
	case errors.Is(err, ledger.ErrNoLedger):
		return fail(ctx, emit, ErrNothingToReplay)
	case err != nil:
		return fail(ctx, emit, err)
	case len(entries) == 0:
		return fail(ctx, emit, ErrNothingToReplay)
	}

	for i, entry := range entries {
		events := []blackboard.Event{
			blackboard.MessageStart(entry.Role),
			blackboard.Chunk(entry.Role, entry.Content),
			blackboard.MessageEnd(entry.Role, entry.Content),
		}
		for _, e := range events {
			if err := emit.Emit(ctx, e); err != nil {
				return err
			}
		}

		if i < len(entries)-1 {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	return emit.Emit(ctx, blackboard.Done())
}

func fail(ctx context.Context, emit Emitter, cause error) error {
	if err := emit.Emit(ctx, blackboard.Failure(cause.Error())); err != nil {
		return errors.Join(cause, err)
	}
	return fmt.Errorf("replay failed: %w", cause)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
