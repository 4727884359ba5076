package stream

import (
	"context"

	"github.com/dyluth/agora/pkg/blackboard"
	"github.com/dyluth/agora/pkg/ledger"
)

// Follow tails the ledger from cursor and emits message_start and
// message_end for each entry appended afterwards, until ctx is cancelled or
// emit fails. Malformed lines never reach emit; the ledger skips them.
func Follow(ctx context.Context, tailer *ledger.Tailer, from ledger.Cursor, emit Emitter) error {
	return tailer.Run(ctx, from, func(entries []ledger.Entry) error {
		for _, entry := range entries {
			if err := emit.Emit(ctx, blackboard.MessageStart(entry.Role)); err != nil {
				return err
			}
			if err := emit.Emit(ctx, blackboard.MessageEnd(entry.Role, entry.Content)); err != nil {
				return err
			}
		}
		return nil
	})
}
