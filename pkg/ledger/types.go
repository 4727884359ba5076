package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLedgerIO wraps every failure to read or write the ledger file.
	// Callers treat it as fatal for the current run.
	ErrLedgerIO = errors.New("ledger I/O failure")

	// ErrNoLedger is returned by reads when the ledger file does not exist yet.
	ErrNoLedger = errors.New("ledger does not exist")

	// ErrMalformedLine reports input that could not be decoded into entries.
	ErrMalformedLine = errors.New("malformed ledger line")
)

// Entry is a single utterance in the conversation history.
type Entry struct {
	Role    string `json:"role"`    // Display role of the speaker, e.g. "Anagha"
	Content string `json:"content"` // What the speaker said
}

// Validate checks that the entry can be written to or read from the ledger.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.Role) == "" {
		return fmt.Errorf("role cannot be empty")
	}
	return nil
}

// Cursor is a byte offset into the ledger file, positioned just past the last
// complete line a reader has consumed. The zero Cursor is the start of the file.
type Cursor int64

// Reader reads entries appended after a cursor. Implementations must return a
// cursor that only ever covers complete lines.
type Reader interface {
	ReadNewEntriesSince(ctx context.Context, cursor Cursor) ([]Entry, Cursor, error)
}
