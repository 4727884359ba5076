package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// DefaultSeedContent is written as the first entry of a freshly created ledger.
const DefaultSeedContent = "Conversation started."

// MalformedHook is called for every line that could not be fully decoded.
type MalformedHook func(line string, err error)

// FileLedger is an append-only, line-delimited JSON ledger on local disk.
// Appends from one process are serialised; any number of readers may read
// the file concurrently.
type FileLedger struct {
	path        string
	seed        Entry
	logger      *zap.Logger
	onMalformed MalformedHook
	readOnly    bool

	mu sync.Mutex
}

// Option customises a FileLedger.
type Option func(*FileLedger)

// WithLogger attaches a logger used to report skipped lines.
func WithLogger(logger *zap.Logger) Option {
	return func(l *FileLedger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMalformedHook registers a callback for malformed lines, e.g. a metrics counter.
func WithMalformedHook(hook MalformedHook) Option {
	return func(l *FileLedger) {
		l.onMalformed = hook
	}
}

// Open prepares the ledger at path. If the file is missing or empty it is
// created with the seed entry so that the last speaker can always be derived.
func Open(path string, seed Entry, opts ...Option) (*FileLedger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path cannot be empty")
	}
	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("invalid seed entry: %w", err)
	}

	l := &FileLedger{
		path:   path,
		seed:   seed,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(zap.String("component", "ledger"), zap.String("path", path))

	if err := l.ensureSeeded(); err != nil {
		return nil, err
	}
	return l, nil
}

// OpenReadOnly prepares a ledger for reading only. The file is never created
// or seeded, reads of a missing file return ErrNoLedger, and Append fails.
func OpenReadOnly(path string, opts ...Option) (*FileLedger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path cannot be empty")
	}
	l := &FileLedger{path: path, logger: zap.NewNop(), readOnly: true}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(zap.String("component", "ledger"), zap.String("path", path))
	return l, nil
}

// Path returns the file backing this ledger.
func (l *FileLedger) Path() string {
	return l.path
}

// ensureSeeded creates the ledger with its seed entry when absent or empty.
func (l *FileLedger) ensureSeeded() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.path)
	if err == nil && info.Size() > 0 {
		return nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: stat %s: %v", ErrLedgerIO, l.path, err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("%w: create ledger directory: %v", ErrLedgerIO, err)
	}

	l.logger.Info("seeding ledger", zap.String("role", l.seed.Role))
	return l.appendLocked(l.seed)
}

// Append writes one entry as a single line. The write is a single call on a
// file opened with O_APPEND so that concurrent readers never observe an
// interleaved line from this process.
func (l *FileLedger) Append(e Entry) error {
	if l.readOnly {
		return fmt.Errorf("%w: %s is open read-only", ErrLedgerIO, l.path)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(e)
}

func (l *FileLedger) appendLocked(e Entry) error {
	line, err := EncodeEntry(e)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open for append: %v", ErrLedgerIO, err)
	}

	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("%w: append entry: %v", ErrLedgerIO, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close after append: %v", ErrLedgerIO, err)
	}
	return nil
}

// ReadNewEntriesSince returns the entries on complete lines after cursor and
// the cursor to resume from. A trailing line without a newline is left for
// the next call. If the file shrank below cursor (it was cleared externally)
// reading restarts from the beginning.
func (l *FileLedger) ReadNewEntriesSince(ctx context.Context, cursor Cursor) ([]Entry, Cursor, error) {
	data, start, err := l.readFrom(ctx, cursor)
	if err != nil {
		return nil, cursor, err
	}

	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return nil, start, nil
	}

	entries := l.decode(data[:end+1])
	return entries, start + Cursor(end+1), nil
}

// ReadAll returns every valid entry in the ledger, including a trailing line
// that has not been terminated yet.
func (l *FileLedger) ReadAll(ctx context.Context) ([]Entry, error) {
	data, _, err := l.readFrom(ctx, 0)
	if err != nil {
		return nil, err
	}
	return l.decode(data), nil
}

// End returns the cursor positioned after the last complete line, i.e. the
// point from which a new observer should start following the ledger.
func (l *FileLedger) End(ctx context.Context) (Cursor, error) {
	_, next, err := l.ReadNewEntriesSince(ctx, 0)
	if errors.Is(err, ErrNoLedger) {
		return 0, nil
	}
	return next, err
}

// Last returns the most recent valid entry. The boolean is false when the
// ledger holds no valid entries.
func (l *FileLedger) Last(ctx context.Context) (Entry, bool, error) {
	entries, err := l.ReadAll(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	if len(entries) == 0 {
		return Entry{}, false, nil
	}
	return entries[len(entries)-1], true, nil
}

// Recent returns up to n of the most recent valid entries, oldest first.
func (l *FileLedger) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	entries, err := l.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// readFrom returns the bytes of the file from cursor onwards together with the
// effective start offset.
func (l *FileLedger) readFrom(ctx context.Context, cursor Cursor) ([]byte, Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, cursor, err
	}

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, cursor, fmt.Errorf("%w: %s", ErrNoLedger, l.path)
		}
		return nil, cursor, fmt.Errorf("%w: open: %v", ErrLedgerIO, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, cursor, fmt.Errorf("%w: stat: %v", ErrLedgerIO, err)
	}

	start := cursor
	if int64(start) > info.Size() {
		l.logger.Warn("ledger shrank below cursor, restarting from the beginning",
			zap.Int64("cursor", int64(cursor)),
			zap.Int64("size", info.Size()))
		start = 0
	}

	if _, err := f.Seek(int64(start), io.SeekStart); err != nil {
		return nil, cursor, fmt.Errorf("%w: seek: %v", ErrLedgerIO, err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, cursor, fmt.Errorf("%w: read: %v", ErrLedgerIO, err)
	}
	return data, start, nil
}

// decode splits data into lines and decodes each one, skipping malformed input.
func (l *FileLedger) decode(data []byte) []Entry {
	var entries []Entry
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		decoded, err := DecodeLine(line)
		entries = append(entries, decoded...)
		if err != nil {
			l.reportMalformed(string(line), err)
		}
	}
	return entries
}

func (l *FileLedger) reportMalformed(line string, err error) {
	l.logger.Warn("skipping malformed ledger line",
		zap.String("event_type", "malformed_line"),
		zap.String("line", truncate(line, 120)),
		zap.Error(err))
	if l.onMalformed != nil {
		l.onMalformed(line, err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
