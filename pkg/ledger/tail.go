package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	// DefaultPollInterval is used when no interval is configured.
	DefaultPollInterval = 500 * time.Millisecond

	debounceDelay = 50 * time.Millisecond
)

// Tailer follows a ledger and hands batches of newly appended entries to a
// callback. Change notification comes from fsnotify on the ledger's directory;
// a ticker re-reads the file as well, so a platform without inotify support
// (or a missed event) only costs latency.
type Tailer struct {
	reader   Reader
	path     string
	interval time.Duration
	logger   *zap.Logger
}

// NewTailer creates a tailer for the ledger stored at path and read through reader.
// An empty path disables file notifications and leaves only polling.
func NewTailer(reader Reader, path string, interval time.Duration, logger *zap.Logger) *Tailer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tailer{
		reader:   reader,
		path:     path,
		interval: interval,
		logger:   logger.With(zap.String("component", "tailer")),
	}
}

// Run reads entries appended after from until ctx is cancelled or handle
// returns an error. A ledger that does not exist yet is treated as empty.
// Returns nil on cancellation.
func (t *Tailer) Run(ctx context.Context, from Cursor, handle func([]Entry) error) error {
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)

	if watcher := t.newWatcher(); watcher != nil {
		defer watcher.Close()
		events = watcher.Events
		errs = watcher.Errors
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	debounce := time.NewTimer(0)
	<-debounce.C

	cursor := from
	poll := func() error {
		entries, next, err := t.reader.ReadNewEntriesSince(ctx, cursor)
		if errors.Is(err, ErrNoLedger) {
			return nil
		}
		if err != nil {
			return err
		}
		cursor = next
		if len(entries) == 0 {
			return nil
		}
		return handle(entries)
	}

	if err := poll(); err != nil {
		return t.finish(ctx, err)
	}

	target := filepath.Base(t.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			debounce.Reset(debounceDelay)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			t.logger.Warn("ledger watcher error", zap.Error(err))

		case <-debounce.C:
			if err := poll(); err != nil {
				return t.finish(ctx, err)
			}

		case <-ticker.C:
			if err := poll(); err != nil {
				return t.finish(ctx, err)
			}
		}
	}
}

// newWatcher watches the ledger's directory, which survives the file being
// created after the tailer starts. Returns nil when watching is unavailable.
func (t *Tailer) newWatcher() *fsnotify.Watcher {
	if t.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.logger.Warn("file notifications unavailable, polling only", zap.Error(err))
		return nil
	}

	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		t.logger.Warn("cannot watch ledger directory, polling only",
			zap.String("dir", filepath.Dir(t.path)),
			zap.Error(err))
		watcher.Close()
		return nil
	}
	return watcher
}

func (t *Tailer) finish(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
