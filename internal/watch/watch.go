// Package watch follows a running simulation through the blackboard: stream
// events and auction rounds published by the scheduler, and stored run
// records.
package watch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/agora/pkg/blackboard"
)

// OutputFormat selects how activity is written.
type OutputFormat int

const (
	// OutputFormatDefault is human-readable with timestamps and emojis
	OutputFormatDefault OutputFormat = iota
	// OutputFormatJSON is line-delimited JSON
	OutputFormatJSON
)

// ParseOutputFormat maps a --output flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch s {
	case "", "default":
		return OutputFormatDefault, nil
	case "json":
		return OutputFormatJSON, nil
	default:
		return 0, fmt.Errorf("unknown output format: %s", s)
	}
}

// Source is the part of the blackboard client watch needs.
type Source interface {
	SubscribeEvents(ctx context.Context) (*blackboard.Subscription[blackboard.Event], error)
	SubscribeRoundEvents(ctx context.Context) (*blackboard.Subscription[*blackboard.RoundEvent], error)
}

// Options control StreamActivity.
type Options struct {
	// Chunks writes every streamed delta instead of only completed messages.
	Chunks bool
	// ExitOnDone returns after the first done or error event.
	ExitOnDone bool
}

// StreamActivity writes stream and round events to w until ctx is cancelled
// or, with ExitOnDone, the conversation ends. Undecodable messages are
// reported inline and skipped.
func StreamActivity(ctx context.Context, src Source, format OutputFormat, opts Options, w io.Writer) error {
	events, err := src.SubscribeEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to stream events: %w", err)
	}
	defer events.Close()

	rounds, err := src.SubscribeRoundEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to round events: %w", err)
	}
	defer rounds.Close()

	f := newFormatter(format, w, opts.Chunks)

	eventsCh, roundsCh := events.Events(), rounds.Events()
	eventErrs, roundErrs := events.Errors(), rounds.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil

		case e, ok := <-eventsCh:
			if !ok {
				return nil
			}
			if err := f.FormatEvent(e); err != nil {
				return err
			}
			if opts.ExitOnDone && e.Type.Terminal() {
				return nil
			}

		case r, ok := <-roundsCh:
			if !ok {
				return nil
			}
			if err := f.FormatRound(r); err != nil {
				return err
			}

		case err, ok := <-eventErrs:
			if !ok {
				eventErrs = nil
				continue
			}
			if err := f.FormatWarning(err); err != nil {
				return err
			}

		case err, ok := <-roundErrs:
			if !ok {
				roundErrs = nil
				continue
			}
			if err := f.FormatWarning(err); err != nil {
				return err
			}
		}
	}
}

// RunReader reads stored run records.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*blackboard.Run, error)
}

// PollForRun polls until the run has left the running state.
// Returns the finished run or an error if timeout occurs.
// Polls every 200ms for the specified timeout duration.
func PollForRun(ctx context.Context, client RunReader, runID string, timeout time.Duration) (*blackboard.Run, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for run %s to finish after %v", runID, timeout)

		case <-ticker.C:
			run, err := client.GetRun(ctx, runID)
			if err != nil {
				if blackboard.IsNotFound(err) {
					// Not recorded yet, continue polling
					continue
				}
				return nil, fmt.Errorf("failed to query run: %w", err)
			}
			if run.Status == blackboard.RunStatusRunning {
				continue
			}
			return run, nil
		}
	}
}
