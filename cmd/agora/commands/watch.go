package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dyluth/agora/internal/filter"
	"github.com/dyluth/agora/internal/printer"
	"github.com/dyluth/agora/internal/resolver"
	"github.com/dyluth/agora/internal/stream"
	"github.com/dyluth/agora/internal/timespec"
	"github.com/dyluth/agora/internal/watch"
	"github.com/dyluth/agora/pkg/blackboard"
)

var (
	watchOutputFormat string
	watchChunks       bool
	watchExitOnDone   bool
	watchTranscript   bool
	watchRunID        string
	watchTimeout      time.Duration
	watchList         int
	watchSince        string
	watchUntil        string
	watchStatus       string
	watchStopReason   string
)

// filteredListScan bounds how many runs are scanned when --list is combined
// with filters.
const filteredListScan = 1000

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor conversations published to Redis",
	Long: `Monitor conversations run by other agora processes (agora run or
agora serve) sharing the same Redis instance.

Streams turns and auction rounds as they occur. Requires redis.url
(--redis-url or AGORA_REDIS_URL).

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch all activity
  agora watch --redis-url redis://localhost:6379

  # Print the conversation as a transcript and exit when it ends
  agora watch --transcript --exit-on-done

  # Wait for a run to finish and show its rounds
  agora watch --run 5f0c...

  # List the 10 most recent runs
  agora watch --list 10

  # List cancelled runs started in the last two hours
  agora watch --list 20 --since 2h --status cancelled

  # Short IDs work once the run exists
  agora watch --run 5f0c1a`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().BoolVar(&watchChunks, "chunks", false, "Show streamed chunks, not only completed messages")
	watchCmd.Flags().BoolVar(&watchExitOnDone, "exit-on-done", false, "Exit when the conversation ends")
	watchCmd.Flags().BoolVar(&watchTranscript, "transcript", false, "Print the conversation as a transcript")
	watchCmd.Flags().StringVar(&watchRunID, "run", "", "Wait for the run with this ID to finish and print its rounds")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 30*time.Minute, "Maximum time to wait with --run")
	watchCmd.Flags().IntVar(&watchList, "list", 0, "List the N most recently started runs")
	watchCmd.Flags().StringVar(&watchSince, "since", "", "With --list: runs started after (duration like 1h or RFC3339)")
	watchCmd.Flags().StringVar(&watchUntil, "until", "", "With --list: runs started before (duration like 1h or RFC3339)")
	watchCmd.Flags().StringVar(&watchStatus, "status", "", "With --list: runs with this status (running, done, cancelled, failed)")
	watchCmd.Flags().StringVar(&watchStopReason, "stop-reason", "", "With --list: runs whose stop reason matches this glob")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, err := watch.ParseOutputFormat(watchOutputFormat)
	if err != nil {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Redis.URL == "" {
		return printer.Error(
			"Redis is not configured",
			"watch reads events published to Redis by other agora processes.",
			[]string{"Set redis.url in agora.yml, pass --redis-url or export AGORA_REDIS_URL"},
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	board, err := connectBlackboard(ctx, cfg)
	if err != nil {
		return err
	}
	defer board.Close()

	switch {
	case watchList > 0:
		criteria, err := listCriteria(time.Now())
		if err != nil {
			return err
		}
		return listRuns(ctx, board, watchList, criteria)
	case watchRunID != "":
		return waitForRun(ctx, board, watchRunID)
	case watchTranscript:
		return followTranscript(ctx, board)
	default:
		return watch.StreamActivity(ctx, board, format, watch.Options{Chunks: watchChunks, ExitOnDone: watchExitOnDone}, os.Stdout)
	}
}

// followTranscript prints conversations as transcripts until the context
// ends or, with --exit-on-done, until one conversation ends.
func followTranscript(ctx context.Context, board *blackboard.Client) error {
	sub, err := board.SubscribeEvents(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	conv := printer.NewConversation(os.Stdout)
	var ended bool
	emit := stream.EmitterFunc(func(ctx context.Context, e blackboard.Event) error {
		ended = e.Type.Terminal()
		return conv.Emit(ctx, e)
	})

	for {
		ended = false
		if err := stream.Relay(ctx, sub, emit, logger); err != nil {
			return err
		}
		// Relay also returns when ctx ends or the subscription closes.
		if !ended || watchExitOnDone {
			return nil
		}
	}
}

// listCriteria builds the --list filters from the command line.
func listCriteria(now time.Time) (*filter.Criteria, error) {
	sinceMs, untilMs, err := timespec.ParseRange(watchSince, watchUntil, now)
	if err != nil {
		return nil, printer.Error("invalid time range", err.Error(),
			[]string{"Use a duration like 1h30m or an RFC3339 time like 2025-10-29T13:00:00Z"})
	}

	status := blackboard.RunStatus(watchStatus)
	if status != "" {
		if err := status.Validate(); err != nil {
			return nil, printer.Error("invalid status", err.Error(),
				[]string{"Valid statuses: running, done, cancelled, failed"})
		}
	}

	return &filter.Criteria{
		SinceTimestampMs: sinceMs,
		UntilTimestampMs: untilMs,
		Status:           status,
		StopReasonGlob:   watchStopReason,
	}, nil
}

func listRuns(ctx context.Context, board *blackboard.Client, limit int, criteria *filter.Criteria) error {
	scan := limit
	if criteria.HasFilters() {
		scan = max(limit, filteredListScan)
	}
	runs, err := board.ListRuns(ctx, scan)
	if err != nil {
		return err
	}
	runs = criteria.Runs(runs)
	runs = runs[:min(len(runs), limit)]
	if len(runs) == 0 {
		printer.Info("No runs recorded for instance %s\n", board.Instance())
		return nil
	}
	for _, r := range runs {
		started := time.UnixMilli(r.StartedAtMs).Format(time.RFC3339)
		printer.Printf("%s  %-9s  %-17s  rounds=%d turns=%d  started=%s\n",
			r.ID, r.Status, r.StopReason, r.Rounds, r.Turns, started)
	}
	return nil
}

func waitForRun(ctx context.Context, board *blackboard.Client, runID string) error {
	// A full ID may name a run that has not started yet; only prefixes are
	// resolved up front.
	if _, err := uuid.Parse(runID); err != nil {
		runID, err = resolveRun(ctx, board, runID)
		if err != nil {
			return err
		}
	}

	printer.Step("Waiting for run %s\n", runID)
	run, err := watch.PollForRun(ctx, board, runID, watchTimeout)
	if err != nil {
		return printer.Error("run did not finish", err.Error(),
			[]string{"Check the ID with:\n  agora watch --list 10"})
	}

	rounds, err := board.ListRounds(ctx, runID)
	if err != nil {
		return err
	}
	for _, r := range rounds {
		if r.Outcome == blackboard.RoundOutcomeNoViableBid {
			printer.Printf("  round %2d  skipped (no viable bids)\n", r.Round)
			continue
		}
		printer.Printf("  round %2d  %s won with %d credits\n", r.Round, r.Winner, r.WinningBid)
	}

	if run.Status == blackboard.RunStatusDone {
		printer.Success("Run %s %s: %s after %d rounds (%d turns)\n", run.ID, run.Status, run.StopReason, run.Rounds, run.Turns)
	} else {
		printer.Warning("Run %s %s: %s after %d rounds (%d turns)\n", run.ID, run.Status, run.StopReason, run.Rounds, run.Turns)
	}
	return nil
}

func resolveRun(ctx context.Context, board *blackboard.Client, shortID string) (string, error) {
	id, err := resolver.ResolveRunID(ctx, board, shortID)
	if err == nil {
		return id, nil
	}

	var amb *resolver.AmbiguousError
	if errors.As(err, &amb) {
		return "", printer.ErrorWithContext(
			"ambiguous run ID",
			err.Error(),
			map[string]string{"Matches": strings.Join(amb.Candidates(), ", ")},
			[]string{"Use a longer prefix to identify the run"},
		)
	}
	return "", printer.Error("cannot resolve run ID", err.Error(),
		[]string{"List recent runs with:\n  agora watch --list 10"})
}
