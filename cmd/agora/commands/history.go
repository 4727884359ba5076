package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/agora/internal/printer"
	"github.com/dyluth/agora/pkg/ledger"
)

var (
	historyJSON   bool
	historyFollow bool
	historyLast   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the conversation history",
	Long: `Print the entries of the history file. Malformed lines are skipped.

Examples:
  # Whole transcript
  agora history

  # Last 10 entries as JSON lines
  agora history --last 10 --json

  # Print new entries as another process appends them
  agora history --follow`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print entries as JSON lines")
	historyCmd.Flags().BoolVarP(&historyFollow, "follow", "f", false, "Keep printing entries as they are appended")
	historyCmd.Flags().IntVarP(&historyLast, "last", "n", 0, "Only print the last N entries")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	l, err := ledger.OpenReadOnly(cfg.Ledger.Path, ledger.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var entries []ledger.Entry
	if historyLast > 0 {
		entries, err = l.Recent(ctx, historyLast)
	} else {
		entries, err = l.ReadAll(ctx)
	}
	if err != nil && !errors.Is(err, ledger.ErrNoLedger) {
		return printer.ErrorWithContext("failed to read history", err.Error(),
			map[string]string{"Path": cfg.Ledger.Path}, nil)
	}
	if errors.Is(err, ledger.ErrNoLedger) && !historyFollow {
		printer.Info("No history at %s\n", cfg.Ledger.Path)
		return nil
	}

	if err := writeEntries(entries); err != nil {
		return err
	}
	if !historyFollow {
		return nil
	}

	from, err := l.End(ctx)
	if err != nil {
		return err
	}
	tailer := ledger.NewTailer(l, l.Path(), cfg.Stream.PollInterval.Std(), logger)
	err = tailer.Run(ctx, from, writeEntries)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func writeEntries(entries []ledger.Entry) error {
	if !historyJSON {
		return printer.Entries(os.Stdout, entries)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}
	return nil
}
