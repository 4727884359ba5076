package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dyluth/agora/internal/config"
	"github.com/dyluth/agora/internal/printer"
	"github.com/dyluth/agora/internal/runner"
	"github.com/dyluth/agora/pkg/ledger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a conversation in the terminal",
	Long: `Run one conversation and print it as it is generated.

Each round every participant bids credits for the next turn. The highest
bidder speaks (never twice in a row) and the reply is appended to the
history file. The run ends when credits run out, after --max-rounds rounds,
after repeated rounds with no viable bid, or on Ctrl+C (the current turn
is finished first).

Examples:
  # Run with agora.yml (or built-in defaults)
  agora run

  # Five quick rounds into a scratch history file
  agora run --ledger /tmp/history.jsonl --max-rounds 5 --pause 0s`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().Int("max-rounds", 0, "Maximum number of rounds (overrides auction.max_rounds)")
	runCmd.Flags().Int("credits", 0, "Initial credits per participant (overrides auction.initial_credits)")
	runCmd.Flags().Duration("pause", 0, "Pause between turns, e.g. 3s (overrides auction.pause)")
	runCmd.Flags().Duration("bid-timeout", 0, "Bound on each bid scoring call, 0 disables (overrides auction.bid_timeout)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, map[string]string{
		config.KeyMaxRounds:      "max-rounds",
		config.KeyInitialCredits: "credits",
		config.KeyPause:          "pause",
		config.KeyBidTimeout:     "bid-timeout",
	}); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim, err := newSimulation(ctx, cfg, printer.NewConversation(os.Stdout))
	if err != nil {
		return err
	}
	defer sim.Close()

	printer.Step("Starting conversation between %d participants (history: %s)\n\n", sim.roster.Len(), cfg.Ledger.Path)

	summary, err := sim.runner.Run(ctx)
	if err != nil {
		logger.Error("run failed", zap.String("run_id", summary.RunID), zap.Error(err))
		if errors.Is(err, ledger.ErrLedgerIO) {
			return printer.ErrorWithContext(
				"history file failure",
				err.Error(),
				map[string]string{"Path": cfg.Ledger.Path, "Run": summary.RunID},
				[]string{"Check disk space and permissions, then run again"},
			)
		}
		return printer.Error("run failed", err.Error(), nil)
	}

	printSummary(summary)
	return nil
}

func printSummary(s runner.Summary) {
	fmt.Println()
	if s.StopReason == runner.StopCancelled {
		printer.Warning("Run %s cancelled after %d rounds (%d turns)\n", s.RunID, s.Rounds, s.Turns)
	} else {
		printer.Success("Run %s finished: %s after %d rounds (%d turns)\n", s.RunID, s.StopReason, s.Rounds, s.Turns)
	}
	printer.Info("Remaining credits: %s\n", formatCredits(s.Credits))
}
