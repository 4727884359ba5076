package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/agora/internal/config"
	"github.com/dyluth/agora/internal/printer"
	"github.com/dyluth/agora/internal/stream"
	"github.com/dyluth/agora/pkg/ledger"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay the recorded conversation",
	Long: `Replay every entry of the history file in order, pausing between
messages, exactly as the replay stream of the HTTP server does.

Examples:
  # Replay with the configured delay (stream.replay_delay, default 5s)
  agora replay

  # Replay instantly
  agora replay --delay 0s`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().Duration("delay", 0, "Delay between messages (overrides stream.replay_delay)")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, map[string]string{config.KeyReplayDelay: "delay"}); err != nil {
		return err
	}

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

	err = stream.Replay(ctx, l, cfg.Stream.ReplayDelayDuration(), printer.NewConversation(os.Stdout))
	switch {
	case errors.Is(err, stream.ErrNothingToReplay):
		return printer.ErrorWithContext(
			"nothing to replay",
			"The history file is missing or holds no valid entries.",
			map[string]string{"Path": cfg.Ledger.Path},
			[]string{"Record a conversation first:\n  agora run"},
		)
	case ctx.Err() != nil:
		return nil
	}
	return err
}
