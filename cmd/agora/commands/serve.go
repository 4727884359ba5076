package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dyluth/agora/internal/config"
	"github.com/dyluth/agora/internal/printer"
	"github.com/dyluth/agora/internal/runner"
	"github.com/dyluth/agora/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the conversation over HTTP and Server-Sent Events",
	Long: `Start the HTTP server.

Endpoints:
  GET    /api/history                 All history entries as JSON
  GET    /api/history/stream          SSE of entries appended from now on
  GET    /api/conversation/stream     SSE of the live conversation (starts a run
                                      if none is active) or, with replay=true,
                                      of the recorded history
                                      Query: replay, pause_seconds, turns
  GET    /api/runs                    Run manager status
  POST   /api/runs                    Start a run {"max_rounds", "pause_seconds"}
  DELETE /api/runs                    Stop the active run after its current turn
  GET    /api/runs/{id}               Stored run and rounds (requires Redis)
  GET    /healthz                     Health check
  GET    /metrics                     Prometheus metrics

Examples:
  agora serve --addr :8000
  agora serve --mode replay --replay-delay 1s`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().String("mode", "", "Default conversation stream mode: live or replay (overrides stream.mode)")
	serveCmd.Flags().Duration("replay-delay", 0, "Default delay between replayed messages (overrides stream.replay_delay)")
	serveCmd.Flags().Int("max-rounds", 0, "Maximum rounds per run (overrides auction.max_rounds)")
	serveCmd.Flags().Duration("pause", 0, "Pause between turns (overrides auction.pause)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, map[string]string{
		config.KeyServerAddr:  "addr",
		config.KeyStreamMode:  "mode",
		config.KeyReplayDelay: "replay-delay",
		config.KeyMaxRounds:   "max-rounds",
		config.KeyPause:       "pause",
	}); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim, err := newSimulation(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer sim.Close()

	manager := runner.NewManager(sim.runner, logger)
	deps := server.Deps{
		Ledger:  sim.ledger,
		Hub:     sim.hub,
		Manager: manager,
		Metrics: sim.metrics,
		Logger:  logger,
	}
	if sim.board != nil {
		deps.Runs = sim.board
	}

	srv, err := server.New(deps, server.Options{
		Addr:          cfg.Server.Addr,
		DefaultReplay: cfg.Stream.Mode == config.StreamModeReplay,
		ReplayDelay:   cfg.Stream.ReplayDelayDuration(),
		PollInterval:  cfg.Stream.PollInterval.Std(),
	})
	if err != nil {
		return err
	}

	printer.Success("Serving on %s (history: %s, mode: %s)\n", cfg.Server.Addr, cfg.Ledger.Path, cfg.Stream.Mode)

	if err := srv.ListenAndServe(ctx); err != nil {
		return printer.ErrorWithContext("server failed", err.Error(),
			map[string]string{"Address": cfg.Server.Addr},
			[]string{"Choose another address with --addr"})
	}

	// Let an active run finish its current turn before exiting.
	manager.Stop()
	if err := manager.Wait(context.Background()); err != nil {
		logger.Warn("run did not stop cleanly", zap.Error(err))
	}
	printer.Info("Server stopped\n")
	return nil
}
