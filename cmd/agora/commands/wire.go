package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dyluth/agora/internal/bidding"
	"github.com/dyluth/agora/internal/config"
	"github.com/dyluth/agora/internal/llm"
	"github.com/dyluth/agora/internal/metrics"
	"github.com/dyluth/agora/internal/persona"
	"github.com/dyluth/agora/internal/printer"
	"github.com/dyluth/agora/internal/runner"
	"github.com/dyluth/agora/internal/stream"
	"github.com/dyluth/agora/pkg/blackboard"
	"github.com/dyluth/agora/pkg/ledger"
)

// simulation is every component of a run, wired from one configuration.
type simulation struct {
	cfg     *config.SimulationConfig
	metrics *metrics.Collector
	ledger  *ledger.FileLedger
	roster  *persona.Roster
	board   *blackboard.Client // nil unless redis.url is set
	hub     *stream.Hub
	runner  *runner.Runner
}

// newSimulation wires the runner. Events go to the hub, to Redis when
// configured, and to extra when non-nil.
func newSimulation(ctx context.Context, cfg *config.SimulationConfig, extra stream.Emitter) (*simulation, error) {
	s := &simulation{cfg: cfg, metrics: metrics.NewCollector("agora", logger)}

	roster, err := persona.RosterFromConfig(cfg.Participants)
	if err != nil {
		return nil, printer.Error(
			"invalid participants",
			err.Error(),
			[]string{"Check the participants section and persona_prompt_file paths in your configuration"},
		)
	}
	s.roster = roster

	l, err := ledger.Open(cfg.Ledger.Path,
		ledger.Entry{Role: roster.First().Role, Content: cfg.Ledger.SeedContent},
		ledger.WithLogger(logger),
		ledger.WithMalformedHook(func(string, error) { s.metrics.RecordMalformedLine() }),
	)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"history file unavailable",
			err.Error(),
			map[string]string{"Path": cfg.Ledger.Path},
			[]string{"Check that the directory is writable or pass --ledger <path>"},
		)
	}
	s.ledger = l

	prompts, err := persona.LoadPrompts(cfg.Prompts.SystemFile, cfg.Prompts.BiddingFile)
	if err != nil {
		return nil, printer.Error("failed to load prompts", err.Error(), nil)
	}

	primary, err := llm.NewScorer(cfg.Models.BidPrimary, prompts, l, cfg.Ledger.HistoryTurns)
	if err != nil {
		return nil, modelError("bid_primary", err)
	}
	fallback, err := llm.NewScorer(cfg.Models.BidFallback, prompts, l, cfg.Ledger.HistoryTurns)
	if err != nil {
		return nil, modelError("bid_fallback", err)
	}
	generator, err := llm.NewGenerator(cfg.Models.GenerationPrimary, cfg.Models.GenerationFallback, prompts)
	if err != nil {
		field := "generation_primary"
		var genErr *llm.GenerationError
		if errors.As(err, &genErr) {
			field = genErr.Field
		}
		return nil, modelError(field, err)
	}

	bidder := bidding.NewCollector(primary, fallback,
		bidding.WithTimeout(cfg.Auction.BidTimeoutDuration()),
		bidding.WithMetrics(s.metrics),
		bidding.WithLogger(logger),
	)

	s.hub = stream.NewHub(s.metrics)
	emitters := stream.MultiEmitter{s.hub}

	deps := runner.Deps{
		Roster:    roster,
		Ledger:    l,
		Bidder:    bidder,
		Generator: generator,
		Metrics:   s.metrics,
		Logger:    logger,
	}

	if cfg.Redis.URL != "" {
		board, err := connectBlackboard(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.board = board
		deps.Recorder = board
		emitters = append(emitters, stream.NewForwarder(board, logger))
	}
	if extra != nil {
		emitters = append(emitters, extra)
	}
	deps.Emitter = emitters

	r, err := runner.New(deps, runner.Options{
		InitialCredits:      cfg.Auction.InitialCredits,
		MaxRounds:           cfg.Auction.MaxRounds,
		MaxConsecutiveNoBid: cfg.Auction.MaxConsecutiveNoBid,
		Pause:               cfg.Auction.PauseDuration(),
		HistoryTurns:        cfg.Ledger.HistoryTurns,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}
	s.runner = r
	return s, nil
}

// Close releases the Redis connection and stops hub subscribers.
func (s *simulation) Close() {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.board != nil {
		if err := s.board.Close(); err != nil {
			logger.Warn("failed to close blackboard client", zap.Error(err))
		}
	}
}

func connectBlackboard(ctx context.Context, cfg *config.SimulationConfig) (*blackboard.Client, error) {
	board, err := blackboard.NewClientFromURL(cfg.Redis.URL, cfg.Instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create blackboard client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := board.Ping(pingCtx); err != nil {
		board.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", cfg.Redis.URL),
			map[string]string{"Instance": cfg.Instance, "Error": err.Error()},
			[]string{
				"Start Redis and try again",
				"Unset redis.url (or AGORA_REDIS_URL) to run without Redis",
			},
		)
	}
	return board, nil
}

func modelError(field string, err error) error {
	return printer.Error(
		fmt.Sprintf("cannot configure models.%s", field),
		err.Error(),
		[]string{
			"Export the API key for the provider (ANTHROPIC_API_KEY, GROQ_API_KEY or OPENAI_API_KEY)",
			fmt.Sprintf("Set models.%s.provider to \"random\" or \"none\" to run offline where allowed", field),
		},
	)
}
