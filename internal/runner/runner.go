// Package runner drives a conversation: each round collects bids, resolves
// the auction, generates the winner's turn and appends it to the ledger,
// until a stop condition is met.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dyluth/agora/internal/auction"
	"github.com/dyluth/agora/internal/capability"
	"github.com/dyluth/agora/internal/metrics"
	"github.com/dyluth/agora/internal/persona"
	"github.com/dyluth/agora/internal/stream"
	"github.com/dyluth/agora/pkg/blackboard"
	"github.com/dyluth/agora/pkg/ledger"
)

// NoResponse replaces an empty generated turn.
const NoResponse = "(no response)"

// Options are the tunables of a run.
type Options struct {
	InitialCredits      int
	MaxRounds           int
	MaxConsecutiveNoBid int
	Pause               time.Duration
	HistoryTurns        int
}

// Deps are the collaborators of a Runner. Roster, Ledger, Bidder, Generator
// and Emitter are required.
type Deps struct {
	Roster    *persona.Roster
	Ledger    Ledger
	Bidder    Bidder
	Generator capability.Generator
	Emitter   stream.Emitter
	Recorder  Recorder           // optional
	Metrics   *metrics.Collector // optional
	Logger    *zap.Logger        // optional
}

// Runner executes runs one at a time. A Runner may be reused for several
// sequential runs; credits are reset at the start of each.
type Runner struct {
	deps   Deps
	opts   Options
	logger *zap.Logger

	mu    sync.RWMutex
	state State
}

// New validates deps and opts and creates a runner.
func New(deps Deps, opts Options) (*Runner, error) {
	switch {
	case deps.Roster == nil:
		return nil, fmt.Errorf("runner requires a roster")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("runner requires a ledger")
	case deps.Bidder == nil:
		return nil, fmt.Errorf("runner requires a bidder")
	case deps.Generator == nil:
		return nil, fmt.Errorf("runner requires a generator")
	case deps.Emitter == nil:
		return nil, fmt.Errorf("runner requires an emitter")
	}
	if opts.InitialCredits < 1 {
		return nil, fmt.Errorf("initial credits must be >= 1, got %d", opts.InitialCredits)
	}
	if opts.MaxRounds < 1 {
		return nil, fmt.Errorf("max rounds must be >= 1, got %d", opts.MaxRounds)
	}
	if opts.MaxConsecutiveNoBid < 1 {
		opts.MaxConsecutiveNoBid = 2
	}
	if opts.HistoryTurns < 1 {
		opts.HistoryTurns = 10
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		deps:   deps,
		opts:   opts,
		logger: logger.With(zap.String("component", "runner")),
		state:  StateIdle,
	}, nil
}

// State returns the current phase of the round loop.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Run executes one conversation and blocks until it reaches Done.
//
// Cancelling ctx stops the run between rounds; a turn that is already being
// generated is finished and appended first. Cancellation is a normal stop
// and returns a nil error. A ledger failure emits an error event and the
// returned error matches ledger.ErrLedgerIO.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	return r.RunWith(ctx, Overrides{})
}

// Overrides adjust a single run. Zero values keep the runner's options.
type Overrides struct {
	MaxRounds int
	Pause     *time.Duration
}

// RunWith is Run with per-run overrides.
func (r *Runner) RunWith(ctx context.Context, o Overrides) (Summary, error) {
	opts := r.opts
	if o.MaxRounds > 0 {
		opts.MaxRounds = o.MaxRounds
	}
	if o.Pause != nil && *o.Pause >= 0 {
		opts.Pause = *o.Pause
	}

	run := &run{
		Runner:  r,
		opts:    opts,
		id:      uuid.New().String(),
		started: time.Now(),
	}
	return run.execute(ctx)
}

// run holds the state of a single execution.
type run struct {
	*Runner
	opts    Options
	id      string
	started time.Time

	pool    *auction.CreditPool
	auction *auction.Auction
	last    string
	rounds  int
	turns   int
	noBid   int
}

func (r *run) execute(ctx context.Context) (Summary, error) {
	defer r.setState(StateDone)

	pool, err := auction.NewCreditPool(r.deps.Roster.IDs(), r.opts.InitialCredits)
	if err != nil {
		return Summary{}, err
	}
	r.pool = pool
	r.auction = auction.New(pool, r.logger)
	r.deps.Metrics.SetCredits(pool.Snapshot())

	last, err := r.recoverLastSpeaker(ctx)
	if err != nil {
		return r.fail(ctx, err)
	}
	r.last = last

	r.logEvent("run_started",
		zap.Strings("participants", pool.IDs()),
		zap.String("last_speaker", r.last),
		zap.Int("initial_credits", r.opts.InitialCredits),
		zap.Int("max_rounds", r.opts.MaxRounds))
	r.saveRun(ctx, blackboard.RunStatusRunning, "")

	reason, err := r.loop(ctx)
	if err != nil {
		return r.fail(ctx, err)
	}
	return r.finish(ctx, reason), nil
}

func (r *run) loop(ctx context.Context) (StopReason, error) {
	for r.rounds < r.opts.MaxRounds {
		if ctx.Err() != nil {
			return StopCancelled, nil
		}
		if !r.pool.AnyPositive() {
			return StopCreditsExhausted, nil
		}

		r.rounds++
		granted, err := r.round(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return StopCancelled, nil
		}
		if err != nil {
			return "", err
		}

		if !granted {
			if r.noBid >= r.opts.MaxConsecutiveNoBid {
				return StopNoViableBids, nil
			}
			continue
		}

		if r.rounds < r.opts.MaxRounds && r.pool.AnyPositive() {
			r.setState(StateIdle)
			if err := wait(ctx, r.opts.Pause); err != nil {
				return StopCancelled, nil
			}
		}
	}

	if !r.pool.AnyPositive() {
		return StopCreditsExhausted, nil
	}
	return StopMaxRounds, nil
}

// round runs one bid, resolve, generate, append cycle. It reports whether a
// participant was granted the turn.
func (r *run) round(ctx context.Context) (bool, error) {
	r.setState(StateBidding)
	bids, err := r.deps.Bidder.Collect(ctx, r.deps.Roster.Participants(), r.pool)
	if err != nil {
		return false, err
	}

	r.setState(StateResolving)
	result, err := r.auction.Run(bids, r.last)
	if errors.Is(err, auction.ErrNoViableBid) {
		r.noBid++
		r.deps.Metrics.RecordRound(string(blackboard.RoundOutcomeNoViableBid))
		r.recordRound(ctx, blackboard.RoundOutcomeNoViableBid, result)
		r.logEvent("round_skipped",
			zap.Int("round", r.rounds),
			zap.Int("consecutive", r.noBid),
			zap.Any("bids", result.Bids))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("round %d: %w", r.rounds, err)
	}

	r.noBid = 0
	r.deps.Metrics.RecordRound(string(blackboard.RoundOutcomeGranted))
	r.deps.Metrics.SetCredits(r.pool.Snapshot())
	r.recordRound(ctx, blackboard.RoundOutcomeGranted, result)

	speaker, ok := r.deps.Roster.Get(result.Winner)
	if !ok {
		return false, fmt.Errorf("round %d: winner %q is not in the roster", r.rounds, result.Winner)
	}
	r.logEvent("turn_granted",
		zap.Int("round", r.rounds),
		zap.String("winner", speaker.ID),
		zap.Int("winning_bid", result.WinningBid),
		zap.Int("credits_left", r.pool.Remaining(speaker.ID)))

	if err := r.turn(ctx, speaker); err != nil {
		return false, err
	}
	return true, nil
}

// turn generates and appends the speaker's contribution. Generation runs
// detached from ctx so that text already being produced is not lost.
func (r *run) turn(ctx context.Context, speaker persona.Participant) error {
	bg := context.WithoutCancel(ctx)

	recent, err := r.deps.Ledger.Recent(bg, r.opts.HistoryTurns)
	if errors.Is(err, ledger.ErrNoLedger) {
		// The seed was written before the first round, so a missing
		// ledger here means it was removed underneath the run.
		err = fmt.Errorf("%w: %w", ledger.ErrLedgerIO, err)
	}
	if err != nil {
		return err
	}
	history := ledger.FormatTranscript(recent)

	r.emit(bg, blackboard.MessageStart(speaker.Role))

	r.setState(StateGenerating)
	start := time.Now()
	text, genErr := r.generate(bg, speaker, history)
	r.deps.Metrics.RecordGeneration(genErr == nil, time.Since(start))
	if genErr != nil {
		r.logger.Warn("generation failed, recording placeholder",
			zap.String("event_type", "generation_failed"),
			zap.String("speaker", speaker.ID),
			zap.Error(genErr))
		text = fmt.Sprintf("[Error: %v]", genErr)
	}
	if strings.TrimSpace(text) == "" {
		text = NoResponse
	}

	r.setState(StateAppending)
	if err := r.deps.Ledger.Append(ledger.Entry{Role: speaker.Role, Content: text}); err != nil {
		return err
	}
	r.deps.Metrics.RecordAppend()
	r.turns++
	r.last = speaker.ID

	r.emit(bg, blackboard.MessageEnd(speaker.Role, text))
	return nil
}

func (r *run) generate(ctx context.Context, speaker persona.Participant, history string) (string, error) {
	if sg, ok := r.deps.Generator.(capability.StreamGenerator); ok {
		return sg.GenerateStream(ctx, speaker, history, func(delta string) {
			if delta != "" {
				r.emit(ctx, blackboard.Chunk(speaker.Role, delta))
			}
		})
	}
	return r.deps.Generator.Generate(ctx, speaker, history)
}

// recoverLastSpeaker maps the role of the newest ledger entry back to a
// participant. Unknown roles and an empty ledger fall back to the first
// configured participant.
func (r *run) recoverLastSpeaker(ctx context.Context) (string, error) {
	entry, ok, err := r.deps.Ledger.Last(ctx)
	if errors.Is(err, ledger.ErrNoLedger) {
		ok, err = false, nil
	}
	if err != nil {
		return "", err
	}

	if ok {
		if p, found := r.deps.Roster.ByRole(entry.Role); found {
			return p.ID, nil
		}
		r.logger.Info("last ledger speaker is not a participant, defaulting",
			zap.String("role", entry.Role))
	}
	return r.deps.Roster.First().ID, nil
}

func (r *run) fail(ctx context.Context, err error) (Summary, error) {
	reason := StopFailed
	if errors.Is(err, ledger.ErrLedgerIO) {
		reason = StopLedgerFailure
	}

	bg := context.WithoutCancel(ctx)
	r.logger.Error("run failed",
		zap.String("event_type", "run_failed"),
		zap.String("run_id", r.id),
		zap.String("stop_reason", string(reason)),
		zap.Error(err))
	r.emit(bg, blackboard.Failure(err.Error()))
	r.saveRun(bg, reason.Status(), reason)
	return r.summary(reason), err
}

func (r *run) finish(ctx context.Context, reason StopReason) Summary {
	bg := context.WithoutCancel(ctx)
	r.logEvent("run_finished",
		zap.String("stop_reason", string(reason)),
		zap.Int("rounds", r.rounds),
		zap.Int("turns", r.turns),
		zap.Any("credits", r.pool.Snapshot()))
	r.emit(bg, blackboard.Done())
	r.saveRun(bg, reason.Status(), reason)
	return r.summary(reason)
}

func (r *run) summary(reason StopReason) Summary {
	s := Summary{RunID: r.id, StopReason: reason, Rounds: r.rounds, Turns: r.turns}
	if r.pool != nil {
		s.Credits = r.pool.Snapshot()
	}
	return s
}

// emit delivers an event to observers. Observer failures never stop a run.
func (r *run) emit(ctx context.Context, e blackboard.Event) {
	if err := r.deps.Emitter.Emit(ctx, e); err != nil {
		r.logger.Warn("failed to emit stream event",
			zap.String("type", string(e.Type)),
			zap.Error(err))
	}
}

func (r *run) recordRound(ctx context.Context, outcome blackboard.RoundOutcome, result auction.Round) {
	if r.deps.Recorder == nil {
		return
	}
	ev := &blackboard.RoundEvent{
		RunID:       r.id,
		Round:       r.rounds,
		Outcome:     outcome,
		Bids:        result.Bids,
		Winner:      result.Winner,
		WinningBid:  result.WinningBid,
		Credits:     r.pool.Snapshot(),
		TimestampMs: time.Now().UnixMilli(),
	}
	if err := r.deps.Recorder.RecordRound(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.Warn("failed to record round", zap.Int("round", r.rounds), zap.Error(err))
	}
}

func (r *run) saveRun(ctx context.Context, status blackboard.RunStatus, reason StopReason) {
	if r.deps.Recorder == nil {
		return
	}
	rec := &blackboard.Run{
		ID:           r.id,
		Status:       status,
		StopReason:   string(reason),
		Participants: r.deps.Roster.IDs(),
		Rounds:       r.rounds,
		Turns:        r.turns,
		StartedAtMs:  r.started.UnixMilli(),
	}
	if status != blackboard.RunStatusRunning {
		rec.EndedAtMs = time.Now().UnixMilli()
	}
	if err := r.deps.Recorder.SaveRun(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn("failed to save run record", zap.Error(err))
	}
}

// logEvent writes a structured lifecycle event.
func (r *run) logEvent(eventType string, fields ...zap.Field) {
	fields = append([]zap.Field{
		zap.String("event_type", eventType),
		zap.String("run_id", r.id),
	}, fields...)
	r.logger.Info(eventType, fields...)
}

// wait pauses for d unless ctx is done first.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
