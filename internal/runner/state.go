package runner

import (
	"context"

	"github.com/dyluth/agora/internal/auction"
	"github.com/dyluth/agora/internal/persona"
	"github.com/dyluth/agora/pkg/blackboard"
	"github.com/dyluth/agora/pkg/ledger"
)

// State is the phase of the round loop.
type State string

const (
	StateIdle       State = "idle"
	StateBidding    State = "bidding"
	StateResolving  State = "resolving"
	StateGenerating State = "generating"
	StateAppending  State = "appending"
	StateDone       State = "done"
)

// StopReason explains why a run reached Done.
type StopReason string

const (
	// StopCreditsExhausted means no participant has credits left
	StopCreditsExhausted StopReason = "credits_exhausted"

	// StopMaxRounds means the configured round limit was reached
	StopMaxRounds StopReason = "max_rounds"

	// StopNoViableBids means too many consecutive rounds had no winner
	StopNoViableBids StopReason = "no_viable_bids"

	// StopCancelled means the run was stopped from outside
	StopCancelled StopReason = "cancelled"

	// StopLedgerFailure means the ledger could not be read or written
	StopLedgerFailure StopReason = "ledger_failure"

	// StopFailed covers any other unrecoverable error
	StopFailed StopReason = "failed"
)

// Status maps a stop reason to the run record status.
func (r StopReason) Status() blackboard.RunStatus {
	switch r {
	case StopCancelled:
		return blackboard.RunStatusCancelled
	case StopLedgerFailure, StopFailed:
		return blackboard.RunStatusFailed
	default:
		return blackboard.RunStatusDone
	}
}

// Ledger is the part of the history ledger the runner needs.
type Ledger interface {
	Append(e ledger.Entry) error
	Last(ctx context.Context) (ledger.Entry, bool, error)
	Recent(ctx context.Context, n int) ([]ledger.Entry, error)
}

// Bidder collects one bid per participant.
type Bidder interface {
	Collect(ctx context.Context, participants []persona.Participant, pool *auction.CreditPool) (auction.Bids, error)
}

// Recorder persists run and round records for observers. Failures are logged
// and never stop a run.
type Recorder interface {
	SaveRun(ctx context.Context, r *blackboard.Run) error
	RecordRound(ctx context.Context, r *blackboard.RoundEvent) error
}

// Summary describes a finished run.
type Summary struct {
	RunID      string
	StopReason StopReason
	Rounds     int            // rounds attempted, including skipped ones
	Turns      int            // entries appended to the ledger
	Credits    map[string]int // remaining credits per participant
}
