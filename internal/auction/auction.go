package auction

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrNoViableBid means the round produced no speaker: every bid was zero, or
// the only positive bidder spoke last.
var ErrNoViableBid = errors.New("no viable bid")

// Bids maps participant ID to offered credits. A valid Bids value has an entry
// for every participant, zeros included.
type Bids map[string]int

// Round is the outcome of one resolved auction.
type Round struct {
	Winner     string
	WinningBid int
	Bids       Bids
}

// Resolve selects the winner of a round.
//
// order is the canonical participant order used to break ties: the first
// participant reaching the maximum bid wins. If that participant is
// lastSpeaker, the highest bid among everyone else wins instead, and the round
// is not viable when that bid is zero.
func Resolve(order []string, bids Bids, lastSpeaker string) (Round, error) {
	winner, top := argmax(order, bids, "")
	if top <= 0 {
		return Round{Bids: bids}, ErrNoViableBid
	}

	if winner == lastSpeaker {
		winner, top = argmax(order, bids, lastSpeaker)
		if top <= 0 {
			return Round{Bids: bids}, ErrNoViableBid
		}
	}

	return Round{Winner: winner, WinningBid: top, Bids: bids}, nil
}

// argmax returns the first participant in order with the highest bid,
// skipping exclude.
func argmax(order []string, bids Bids, exclude string) (string, int) {
	winner, top := "", 0
	for _, id := range order {
		if id == exclude {
			continue
		}
		if b := bids[id]; b > top {
			winner, top = id, b
		}
	}
	return winner, top
}

// Auction resolves rounds against a credit pool and debits the winner.
type Auction struct {
	pool   *CreditPool
	logger *zap.Logger
}

// New creates an auction over pool. A nil logger disables logging.
func New(pool *CreditPool, logger *zap.Logger) *Auction {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auction{pool: pool, logger: logger.With(zap.String("component", "auction"))}
}

// Pool returns the credit pool the auction debits.
func (a *Auction) Pool() *CreditPool {
	return a.pool
}

// Run resolves one round and debits the winning bid. Bids missing from the
// map count as zero, and participants with no credits cannot win. The debit
// is clamped to the winner's remaining balance.
func (a *Auction) Run(bids Bids, lastSpeaker string) (Round, error) {
	order := a.pool.IDs()

	normalized := make(Bids, len(order))
	for _, id := range order {
		b := bids[id]
		if b < 0 || a.pool.Remaining(id) == 0 {
			b = 0
		}
		normalized[id] = b
	}

	round, err := Resolve(order, normalized, lastSpeaker)
	if err != nil {
		a.logger.Info("round has no viable bid",
			zap.String("event_type", "no_viable_bid"),
			zap.String("last_speaker", lastSpeaker),
			zap.Any("bids", normalized))
		return round, err
	}

	debit := min(round.WinningBid, a.pool.Remaining(round.Winner))
	if debit != round.WinningBid {
		a.logger.Warn("winning bid exceeds remaining credits, clamping debit",
			zap.String("winner", round.Winner),
			zap.Int("bid", round.WinningBid),
			zap.Int("debit", debit))
	}
	if err := a.pool.Debit(round.Winner, debit); err != nil {
		return round, fmt.Errorf("failed to debit winner: %w", err)
	}

	a.logger.Info("round granted",
		zap.String("event_type", "round_granted"),
		zap.String("winner", round.Winner),
		zap.Int("winning_bid", round.WinningBid),
		zap.Int("credits_left", a.pool.Remaining(round.Winner)))

	return round, nil
}
