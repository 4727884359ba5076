// Package bidding collects one bid per participant for an auction round.
package bidding

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dyluth/agora/internal/auction"
	"github.com/dyluth/agora/internal/capability"
	"github.com/dyluth/agora/internal/metrics"
	"github.com/dyluth/agora/internal/persona"
)

// sourceExhausted labels bids forced to zero because the bidder has no credits.
const sourceExhausted = "exhausted"

// Collector asks every participant with credits left for a bid, using the
// primary scorer and falling back to the secondary one on failure.
type Collector struct {
	primary  capability.BidScorer
	fallback capability.BidScorer
	timeout  time.Duration
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithTimeout bounds each individual scorer call. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Collector) { c.timeout = d }
}

// WithMetrics records bid counts and amounts.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Collector) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCollector creates a collector. Either scorer may be nil; a participant
// whose scorers are all missing or failing bids 0.
func NewCollector(primary, fallback capability.BidScorer, opts ...Option) *Collector {
	c := &Collector{primary: primary, fallback: fallback, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "bidding"))
	return c
}

// Collect returns a bid for every participant. Scorer calls run concurrently
// and all of them finish before Collect returns. Participants without
// credits bid 0 and are never scored.
func (c *Collector) Collect(ctx context.Context, participants []persona.Participant, pool *auction.CreditPool) (auction.Bids, error) {
	snapshot := pool.Snapshot()
	amounts := make([]int, len(participants))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range participants {
		remaining := snapshot[p.ID]
		if remaining <= 0 {
			c.metrics.RecordBid(sourceExhausted, 0)
			continue
		}

		g.Go(func() error {
			amounts[i] = c.bid(gctx, p, snapshot, remaining)
			return nil
		})
	}
	// Scorer failures become zero bids, so the group never fails on its own.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bids := make(auction.Bids, len(participants))
	for i, p := range participants {
		bids[p.ID] = amounts[i]
	}
	return bids, nil
}

func (c *Collector) bid(ctx context.Context, p persona.Participant, snapshot map[string]int, remaining int) int {
	out := capability.ScoreWithFallback(ctx, c.primary, c.fallback, p, snapshot, c.timeout)
	if !out.Ok() {
		c.logger.Warn("bid scoring failed, bidding 0",
			zap.String("event_type", "bid_failed"),
			zap.String("participant", p.ID),
			zap.Error(out.Err))
		c.metrics.RecordBid(string(out.Source), 0)
		return 0
	}

	amount := Amount(out.Value, remaining)
	c.logger.Debug("bid collected",
		zap.String("participant", p.ID),
		zap.String("source", string(out.Source)),
		zap.Float64("score", out.Value),
		zap.Int("amount", amount),
		zap.Int("credits_left", remaining))
	c.metrics.RecordBid(string(out.Source), amount)
	return amount
}

// Amount converts a percentage score into credits: floor(score/100 *
// remaining), clamped to [0, remaining].
func Amount(score float64, remaining int) int {
	if remaining <= 0 || math.IsNaN(score) || score <= 0 {
		return 0
	}
	amount := int(math.Floor(score / 100 * float64(remaining)))
	return max(0, min(amount, remaining))
}
