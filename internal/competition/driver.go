// Package competition runs the configured strategies concurrently over a
// frozen auction and selects the best valid settlement.
package competition

import (
	"context"
	"time"

	"go.uber.org/zap"

	"batch-settler/internal/domain"
	"batch-settler/internal/liquidity"
	"batch-settler/internal/solver"
	"batch-settler/internal/validation"
)

// Simulator dry-runs the top-ranked candidate and measures gas.
type Simulator interface {
	Simulate(ctx context.Context, settlement *domain.Settlement) (uint64, error)
}

// DefaultDeadline is the shared per-round solving budget.
const DefaultDeadline = 15 * time.Second

// Driver owns one solving round at a time: fan-out to all strategies with
// a shared deadline, validation filter, ranking, then simulation with
// fallback down the ranking.
type Driver struct {
	strategies []solver.Strategy // index = configured priority
	live       []liquidity.Source
	validator  *validation.Validator
	simulator  Simulator
	policy     *RankingPolicy
	deadline   time.Duration
	logger     *zap.Logger
}

// DriverOption configures the Driver.
type DriverOption func(*Driver)

// WithDeadline overrides the per-round solving deadline.
func WithDeadline(d time.Duration) DriverOption {
	return func(dr *Driver) {
		dr.deadline = d
	}
}

// WithSimulator enables the final simulation check. Without it candidates
// win on validation alone (used by the round simulator binary).
func WithSimulator(s Simulator) DriverOption {
	return func(dr *Driver) {
		dr.simulator = s
	}
}

// NewDriver creates a competition driver. The strategy slice order is the
// priority ranking used for tie-breaks.
func NewDriver(
	strategies []solver.Strategy,
	live []liquidity.Source,
	validator *validation.Validator,
	policy *RankingPolicy,
	logger *zap.Logger,
	opts ...DriverOption,
) *Driver {
	d := &Driver{
		strategies: strategies,
		live:       live,
		validator:  validator,
		policy:     policy,
		deadline:   DefaultDeadline,
		logger:     logger.Named("competition"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// solveResult carries one strategy's outcome to the collector.
type solveResult struct {
	priority   int
	strategy   string
	settlement *domain.Settlement
	err        error
}

// RunRound runs the competition for one auction. Returns the winning
// settlement with its simulated gas estimate. If no strategy produced a
// valid, simulatable result it returns nil and the orders stay open for
// the next auction.
func (d *Driver) RunRound(ctx context.Context, auction *domain.Auction) (*domain.Settlement, error) {
	roundCtx, cancel := context.WithTimeout(ctx, d.deadline)
	defer cancel()

	sources := liquidity.RoundSources(auction, d.live)

	// Fan out. The channel is buffered so strategies finishing after
	// the deadline do not leak blocked goroutines.
	results := make(chan solveResult, len(d.strategies))
	for i, strat := range d.strategies {
		go func(priority int, strat solver.Strategy) {
			settlement, err := strat.Solve(roundCtx, auction, sources)
			results <- solveResult{
				priority:   priority,
				strategy:   strat.Name(),
				settlement: settlement,
				err:        err,
			}
		}(i, strat)
	}

	// Bounded-time join: collect until every strategy answered or the
	// deadline fired. Late strategies are abandoned, not awaited.
	var candidates []candidate
	pending := len(d.strategies)
collect:
	for pending > 0 {
		select {
		case res := <-results:
			pending--
			d.collectResult(auction, res, &candidates)
		case <-roundCtx.Done():
			d.logger.Warn("round deadline reached with strategies pending",
				zap.Uint64("auction_id", auction.ID),
				zap.Int("pending", pending),
			)
			break collect
		}
	}

	d.policy.rank(candidates)

	return d.pickWinner(ctx, auction, candidates)
}

// collectResult validates one strategy result and appends it to the
// candidate list. Strategy and validation failures are per-round
// diagnostics, never round failures.
func (d *Driver) collectResult(auction *domain.Auction, res solveResult, candidates *[]candidate) {
	if res.err != nil {
		d.logger.Warn("strategy failed",
			zap.Uint64("auction_id", auction.ID),
			zap.String("strategy", res.strategy),
			zap.Error(res.err),
		)
		return
	}
	if res.settlement == nil {
		return
	}
	if err := d.validator.Validate(res.settlement, auction); err != nil {
		d.logger.Warn("candidate rejected",
			zap.Uint64("auction_id", auction.ID),
			zap.String("strategy", res.strategy),
			zap.Error(err),
		)
		return
	}
	*candidates = append(*candidates, candidate{
		settlement: res.settlement,
		priority:   res.priority,
	})
}

// pickWinner simulates candidates best-first and returns the first that
// passes, falling back down the ranking on recoverable simulation errors.
func (d *Driver) pickWinner(ctx context.Context, auction *domain.Auction, candidates []candidate) (*domain.Settlement, error) {
	for _, c := range candidates {
		if d.simulator == nil {
			return c.settlement, nil
		}

		gas, err := d.simulator.Simulate(ctx, c.settlement)
		if err != nil {
			d.logger.Warn("simulation failed, falling back to next candidate",
				zap.Uint64("auction_id", auction.ID),
				zap.String("strategy", c.settlement.Strategy),
				zap.Error(err),
			)
			continue
		}
		c.settlement.GasEstimate = gas
		return c.settlement, nil
	}

	d.logger.Info("round produced no winner",
		zap.Uint64("auction_id", auction.ID),
		zap.Int("orders", len(auction.Orders)),
	)
	return nil, nil
}
