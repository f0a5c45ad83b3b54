package solver

import (
	"context"
	"math/big"

	"batch-settler/internal/domain"
	"batch-settler/internal/liquidity"
)

// SingleRouting quotes every order against every source and settles the
// one order with the highest surplus. Unlike Baseline it scans the whole
// auction before committing.
type SingleRouting struct{}

// NewSingleRouting creates the single-AMM-routing strategy.
func NewSingleRouting() *SingleRouting { return &SingleRouting{} }

// Name identifies the strategy.
func (s *SingleRouting) Name() string { return "single-routing" }

// Solve picks the best single-order settlement across all orders and
// sources. Quote failures are per-route diagnostics, not round failures.
func (s *SingleRouting) Solve(ctx context.Context, auction *domain.Auction, sources []liquidity.Source) (*domain.Settlement, error) {
	var (
		best        *domain.Settlement
		bestSurplus *big.Int
	)

	for _, order := range auction.Orders {
		if ctx.Err() != nil {
			// Out of time: return the best found so far rather than
			// blocking the round.
			return best, nil
		}

		amount := executableAmount(order)
		quote := bestQuote(ctx, sources, order.SellToken, order.BuyToken, amount)
		if quote == nil {
			continue
		}
		if !order.LimitSatisfied(amount, quote.BuyAmount) {
			continue
		}

		candidate := singleOrderSettlement(s.Name(), auction, order, amount, quote.BuyAmount,
			[]domain.Interaction{quote.Interaction})
		if candidate.Surplus.Sign() <= 0 {
			continue
		}
		if best == nil || candidate.Surplus.Cmp(bestSurplus) > 0 {
			best = candidate
			bestSurplus = candidate.Surplus
		}
	}

	return best, nil
}

var _ Strategy = (*SingleRouting)(nil)
