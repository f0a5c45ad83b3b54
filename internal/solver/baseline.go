package solver

import (
	"context"

	"batch-settler/internal/domain"
	"batch-settler/internal/liquidity"
)

// Baseline is the naive reference strategy: walk the auction's orders in
// snapshot sequence and settle the first one whose best quote beats its
// limit price. It exists as a competition floor and as a cheap fallback
// when the smarter strategies run out of time.
type Baseline struct{}

// NewBaseline creates the baseline strategy.
func NewBaseline() *Baseline { return &Baseline{} }

// Name identifies the strategy.
func (b *Baseline) Name() string { return "baseline" }

// Solve settles the first fillable order with positive surplus.
func (b *Baseline) Solve(ctx context.Context, auction *domain.Auction, sources []liquidity.Source) (*domain.Settlement, error) {
	for _, order := range auction.Orders {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		amount := executableAmount(order)
		quote := bestQuote(ctx, sources, order.SellToken, order.BuyToken, amount)
		if quote == nil {
			continue
		}
		if !order.LimitSatisfied(amount, quote.BuyAmount) {
			continue
		}

		s := singleOrderSettlement(b.Name(), auction, order, amount, quote.BuyAmount,
			[]domain.Interaction{quote.Interaction})
		if s.Surplus.Sign() <= 0 {
			continue
		}
		return s, nil
	}
	return nil, nil
}

var _ Strategy = (*Baseline)(nil)
