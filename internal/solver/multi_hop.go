package solver

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"batch-settler/internal/domain"
	"batch-settler/internal/liquidity"
)

// MultiHop routes orders through configured intermediate tokens when no
// direct pool serves the pair, or when a two-hop route pays better than
// the direct one.
type MultiHop struct {
	intermediates []common.Address
}

// NewMultiHop creates the multi-hop routing strategy.
func NewMultiHop(intermediates []common.Address) *MultiHop {
	return &MultiHop{intermediates: intermediates}
}

// Name identifies the strategy.
func (m *MultiHop) Name() string { return "multi-hop" }

// Solve picks the best settlement over direct and two-hop routes.
func (m *MultiHop) Solve(ctx context.Context, auction *domain.Auction, sources []liquidity.Source) (*domain.Settlement, error) {
	var (
		best        *domain.Settlement
		bestSurplus *big.Int
	)

	consider := func(candidate *domain.Settlement) {
		if candidate == nil || candidate.Surplus.Sign() <= 0 {
			return
		}
		if best == nil || candidate.Surplus.Cmp(bestSurplus) > 0 {
			best = candidate
			bestSurplus = candidate.Surplus
		}
	}

	for _, order := range auction.Orders {
		if ctx.Err() != nil {
			return best, nil
		}

		amount := executableAmount(order)

		if direct := bestQuote(ctx, sources, order.SellToken, order.BuyToken, amount); direct != nil {
			if order.LimitSatisfied(amount, direct.BuyAmount) {
				consider(singleOrderSettlement(m.Name(), auction, order, amount, direct.BuyAmount,
					[]domain.Interaction{direct.Interaction}))
			}
		}

		for _, mid := range m.intermediates {
			if mid == order.SellToken || mid == order.BuyToken {
				continue
			}
			if ctx.Err() != nil {
				return best, nil
			}

			first := bestQuote(ctx, sources, order.SellToken, mid, amount)
			if first == nil {
				continue
			}
			second := bestQuote(ctx, sources, mid, order.BuyToken, first.BuyAmount)
			if second == nil {
				continue
			}
			if !order.LimitSatisfied(amount, second.BuyAmount) {
				continue
			}

			consider(singleOrderSettlement(m.Name(), auction, order, amount, second.BuyAmount,
				[]domain.Interaction{first.Interaction, second.Interaction}))
		}
	}

	return best, nil
}

var _ Strategy = (*MultiHop)(nil)
