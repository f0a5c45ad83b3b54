package solver

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"batch-settler/internal/domain"
	"batch-settler/internal/liquidity"
)

// bestQuote asks every source for a price and returns the one with the
// highest buy amount. Quote failures mean "route unavailable" and are
// skipped; returns nil if no source can serve the pair.
func bestQuote(ctx context.Context, sources []liquidity.Source, sellToken, buyToken common.Address, sellAmount *big.Int) *liquidity.Quote {
	var best *liquidity.Quote
	for _, src := range sources {
		if ctx.Err() != nil {
			return best
		}
		q, err := src.Quote(ctx, sellToken, buyToken, sellAmount)
		if err != nil {
			continue
		}
		if best == nil || q.BuyAmount.Cmp(best.BuyAmount) > 0 {
			best = q
		}
	}
	return best
}

// singleOrderSettlement builds a settlement that fills one order against
// one or more chained interactions. The clearing price vector is anchored
// at the order's buy token, so the normalized surplus is denominated in
// buy-token atoms.
func singleOrderSettlement(strategy string, auction *domain.Auction, order *domain.Order, executedSell, executedBuy *big.Int, interactions []domain.Interaction) *domain.Settlement {
	prices := map[common.Address]*big.Int{
		order.BuyToken: new(big.Int).Set(domain.PriceScale),
	}
	// P[sell] / P[buy] = executedBuy / executedSell
	sellPrice := new(big.Int).Mul(executedBuy, domain.PriceScale)
	sellPrice.Div(sellPrice, executedSell)
	prices[order.SellToken] = sellPrice

	// Intermediate hop tokens get prices too, derived from the hop
	// amounts, so the vector covers every token the settlement touches.
	for _, i := range interactions {
		if _, ok := prices[i.OutputToken]; ok {
			continue
		}
		if i.OutputAmount.Sign() == 0 {
			continue
		}
		p := new(big.Int).Mul(executedBuy, domain.PriceScale)
		p.Div(p, i.OutputAmount)
		prices[i.OutputToken] = p
	}

	s := &domain.Settlement{
		AuctionID:      auction.ID,
		Strategy:       strategy,
		ClearingPrices: prices,
		Trades: []domain.Trade{{
			OrderUID:     order.UID,
			SellToken:    order.SellToken,
			BuyToken:     order.BuyToken,
			ExecutedSell: new(big.Int).Set(executedSell),
			ExecutedBuy:  new(big.Int).Set(executedBuy),
		}},
		Interactions: interactions,
		GasEstimate:  estimateGas(1, len(interactions)),
	}
	s.Surplus = s.ComputeSurplus(auction)
	return s
}

// executableAmount is how much of the order's sell side a strategy fills:
// the full remaining amount. Non-partially-fillable orders always have
// remaining equal to their signed amount, since partial fills are never
// applied to them.
func executableAmount(order *domain.Order) *big.Int {
	return new(big.Int).Set(order.RemainingSell)
}
