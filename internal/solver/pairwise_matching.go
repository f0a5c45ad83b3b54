package solver

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"batch-settler/internal/domain"
	"batch-settler/internal/liquidity"
)

// PairwiseMatching settles two opposing orders directly against each
// other at a uniform clearing price inside their limit overlap. No
// liquidity interactions are needed; value conservation is exact.
type PairwiseMatching struct{}

// NewPairwiseMatching creates the pairwise order-matching strategy.
func NewPairwiseMatching() *PairwiseMatching { return &PairwiseMatching{} }

// Name identifies the strategy.
func (p *PairwiseMatching) Name() string { return "pairwise-matching" }

// Solve scans order pairs on opposite sides of the same token pair and
// settles the crossing pair with the highest surplus.
func (p *PairwiseMatching) Solve(ctx context.Context, auction *domain.Auction, _ []liquidity.Source) (*domain.Settlement, error) {
	var (
		best        *domain.Settlement
		bestSurplus *big.Int
	)

	for i, x := range auction.Orders {
		for _, y := range auction.Orders[i+1:] {
			if ctx.Err() != nil {
				return best, nil
			}
			if x.SellToken != y.BuyToken || x.BuyToken != y.SellToken {
				continue
			}

			candidate := p.match(auction, x, y)
			if candidate == nil || candidate.Surplus.Sign() <= 0 {
				continue
			}
			if best == nil || candidate.Surplus.Cmp(bestSurplus) > 0 {
				best = candidate
				bestSurplus = candidate.Surplus
			}
		}
	}

	return best, nil
}

// match settles x (sells A for B) against y (sells B for A) if their
// limit prices cross. Returns nil when they do not, when fill flags
// cannot be honored, or when rounding breaks a limit.
func (p *PairwiseMatching) match(auction *domain.Auction, x, y *domain.Order) *domain.Settlement {
	// Crossing condition in B-per-A terms:
	//   x demands  execB/execA >= x.Buy/x.Sell
	//   y tolerates execB/execA <= y.Sell/y.Buy
	lhs := new(big.Int).Mul(x.BuyAmount, y.BuyAmount)
	rhs := new(big.Int).Mul(x.SellAmount, y.SellAmount)
	if lhs.Cmp(rhs) > 0 {
		return nil
	}

	// Clearing price = midpoint of the overlap, as a rational:
	//   p = (x.Buy/x.Sell + y.Sell/y.Buy) / 2
	pNum := new(big.Int).Mul(x.BuyAmount, y.BuyAmount)
	pNum.Add(pNum, new(big.Int).Mul(y.SellAmount, x.SellAmount))
	pDen := new(big.Int).Mul(x.SellAmount, y.BuyAmount)
	pDen.Mul(pDen, big.NewInt(2))

	xRem := executableAmount(x)
	yRem := executableAmount(y)

	// Largest A amount both sides can carry at price p.
	yMaxA := new(big.Int).Mul(yRem, pDen)
	yMaxA.Div(yMaxA, pNum)
	execA := new(big.Int).Set(xRem)
	if yMaxA.Cmp(execA) < 0 {
		execA = yMaxA
	}
	if execA.Sign() <= 0 {
		return nil
	}

	execB := new(big.Int).Mul(execA, pNum)
	execB.Div(execB, pDen)
	if execB.Sign() <= 0 || execB.Cmp(yRem) > 0 {
		return nil
	}

	// Full-fill orders must be executed completely.
	if !x.PartiallyFillable && execA.Cmp(xRem) != 0 {
		return nil
	}
	if !y.PartiallyFillable && execB.Cmp(yRem) != 0 {
		return nil
	}

	// Rounding must not push either side below its limit.
	if !x.LimitSatisfied(execA, execB) || !y.LimitSatisfied(execB, execA) {
		return nil
	}

	tokenA, tokenB := x.SellToken, x.BuyToken
	prices := map[common.Address]*big.Int{
		tokenB: new(big.Int).Set(domain.PriceScale),
	}
	priceA := new(big.Int).Mul(execB, domain.PriceScale)
	priceA.Div(priceA, execA)
	prices[tokenA] = priceA

	s := &domain.Settlement{
		AuctionID:      auction.ID,
		Strategy:       p.Name(),
		ClearingPrices: prices,
		Trades: []domain.Trade{
			{
				OrderUID:     x.UID,
				SellToken:    tokenA,
				BuyToken:     tokenB,
				ExecutedSell: execA,
				ExecutedBuy:  execB,
			},
			{
				OrderUID:     y.UID,
				SellToken:    tokenB,
				BuyToken:     tokenA,
				ExecutedSell: new(big.Int).Set(execB),
				ExecutedBuy:  new(big.Int).Set(execA),
			},
		},
		GasEstimate: estimateGas(2, 0),
	}
	s.Surplus = s.ComputeSurplus(auction)
	return s
}

var _ Strategy = (*PairwiseMatching)(nil)
