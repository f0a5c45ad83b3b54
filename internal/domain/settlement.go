package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PriceScale is the fixed-point scale of clearing prices: a price of
// 1 * PriceScale means one token atom is worth one reference unit.
// Normalized amounts are amount * price / PriceScale.
var PriceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Trade is one order execution inside a settlement.
type Trade struct {
	OrderUID     common.Hash
	SellToken    common.Address
	BuyToken     common.Address
	ExecutedSell *big.Int // amount taken from the order's sell side
	ExecutedBuy  *big.Int // amount credited to the owner
}

// Interaction is a call into a liquidity source that sources the other
// side of trades. Input is what the settlement pays into the source,
// Output what it receives back; both feed the conservation check.
type Interaction struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte

	InputToken   common.Address
	InputAmount  *big.Int
	OutputToken  common.Address
	OutputAmount *big.Int
}

// Settlement is a candidate or final execution plan for one auction:
// uniform clearing prices per token, the trades executed at those prices
// and the interactions that source liquidity for them.
type Settlement struct {
	AuctionID uint64
	Strategy  string

	ClearingPrices map[common.Address]*big.Int
	Trades         []Trade
	Interactions   []Interaction

	// Surplus is the total value extracted beyond the orders' limit
	// prices, normalized with ClearingPrices into reference units.
	Surplus *big.Int
	// GasEstimate is the strategy's rough estimate until simulation
	// replaces it with a measured value.
	GasEstimate uint64
}

// NormalizedValue converts an amount of token into reference units using
// the settlement's clearing price vector. Returns nil if the token has
// no price.
func (s *Settlement) NormalizedValue(token common.Address, amount *big.Int) *big.Int {
	price, ok := s.ClearingPrices[token]
	if !ok {
		return nil
	}
	v := new(big.Int).Mul(amount, price)
	return v.Div(v, PriceScale)
}

// ComputeSurplus recomputes total surplus from trades and orders: for each
// trade the buy amount above the order's limit, normalized into reference
// units. Orders are looked up in the given auction.
func (s *Settlement) ComputeSurplus(auction *Auction) *big.Int {
	total := new(big.Int)
	for _, t := range s.Trades {
		order := auction.OrderByUID(t.OrderUID)
		if order == nil {
			continue
		}
		limit := order.LimitBuyFor(t.ExecutedSell)
		extra := new(big.Int).Sub(t.ExecutedBuy, limit)
		if extra.Sign() <= 0 {
			continue
		}
		if v := s.NormalizedValue(t.BuyToken, extra); v != nil {
			total.Add(total, v)
		}
	}
	return total
}

// TokenFlows returns the per-token net flow of the settlement: inflows
// (order sells, interaction outputs) minus outflows (order buys,
// interaction inputs). A balanced settlement has every entry at zero.
func (s *Settlement) TokenFlows() map[common.Address]*big.Int {
	flow := make(map[common.Address]*big.Int)
	add := func(token common.Address, amount *big.Int, negate bool) {
		if amount == nil {
			return
		}
		cur, ok := flow[token]
		if !ok {
			cur = new(big.Int)
			flow[token] = cur
		}
		if negate {
			cur.Sub(cur, amount)
		} else {
			cur.Add(cur, amount)
		}
	}
	for _, t := range s.Trades {
		add(t.SellToken, t.ExecutedSell, false)
		add(t.BuyToken, t.ExecutedBuy, true)
	}
	for _, i := range s.Interactions {
		add(i.OutputToken, i.OutputAmount, false)
		add(i.InputToken, i.InputAmount, true)
	}
	return flow
}

// SettlementRecord is the durable trace of a settled auction, kept for
// the external read API (settlement-by-auction).
type SettlementRecord struct {
	AuctionID uint64
	Strategy  string
	TxHash    common.Hash
	Surplus   *big.Int
	GasUsed   uint64
	Trades    []Trade
}

// Clone returns a deep copy of the record.
func (r *SettlementRecord) Clone() *SettlementRecord {
	c := *r
	if r.Surplus != nil {
		c.Surplus = new(big.Int).Set(r.Surplus)
	}
	c.Trades = make([]Trade, len(r.Trades))
	for i, t := range r.Trades {
		c.Trades[i] = t
		if t.ExecutedSell != nil {
			c.Trades[i].ExecutedSell = new(big.Int).Set(t.ExecutedSell)
		}
		if t.ExecutedBuy != nil {
			c.Trades[i].ExecutedBuy = new(big.Int).Set(t.ExecutedBuy)
		}
	}
	return &c
}
