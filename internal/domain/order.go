// Package domain contains the core types of the settlement pipeline:
// orders, auctions, settlements and submission attempts.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Order is a signed off-chain limit order. The immutable fields are fixed
// by the owner's signature; RemainingSell and Cancelled are the only
// mutable fields and change monotonically (remaining only decreases,
// cancelled only flips to true).
type Order struct {
	UID   common.Hash // content-addressed from the signed fields + owner
	Owner common.Address

	SellToken  common.Address
	BuyToken   common.Address
	SellAmount *big.Int // total sell amount the order was signed for
	BuyAmount  *big.Int // minimum buy amount for the full sell amount (limit price)

	ValidFrom         int64 // unix seconds, inclusive
	ValidTo           int64 // unix seconds, inclusive
	PartiallyFillable bool
	Signature         []byte // 65-byte recoverable secp256k1 signature

	RemainingSell *big.Int // invariant: 0 <= RemainingSell <= SellAmount
	Cancelled     bool

	CreatedAt time.Time
}

// ValidAt reports whether the order's validity window covers t.
func (o *Order) ValidAt(t time.Time) bool {
	now := t.Unix()
	return o.ValidFrom <= now && now <= o.ValidTo
}

// Fillable reports whether the order can still participate in an auction
// at time t.
func (o *Order) Fillable(t time.Time) bool {
	return !o.Cancelled && o.RemainingSell.Sign() > 0 && o.ValidAt(t)
}

// LimitSatisfied reports whether executing executedSell for executedBuy
// gives the owner a rate at least as good as the signed limit price:
//
//	executedBuy / executedSell >= BuyAmount / SellAmount
//
// evaluated in integer cross-multiplied form to avoid rounding.
func (o *Order) LimitSatisfied(executedSell, executedBuy *big.Int) bool {
	if executedSell.Sign() == 0 {
		return executedBuy.Sign() >= 0
	}
	lhs := new(big.Int).Mul(executedBuy, o.SellAmount)
	rhs := new(big.Int).Mul(o.BuyAmount, executedSell)
	return lhs.Cmp(rhs) >= 0
}

// LimitBuyFor returns the minimum buy amount the limit price demands for
// executing executedSell, rounded up.
func (o *Order) LimitBuyFor(executedSell *big.Int) *big.Int {
	num := new(big.Int).Mul(o.BuyAmount, executedSell)
	den := o.SellAmount
	// ceil division
	out := new(big.Int).Div(num, den)
	if new(big.Int).Mod(num, den).Sign() != 0 {
		out.Add(out, big.NewInt(1))
	}
	return out
}

// Clone returns a deep copy so snapshots cannot observe later mutations.
func (o *Order) Clone() *Order {
	c := *o
	c.SellAmount = new(big.Int).Set(o.SellAmount)
	c.BuyAmount = new(big.Int).Set(o.BuyAmount)
	c.RemainingSell = new(big.Int).Set(o.RemainingSell)
	c.Signature = append([]byte(nil), o.Signature...)
	return &c
}
