package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolState is the frozen state of one constant-product pool at snapshot
// time. Reserves are ordered by the token fields, not canonically.
type PoolState struct {
	Address  common.Address
	TokenA   common.Address
	TokenB   common.Address
	ReserveA *big.Int
	ReserveB *big.Int
	// Fee as a ratio, e.g. 3/1000 for a 0.3% pool.
	FeeNumerator   uint32
	FeeDenominator uint32
}

// LiquidityState captures one liquidity source's state at snapshot time.
// Remote quoting sources have no capturable state and appear with an
// empty pool list; they are re-queried live during solving.
type LiquidityState struct {
	Source string
	Pools  []PoolState
}

// Auction is an immutable snapshot of open orders and liquidity state
// handed to one solving round. It is never mutated after construction;
// orders are deep copies of the store's rows.
type Auction struct {
	ID        uint64
	Timestamp time.Time
	Orders    []*Order
	Liquidity []LiquidityState
}

// OrderByUID returns the auction order with the given UID, or nil.
func (a *Auction) OrderByUID(uid common.Hash) *Order {
	for _, o := range a.Orders {
		if o.UID == uid {
			return o
		}
	}
	return nil
}
