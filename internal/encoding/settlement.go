// Package encoding turns a settlement into calldata for the settlement
// contract's settle method.
package encoding

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"batch-settler/internal/domain"
)

// settleABI describes the single method we encode:
//
//	settle(tokens, clearingPrices, trades, interactions)
//
// Prices are positional against the token list; trades reference tokens
// by index, mirroring the on-chain contract's layout.
const settleABI = `[{
	"name": "settle",
	"type": "function",
	"inputs": [
		{"name": "tokens", "type": "address[]"},
		{"name": "clearingPrices", "type": "uint256[]"},
		{"name": "trades", "type": "tuple[]", "components": [
			{"name": "orderUid", "type": "bytes32"},
			{"name": "sellTokenIndex", "type": "uint256"},
			{"name": "buyTokenIndex", "type": "uint256"},
			{"name": "executedSellAmount", "type": "uint256"},
			{"name": "executedBuyAmount", "type": "uint256"}
		]},
		{"name": "interactions", "type": "tuple[]", "components": [
			{"name": "target", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "callData", "type": "bytes"}
		]}
	]
}]`

// abiTrade mirrors the trade tuple for abi packing.
type abiTrade struct {
	OrderUid           [32]byte
	SellTokenIndex     *big.Int
	BuyTokenIndex      *big.Int
	ExecutedSellAmount *big.Int
	ExecutedBuyAmount  *big.Int
}

// abiInteraction mirrors the interaction tuple for abi packing.
type abiInteraction struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// Encoder packs settlements for one settlement contract.
type Encoder struct {
	contract common.Address
	abi      abi.ABI
}

// NewEncoder creates an encoder for the given settlement contract.
func NewEncoder(contract common.Address) (*Encoder, error) {
	parsed, err := abi.JSON(strings.NewReader(settleABI))
	if err != nil {
		return nil, fmt.Errorf("parse settle abi: %w", err)
	}
	return &Encoder{contract: contract, abi: parsed}, nil
}

// Contract returns the settlement contract address the calldata targets.
func (e *Encoder) Contract() common.Address { return e.contract }

// Encode packs the settlement into settle calldata. The token list is
// sorted by address so equal settlements encode identically.
func (e *Encoder) Encode(s *domain.Settlement) ([]byte, error) {
	tokens := make([]common.Address, 0, len(s.ClearingPrices))
	for token := range s.ClearingPrices {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].Hex() < tokens[j].Hex()
	})

	index := make(map[common.Address]int, len(tokens))
	prices := make([]*big.Int, len(tokens))
	for i, token := range tokens {
		index[token] = i
		prices[i] = s.ClearingPrices[token]
	}

	trades := make([]abiTrade, len(s.Trades))
	for i, t := range s.Trades {
		sellIdx, ok := index[t.SellToken]
		if !ok {
			return nil, fmt.Errorf("trade %s: sell token %s has no clearing price", t.OrderUID, t.SellToken)
		}
		buyIdx, ok := index[t.BuyToken]
		if !ok {
			return nil, fmt.Errorf("trade %s: buy token %s has no clearing price", t.OrderUID, t.BuyToken)
		}
		trades[i] = abiTrade{
			OrderUid:           t.OrderUID,
			SellTokenIndex:     big.NewInt(int64(sellIdx)),
			BuyTokenIndex:      big.NewInt(int64(buyIdx)),
			ExecutedSellAmount: t.ExecutedSell,
			ExecutedBuyAmount:  t.ExecutedBuy,
		}
	}

	interactions := make([]abiInteraction, len(s.Interactions))
	for i, in := range s.Interactions {
		value := in.Value
		if value == nil {
			value = new(big.Int)
		}
		interactions[i] = abiInteraction{
			Target:   in.Target,
			Value:    value,
			CallData: in.CallData,
		}
	}

	data, err := e.abi.Pack("settle", tokens, prices, trades, interactions)
	if err != nil {
		return nil, fmt.Errorf("pack settle calldata: %w", err)
	}
	return data, nil
}
