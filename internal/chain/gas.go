package chain

import (
	"context"
	"math/big"
)

// GasOracle provides an advisory current gas price. Consumers must keep
// working when it returns a stale or default value.
type GasOracle interface {
	CurrentGasPrice(ctx context.Context) (*big.Int, error)
}

// NodeGasOracle asks the node for a suggested gas price and falls back to
// a default when the node cannot answer.
type NodeGasOracle struct {
	node     Node
	fallback *big.Int
}

// NewNodeGasOracle creates a node-backed gas oracle. fallback must be
// non-nil.
func NewNodeGasOracle(node Node, fallback *big.Int) *NodeGasOracle {
	return &NodeGasOracle{node: node, fallback: fallback}
}

// CurrentGasPrice returns the node's suggestion, or the fallback on error.
// It never fails: the price is advisory only.
func (o *NodeGasOracle) CurrentGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := o.node.SuggestGasPrice(ctx)
	if err != nil || price == nil || price.Sign() <= 0 {
		return new(big.Int).Set(o.fallback), nil
	}
	return price, nil
}

// FixedGasOracle always returns the same price. Used in tests and as the
// degraded-mode oracle.
type FixedGasOracle struct {
	price *big.Int
}

// NewFixedGasOracle creates a fixed-price oracle.
func NewFixedGasOracle(price *big.Int) *FixedGasOracle {
	return &FixedGasOracle{price: price}
}

// CurrentGasPrice returns the fixed price.
func (o *FixedGasOracle) CurrentGasPrice(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(o.price), nil
}

var (
	_ GasOracle = (*NodeGasOracle)(nil)
	_ GasOracle = (*FixedGasOracle)(nil)
)
