// Package solver contains the competing settlement strategies.
package solver

import (
	"context"

	"batch-settler/internal/domain"
	"batch-settler/internal/liquidity"
)

// Strategy produces at most one candidate settlement for an auction.
//
// A strategy must return (nil, nil) rather than an infeasible or
// zero-surplus settlement, and must respect ctx: when the round deadline
// expires it abandons and returns rather than blocking the round. It only
// sees the auction snapshot and the liquidity sources; it never touches
// the order store.
type Strategy interface {
	// Name identifies the strategy in diagnostics and rankings.
	Name() string

	// Solve searches for a settlement of the auction's orders against
	// the given liquidity sources.
	Solve(ctx context.Context, auction *domain.Auction, sources []liquidity.Source) (*domain.Settlement, error)
}

// Rough gas accounting used until simulation measures the real cost.
const (
	gasBase           = 100_000
	gasPerTrade       = 60_000
	gasPerInteraction = 80_000
)

// estimateGas returns the rough gas estimate for a settlement shape.
func estimateGas(trades, interactions int) uint64 {
	return gasBase + uint64(trades)*gasPerTrade + uint64(interactions)*gasPerInteraction
}
