package liquidity

import (
	"fmt"

	"batch-settler/internal/domain"
)

// RoundSources builds the sources a solving round quotes against: one
// frozen constant-product source per pool captured in the auction, plus
// the live sources that have no capturable state (remote quoters).
// Strategies of the same round all price against identical pool state.
func RoundSources(auction *domain.Auction, live []Source) []Source {
	var sources []Source
	for _, state := range auction.Liquidity {
		for i, pool := range state.Pools {
			name := state.Source
			if len(state.Pools) > 1 {
				name = fmt.Sprintf("%s-%d", state.Source, i)
			}
			sources = append(sources, NewConstantProduct(name, pool))
		}
	}
	for _, src := range live {
		if _, ok := src.(Snapshotter); ok {
			continue // already represented by its frozen pools
		}
		sources = append(sources, src)
	}
	return sources
}
