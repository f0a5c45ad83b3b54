package competition

import (
	"errors"
	"sort"

	"batch-settler/internal/domain"
)

// Tie-break keys for equal-surplus candidates.
const (
	TieBreakGas      = "gas"      // lower estimated gas first
	TieBreakPriority = "priority" // configured strategy order first
)

// ErrUnknownTieBreak is returned for an unrecognized tie-break key.
var ErrUnknownTieBreak = errors.New("unknown tie-break key")

// RankingPolicy orders candidates: always by surplus descending, then by
// the configured tie-break keys in order. The original ranking rule is
// policy, not economics, so it is configurable rather than hardcoded.
type RankingPolicy struct {
	tieBreaks []string
}

// NewRankingPolicy validates the tie-break keys. An empty list falls back
// to the default gas-then-priority order.
func NewRankingPolicy(tieBreaks []string) (*RankingPolicy, error) {
	if len(tieBreaks) == 0 {
		tieBreaks = []string{TieBreakGas, TieBreakPriority}
	}
	for _, key := range tieBreaks {
		if key != TieBreakGas && key != TieBreakPriority {
			return nil, ErrUnknownTieBreak
		}
	}
	return &RankingPolicy{tieBreaks: tieBreaks}, nil
}

// candidate pairs a settlement with the priority index of the strategy
// that produced it.
type candidate struct {
	settlement *domain.Settlement
	priority   int
}

// rank sorts candidates best-first. The sort is stable so candidates that
// compare equal on every key keep their collection order, which makes the
// final priority tie-break deterministic.
func (p *RankingPolicy) rank(candidates []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if c := a.settlement.Surplus.Cmp(b.settlement.Surplus); c != 0 {
			return c > 0
		}
		for _, key := range p.tieBreaks {
			switch key {
			case TieBreakGas:
				if a.settlement.GasEstimate != b.settlement.GasEstimate {
					return a.settlement.GasEstimate < b.settlement.GasEstimate
				}
			case TieBreakPriority:
				if a.priority != b.priority {
					return a.priority < b.priority
				}
			}
		}
		return false
	})
}
