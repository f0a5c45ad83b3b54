package solver

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// Strategy type identifiers accepted in configuration.
const (
	TypeBaseline         = "baseline"
	TypeSingleRouting    = "single-routing"
	TypeMultiHop         = "multi-hop"
	TypePairwiseMatching = "pairwise-matching"
)

// Factory errors
var (
	ErrUnknownStrategyType       = errors.New("unknown strategy type")
	ErrMissingIntermediateTokens = errors.New("multi-hop requires intermediate tokens")
)

// Config selects and parameterizes one strategy. The order of configs is
// the competition's priority ranking for tie-breaks.
type Config struct {
	Type               string
	IntermediateTokens []common.Address
}

// FromConfig creates a Strategy from a Config. Validates required
// parameters per strategy type.
func FromConfig(cfg Config) (Strategy, error) {
	switch cfg.Type {
	case TypeBaseline:
		return NewBaseline(), nil
	case TypeSingleRouting:
		return NewSingleRouting(), nil
	case TypeMultiHop:
		if len(cfg.IntermediateTokens) == 0 {
			return nil, ErrMissingIntermediateTokens
		}
		return NewMultiHop(cfg.IntermediateTokens), nil
	case TypePairwiseMatching:
		return NewPairwiseMatching(), nil
	default:
		return nil, ErrUnknownStrategyType
	}
}

// FromConfigs creates all configured strategies in priority order.
func FromConfigs(cfgs []Config) ([]Strategy, error) {
	strategies := make([]Strategy, 0, len(cfgs))
	for _, cfg := range cfgs {
		s, err := FromConfig(cfg)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s)
	}
	return strategies, nil
}
