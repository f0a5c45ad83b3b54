// Package simulation dry-runs candidate settlements against current
// chain state before they may be submitted.
package simulation

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"batch-settler/internal/chain"
	"batch-settler/internal/domain"
	"batch-settler/internal/encoding"
)

// SimulationError is a recoverable failure: liquidity may have shifted
// since the auction snapshot, so the driver falls back to the next-ranked
// candidate instead of failing the round.
type SimulationError struct {
	AuctionID uint64
	Strategy  string
	Err       error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulate settlement (auction %d, strategy %s): %v", e.AuctionID, e.Strategy, e.Err)
}

func (e *SimulationError) Unwrap() error { return e.Err }

// DefaultCallTimeout bounds one simulation round trip.
const DefaultCallTimeout = 10 * time.Second

// Simulator replays encoded settlements via a node call without
// committing, confirming the interactions still succeed and measuring gas.
type Simulator struct {
	node    chain.Node
	encoder *encoding.Encoder
	from    common.Address
	timeout time.Duration
	logger  *zap.Logger
}

// SimulatorOption configures the Simulator.
type SimulatorOption func(*Simulator)

// WithCallTimeout overrides the per-call timeout.
func WithCallTimeout(d time.Duration) SimulatorOption {
	return func(s *Simulator) {
		s.timeout = d
	}
}

// NewSimulator creates a simulator submitting calls from the given
// settler address.
func NewSimulator(node chain.Node, encoder *encoding.Encoder, from common.Address, logger *zap.Logger, opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		node:    node,
		encoder: encoder,
		from:    from,
		timeout: DefaultCallTimeout,
		logger:  logger.Named("simulation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Simulate executes the settlement against current chain state without
// committing. Returns the measured gas estimate on success.
func (s *Simulator) Simulate(ctx context.Context, settlement *domain.Settlement) (uint64, error) {
	data, err := s.encoder.Encode(settlement)
	if err != nil {
		// An unencodable settlement is malformed, not stale; still
		// recoverable for the round via fallback.
		return 0, &SimulationError{AuctionID: settlement.AuctionID, Strategy: settlement.Strategy, Err: err}
	}

	contract := s.encoder.Contract()
	msg := ethereum.CallMsg{
		From: s.from,
		To:   &contract,
		Data: data,
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.node.CallContract(callCtx, msg, nil); err != nil {
		return 0, &SimulationError{AuctionID: settlement.AuctionID, Strategy: settlement.Strategy, Err: err}
	}

	gas, err := s.node.EstimateGas(callCtx, msg)
	if err != nil {
		return 0, &SimulationError{AuctionID: settlement.AuctionID, Strategy: settlement.Strategy, Err: err}
	}

	s.logger.Debug("simulated settlement",
		zap.Uint64("auction_id", settlement.AuctionID),
		zap.String("strategy", settlement.Strategy),
		zap.Uint64("gas", gas),
	)

	return gas, nil
}
