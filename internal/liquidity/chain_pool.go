package liquidity

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"batch-settler/internal/domain"
)

// getReservesSelector is the 4-byte selector of getReserves().
var getReservesSelector = crypto.Keccak256([]byte("getReserves()"))[:4]

// ContractCaller is the read-only node capability the pool reader needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainPool reads a constant-product pool's reserves from chain at
// snapshot time. Quotes delegate to a ConstantProduct over a fresh read,
// but during a solving round the pool participates through the frozen
// auction snapshot instead.
type ChainPool struct {
	name   string
	caller ContractCaller
	state  domain.PoolState // reserves filled per snapshot
}

// NewChainPool creates a reader for the pool contract. The token pair and
// fee schedule are static configuration; only reserves are read live.
func NewChainPool(name string, caller ContractCaller, pool domain.PoolState) *ChainPool {
	return &ChainPool{name: name, caller: caller, state: pool}
}

// Name identifies the pool source.
func (p *ChainPool) Name() string { return p.name }

// Snapshot reads current reserves and freezes them into a pool state.
func (p *ChainPool) Snapshot(ctx context.Context) (domain.LiquidityState, error) {
	reserveA, reserveB, err := p.readReserves(ctx)
	if err != nil {
		return domain.LiquidityState{}, fmt.Errorf("snapshot pool %s: %w", p.name, err)
	}

	state := p.state
	state.ReserveA = reserveA
	state.ReserveB = reserveB
	return domain.LiquidityState{
		Source: p.name,
		Pools:  []domain.PoolState{state},
	}, nil
}

// Quote prices against a fresh reserve read. Used outside solving rounds,
// e.g. by admission-time sanity checks.
func (p *ChainPool) Quote(ctx context.Context, sellToken, buyToken common.Address, sellAmount *big.Int) (*Quote, error) {
	snap, err := p.Snapshot(ctx)
	if err != nil {
		return nil, &QuoteError{Source: p.name, Err: err}
	}
	return NewConstantProduct(p.name, snap.Pools[0]).Quote(ctx, sellToken, buyToken, sellAmount)
}

// readReserves calls getReserves() and decodes the two uint256 words.
func (p *ChainPool) readReserves(ctx context.Context) (*big.Int, *big.Int, error) {
	out, err := p.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &p.state.Address,
		Data: getReservesSelector,
	}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("call getReserves: %w", err)
	}
	if len(out) < 64 {
		return nil, nil, fmt.Errorf("short getReserves response: %d bytes", len(out))
	}
	reserveA := new(big.Int).SetBytes(out[:32])
	reserveB := new(big.Int).SetBytes(out[32:64])
	return reserveA, reserveB, nil
}

var (
	_ Source      = (*ChainPool)(nil)
	_ Snapshotter = (*ChainPool)(nil)
)
