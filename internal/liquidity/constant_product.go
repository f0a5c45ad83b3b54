package liquidity

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"batch-settler/internal/domain"
)

// swapSelector is the 4-byte selector of swap(address,address,uint256,uint256).
var swapSelector = crypto.Keccak256([]byte("swap(address,address,uint256,uint256)"))[:4]

// ConstantProduct is a two-sided x*y=k pool with a trading fee, quoted
// against reserves frozen at snapshot time. One value serves a whole
// solving round, so every strategy prices against the same state.
type ConstantProduct struct {
	name  string
	state domain.PoolState
}

// NewConstantProduct creates a source over a frozen pool state.
func NewConstantProduct(name string, state domain.PoolState) *ConstantProduct {
	return &ConstantProduct{name: name, state: state}
}

// Name identifies the pool source.
func (p *ConstantProduct) Name() string { return p.name }

// Snapshot returns the frozen pool state.
func (p *ConstantProduct) Snapshot(_ context.Context) (domain.LiquidityState, error) {
	return domain.LiquidityState{
		Source: p.name,
		Pools:  []domain.PoolState{p.state},
	}, nil
}

// Quote prices a swap against the frozen reserves:
//
//	out = in*(den-num)*reserveOut / (reserveIn*den + in*(den-num))
//
// which is the constant-product formula with the fee taken from the
// input amount.
func (p *ConstantProduct) Quote(_ context.Context, sellToken, buyToken common.Address, sellAmount *big.Int) (*Quote, error) {
	reserveIn, reserveOut, ok := p.orient(sellToken, buyToken)
	if !ok {
		return nil, &QuoteError{Source: p.name, Err: ErrUnsupportedPair}
	}
	if sellAmount.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, &QuoteError{Source: p.name, Err: ErrInsufficientLiquidity}
	}

	den := new(big.Int).SetUint64(uint64(p.state.FeeDenominator))
	feeKeep := new(big.Int).SetUint64(uint64(p.state.FeeDenominator - p.state.FeeNumerator))

	effIn := new(big.Int).Mul(sellAmount, feeKeep)
	numerator := new(big.Int).Mul(effIn, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, den)
	denominator.Add(denominator, effIn)

	out := numerator.Div(numerator, denominator)
	if out.Sign() <= 0 {
		return nil, &QuoteError{Source: p.name, Err: ErrInsufficientLiquidity}
	}

	return &Quote{
		Source:     p.name,
		SellToken:  sellToken,
		BuyToken:   buyToken,
		SellAmount: new(big.Int).Set(sellAmount),
		BuyAmount:  out,
		Interaction: domain.Interaction{
			Target:       p.state.Address,
			Value:        new(big.Int),
			CallData:     swapCallData(sellToken, buyToken, sellAmount, out),
			InputToken:   sellToken,
			InputAmount:  new(big.Int).Set(sellAmount),
			OutputToken:  buyToken,
			OutputAmount: new(big.Int).Set(out),
		},
	}, nil
}

// orient returns (reserveIn, reserveOut) for the requested direction.
func (p *ConstantProduct) orient(sellToken, buyToken common.Address) (*big.Int, *big.Int, bool) {
	switch {
	case sellToken == p.state.TokenA && buyToken == p.state.TokenB:
		return p.state.ReserveA, p.state.ReserveB, true
	case sellToken == p.state.TokenB && buyToken == p.state.TokenA:
		return p.state.ReserveB, p.state.ReserveA, true
	}
	return nil, nil, false
}

// swapCallData encodes swap(tokenIn, tokenOut, amountIn, minAmountOut).
func swapCallData(tokenIn, tokenOut common.Address, amountIn, minOut *big.Int) []byte {
	data := make([]byte, 0, 4+4*32)
	data = append(data, swapSelector...)
	data = append(data, common.LeftPadBytes(tokenIn.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(tokenOut.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amountIn.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(minOut.Bytes(), 32)...)
	return data
}

var (
	_ Source      = (*ConstantProduct)(nil)
	_ Snapshotter = (*ConstantProduct)(nil)
)
