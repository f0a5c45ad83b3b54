// Package stub provides a scriptable liquidity source for tests.
package stub

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"batch-settler/internal/domain"
	"batch-settler/internal/liquidity"
)

// pairKey identifies a direction of a token pair.
type pairKey struct {
	sell common.Address
	buy  common.Address
}

// Source is a scriptable liquidity.Source. Rates are fixed ratios; the
// optional delay simulates a slow remote quoter.
type Source struct {
	mu     sync.Mutex
	name   string
	rates  map[pairKey]*big.Rat
	err    error
	delay  time.Duration
	target common.Address
	calls  int
}

// New creates a stub source.
func New(name string) *Source {
	return &Source{
		name:   name,
		rates:  make(map[pairKey]*big.Rat),
		target: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
	}
}

// SetRate scripts a quote rate: selling sell yields amount*num/den of buy.
func (s *Source) SetRate(sell, buy common.Address, num, den int64) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[pairKey{sell, buy}] = big.NewRat(num, den)
	return s
}

// SetError makes every quote fail with err.
func (s *Source) SetError(err error) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

// SetDelay makes every quote sleep before answering.
func (s *Source) SetDelay(d time.Duration) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
	return s
}

// Calls returns how many quotes were requested.
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Name identifies the stub.
func (s *Source) Name() string { return s.name }

// Quote answers from the scripted rate table.
func (s *Source) Quote(ctx context.Context, sellToken, buyToken common.Address, sellAmount *big.Int) (*liquidity.Quote, error) {
	s.mu.Lock()
	s.calls++
	err := s.err
	delay := s.delay
	rate, ok := s.rates[pairKey{sellToken, buyToken}]
	target := s.target
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, &liquidity.QuoteError{Source: s.name, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, &liquidity.QuoteError{Source: s.name, Err: err}
	}
	if !ok {
		return nil, &liquidity.QuoteError{Source: s.name, Err: liquidity.ErrUnsupportedPair}
	}

	out := new(big.Int).Mul(sellAmount, rate.Num())
	out.Div(out, rate.Denom())
	if out.Sign() <= 0 {
		return nil, &liquidity.QuoteError{Source: s.name, Err: liquidity.ErrInsufficientLiquidity}
	}

	return &liquidity.Quote{
		Source:     s.name,
		SellToken:  sellToken,
		BuyToken:   buyToken,
		SellAmount: new(big.Int).Set(sellAmount),
		BuyAmount:  out,
		Interaction: domain.Interaction{
			Target:       target,
			Value:        new(big.Int),
			CallData:     []byte{0x01},
			InputToken:   sellToken,
			InputAmount:  new(big.Int).Set(sellAmount),
			OutputToken:  buyToken,
			OutputAmount: new(big.Int).Set(out),
		},
	}, nil
}

var _ liquidity.Source = (*Source)(nil)
