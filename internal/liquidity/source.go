// Package liquidity defines the liquidity source capability and its
// implementations: frozen constant-product pools and remote quoting APIs.
package liquidity

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"batch-settler/internal/domain"
)

// Quote errors. All of them are recoverable: a strategy treats a failed
// quote as "this route unavailable", never as a round failure.
var (
	ErrUnsupportedPair       = errors.New("pair not supported by source")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrQuoteUnavailable      = errors.New("quote unavailable")
)

// Quote is a priced swap offer from one source, together with the
// interaction that executes it on chain.
type Quote struct {
	Source      string
	SellToken   common.Address
	BuyToken    common.Address
	SellAmount  *big.Int
	BuyAmount   *big.Int
	Interaction domain.Interaction
}

// Source is the liquidity source capability: given a pair and a sell
// amount it returns a swap quote. Implementations may be remote and slow;
// callers bound every Quote call with the round deadline via ctx.
type Source interface {
	// Name identifies the source in diagnostics and auction snapshots.
	Name() string

	// Quote prices selling sellAmount of sellToken for buyToken.
	Quote(ctx context.Context, sellToken, buyToken common.Address, sellAmount *big.Int) (*Quote, error)
}

// Snapshotter is implemented by sources whose state can be frozen into an
// auction. Sources without capturable state (remote quoters) do not
// implement it and are queried live during solving.
type Snapshotter interface {
	Snapshot(ctx context.Context) (domain.LiquidityState, error)
}

// QuoteError wraps a source failure with the source name so round
// diagnostics can attribute it.
type QuoteError struct {
	Source string
	Err    error
}

func (e *QuoteError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *QuoteError) Unwrap() error { return e.Err }
