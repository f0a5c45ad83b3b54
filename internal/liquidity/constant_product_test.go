package liquidity

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"batch-settler/internal/domain"
)

var (
	tokenA = common.HexToAddress("0xaa")
	tokenB = common.HexToAddress("0xbb")
	tokenC = common.HexToAddress("0xcc")
	poolAt = common.HexToAddress("0x11")
)

func feelessPool(reserveA, reserveB int64) *ConstantProduct {
	return NewConstantProduct("test-pool", domain.PoolState{
		Address:        poolAt,
		TokenA:         tokenA,
		TokenB:         tokenB,
		ReserveA:       big.NewInt(reserveA),
		ReserveB:       big.NewInt(reserveB),
		FeeNumerator:   0,
		FeeDenominator: 1000,
	})
}

func TestConstantProduct_Quote_Feeless(t *testing.T) {
	// x*y=k with equal reserves: out = in*r / (r+in).
	pool := feelessPool(1_000_000, 1_000_000)

	q, err := pool.Quote(context.Background(), tokenA, tokenB, big.NewInt(1000))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// 1000 * 1_000_000 / 1_001_000 = 999.00... -> 999
	if q.BuyAmount.Cmp(big.NewInt(999)) != 0 {
		t.Errorf("buy amount = %s, want 999", q.BuyAmount)
	}
}

func TestConstantProduct_Quote_FeeReducesOutput(t *testing.T) {
	noFee := feelessPool(1_000_000, 1_000_000)
	withFee := NewConstantProduct("fee-pool", domain.PoolState{
		Address:        poolAt,
		TokenA:         tokenA,
		TokenB:         tokenB,
		ReserveA:       big.NewInt(1_000_000),
		ReserveB:       big.NewInt(1_000_000),
		FeeNumerator:   3,
		FeeDenominator: 1000,
	})

	in := big.NewInt(10_000)
	qFree, err := noFee.Quote(context.Background(), tokenA, tokenB, in)
	if err != nil {
		t.Fatalf("feeless quote: %v", err)
	}
	qFee, err := withFee.Quote(context.Background(), tokenA, tokenB, in)
	if err != nil {
		t.Fatalf("fee quote: %v", err)
	}
	if qFee.BuyAmount.Cmp(qFree.BuyAmount) >= 0 {
		t.Errorf("fee quote %s should be below feeless quote %s", qFee.BuyAmount, qFree.BuyAmount)
	}
}

func TestConstantProduct_Quote_BothDirections(t *testing.T) {
	pool := feelessPool(2_000_000, 1_000_000)
	ctx := context.Background()

	ab, err := pool.Quote(ctx, tokenA, tokenB, big.NewInt(1000))
	if err != nil {
		t.Fatalf("A->B quote: %v", err)
	}
	ba, err := pool.Quote(ctx, tokenB, tokenA, big.NewInt(1000))
	if err != nil {
		t.Fatalf("B->A quote: %v", err)
	}
	// A is twice as abundant, so selling A buys less B than the reverse.
	if ab.BuyAmount.Cmp(ba.BuyAmount) >= 0 {
		t.Errorf("A->B %s should be below B->A %s", ab.BuyAmount, ba.BuyAmount)
	}
}

func TestConstantProduct_Quote_UnsupportedPair(t *testing.T) {
	pool := feelessPool(1_000_000, 1_000_000)

	_, err := pool.Quote(context.Background(), tokenA, tokenC, big.NewInt(1000))
	if !errors.Is(err, ErrUnsupportedPair) {
		t.Errorf("unsupported pair error = %v, want ErrUnsupportedPair", err)
	}

	var qe *QuoteError
	if !errors.As(err, &qe) || qe.Source != "test-pool" {
		t.Error("error should carry the source name")
	}
}

func TestConstantProduct_Quote_InsufficientLiquidity(t *testing.T) {
	pool := feelessPool(0, 1_000_000)
	if _, err := pool.Quote(context.Background(), tokenA, tokenB, big.NewInt(1000)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Errorf("empty reserve error = %v, want ErrInsufficientLiquidity", err)
	}

	pool = feelessPool(1_000_000, 1_000_000)
	if _, err := pool.Quote(context.Background(), tokenA, tokenB, big.NewInt(0)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Errorf("zero input error = %v, want ErrInsufficientLiquidity", err)
	}
}

func TestConstantProduct_Quote_InteractionMatchesAmounts(t *testing.T) {
	pool := feelessPool(1_000_000, 1_000_000)

	q, err := pool.Quote(context.Background(), tokenA, tokenB, big.NewInt(1000))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	ix := q.Interaction
	if ix.Target != poolAt {
		t.Error("interaction target should be the pool address")
	}
	if ix.InputToken != tokenA || ix.InputAmount.Cmp(q.SellAmount) != 0 {
		t.Error("interaction input should match the quoted sell side")
	}
	if ix.OutputToken != tokenB || ix.OutputAmount.Cmp(q.BuyAmount) != 0 {
		t.Error("interaction output should match the quoted buy side")
	}
	if len(ix.CallData) != 4+4*32 {
		t.Errorf("calldata length = %d, want selector plus four words", len(ix.CallData))
	}
}

func TestRoundSources_FreezesPoolsAndKeepsRemotes(t *testing.T) {
	auction := &domain.Auction{
		ID: 1,
		Liquidity: []domain.LiquidityState{
			{Source: "amm", Pools: []domain.PoolState{{
				Address: poolAt, TokenA: tokenA, TokenB: tokenB,
				ReserveA: big.NewInt(1000), ReserveB: big.NewInt(1000),
				FeeNumerator: 0, FeeDenominator: 1000,
			}}},
			{Source: "quoter"}, // remote, no capturable pools
		},
	}
	remote := NewRemoteQuoter("quoter", "http://localhost:1")
	sources := RoundSources(auction, []Source{remote})

	if len(sources) != 2 {
		t.Fatalf("round sources = %d, want frozen pool plus remote", len(sources))
	}
	if _, ok := sources[0].(*ConstantProduct); !ok {
		t.Error("first source should be the frozen pool")
	}
	if sources[1] != Source(remote) {
		t.Error("remote quoter should pass through untouched")
	}
}
