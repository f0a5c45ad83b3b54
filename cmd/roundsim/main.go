// Package main runs one solving round end to end on in-memory stores and
// fixture liquidity, printing the competition outcome. Useful for
// inspecting strategy behavior without a chain or database.
package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"batch-settler/internal/auction"
	"batch-settler/internal/competition"
	"batch-settler/internal/domain"
	"batch-settler/internal/liquidity"
	"batch-settler/internal/orderbook"
	"batch-settler/internal/signing"
	"batch-settler/internal/solver"
	"batch-settler/internal/storage/memory"
	"batch-settler/internal/uid"
	"batch-settler/internal/validation"
)

var (
	tokenA = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	tokenB = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	poolAB = common.HexToAddress("0x1000000000000000000000000000000000000001")
)

func main() {
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	if err := run(ctx, logger); err != nil {
		fmt.Fprintf(os.Stderr, "roundsim error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	orderStore := memory.NewOrderStore()
	orders := orderbook.NewService(orderStore, logger)

	if err := loadFixtureOrders(ctx, orders); err != nil {
		return fmt.Errorf("load fixture orders: %w", err)
	}

	// One constant-product pool with a 0.3% fee and deep reserves.
	pool := liquidity.NewConstantProduct("fixture-amm", domain.PoolState{
		Address:        poolAB,
		TokenA:         tokenA,
		TokenB:         tokenB,
		ReserveA:       units(1_000_000),
		ReserveB:       units(1_000_000),
		FeeNumerator:   3,
		FeeDenominator: 1000,
	})
	sources := []liquidity.Source{pool}

	builder := auction.NewBuilder(orderStore, sources, logger)
	auc, err := builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("build auction: %w", err)
	}
	fmt.Printf("=== Auction %d ===\n", auc.ID)
	fmt.Printf("Orders: %d, liquidity sources: %d\n\n", len(auc.Orders), len(auc.Liquidity))

	strategies, err := solver.FromConfigs([]solver.Config{
		{Type: solver.TypeBaseline},
		{Type: solver.TypeSingleRouting},
		{Type: solver.TypeMultiHop, IntermediateTokens: []common.Address{tokenA}},
		{Type: solver.TypePairwiseMatching},
	})
	if err != nil {
		return err
	}

	policy, err := competition.NewRankingPolicy(nil)
	if err != nil {
		return err
	}

	driver := competition.NewDriver(strategies, sources, validation.New(), policy, logger,
		competition.WithDeadline(5*time.Second),
	)

	winner, err := driver.RunRound(ctx, auc)
	if err != nil {
		return fmt.Errorf("run round: %w", err)
	}
	if winner == nil {
		fmt.Println("No winning settlement this round.")
		return nil
	}

	printSettlement(winner)
	return nil
}

// loadFixtureOrders admits a handful of signed orders: two crossing
// orders on the A/B pair and one AMM-only order.
func loadFixtureOrders(ctx context.Context, orders *orderbook.Service) error {
	now := time.Now().Unix()

	fixtures := []struct {
		sellToken, buyToken   common.Address
		sellAmount, buyAmount *big.Int
		partial               bool
	}{
		// Sells A for B slightly below pool price; fillable via the AMM.
		{tokenA, tokenB, units(100), units(95), false},
		// Crossing pair for the matching strategy.
		{tokenB, tokenA, units(50), units(48), true},
		{tokenA, tokenB, units(48), units(47), true},
	}

	for i, f := range fixtures {
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		uidHash, err := admit(ctx, orders, key, f.sellToken, f.buyToken, f.sellAmount, f.buyAmount, now, now+3600, f.partial)
		if err != nil {
			return fmt.Errorf("fixture order %d: %w", i, err)
		}
		fmt.Printf("admitted order %s\n", uidHash.Hex())
	}
	return nil
}

func admit(
	ctx context.Context,
	orders *orderbook.Service,
	key *ecdsa.PrivateKey,
	sellToken, buyToken common.Address,
	sellAmount, buyAmount *big.Int,
	validFrom, validTo int64,
	partial bool,
) (common.Hash, error) {
	digest := uid.OrderDigest(sellToken, buyToken, sellAmount, buyAmount, validFrom, validTo, partial)
	sig, err := signing.Sign(digest, key)
	if err != nil {
		return common.Hash{}, err
	}
	return orders.Admit(ctx, orderbook.OrderSubmission{
		SellToken:         sellToken,
		BuyToken:          buyToken,
		SellAmount:        sellAmount,
		BuyAmount:         buyAmount,
		ValidFrom:         validFrom,
		ValidTo:           validTo,
		PartiallyFillable: partial,
		Signature:         sig,
	})
}

func printSettlement(s *domain.Settlement) {
	fmt.Printf("\n=== Winner: %s ===\n", s.Strategy)
	fmt.Printf("Surplus (normalized): %s\n", s.Surplus)
	fmt.Printf("Gas estimate: %d\n", s.GasEstimate)

	fmt.Println("\nClearing prices:")
	for token, price := range s.ClearingPrices {
		fmt.Printf("  %s: %s\n", token.Hex(), price)
	}

	fmt.Println("\nTrades:")
	for _, t := range s.Trades {
		fmt.Printf("  order %s: sell %s %s -> buy %s %s\n",
			t.OrderUID.Hex(), t.ExecutedSell, t.SellToken.Hex(), t.ExecutedBuy, t.BuyToken.Hex())
	}

	if len(s.Interactions) > 0 {
		fmt.Println("\nInteractions:")
		for _, ix := range s.Interactions {
			fmt.Printf("  %s: in %s %s, out %s %s\n",
				ix.Target.Hex(), ix.InputAmount, ix.InputToken.Hex(), ix.OutputAmount, ix.OutputToken.Hex())
		}
	}
}

// units scales a whole-token amount to 18 decimals.
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}
