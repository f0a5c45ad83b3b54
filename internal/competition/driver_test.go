package competition

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"batch-settler/internal/domain"
	"batch-settler/internal/liquidity"
	"batch-settler/internal/solver"
	"batch-settler/internal/validation"
)

var (
	tokenA = common.HexToAddress("0xaa")
	tokenB = common.HexToAddress("0xbb")
)

// scriptedStrategy returns a canned settlement after an optional delay.
type scriptedStrategy struct {
	name       string
	settlement *domain.Settlement
	err        error
	delay      time.Duration
}

func (s *scriptedStrategy) Name() string { return s.name }

func (s *scriptedStrategy) Solve(ctx context.Context, _ *domain.Auction, _ []liquidity.Source) (*domain.Settlement, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.settlement, s.err
}

var _ solver.Strategy = (*scriptedStrategy)(nil)

// testAuction holds one order selling 100 A for at least 95 B.
func testAuction() *domain.Auction {
	return &domain.Auction{
		ID: 11,
		Orders: []*domain.Order{{
			UID:           common.HexToHash("0x01"),
			SellToken:     tokenA,
			BuyToken:      tokenB,
			SellAmount:    big.NewInt(100),
			BuyAmount:     big.NewInt(95),
			RemainingSell: big.NewInt(100),
		}},
	}
}

// validSettlement fills the test auction's order at executedBuy B,
// balanced by a matching interaction.
func validSettlement(strategy string, executedBuy int64, gas uint64) *domain.Settlement {
	s := &domain.Settlement{
		AuctionID: 11,
		Strategy:  strategy,
		ClearingPrices: map[common.Address]*big.Int{
			tokenB: new(big.Int).Set(domain.PriceScale),
			tokenA: new(big.Int).Div(new(big.Int).Mul(big.NewInt(executedBuy), domain.PriceScale), big.NewInt(100)),
		},
		Trades: []domain.Trade{{
			OrderUID:     common.HexToHash("0x01"),
			SellToken:    tokenA,
			BuyToken:     tokenB,
			ExecutedSell: big.NewInt(100),
			ExecutedBuy:  big.NewInt(executedBuy),
		}},
		Interactions: []domain.Interaction{{
			Target:       common.HexToAddress("0x11"),
			InputToken:   tokenA,
			InputAmount:  big.NewInt(100),
			OutputToken:  tokenB,
			OutputAmount: big.NewInt(executedBuy),
		}},
		Surplus:     big.NewInt(executedBuy - 95),
		GasEstimate: gas,
	}
	return s
}

func mustPolicy(t *testing.T, keys []string) *RankingPolicy {
	t.Helper()
	p, err := NewRankingPolicy(keys)
	if err != nil {
		t.Fatalf("ranking policy: %v", err)
	}
	return p
}

func newTestDriver(t *testing.T, strategies []solver.Strategy, opts ...DriverOption) *Driver {
	t.Helper()
	return NewDriver(strategies, nil, validation.New(), mustPolicy(t, nil), zap.NewNop(), opts...)
}

func TestRunRound_PicksHighestSurplus(t *testing.T) {
	d := newTestDriver(t, []solver.Strategy{
		&scriptedStrategy{name: "low", settlement: validSettlement("low", 96, 100_000)},
		&scriptedStrategy{name: "high", settlement: validSettlement("high", 98, 100_000)},
	})

	winner, err := d.RunRound(context.Background(), testAuction())
	if err != nil {
		t.Fatalf("run round: %v", err)
	}
	if winner == nil || winner.Strategy != "high" {
		t.Error("round should pick the higher-surplus candidate")
	}
}

func TestRunRound_SlowStrategyDoesNotBlock(t *testing.T) {
	d := newTestDriver(t, []solver.Strategy{
		&scriptedStrategy{name: "fast", settlement: validSettlement("fast", 98, 100_000)},
		&scriptedStrategy{name: "stuck", settlement: validSettlement("stuck", 99, 100_000), delay: time.Hour},
	}, WithDeadline(100*time.Millisecond))

	start := time.Now()
	winner, err := d.RunRound(context.Background(), testAuction())
	if err != nil {
		t.Fatalf("run round: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("round waited for the stuck strategy")
	}
	if winner == nil || winner.Strategy != "fast" {
		t.Error("the fast strategy's result should win the round")
	}
}

func TestRunRound_StrategyErrorIsDiagnostic(t *testing.T) {
	d := newTestDriver(t, []solver.Strategy{
		&scriptedStrategy{name: "broken", err: errors.New("solver crashed")},
		&scriptedStrategy{name: "ok", settlement: validSettlement("ok", 98, 100_000)},
	})

	winner, err := d.RunRound(context.Background(), testAuction())
	if err != nil {
		t.Fatalf("a failing strategy must not fail the round: %v", err)
	}
	if winner == nil || winner.Strategy != "ok" {
		t.Error("the healthy strategy should still win")
	}
}

func TestRunRound_InvalidCandidateFiltered(t *testing.T) {
	// The imbalanced settlement has more surplus but fails conservation.
	invalid := validSettlement("cheater", 99, 100_000)
	invalid.Interactions[0].OutputAmount = big.NewInt(50)

	d := newTestDriver(t, []solver.Strategy{
		&scriptedStrategy{name: "cheater", settlement: invalid},
		&scriptedStrategy{name: "honest", settlement: validSettlement("honest", 97, 100_000)},
	})

	winner, err := d.RunRound(context.Background(), testAuction())
	if err != nil {
		t.Fatalf("run round: %v", err)
	}
	if winner == nil || winner.Strategy != "honest" {
		t.Error("invalid candidates must be filtered before ranking")
	}
}

func TestRunRound_NoCandidatesReturnsNil(t *testing.T) {
	d := newTestDriver(t, []solver.Strategy{
		&scriptedStrategy{name: "empty"},
	})

	winner, err := d.RunRound(context.Background(), testAuction())
	if err != nil {
		t.Fatalf("run round: %v", err)
	}
	if winner != nil {
		t.Error("no candidates should yield a nil winner, not an error")
	}
}

func TestRunRound_SimulationFallback(t *testing.T) {
	d := newTestDriver(t, []solver.Strategy{
		&scriptedStrategy{name: "best", settlement: validSettlement("best", 98, 100_000)},
		&scriptedStrategy{name: "second", settlement: validSettlement("second", 97, 100_000)},
	}, WithSimulator(&scriptedSimulator{failFor: "best", gas: 190_000}))

	winner, err := d.RunRound(context.Background(), testAuction())
	if err != nil {
		t.Fatalf("run round: %v", err)
	}
	if winner == nil || winner.Strategy != "second" {
		t.Error("simulation failure should fall back to the next candidate")
	}
	if winner.GasEstimate != 190_000 {
		t.Errorf("gas estimate = %d, want the simulated 190000", winner.GasEstimate)
	}
}

// scriptedSimulator fails for one strategy and passes the rest.
type scriptedSimulator struct {
	failFor string
	gas     uint64
}

func (s *scriptedSimulator) Simulate(_ context.Context, settlement *domain.Settlement) (uint64, error) {
	if settlement.Strategy == s.failFor {
		return 0, errors.New("execution reverted")
	}
	return s.gas, nil
}

func TestRankingPolicy_TieBreaks(t *testing.T) {
	cheap := candidate{settlement: validSettlement("cheap", 98, 90_000), priority: 1}
	pricey := candidate{settlement: validSettlement("pricey", 98, 120_000), priority: 0}

	// Gas first: the cheaper settlement wins despite lower priority.
	byGas := mustPolicy(t, []string{TieBreakGas})
	cands := []candidate{pricey, cheap}
	byGas.rank(cands)
	if cands[0].settlement.Strategy != "cheap" {
		t.Error("gas tie-break should prefer the cheaper settlement")
	}

	// Priority first: configured order wins.
	byPriority := mustPolicy(t, []string{TieBreakPriority})
	cands = []candidate{cheap, pricey}
	byPriority.rank(cands)
	if cands[0].settlement.Strategy != "pricey" {
		t.Error("priority tie-break should prefer the earlier-configured strategy")
	}

	// Surplus always dominates tie-breaks.
	lower := candidate{settlement: validSettlement("lower", 97, 1), priority: 0}
	cands = []candidate{lower, cheap}
	byGas.rank(cands)
	if cands[0].settlement.Strategy != "cheap" {
		t.Error("surplus must dominate every tie-break")
	}
}

func TestNewRankingPolicy_UnknownKey(t *testing.T) {
	if _, err := NewRankingPolicy([]string{"vibes"}); !errors.Is(err, ErrUnknownTieBreak) {
		t.Errorf("unknown key error = %v, want ErrUnknownTieBreak", err)
	}
}
