package liquidity

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"batch-settler/internal/domain"
)

func TestRemoteQuoter_Quote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req quoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.SellToken != tokenA.Hex() || req.SellAmount != "1000" {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(quoteResponse{
			BuyAmount: "995",
			Target:    poolAt.Hex(),
			CallData:  "0x01020304",
		})
	}))
	defer srv.Close()

	q := NewRemoteQuoter("remote", srv.URL)
	quote, err := q.Quote(context.Background(), tokenA, tokenB, big.NewInt(1000))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.BuyAmount.Cmp(big.NewInt(995)) != 0 {
		t.Errorf("buy amount = %s, want 995", quote.BuyAmount)
	}
	if quote.Interaction.Target != poolAt {
		t.Error("interaction target should come from the response")
	}
	if len(quote.Interaction.CallData) != 4 {
		t.Errorf("calldata length = %d, want 4", len(quote.Interaction.CallData))
	}
}

func TestRemoteQuoter_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(quoteResponse{BuyAmount: "990", Target: poolAt.Hex()})
	}))
	defer srv.Close()

	q := NewRemoteQuoter("remote", srv.URL, WithRetryDelay(time.Millisecond))
	quote, err := q.Quote(context.Background(), tokenA, tokenB, big.NewInt(1000))
	if err != nil {
		t.Fatalf("quote after retry: %v", err)
	}
	if quote.BuyAmount.Cmp(big.NewInt(990)) != 0 {
		t.Errorf("buy amount = %s, want 990", quote.BuyAmount)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestRemoteQuoter_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	q := NewRemoteQuoter("remote", srv.URL, WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	_, err := q.Quote(context.Background(), tokenA, tokenB, big.NewInt(1000))
	if !errors.Is(err, ErrQuoteUnavailable) {
		t.Errorf("exhausted retries error = %v, want ErrQuoteUnavailable", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want initial plus two retries", calls.Load())
	}
}

func TestRemoteQuoter_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(quoteResponse{Error: "no route"})
	}))
	defer srv.Close()

	q := NewRemoteQuoter("remote", srv.URL)
	_, err := q.Quote(context.Background(), tokenA, tokenB, big.NewInt(1000))
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Errorf("error response = %v, want ErrInsufficientLiquidity", err)
	}
}

func TestRemoteQuoter_RespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := NewRemoteQuoter("remote", srv.URL, WithMaxRetries(5), WithRetryDelay(time.Hour))
	start := time.Now()
	_, err := q.Quote(ctx, tokenA, tokenB, big.NewInt(1000))
	if err == nil {
		t.Fatal("cancelled quote should fail")
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled quote should return promptly, not wait out the retry delay")
	}
}

func TestChainPool_SnapshotReadsReserves(t *testing.T) {
	caller := &scriptedCaller{out: append(
		pad32(big.NewInt(5_000_000)),
		pad32(big.NewInt(7_000_000))...,
	)}
	pool := NewChainPool("chain-pool", caller, samplePoolState())

	snap, err := pool.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Pools) != 1 {
		t.Fatalf("snapshot pools = %d, want 1", len(snap.Pools))
	}
	if snap.Pools[0].ReserveA.Cmp(big.NewInt(5_000_000)) != 0 ||
		snap.Pools[0].ReserveB.Cmp(big.NewInt(7_000_000)) != 0 {
		t.Errorf("reserves = %s/%s, want 5000000/7000000", snap.Pools[0].ReserveA, snap.Pools[0].ReserveB)
	}
}

func TestChainPool_SnapshotShortResponse(t *testing.T) {
	pool := NewChainPool("chain-pool", &scriptedCaller{out: []byte{0x01}}, samplePoolState())
	if _, err := pool.Snapshot(context.Background()); err == nil {
		t.Error("short getReserves response should fail the snapshot")
	}
}

func samplePoolState() domain.PoolState {
	return domain.PoolState{
		Address: poolAt, TokenA: tokenA, TokenB: tokenB,
		FeeNumerator: 3, FeeDenominator: 1000,
	}
}

// scriptedCaller answers every CallContract with a fixed payload.
type scriptedCaller struct {
	out []byte
	err error
}

func (c *scriptedCaller) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return c.out, c.err
}

func pad32(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}
