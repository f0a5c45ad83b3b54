package submission

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"batch-settler/internal/chain"
	"batch-settler/internal/chain/stub"
	"batch-settler/internal/domain"
	"batch-settler/internal/encoding"
)

var (
	tokenA = common.HexToAddress("0xaa")
	tokenB = common.HexToAddress("0xbb")
)

// fastConfig keeps the state machine quick enough for tests.
func fastConfig(maxAttempts int) Config {
	return Config{
		EscalationInterval: 150 * time.Millisecond,
		PollInterval:       10 * time.Millisecond,
		MaxAttempts:        maxAttempts,
		BumpPercent:        15,
		GasPriceCeiling:    big.NewInt(1_000_000_000_000),
		GasLimitMargin:     20,
	}
}

// recordingFills counts ApplyFills invocations.
type recordingFills struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingFills) ApplyFills(_ context.Context, _ []domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

func (r *recordingFills) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// recordingSettlements captures inserted settlement records.
type recordingSettlements struct {
	mu      sync.Mutex
	records []*domain.SettlementRecord
}

func (r *recordingSettlements) Insert(_ context.Context, rec *domain.SettlementRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingSettlements) all() []*domain.SettlementRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.SettlementRecord(nil), r.records...)
}

type fixture struct {
	node        *stub.Node
	submitter   *Submitter
	fills       *recordingFills
	settlements *recordingSettlements
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()

	node := stub.New()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	enc, err := encoding.NewEncoder(common.HexToAddress("0x5e"))
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}

	fills := &recordingFills{}
	settlements := &recordingSettlements{}

	sub, err := NewSubmitter(context.Background(), node,
		chain.NewFixedGasOracle(big.NewInt(100)), enc, key,
		fills, settlements, fastConfig(maxAttempts), zap.NewNop())
	if err != nil {
		t.Fatalf("new submitter: %v", err)
	}

	return &fixture{node: node, submitter: sub, fills: fills, settlements: settlements}
}

func testSettlement() *domain.Settlement {
	return &domain.Settlement{
		AuctionID: 9,
		Strategy:  "test",
		ClearingPrices: map[common.Address]*big.Int{
			tokenA: big.NewInt(980),
			tokenB: big.NewInt(1000),
		},
		Trades: []domain.Trade{{
			OrderUID:     common.HexToHash("0x01"),
			SellToken:    tokenA,
			BuyToken:     tokenB,
			ExecutedSell: big.NewInt(100),
			ExecutedBuy:  big.NewInt(98),
		}},
		Surplus:     big.NewInt(3),
		GasEstimate: 200_000,
	}
}

// waitForSends blocks until the node has seen at least n transactions.
func waitForSends(t *testing.T, node *stub.Node, n int) []*types.Transaction {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sent := node.Sent()
		if len(sent) >= n {
			return sent
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sends, saw %d", n, len(node.Sent()))
	return nil
}

func successReceipt() *types.Receipt {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}
}

func TestSubmit_ConfirmsFirstAttempt(t *testing.T) {
	f := newFixture(t, 5)

	done := make(chan *Submission, 1)
	go func() {
		sub, err := f.submitter.Submit(context.Background(), testSettlement())
		if err != nil {
			t.Errorf("submit: %v", err)
		}
		done <- sub
	}()

	sent := waitForSends(t, f.node, 1)
	f.node.SetReceipt(sent[0].Hash(), successReceipt())

	sub := <-done
	if sub.State != domain.SubmissionConfirmed {
		t.Fatalf("state = %s, want CONFIRMED", sub.State)
	}
	if len(sub.Attempts) != 1 || sub.Attempts[0].Status != domain.AttemptConfirmed {
		t.Error("the single attempt should be confirmed")
	}
	if f.fills.count() != 1 {
		t.Errorf("fills applied %d times, want exactly once", f.fills.count())
	}
	records := f.settlements.all()
	if len(records) != 1 || records[0].TxHash != sent[0].Hash() {
		t.Error("confirmed settlement should be recorded with the mined tx hash")
	}
}

func TestSubmit_EscalatesAndConfirmsSecondAttempt(t *testing.T) {
	f := newFixture(t, 5)

	done := make(chan *Submission, 1)
	go func() {
		sub, err := f.submitter.Submit(context.Background(), testSettlement())
		if err != nil {
			t.Errorf("submit: %v", err)
		}
		done <- sub
	}()

	// Let the first attempt stall until the escalation fires, then mine
	// the replacement.
	sent := waitForSends(t, f.node, 2)
	f.node.SetReceipt(sent[1].Hash(), successReceipt())

	sub := <-done
	if sub.State != domain.SubmissionConfirmed {
		t.Fatalf("state = %s, want CONFIRMED", sub.State)
	}
	if len(sub.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(sub.Attempts))
	}
	if sub.Attempts[0].Status != domain.AttemptReplaced {
		t.Error("the stalled first attempt should be marked replaced")
	}
	if sub.Attempts[1].Status != domain.AttemptConfirmed {
		t.Error("the escalated attempt should be confirmed")
	}

	// Same nonce, strictly higher gas price.
	if sent[0].Nonce() != sent[1].Nonce() {
		t.Error("escalation must reuse the nonce")
	}
	if sent[1].GasPrice().Cmp(sent[0].GasPrice()) <= 0 {
		t.Error("escalated gas price must be strictly higher")
	}

	if f.fills.count() != 1 {
		t.Errorf("fills applied %d times, want exactly once despite two attempts", f.fills.count())
	}
}

func TestSubmit_AbandonsAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, 3)

	sub, err := f.submitter.Submit(context.Background(), testSettlement())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if sub.State != domain.SubmissionAbandoned {
		t.Fatalf("state = %s, want ABANDONED", sub.State)
	}
	// Three settlement attempts plus the terminal cancel no-op.
	if len(sub.Attempts) != 4 {
		t.Fatalf("attempts = %d, want 3 plus cancel", len(sub.Attempts))
	}
	last := sub.Attempts[len(sub.Attempts)-1]
	if !last.CancelNoop {
		t.Error("the final attempt should be the cancel no-op")
	}

	sent := f.node.Sent()
	if len(sent) != 4 {
		t.Fatalf("sent = %d transactions, want 4", len(sent))
	}

	// Gas prices escalate strictly; all attempts share the nonce.
	for i := 1; i < len(sent); i++ {
		if sent[i].GasPrice().Cmp(sent[i-1].GasPrice()) <= 0 {
			t.Errorf("send %d gas price %s not above previous %s", i, sent[i].GasPrice(), sent[i-1].GasPrice())
		}
		if sent[i].Nonce() != sent[0].Nonce() {
			t.Errorf("send %d changed nonce", i)
		}
	}

	// The cancel transaction is a zero-value self-transfer.
	cancelTx := sent[3]
	if cancelTx.To() == nil || *cancelTx.To() != f.submitter.From() {
		t.Error("cancel transaction should target the settler account itself")
	}
	if cancelTx.Value().Sign() != 0 {
		t.Error("cancel transaction must carry no value")
	}

	if f.fills.count() != 0 {
		t.Error("no fill may be applied on the abandonment path")
	}
	if len(f.settlements.all()) != 0 {
		t.Error("abandoned settlements must not be recorded")
	}
}

func TestSubmit_DetectsForeignReplacement(t *testing.T) {
	f := newFixture(t, 5)
	f.node.SetPendingNonce(f.submitter.From(), 7)
	// A foreign transaction already consumed nonce 7.
	f.node.SetMinedNonce(f.submitter.From(), 8)

	sub, err := f.submitter.Submit(context.Background(), testSettlement())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if sub.State != domain.SubmissionReplaced {
		t.Fatalf("state = %s, want REPLACED", sub.State)
	}
	for _, a := range sub.Attempts {
		if a.Status == domain.AttemptConfirmed {
			t.Error("no attempt may be confirmed on the replacement path")
		}
	}
	if f.fills.count() != 0 {
		t.Error("replacement must not apply fills")
	}
}

func TestSubmit_InvalidationAbandons(t *testing.T) {
	f := newFixture(t, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Submission, 1)
	go func() {
		sub, err := f.submitter.Submit(ctx, testSettlement())
		if err != nil {
			t.Errorf("submit: %v", err)
		}
		done <- sub
	}()

	waitForSends(t, f.node, 1)
	cancel()

	sub := <-done
	if sub.State != domain.SubmissionAbandoned {
		t.Fatalf("state = %s, want ABANDONED after invalidation", sub.State)
	}
	last := sub.Attempts[len(sub.Attempts)-1]
	if !last.CancelNoop {
		t.Error("invalidation should spend the nonce with a cancel no-op")
	}
	if f.fills.count() != 0 {
		t.Error("invalidated settlement must not apply fills")
	}
}

func TestSubmit_RevertedTransactionIsTerminal(t *testing.T) {
	f := newFixture(t, 5)

	done := make(chan error, 1)
	go func() {
		_, err := f.submitter.Submit(context.Background(), testSettlement())
		done <- err
	}()

	sent := waitForSends(t, f.node, 1)
	f.node.SetReceipt(sent[0].Hash(), &types.Receipt{Status: types.ReceiptStatusFailed})

	if err := <-done; err == nil {
		t.Error("a reverted settlement transaction should surface as an error")
	}
	if f.fills.count() != 0 {
		t.Error("reverted settlement must not apply fills")
	}
}
