// Package submission turns winning settlements into signed transactions
// and drives them to confirmation through retry, gas escalation and
// cancellation.
package submission

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"batch-settler/internal/chain"
	"batch-settler/internal/domain"
	"batch-settler/internal/encoding"
)

// FillApplier records confirmed executions against the order store. It is
// called exactly once per confirmed settlement, never on mere submission.
type FillApplier interface {
	ApplyFills(ctx context.Context, trades []domain.Trade) error
}

// SettlementRecorder persists the trace of an executed settlement.
type SettlementRecorder interface {
	Insert(ctx context.Context, r *domain.SettlementRecord) error
}

// Config bounds the retry policy. Escalation is monotonic: every retry
// bumps the gas price strictly, up to MaxAttempts or GasPriceCeiling.
type Config struct {
	EscalationInterval time.Duration
	PollInterval       time.Duration
	MaxAttempts        int
	BumpPercent        int64
	GasPriceCeiling    *big.Int
	// GasLimitMargin is the percentage added on top of the simulated
	// gas estimate, e.g. 20 for a 1.2x limit.
	GasLimitMargin int64
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		EscalationInterval: 30 * time.Second,
		PollInterval:       2 * time.Second,
		MaxAttempts:        5,
		BumpPercent:        15,
		GasPriceCeiling:    new(big.Int).Mul(big.NewInt(500), big.NewInt(1_000_000_000)), // 500 gwei
		GasLimitMargin:     20,
	}
}

// cancelGasLimit is the gas limit of the no-op nonce-spending transaction.
const cancelGasLimit = 21_000

// Submission is the outcome of driving one settlement on chain: the
// terminal state and the append-only attempt lineage sharing one nonce.
type Submission struct {
	State    domain.SubmissionState
	Nonce    uint64
	Attempts []domain.SubmissionAttempt
}

// confirmedAttempt returns the attempt that confirmed, or nil.
func (s *Submission) confirmedAttempt() *domain.SubmissionAttempt {
	for i := range s.Attempts {
		if s.Attempts[i].Status == domain.AttemptConfirmed {
			return &s.Attempts[i]
		}
	}
	return nil
}

// Submitter drives winning settlements to confirmation.
type Submitter struct {
	node    chain.Node
	oracle  chain.GasOracle
	encoder *encoding.Encoder
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	cfg     Config

	fills       FillApplier
	settlements SettlementRecorder
	logger      *zap.Logger
}

// NewSubmitter creates a submitter signing with the given key. chainID is
// fetched once so every signature uses the right replay protection.
func NewSubmitter(
	ctx context.Context,
	node chain.Node,
	oracle chain.GasOracle,
	encoder *encoding.Encoder,
	key *ecdsa.PrivateKey,
	fills FillApplier,
	settlements SettlementRecorder,
	cfg Config,
	logger *zap.Logger,
) (*Submitter, error) {
	chainID, err := node.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	return &Submitter{
		node:        node,
		oracle:      oracle,
		encoder:     encoder,
		key:         key,
		from:        crypto.PubkeyToAddress(key.PublicKey),
		chainID:     chainID,
		cfg:         cfg,
		fills:       fills,
		settlements: settlements,
		logger:      logger.Named("submission"),
	}, nil
}

// From returns the settler account address.
func (s *Submitter) From() common.Address { return s.from }

// Submit drives the settlement through the state machine until it
// terminates in Confirmed, Replaced or Abandoned. Cancelling ctx
// invalidates the settlement: the submitter spends the nonce with a
// no-op transaction and abandons rather than leaving it pending.
func (s *Submitter) Submit(ctx context.Context, settlement *domain.Settlement) (*Submission, error) {
	// Building: encode, pick a fresh nonce and the initial gas price.
	data, err := s.encoder.Encode(settlement)
	if err != nil {
		return nil, fmt.Errorf("encode settlement: %w", err)
	}

	nonce, err := s.node.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, fmt.Errorf("fetch pending nonce: %w", err)
	}

	gasPrice, err := s.oracle.CurrentGasPrice(ctx)
	if err != nil || gasPrice == nil || gasPrice.Sign() <= 0 {
		// The oracle is advisory; escalation works off any start value.
		gasPrice = big.NewInt(1_000_000_000)
	}

	gasLimit := settlement.GasEstimate + settlement.GasEstimate*uint64(s.cfg.GasLimitMargin)/100

	sub := &Submission{State: domain.SubmissionBuilding, Nonce: nonce}

	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			gasPrice = s.bump(gasPrice)
			if s.cfg.GasPriceCeiling != nil && gasPrice.Cmp(s.cfg.GasPriceCeiling) > 0 {
				s.logger.Warn("gas price ceiling reached",
					zap.Uint64("auction_id", settlement.AuctionID),
					zap.String("gas_price", gasPrice.String()),
				)
				return s.abandon(ctx, sub, gasPrice)
			}
		}

		if err := s.broadcast(ctx, sub, nonce, gasPrice, gasLimit, data); err != nil {
			// Broadcast failures are recoverable: the next escalation
			// retries with a higher price.
			s.logger.Warn("broadcast failed",
				zap.Uint64("auction_id", settlement.AuctionID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}

		outcome, err := s.awaitInterval(ctx, sub)
		if err != nil {
			return sub, err
		}
		switch outcome {
		case outcomeConfirmed:
			return s.confirm(ctx, sub, settlement)
		case outcomeReplaced:
			sub.State = domain.SubmissionReplaced
			s.logger.Info("nonce consumed by foreign transaction",
				zap.Uint64("auction_id", settlement.AuctionID),
				zap.Uint64("nonce", nonce),
			)
			return sub, nil
		case outcomeInvalidated:
			return s.abandon(context.WithoutCancel(ctx), sub, s.bump(gasPrice))
		case outcomeTimeout:
			// escalate and loop
		}
	}

	s.logger.Warn("retries exhausted without confirmation",
		zap.Uint64("auction_id", settlement.AuctionID),
		zap.Int("attempts", len(sub.Attempts)),
	)
	return s.abandon(ctx, sub, s.bump(gasPrice))
}

// broadcast signs and sends one attempt and appends it to the lineage.
func (s *Submitter) broadcast(ctx context.Context, sub *Submission, nonce uint64, gasPrice *big.Int, gasLimit uint64, data []byte) error {
	contract := s.encoder.Contract()
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: new(big.Int).Set(gasPrice),
		Gas:      gasLimit,
		To:       &contract,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	sub.State = domain.SubmissionSigned

	sub.Attempts = append(sub.Attempts, domain.SubmissionAttempt{
		Index:       len(sub.Attempts),
		Nonce:       nonce,
		GasPrice:    new(big.Int).Set(gasPrice),
		TxHash:      signed.Hash(),
		Status:      domain.AttemptPending,
		SubmittedAt: time.Now(),
	})

	if err := s.node.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}
	sub.State = domain.SubmissionSubmitted
	return nil
}

// interval outcomes
type outcome int

const (
	outcomeTimeout outcome = iota
	outcomeConfirmed
	outcomeReplaced
	outcomeInvalidated
)

// awaitInterval polls receipts for one escalation interval. Returns
// outcomeTimeout when the interval elapses unconfirmed.
func (s *Submitter) awaitInterval(ctx context.Context, sub *Submission) (outcome, error) {
	deadline := time.NewTimer(s.cfg.EscalationInterval)
	defer deadline.Stop()
	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return outcomeInvalidated, nil
		case <-deadline.C:
			return outcomeTimeout, nil
		case <-poll.C:
			out, err := s.checkOnce(ctx, sub)
			if err != nil || out != outcomeTimeout {
				return out, err
			}
		}
	}
}

// checkOnce polls every attempt's receipt, newest first, then checks
// whether a foreign transaction consumed the nonce.
func (s *Submitter) checkOnce(ctx context.Context, sub *Submission) (outcome, error) {
	for i := len(sub.Attempts) - 1; i >= 0; i-- {
		attempt := &sub.Attempts[i]
		receipt, err := s.node.TransactionReceipt(ctx, attempt.TxHash)
		if err != nil {
			continue // not mined yet, or transient node error
		}
		if receipt.Status == types.ReceiptStatusSuccessful {
			attempt.Status = domain.AttemptConfirmed
			s.markOthers(sub, i, domain.AttemptReplaced)
			return outcomeConfirmed, nil
		}
		// Our own transaction mined but reverted: the nonce is spent,
		// no value moved, nothing to retry.
		attempt.Status = domain.AttemptDropped
		s.markOthers(sub, i, domain.AttemptReplaced)
		sub.State = domain.SubmissionAbandoned
		return outcomeTimeout, errSettlementReverted
	}

	// No receipt of ours: a higher confirmed nonce means someone else
	// spent it.
	mined, err := s.node.NonceAt(ctx, s.from, nil)
	if err == nil && mined > sub.Nonce {
		s.markOthers(sub, -1, domain.AttemptReplaced)
		return outcomeReplaced, nil
	}

	return outcomeTimeout, nil
}

// errSettlementReverted terminates the submission when our transaction
// mined with a failed status.
var errSettlementReverted = errors.New("settlement transaction reverted on chain")

// markOthers sets every attempt except keep (by index, -1 for none) that
// is still pending to the given status.
func (s *Submitter) markOthers(sub *Submission, keep int, status domain.AttemptStatus) {
	for i := range sub.Attempts {
		if i == keep {
			continue
		}
		if sub.Attempts[i].Status == domain.AttemptPending {
			sub.Attempts[i].Status = status
		}
	}
}

// confirm applies the settlement's fills to the order store and records
// the settlement. Fills are applied here and nowhere else: a settlement
// is only real once its transaction is included.
func (s *Submitter) confirm(ctx context.Context, sub *Submission, settlement *domain.Settlement) (*Submission, error) {
	sub.State = domain.SubmissionConfirmed
	confirmed := sub.confirmedAttempt()

	// Confirmation bookkeeping must survive the caller's cancellation.
	bookCtx := context.WithoutCancel(ctx)

	if err := s.fills.ApplyFills(bookCtx, settlement.Trades); err != nil {
		// Durability failure after on-chain inclusion is fatal for the
		// round and must reach the operator.
		return sub, fmt.Errorf("apply confirmed fills: %w", err)
	}

	record := &domain.SettlementRecord{
		AuctionID: settlement.AuctionID,
		Strategy:  settlement.Strategy,
		TxHash:    confirmed.TxHash,
		Surplus:   settlement.Surplus,
		GasUsed:   settlement.GasEstimate,
		Trades:    settlement.Trades,
	}
	if err := s.settlements.Insert(bookCtx, record); err != nil {
		return sub, fmt.Errorf("record settlement: %w", err)
	}

	s.logger.Info("settlement confirmed",
		zap.Uint64("auction_id", settlement.AuctionID),
		zap.String("strategy", settlement.Strategy),
		zap.Stringer("tx", confirmed.TxHash),
		zap.Int("attempts", len(sub.Attempts)),
	)
	return sub, nil
}

// abandon spends the nonce with a no-op self-transfer so no stale
// settlement stays pending, then marks the submission Abandoned. No fill
// is ever applied on this path.
func (s *Submitter) abandon(ctx context.Context, sub *Submission, gasPrice *big.Int) (*Submission, error) {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    sub.Nonce,
		GasPrice: new(big.Int).Set(gasPrice),
		Gas:      cancelGasLimit,
		To:       &s.from,
		Value:    new(big.Int),
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		sub.State = domain.SubmissionAbandoned
		return sub, fmt.Errorf("sign cancel transaction: %w", err)
	}

	sub.Attempts = append(sub.Attempts, domain.SubmissionAttempt{
		Index:       len(sub.Attempts),
		Nonce:       sub.Nonce,
		GasPrice:    new(big.Int).Set(gasPrice),
		TxHash:      signed.Hash(),
		Status:      domain.AttemptPending,
		SubmittedAt: time.Now(),
		CancelNoop:  true,
	})

	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.node.SendTransaction(cancelCtx, signed); err != nil {
		s.logger.Warn("cancel transaction broadcast failed", zap.Error(err))
	}

	s.markOthers(sub, len(sub.Attempts)-1, domain.AttemptReplaced)
	sub.State = domain.SubmissionAbandoned
	return sub, nil
}

// bump raises the gas price by BumpPercent, strictly.
func (s *Submitter) bump(gasPrice *big.Int) *big.Int {
	bumped := new(big.Int).Mul(gasPrice, big.NewInt(100+s.cfg.BumpPercent))
	bumped.Div(bumped, big.NewInt(100))
	if bumped.Cmp(gasPrice) <= 0 {
		bumped = new(big.Int).Add(gasPrice, big.NewInt(1))
	}
	return bumped
}
