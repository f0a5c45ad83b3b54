// Package orderbook admits and cancels signed orders against the durable
// order store.
package orderbook

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"batch-settler/internal/domain"
	"batch-settler/internal/signing"
	"batch-settler/internal/storage"
	"batch-settler/internal/uid"
)

// Admission and cancellation errors. Admission errors are rejected
// synchronously and never retried.
var (
	ErrInvalidSignature    = errors.New("invalid order signature")
	ErrExpiredWindow       = errors.New("validity window already elapsed")
	ErrWindowTooFarFuture  = errors.New("validity window starts too far in the future")
	ErrInvalidAmounts      = errors.New("sell and buy amounts must be positive")
	ErrSameToken           = errors.New("sell and buy token must differ")
	ErrDuplicateOrder      = errors.New("order already exists")
	ErrInsufficientBalance = errors.New("owner balance below sell amount")
	ErrNotFound            = errors.New("order not found")
	ErrNotOwner            = errors.New("cancellation not signed by order owner")
)

// DefaultValidFromHorizon bounds how far in the future an order's window
// may start.
const DefaultValidFromHorizon = 24 * time.Hour

// BalanceReader reads an owner's token balance from chain state. Optional:
// when nil the balance check is skipped.
type BalanceReader interface {
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// OrderSubmission is the client-supplied order before admission.
type OrderSubmission struct {
	SellToken         common.Address
	BuyToken          common.Address
	SellAmount        *big.Int
	BuyAmount         *big.Int
	ValidFrom         int64
	ValidTo           int64
	PartiallyFillable bool
	Signature         []byte
}

// Service validates and persists order submissions. All mutations are
// durable before the call acknowledges.
type Service struct {
	store    storage.OrderStore
	balances BalanceReader
	horizon  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithBalanceReader enables the admission balance check.
func WithBalanceReader(r BalanceReader) ServiceOption {
	return func(s *Service) {
		s.balances = r
	}
}

// WithValidFromHorizon overrides the future-window horizon.
func WithValidFromHorizon(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.horizon = d
	}
}

// WithClock overrides the admission clock, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates an order book service.
func NewService(store storage.OrderStore, logger *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		horizon: DefaultValidFromHorizon,
		logger:  logger.Named("orderbook"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Admit validates a submission and persists it. Returns the
// content-addressed order UID on success.
func (s *Service) Admit(ctx context.Context, sub OrderSubmission) (common.Hash, error) {
	if sub.SellAmount == nil || sub.BuyAmount == nil ||
		sub.SellAmount.Sign() <= 0 || sub.BuyAmount.Sign() <= 0 {
		return common.Hash{}, ErrInvalidAmounts
	}
	if sub.SellToken == sub.BuyToken {
		return common.Hash{}, ErrSameToken
	}

	now := s.now()
	if sub.ValidTo < now.Unix() {
		return common.Hash{}, ErrExpiredWindow
	}
	if sub.ValidFrom > now.Add(s.horizon).Unix() {
		return common.Hash{}, ErrWindowTooFarFuture
	}

	digest := uid.OrderDigest(
		sub.SellToken, sub.BuyToken,
		sub.SellAmount, sub.BuyAmount,
		sub.ValidFrom, sub.ValidTo,
		sub.PartiallyFillable,
	)
	owner, err := signing.RecoverSigner(digest, sub.Signature)
	if err != nil {
		return common.Hash{}, ErrInvalidSignature
	}

	if s.balances != nil {
		balance, err := s.balances.TokenBalance(ctx, sub.SellToken, owner)
		if err != nil {
			return common.Hash{}, fmt.Errorf("read owner balance: %w", err)
		}
		if balance.Cmp(sub.SellAmount) < 0 {
			return common.Hash{}, ErrInsufficientBalance
		}
	}

	order := &domain.Order{
		UID:               uid.OrderUID(digest, owner),
		Owner:             owner,
		SellToken:         sub.SellToken,
		BuyToken:          sub.BuyToken,
		SellAmount:        new(big.Int).Set(sub.SellAmount),
		BuyAmount:         new(big.Int).Set(sub.BuyAmount),
		ValidFrom:         sub.ValidFrom,
		ValidTo:           sub.ValidTo,
		PartiallyFillable: sub.PartiallyFillable,
		Signature:         append([]byte(nil), sub.Signature...),
		RemainingSell:     new(big.Int).Set(sub.SellAmount),
		CreatedAt:         now,
	}

	if err := s.store.Insert(ctx, order); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return common.Hash{}, ErrDuplicateOrder
		}
		return common.Hash{}, fmt.Errorf("persist order: %w", err)
	}

	s.logger.Info("admitted order",
		zap.Stringer("uid", order.UID),
		zap.Stringer("owner", owner),
		zap.Stringer("sell_token", order.SellToken),
		zap.Stringer("buy_token", order.BuyToken),
	)

	return order.UID, nil
}

// Cancel flips an order's cancelled flag after verifying the owner proof.
// Cancelling an already-cancelled order is a no-op success.
func (s *Service) Cancel(ctx context.Context, orderUID common.Hash, ownerProof []byte) error {
	order, err := s.store.GetByUID(ctx, orderUID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load order: %w", err)
	}

	signer, err := signing.RecoverSigner(uid.CancellationDigest(orderUID), ownerProof)
	if err != nil || signer != order.Owner {
		return ErrNotOwner
	}

	if err := s.store.MarkCancelled(ctx, orderUID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("mark cancelled: %w", err)
	}

	s.logger.Info("cancelled order", zap.Stringer("uid", orderUID))
	return nil
}

// ApplyFills records confirmed on-chain executions against the store.
// Called by the submitter only after a settlement transaction is included
// in a finalized block.
func (s *Service) ApplyFills(ctx context.Context, trades []domain.Trade) error {
	for _, t := range trades {
		if err := s.store.ApplyFill(ctx, t.OrderUID, t.ExecutedSell); err != nil {
			return fmt.Errorf("apply fill for %s: %w", t.OrderUID, err)
		}
	}
	return nil
}

// RunMaintenance closes expired orders so the open-order query stays
// cheap. Rows are never deleted.
func (s *Service) RunMaintenance(ctx context.Context) (int64, error) {
	n, err := s.store.CloseExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("close expired orders: %w", err)
	}
	if n > 0 {
		s.logger.Debug("closed expired orders", zap.Int64("count", n))
	}
	return n, nil
}
