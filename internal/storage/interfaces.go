package storage

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"batch-settler/internal/domain"
)

// OrderStore provides durable access to orders. Mutations must be durable
// before the call returns; OpenOrders must not expose a torn mid-mutation
// view (snapshot semantics for the auction builder's read).
type OrderStore interface {
	// Insert adds a new order. Returns ErrDuplicateKey if the UID exists.
	Insert(ctx context.Context, o *domain.Order) error

	// GetByUID retrieves an order. Returns ErrNotFound if it does not exist.
	GetByUID(ctx context.Context, orderUID common.Hash) (*domain.Order, error)

	// OpenOrders retrieves all orders fillable at the given time:
	// inside their validity window, remaining > 0 and not cancelled.
	// Rows are deep copies; mutating them does not affect the store.
	OpenOrders(ctx context.Context, at time.Time) ([]*domain.Order, error)

	// MarkCancelled flips an order's cancelled flag. Cancelling an
	// already-cancelled order is a no-op success.
	// Returns ErrNotFound if the order does not exist.
	MarkCancelled(ctx context.Context, orderUID common.Hash) error

	// ApplyFill decrements an order's remaining sell amount. Fills to a
	// single order are serialized. Returns ErrInsufficientRemaining if
	// the fill exceeds the remaining amount.
	ApplyFill(ctx context.Context, orderUID common.Hash, executedSell *big.Int) error

	// CloseExpired marks orders whose window elapsed before the given
	// time as closed so they drop out of OpenOrders cheaply. Rows are
	// retained for audit; nothing is deleted. Returns the number of
	// orders closed.
	CloseExpired(ctx context.Context, before time.Time) (int64, error)
}

// SettlementStore records executed settlements for the external read API.
type SettlementStore interface {
	// Insert adds a settlement record. Returns ErrDuplicateKey if a
	// record for (auction_id, tx_hash) exists.
	Insert(ctx context.Context, r *domain.SettlementRecord) error

	// GetByAuctionID retrieves all settlement records for an auction.
	GetByAuctionID(ctx context.Context, auctionID uint64) ([]*domain.SettlementRecord, error)

	// MaxAuctionID returns the highest auction ID ever recorded, or zero
	// when no settlement exists. The auction sequence resumes from here
	// after a restart so identifiers never repeat across runs.
	MaxAuctionID(ctx context.Context) (uint64, error)
}
