// Package memory provides in-memory storage implementations, used by
// the round simulator and unit tests.
package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"batch-settler/internal/domain"
	"batch-settler/internal/storage"
)

// OrderStore is an in-memory implementation of storage.OrderStore.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[common.Hash]*domain.Order
	closed map[common.Hash]bool
}

// NewOrderStore creates a new in-memory order store.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders: make(map[common.Hash]*domain.Order),
		closed: make(map[common.Hash]bool),
	}
}

// Insert adds a new order. Returns ErrDuplicateKey if the UID exists.
func (s *OrderStore) Insert(_ context.Context, o *domain.Order) error {
	if o == nil || o.SellAmount == nil || o.RemainingSell == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.UID]; exists {
		return storage.ErrDuplicateKey
	}
	s.orders[o.UID] = o.Clone()
	return nil
}

// GetByUID retrieves an order. Returns ErrNotFound if it does not exist.
func (s *OrderStore) GetByUID(_ context.Context, orderUID common.Hash) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderUID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return o.Clone(), nil
}

// OpenOrders retrieves all orders fillable at the given time, ordered by
// creation time then UID for determinism.
func (s *OrderStore) OpenOrders(_ context.Context, at time.Time) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Order
	for uid, o := range s.orders {
		if !s.closed[uid] && o.Fillable(at) {
			result = append(result, o.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].UID.Hex() < result[j].UID.Hex()
	})

	return result, nil
}

// MarkCancelled flips an order's cancelled flag; idempotent.
func (s *OrderStore) MarkCancelled(_ context.Context, orderUID common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderUID]
	if !ok {
		return storage.ErrNotFound
	}
	o.Cancelled = true
	return nil
}

// ApplyFill decrements an order's remaining sell amount.
func (s *OrderStore) ApplyFill(_ context.Context, orderUID common.Hash, executedSell *big.Int) error {
	if executedSell == nil || executedSell.Sign() < 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderUID]
	if !ok {
		return storage.ErrNotFound
	}
	if o.RemainingSell.Cmp(executedSell) < 0 {
		return storage.ErrInsufficientRemaining
	}
	o.RemainingSell = new(big.Int).Sub(o.RemainingSell, executedSell)
	return nil
}

// CloseExpired marks orders whose window elapsed before the given time as
// closed. Only transitions are counted, so repeated sweeps over the same
// expired orders return zero. Rows are retained for audit.
func (s *OrderStore) CloseExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for uid, o := range s.orders {
		if o.ValidTo < before.Unix() && !s.closed[uid] {
			s.closed[uid] = true
			n++
		}
	}
	return n, nil
}

var _ storage.OrderStore = (*OrderStore)(nil)
