package memory

import (
	"context"
	"fmt"
	"sync"

	"batch-settler/internal/domain"
	"batch-settler/internal/storage"
)

// SettlementStore is an in-memory implementation of storage.SettlementStore.
type SettlementStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SettlementRecord
}

// NewSettlementStore creates a new in-memory settlement store.
func NewSettlementStore() *SettlementStore {
	return &SettlementStore{
		data: make(map[string]*domain.SettlementRecord),
	}
}

func settlementKey(auctionID uint64, txHash string) string {
	return fmt.Sprintf("%d|%s", auctionID, txHash)
}

// Insert adds a settlement record. Returns ErrDuplicateKey if present.
func (s *SettlementStore) Insert(_ context.Context, r *domain.SettlementRecord) error {
	if r == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := settlementKey(r.AuctionID, r.TxHash.Hex())
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[key] = r.Clone()
	return nil
}

// GetByAuctionID retrieves all settlement records for an auction.
func (s *SettlementStore) GetByAuctionID(_ context.Context, auctionID uint64) ([]*domain.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SettlementRecord
	for _, r := range s.data {
		if r.AuctionID == auctionID {
			result = append(result, r.Clone())
		}
	}
	return result, nil
}

// MaxAuctionID returns the highest recorded auction ID, zero when empty.
func (s *SettlementStore) MaxAuctionID(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max uint64
	for _, r := range s.data {
		if r.AuctionID > max {
			max = r.AuctionID
		}
	}
	return max, nil
}

var _ storage.SettlementStore = (*SettlementStore)(nil)
