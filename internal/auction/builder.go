// Package auction freezes open orders and liquidity state into immutable
// auction snapshots at a fixed cadence.
package auction

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"batch-settler/internal/domain"
	"batch-settler/internal/liquidity"
	"batch-settler/internal/storage"
)

// Builder snapshots the order store and liquidity sources into auctions
// with strictly increasing identifiers. The order read is a single
// snapshot-isolated query and the liquidity states are captured before
// the auction is stamped, so nothing refreshes mid-snapshot.
type Builder struct {
	orders  storage.OrderStore
	sources []liquidity.Source
	logger  *zap.Logger
	seq     atomic.Uint64
	now     func() time.Time
}

// BuilderOption configures the Builder.
type BuilderOption func(*Builder)

// WithStartSequence resumes the auction ID sequence after a restart.
func WithStartSequence(last uint64) BuilderOption {
	return func(b *Builder) {
		b.seq.Store(last)
	}
}

// WithClock overrides the snapshot clock, for tests.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.now = now
	}
}

// NewBuilder creates an auction builder.
func NewBuilder(orders storage.OrderStore, sources []liquidity.Source, logger *zap.Logger, opts ...BuilderOption) *Builder {
	b := &Builder{
		orders:  orders,
		sources: sources,
		logger:  logger.Named("auction"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build freezes the current open orders and liquidity states into a new
// auction. A failed order read is fatal for the round: solving against a
// partial snapshot would price against inconsistent state.
func (b *Builder) Build(ctx context.Context) (*domain.Auction, error) {
	snapshotTime := b.now()

	orders, err := b.orders.OpenOrders(ctx, snapshotTime)
	if err != nil {
		return nil, fmt.Errorf("snapshot open orders: %w", err)
	}

	states := make([]domain.LiquidityState, 0, len(b.sources))
	for _, src := range b.sources {
		snap, ok := src.(liquidity.Snapshotter)
		if !ok {
			// Remote quoters have no capturable state; record the
			// source so the auction lists every venue of the round.
			states = append(states, domain.LiquidityState{Source: src.Name()})
			continue
		}
		state, err := snap.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("snapshot liquidity source %s: %w", src.Name(), err)
		}
		states = append(states, state)
	}

	a := &domain.Auction{
		ID:        b.seq.Add(1),
		Timestamp: snapshotTime,
		Orders:    orders,
		Liquidity: states,
	}

	b.logger.Debug("built auction",
		zap.Uint64("auction_id", a.ID),
		zap.Int("orders", len(a.Orders)),
		zap.Int("liquidity_sources", len(a.Liquidity)),
	)

	return a, nil
}
