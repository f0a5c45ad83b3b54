package postgres

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batch-settler/internal/domain"
	"batch-settler/internal/storage"
)

func testOrder(uid byte, validFrom, validTo int64) *domain.Order {
	return &domain.Order{
		UID:               common.BytesToHash([]byte{uid}),
		Owner:             common.HexToAddress("0x01"),
		SellToken:         common.HexToAddress("0xaa"),
		BuyToken:          common.HexToAddress("0xbb"),
		SellAmount:        big.NewInt(1000),
		BuyAmount:         big.NewInt(950),
		ValidFrom:         validFrom,
		ValidTo:           validTo,
		PartiallyFillable: true,
		Signature:         make([]byte, 65),
		RemainingSell:     big.NewInt(1000),
		CreatedAt:         time.Now().UTC(),
	}
}

func TestOrderStore_InsertAndGetByUID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewOrderStore(pool)
	ctx := context.Background()

	order := testOrder(0x01, 100, 200)
	// Amounts near the NUMERIC(78,0) ceiling must roundtrip exactly.
	order.SellAmount, _ = new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	order.RemainingSell = new(big.Int).Set(order.SellAmount)

	err := store.Insert(ctx, order)
	require.NoError(t, err)

	retrieved, err := store.GetByUID(ctx, order.UID)
	require.NoError(t, err)

	assert.Equal(t, order.UID, retrieved.UID)
	assert.Equal(t, order.Owner, retrieved.Owner)
	assert.Equal(t, order.SellToken, retrieved.SellToken)
	assert.Equal(t, order.BuyToken, retrieved.BuyToken)
	assert.Zero(t, order.SellAmount.Cmp(retrieved.SellAmount))
	assert.Zero(t, order.BuyAmount.Cmp(retrieved.BuyAmount))
	assert.Zero(t, order.RemainingSell.Cmp(retrieved.RemainingSell))
	assert.Equal(t, order.ValidFrom, retrieved.ValidFrom)
	assert.Equal(t, order.ValidTo, retrieved.ValidTo)
	assert.Equal(t, order.PartiallyFillable, retrieved.PartiallyFillable)
	assert.Equal(t, order.Signature, retrieved.Signature)
	assert.False(t, retrieved.Cancelled)
}

func TestOrderStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewOrderStore(pool)
	ctx := context.Background()

	order := testOrder(0x02, 100, 200)
	require.NoError(t, store.Insert(ctx, order))

	err := store.Insert(ctx, order)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestOrderStore_GetByUIDNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewOrderStore(pool)
	ctx := context.Background()

	_, err := store.GetByUID(ctx, common.BytesToHash([]byte{0xff}))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOrderStore_OpenOrders(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewOrderStore(pool)
	ctx := context.Background()
	now := time.Unix(150, 0)

	open := testOrder(0x10, 100, 200)
	expired := testOrder(0x11, 10, 20)
	future := testOrder(0x12, 300, 400)
	cancelled := testOrder(0x13, 100, 200)

	for _, o := range []*domain.Order{open, expired, future, cancelled} {
		require.NoError(t, store.Insert(ctx, o))
	}
	require.NoError(t, store.MarkCancelled(ctx, cancelled.UID))

	// Drain a fifth order to zero remaining.
	drained := testOrder(0x14, 100, 200)
	require.NoError(t, store.Insert(ctx, drained))
	require.NoError(t, store.ApplyFill(ctx, drained.UID, drained.RemainingSell))

	result, err := store.OpenOrders(ctx, now)
	require.NoError(t, err)

	require.Len(t, result, 1)
	assert.Equal(t, open.UID, result[0].UID)
}

func TestOrderStore_OpenOrdersOrdering(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewOrderStore(pool)
	ctx := context.Background()

	base := time.Now().UTC()
	older := testOrder(0x21, 100, 200)
	older.CreatedAt = base.Add(-time.Hour)
	newer := testOrder(0x20, 100, 200)
	newer.CreatedAt = base

	// Insert newest first; reads must still come back oldest first.
	require.NoError(t, store.Insert(ctx, newer))
	require.NoError(t, store.Insert(ctx, older))

	result, err := store.OpenOrders(ctx, time.Unix(150, 0))
	require.NoError(t, err)

	require.Len(t, result, 2)
	assert.Equal(t, older.UID, result[0].UID)
	assert.Equal(t, newer.UID, result[1].UID)
}

func TestOrderStore_MarkCancelled(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewOrderStore(pool)
	ctx := context.Background()

	order := testOrder(0x30, 100, 200)
	require.NoError(t, store.Insert(ctx, order))

	require.NoError(t, store.MarkCancelled(ctx, order.UID))
	// Idempotent.
	require.NoError(t, store.MarkCancelled(ctx, order.UID))

	retrieved, err := store.GetByUID(ctx, order.UID)
	require.NoError(t, err)
	assert.True(t, retrieved.Cancelled)

	err = store.MarkCancelled(ctx, common.BytesToHash([]byte{0xfe}))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOrderStore_ApplyFill(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewOrderStore(pool)
	ctx := context.Background()

	order := testOrder(0x40, 100, 200)
	require.NoError(t, store.Insert(ctx, order))

	require.NoError(t, store.ApplyFill(ctx, order.UID, big.NewInt(400)))

	retrieved, err := store.GetByUID(ctx, order.UID)
	require.NoError(t, err)
	assert.Zero(t, retrieved.RemainingSell.Cmp(big.NewInt(600)))

	// A fill exceeding the remainder must not change the row.
	err = store.ApplyFill(ctx, order.UID, big.NewInt(601))
	assert.ErrorIs(t, err, storage.ErrInsufficientRemaining)

	retrieved, err = store.GetByUID(ctx, order.UID)
	require.NoError(t, err)
	assert.Zero(t, retrieved.RemainingSell.Cmp(big.NewInt(600)))

	// Draining to exactly zero is allowed.
	require.NoError(t, store.ApplyFill(ctx, order.UID, big.NewInt(600)))
	retrieved, err = store.GetByUID(ctx, order.UID)
	require.NoError(t, err)
	assert.Zero(t, retrieved.RemainingSell.Sign())
}

func TestOrderStore_ApplyFillMissingOrder(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewOrderStore(pool)
	ctx := context.Background()

	err := store.ApplyFill(ctx, common.BytesToHash([]byte{0xfd}), big.NewInt(1))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOrderStore_CloseExpired(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewOrderStore(pool)
	ctx := context.Background()

	expired := testOrder(0x50, 10, 20)
	live := testOrder(0x51, 10, 500)
	require.NoError(t, store.Insert(ctx, expired))
	require.NoError(t, store.Insert(ctx, live))

	closed, err := store.CloseExpired(ctx, time.Unix(100, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), closed)

	// Repeat runs find nothing new to close.
	closed, err = store.CloseExpired(ctx, time.Unix(100, 0))
	require.NoError(t, err)
	assert.Zero(t, closed)

	result, err := store.OpenOrders(ctx, time.Unix(100, 0))
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, live.UID, result[0].UID)
}
