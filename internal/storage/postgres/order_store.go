package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"batch-settler/internal/domain"
	"batch-settler/internal/storage"
)

// OrderStore implements storage.OrderStore using PostgreSQL. Amounts are
// NUMERIC(78,0) columns moved as decimal strings; fills are serialized
// with a conditional UPDATE so two concurrent fills can never push
// remaining below zero.
type OrderStore struct {
	pool *Pool
}

// NewOrderStore creates a new OrderStore.
func NewOrderStore(pool *Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

// Insert adds a new order. Returns ErrDuplicateKey if the UID exists.
func (s *OrderStore) Insert(ctx context.Context, o *domain.Order) error {
	if o == nil || o.SellAmount == nil || o.RemainingSell == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO orders (
			uid, owner, sell_token, buy_token, sell_amount, buy_amount,
			valid_from, valid_to, partially_fillable, signature,
			remaining_sell, cancelled, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.pool.Exec(ctx, query,
		o.UID.Hex(),
		o.Owner.Hex(),
		o.SellToken.Hex(),
		o.BuyToken.Hex(),
		o.SellAmount.String(),
		o.BuyAmount.String(),
		o.ValidFrom,
		o.ValidTo,
		o.PartiallyFillable,
		o.Signature,
		o.RemainingSell.String(),
		o.Cancelled,
		o.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetByUID retrieves an order. Returns ErrNotFound if it does not exist.
func (s *OrderStore) GetByUID(ctx context.Context, orderUID common.Hash) (*domain.Order, error) {
	query := selectOrderColumns + ` FROM orders WHERE uid = $1`

	row := s.pool.QueryRow(ctx, query, orderUID.Hex())
	o, err := scanOrder(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get order by uid: %w", err)
	}
	return o, nil
}

// OpenOrders retrieves all orders fillable at the given time. A single
// statement reads one MVCC snapshot, which gives the auction builder the
// required isolation.
func (s *OrderStore) OpenOrders(ctx context.Context, at time.Time) ([]*domain.Order, error) {
	query := selectOrderColumns + `
		FROM orders
		WHERE NOT cancelled
		  AND NOT closed
		  AND remaining_sell > 0
		  AND valid_from <= $1
		  AND valid_to >= $1
		ORDER BY created_at ASC, uid ASC
	`

	rows, err := s.pool.Query(ctx, query, at.Unix())
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// MarkCancelled flips an order's cancelled flag; idempotent.
func (s *OrderStore) MarkCancelled(ctx context.Context, orderUID common.Hash) error {
	tag, err := s.pool.Exec(ctx, `UPDATE orders SET cancelled = TRUE WHERE uid = $1`, orderUID.Hex())
	if err != nil {
		return fmt.Errorf("mark order cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ApplyFill decrements an order's remaining sell amount. The WHERE clause
// makes the decrement conditional, so concurrent fills serialize on the
// row lock and the invariant remaining >= 0 holds.
func (s *OrderStore) ApplyFill(ctx context.Context, orderUID common.Hash, executedSell *big.Int) error {
	if executedSell == nil || executedSell.Sign() < 0 {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE orders
		SET remaining_sell = remaining_sell - $2::numeric
		WHERE uid = $1 AND remaining_sell >= $2::numeric
	`

	tag, err := s.pool.Exec(ctx, query, orderUID.Hex(), executedSell.String())
	if err != nil {
		return fmt.Errorf("apply fill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing order from insufficient remaining.
		if _, err := s.GetByUID(ctx, orderUID); err != nil {
			return err
		}
		return storage.ErrInsufficientRemaining
	}
	return nil
}

// CloseExpired marks orders whose window elapsed before the given time as
// closed. Rows are retained for audit.
func (s *OrderStore) CloseExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET closed = TRUE WHERE NOT closed AND valid_to < $1`,
		before.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("close expired orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

const selectOrderColumns = `
	SELECT uid, owner, sell_token, buy_token, sell_amount::text, buy_amount::text,
	       valid_from, valid_to, partially_fillable, signature,
	       remaining_sell::text, cancelled, created_at
`

// scanOrder scans a single order row.
func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o                                             domain.Order
		uidHex, ownerHex, sellTokenHex, buyTokenHex   string
		sellAmountStr, buyAmountStr, remainingSellStr string
	)

	err := row.Scan(
		&uidHex, &ownerHex, &sellTokenHex, &buyTokenHex,
		&sellAmountStr, &buyAmountStr,
		&o.ValidFrom, &o.ValidTo, &o.PartiallyFillable, &o.Signature,
		&remainingSellStr, &o.Cancelled, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.UID = common.HexToHash(uidHex)
	o.Owner = common.HexToAddress(ownerHex)
	o.SellToken = common.HexToAddress(sellTokenHex)
	o.BuyToken = common.HexToAddress(buyTokenHex)

	var ok bool
	if o.SellAmount, ok = new(big.Int).SetString(sellAmountStr, 10); !ok {
		return nil, fmt.Errorf("parse sell_amount %q", sellAmountStr)
	}
	if o.BuyAmount, ok = new(big.Int).SetString(buyAmountStr, 10); !ok {
		return nil, fmt.Errorf("parse buy_amount %q", buyAmountStr)
	}
	if o.RemainingSell, ok = new(big.Int).SetString(remainingSellStr, 10); !ok {
		return nil, fmt.Errorf("parse remaining_sell %q", remainingSellStr)
	}

	return &o, nil
}

// scanOrders scans all order rows.
func scanOrders(rows pgx.Rows) ([]*domain.Order, error) {
	var result []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return result, nil
}
