package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"batch-settler/internal/domain"
	"batch-settler/internal/storage"
)

// SettlementStore implements storage.SettlementStore using PostgreSQL.
// Trades are stored as JSONB next to the settlement row; the read API
// never needs to filter on individual trades.
type SettlementStore struct {
	pool *Pool
}

// NewSettlementStore creates a new SettlementStore.
func NewSettlementStore(pool *Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SettlementStore = (*SettlementStore)(nil)

// tradeRow is the JSON shape of one trade. Amounts travel as decimal
// strings to survive JSON number precision limits.
type tradeRow struct {
	OrderUID     string `json:"order_uid"`
	SellToken    string `json:"sell_token"`
	BuyToken     string `json:"buy_token"`
	ExecutedSell string `json:"executed_sell"`
	ExecutedBuy  string `json:"executed_buy"`
}

// Insert adds a settlement record. Returns ErrDuplicateKey if a record
// for (auction_id, tx_hash) exists.
func (s *SettlementStore) Insert(ctx context.Context, r *domain.SettlementRecord) error {
	if r == nil || r.Surplus == nil {
		return storage.ErrInvalidInput
	}

	trades := make([]tradeRow, len(r.Trades))
	for i, t := range r.Trades {
		trades[i] = tradeRow{
			OrderUID:     t.OrderUID.Hex(),
			SellToken:    t.SellToken.Hex(),
			BuyToken:     t.BuyToken.Hex(),
			ExecutedSell: t.ExecutedSell.String(),
			ExecutedBuy:  t.ExecutedBuy.String(),
		}
	}
	tradesJSON, err := json.Marshal(trades)
	if err != nil {
		return fmt.Errorf("marshal trades: %w", err)
	}

	query := `
		INSERT INTO settlements (auction_id, strategy, tx_hash, surplus, gas_used, trades)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = s.pool.Exec(ctx, query,
		r.AuctionID,
		r.Strategy,
		r.TxHash.Hex(),
		r.Surplus.String(),
		r.GasUsed,
		tradesJSON,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

// MaxAuctionID returns the highest recorded auction ID, zero when empty.
func (s *SettlementStore) MaxAuctionID(ctx context.Context) (uint64, error) {
	var max uint64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(auction_id), 0) FROM settlements`,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max auction id: %w", err)
	}
	return max, nil
}

// GetByAuctionID retrieves all settlement records for an auction.
func (s *SettlementStore) GetByAuctionID(ctx context.Context, auctionID uint64) ([]*domain.SettlementRecord, error) {
	query := `
		SELECT auction_id, strategy, tx_hash, surplus::text, gas_used, trades
		FROM settlements
		WHERE auction_id = $1
		ORDER BY tx_hash ASC
	`

	rows, err := s.pool.Query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("get settlements by auction id: %w", err)
	}
	defer rows.Close()

	var result []*domain.SettlementRecord
	for rows.Next() {
		var (
			r          domain.SettlementRecord
			txHashHex  string
			surplusStr string
			tradesJSON []byte
		)
		if err := rows.Scan(&r.AuctionID, &r.Strategy, &txHashHex, &surplusStr, &r.GasUsed, &tradesJSON); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}

		r.TxHash = common.HexToHash(txHashHex)
		var ok bool
		if r.Surplus, ok = new(big.Int).SetString(surplusStr, 10); !ok {
			return nil, fmt.Errorf("parse surplus %q", surplusStr)
		}

		var trades []tradeRow
		if err := json.Unmarshal(tradesJSON, &trades); err != nil {
			return nil, fmt.Errorf("unmarshal trades: %w", err)
		}
		for _, t := range trades {
			executedSell, ok := new(big.Int).SetString(t.ExecutedSell, 10)
			if !ok {
				return nil, fmt.Errorf("parse executed_sell %q", t.ExecutedSell)
			}
			executedBuy, ok := new(big.Int).SetString(t.ExecutedBuy, 10)
			if !ok {
				return nil, fmt.Errorf("parse executed_buy %q", t.ExecutedBuy)
			}
			r.Trades = append(r.Trades, domain.Trade{
				OrderUID:     common.HexToHash(t.OrderUID),
				SellToken:    common.HexToAddress(t.SellToken),
				BuyToken:     common.HexToAddress(t.BuyToken),
				ExecutedSell: executedSell,
				ExecutedBuy:  executedBuy,
			})
		}

		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlements: %w", err)
	}
	return result, nil
}
