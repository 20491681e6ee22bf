package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"dexfeed/internal/domain"
	"dexfeed/internal/storage"
)

// TransactionStore implements storage.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *Pool
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(pool *Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransactionStore = (*TransactionStore)(nil)

// UpsertBulk records transactions keyed by (chain, tx_hash). Redelivered
// hashes overwrite in place, so replays never grow the ledger.
func (s *TransactionStore) UpsertBulk(ctx context.Context, txs []*domain.TransactionRecord) error {
	if len(txs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO transactions (
			chain, pair_address, tx_hash, sender, recipient, amount, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chain, tx_hash) DO UPDATE SET
			pair_address = EXCLUDED.pair_address,
			sender = EXCLUDED.sender,
			recipient = EXCLUDED.recipient,
			amount = EXCLUDED.amount,
			timestamp = EXCLUDED.timestamp
	`

	for _, rec := range txs {
		if rec == nil || rec.TxHash == "" {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, query,
			rec.Chain,
			rec.PairAddress,
			rec.TxHash,
			rec.Sender,
			rec.To,
			rec.Amount.String(),
			rec.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("upsert transaction: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Exists reports whether a transaction hash has been recorded.
func (s *TransactionStore) Exists(ctx context.Context, chain domain.Chain, txHash string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM transactions WHERE chain = $1 AND tx_hash = $2)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, chain, txHash).Scan(&exists); err != nil {
		return false, fmt.Errorf("transaction exists: %w", err)
	}
	return exists, nil
}

// GetLatestByPair retrieves up to limit transactions for a pair, newest first.
func (s *TransactionStore) GetLatestByPair(ctx context.Context, chain domain.Chain, pair string, limit int) ([]*domain.TransactionRecord, error) {
	query := `
		SELECT chain, pair_address, tx_hash, sender, recipient, amount::text, timestamp
		FROM transactions
		WHERE chain = $1 AND pair_address = $2
		ORDER BY timestamp DESC, tx_hash DESC
		LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, chain, pair, limit)
	if err != nil {
		return nil, fmt.Errorf("get latest transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func scanTransactions(rows pgx.Rows) ([]*domain.TransactionRecord, error) {
	var result []*domain.TransactionRecord
	for rows.Next() {
		var (
			rec    domain.TransactionRecord
			amount string
		)
		if err := rows.Scan(
			&rec.Chain,
			&rec.PairAddress,
			&rec.TxHash,
			&rec.Sender,
			&rec.To,
			&amount,
			&rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		dec, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse transaction amount: %w", err)
		}
		rec.Amount = dec
		result = append(result, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return result, nil
}
