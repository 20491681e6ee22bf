package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"dexfeed/internal/domain"
	"dexfeed/internal/storage"
)

// MarketMakerStore implements storage.MarketMakerStore using PostgreSQL.
type MarketMakerStore struct {
	pool *Pool
}

// NewMarketMakerStore creates a new MarketMakerStore.
func NewMarketMakerStore(pool *Pool) *MarketMakerStore {
	return &MarketMakerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MarketMakerStore = (*MarketMakerStore)(nil)

// UpsertBulk writes full position rows keyed by (chain, pair_address, address).
// The ledger holds authoritative state in memory, so rows overwrite whole.
func (s *MarketMakerStore) UpsertBulk(ctx context.Context, positions []*domain.MarketMakerPosition) error {
	if len(positions) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO market_makers (
			chain, pair_address, address, liquidity, fees, profit_loss
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chain, pair_address, address) DO UPDATE SET
			liquidity = EXCLUDED.liquidity,
			fees = EXCLUDED.fees,
			profit_loss = EXCLUDED.profit_loss
	`

	for _, p := range positions {
		if p == nil || p.Address == "" || p.PairAddress == "" {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, query,
			p.Chain,
			p.PairAddress,
			p.Address,
			p.Liquidity.String(),
			p.Fees.String(),
			p.ProfitLoss.String(),
		)
		if err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByPair retrieves all positions for a pair, ordered by address ASC.
func (s *MarketMakerStore) GetByPair(ctx context.Context, chain domain.Chain, pair string) ([]*domain.MarketMakerPosition, error) {
	query := `
		SELECT chain, pair_address, address, liquidity::text, fees::text, profit_loss::text
		FROM market_makers
		WHERE chain = $1 AND pair_address = $2
		ORDER BY address ASC
	`

	rows, err := s.pool.Query(ctx, query, chain, pair)
	if err != nil {
		return nil, fmt.Errorf("get positions by pair: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

func scanPositions(rows pgx.Rows) ([]*domain.MarketMakerPosition, error) {
	var result []*domain.MarketMakerPosition
	for rows.Next() {
		var (
			p                           domain.MarketMakerPosition
			liquidity, fees, profitLoss string
		)
		if err := rows.Scan(
			&p.Chain,
			&p.PairAddress,
			&p.Address,
			&liquidity,
			&fees,
			&profitLoss,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		var err error
		if p.Liquidity, err = decimal.NewFromString(liquidity); err != nil {
			return nil, fmt.Errorf("parse liquidity: %w", err)
		}
		if p.Fees, err = decimal.NewFromString(fees); err != nil {
			return nil, fmt.Errorf("parse fees: %w", err)
		}
		if p.ProfitLoss, err = decimal.NewFromString(profitLoss); err != nil {
			return nil, fmt.Errorf("parse profit_loss: %w", err)
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return result, nil
}
