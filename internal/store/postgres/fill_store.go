package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pairarb/pairarb/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL. Fills are
// append-only; there is no update path.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

var _ domain.FillStore = (*FillStore)(nil)

const fillCols = `id, order_id, market_id, token_id, side, price, size, filled_at`

func scanFills(rows pgx.Rows) ([]domain.Fill, error) {
	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side string
		if err := rows.Scan(
			&f.ID, &f.OrderID, &f.MarketID, &f.TokenID,
			&side, &f.Price, &f.Size, &f.FilledAt,
		); err != nil {
			return nil, err
		}
		f.Side = domain.TokenSide(side)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// Insert appends a fill row.
func (s *FillStore) Insert(ctx context.Context, f domain.Fill) error {
	const query = `
		INSERT INTO fills (
			id, order_id, market_id, token_id, side, price, size, filled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		f.ID, f.OrderID, f.MarketID, f.TokenID,
		string(f.Side), f.Price, f.Size, f.FilledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert fill %s: %w", f.ID, err)
	}
	return nil
}

// ListByMarket returns all fills for a market in execution order.
func (s *FillStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillCols+` FROM fills
		 WHERE market_id = $1
		 ORDER BY filled_at ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills for %s: %w", marketID, err)
	}
	defer rows.Close()

	fills, err := scanFills(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills for %s: %w", marketID, err)
	}
	return fills, nil
}

// ListAll returns fills across all markets in execution order, with optional
// time filtering and pagination.
func (s *FillStore) ListAll(ctx context.Context, opts domain.ListOpts) ([]domain.Fill, error) {
	query := `SELECT ` + fillCols + ` FROM fills WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND filled_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND filled_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY filled_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills: %w", err)
	}
	defer rows.Close()

	fills, err := scanFills(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills: %w", err)
	}
	return fills, nil
}
