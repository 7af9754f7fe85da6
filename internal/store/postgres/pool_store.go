package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fluster/fluster/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

const poolSelectCols = `id, token_mint, token_vault, fee_vault, token_oracle,
	token_decimals, max_leverage, protocol_fee_rate, status_bits,
	authority_bump, created_at, updated_at`

func scanPoolRow(row pgx.Row) (domain.Pool, error) {
	var p domain.Pool
	var decimals, maxLeverage, statusBits, bump int16
	var feeRate int32

	err := row.Scan(
		&p.ID, &p.TokenMint, &p.TokenVault, &p.FeeVault, &p.TokenOracle,
		&decimals, &maxLeverage, &feeRate, &statusBits,
		&bump, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Pool{}, err
	}
	p.TokenDecimals = uint8(decimals)
	p.MaxLeverage = uint8(maxLeverage)
	p.ProtocolFeeRate = uint16(feeRate)
	p.StatusBits = uint8(statusBits)
	p.AuthorityBump = uint8(bump)
	return p, nil
}

// Create inserts a new pool.
func (s *PoolStore) Create(ctx context.Context, p domain.Pool) error {
	const query = `
		INSERT INTO pools (
			id, token_mint, token_vault, fee_vault, token_oracle,
			token_decimals, max_leverage, protocol_fee_rate, status_bits,
			authority_bump, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())`

	_, err := q(ctx, s.pool).Exec(ctx, query,
		p.ID, p.TokenMint, p.TokenVault, p.FeeVault, p.TokenOracle,
		int16(p.TokenDecimals), int16(p.MaxLeverage), int32(p.ProtocolFeeRate),
		int16(p.StatusBits), int16(p.AuthorityBump), p.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create pool %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces the mutable policy fields of a pool.
func (s *PoolStore) Update(ctx context.Context, p domain.Pool) error {
	const query = `
		UPDATE pools SET
			max_leverage      = $2,
			protocol_fee_rate = $3,
			status_bits       = $4,
			updated_at        = NOW()
		WHERE id = $1`

	tag, err := q(ctx, s.pool).Exec(ctx, query,
		p.ID, int16(p.MaxLeverage), int32(p.ProtocolFeeRate), int16(p.StatusBits),
	)
	if err != nil {
		return fmt.Errorf("postgres: update pool %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get retrieves a single pool by its ID.
func (s *PoolStore) Get(ctx context.Context, id string) (domain.Pool, error) {
	row := q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+poolSelectCols+` FROM pools WHERE id = $1`, id)

	p, err := scanPoolRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Pool{}, domain.ErrNotFound
		}
		return domain.Pool{}, fmt.Errorf("postgres: get pool %s: %w", id, err)
	}
	return p, nil
}

// List returns pools ordered by creation time.
func (s *PoolStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Pool, error) {
	query := `SELECT ` + poolSelectCols + ` FROM pools ORDER BY created_at`
	args := []any{}
	if opts.Limit > 0 {
		query += " LIMIT $1"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET $2"
			args = append(args, opts.Offset)
		}
	}

	rows, err := q(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.Pool
	for rows.Next() {
		p, err := scanPoolRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// Compile-time interface check.
var _ domain.PoolStore = (*PoolStore)(nil)
