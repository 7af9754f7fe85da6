package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fluster/fluster/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, pool_id, owner, direction, amount_at_risk,
	notional, leverage, entry_price, entry_exponent, thread_id, status,
	expires_at, opened_at`

func scanPositionRow(row pgx.Row) (domain.BettingPosition, error) {
	var p domain.BettingPosition
	var direction, leverage int16
	var amountAtRisk, notional, entryPrice int64
	var status string

	err := row.Scan(
		&p.ID, &p.PoolID, &p.Owner, &direction, &amountAtRisk,
		&notional, &leverage, &entryPrice, &p.EntryExponent, &p.ThreadID,
		&status, &p.ExpiresAt, &p.OpenedAt,
	)
	if err != nil {
		return domain.BettingPosition{}, err
	}
	p.Direction = domain.Direction(direction)
	p.AmountAtRisk = uint64(amountAtRisk)
	p.Notional = uint64(notional)
	p.Leverage = uint8(leverage)
	p.EntryPrice = uint64(entryPrice)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

// Upsert creates the position for its (pool, owner) pair, or overwrites the
// prior record when one already exists.
func (s *PositionStore) Upsert(ctx context.Context, p domain.BettingPosition) error {
	const query = `
		INSERT INTO positions (
			id, pool_id, owner, direction, amount_at_risk,
			notional, leverage, entry_price, entry_exponent, thread_id,
			status, expires_at, opened_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, NOW()
		)
		ON CONFLICT (pool_id, owner) DO UPDATE SET
			id             = EXCLUDED.id,
			direction      = EXCLUDED.direction,
			amount_at_risk = EXCLUDED.amount_at_risk,
			notional       = EXCLUDED.notional,
			leverage       = EXCLUDED.leverage,
			entry_price    = EXCLUDED.entry_price,
			entry_exponent = EXCLUDED.entry_exponent,
			thread_id      = EXCLUDED.thread_id,
			status         = EXCLUDED.status,
			expires_at     = EXCLUDED.expires_at,
			opened_at      = EXCLUDED.opened_at,
			updated_at     = NOW()`

	_, err := q(ctx, s.pool).Exec(ctx, query,
		p.ID, p.PoolID, p.Owner, int16(p.Direction), int64(p.AmountAtRisk),
		int64(p.Notional), int16(p.Leverage), int64(p.EntryPrice), p.EntryExponent, p.ThreadID,
		string(p.Status), p.ExpiresAt, p.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.ID, err)
	}
	return nil
}

// Get retrieves the position for a (pool, owner) pair.
func (s *PositionStore) Get(ctx context.Context, poolID, owner string) (domain.BettingPosition, error) {
	row := q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE pool_id = $1 AND owner = $2`,
		poolID, owner)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BettingPosition{}, domain.ErrNotFound
		}
		return domain.BettingPosition{}, fmt.Errorf("postgres: get position %s/%s: %w", poolID, owner, err)
	}
	return p, nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.BettingPosition, error) {
	row := q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BettingPosition{}, domain.ErrNotFound
		}
		return domain.BettingPosition{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns all open positions for the given owner.
func (s *PositionStore) ListOpen(ctx context.Context, owner string) ([]domain.BettingPosition, error) {
	rows, err := q(ctx, s.pool).Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE owner = $1 AND status = 'open'
		 ORDER BY opened_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.BettingPosition
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan open position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// CountOpenByOwner returns the number of open positions for an owner. The
// vault refuses to close a custody account while this is non-zero.
func (s *PositionStore) CountOpenByOwner(ctx context.Context, owner string) (int64, error) {
	var count int64
	err := q(ctx, s.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE owner = $1 AND status = 'open'`,
		owner).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count open positions for %s: %w", owner, err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
