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

// VaultAccountStore implements domain.VaultAccountStore using PostgreSQL.
// Balance changes are guarded by the table's non-negative check, so an
// overdraft can never be persisted even outside Debit.
type VaultAccountStore struct {
	pool *pgxpool.Pool
}

// NewVaultAccountStore creates a new VaultAccountStore backed by the given
// connection pool.
func NewVaultAccountStore(pool *pgxpool.Pool) *VaultAccountStore {
	return &VaultAccountStore{pool: pool}
}

const vaultSelectCols = `address, owner, asset, balance, decimals, created_at, updated_at`

func scanVaultRow(row pgx.Row) (domain.VaultAccount, error) {
	var a domain.VaultAccount
	var balance int64
	var decimals int16

	err := row.Scan(&a.Address, &a.Owner, &a.Asset, &balance, &decimals, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.VaultAccount{}, err
	}
	a.Balance = uint64(balance)
	a.Decimals = uint8(decimals)
	return a, nil
}

// Create inserts a new custody account.
func (s *VaultAccountStore) Create(ctx context.Context, a domain.VaultAccount) error {
	const query = `
		INSERT INTO vault_accounts (address, owner, asset, balance, decimals, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`

	_, err := q(ctx, s.pool).Exec(ctx, query,
		a.Address, a.Owner, a.Asset, int64(a.Balance), int16(a.Decimals), a.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create vault account %s: %w", a.Address, err)
	}
	return nil
}

// Get retrieves a custody account by its address.
func (s *VaultAccountStore) Get(ctx context.Context, address string) (domain.VaultAccount, error) {
	row := q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+vaultSelectCols+` FROM vault_accounts WHERE address = $1`, address)

	a, err := scanVaultRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.VaultAccount{}, domain.ErrNotFound
		}
		return domain.VaultAccount{}, fmt.Errorf("postgres: get vault account %s: %w", address, err)
	}
	return a, nil
}

// GetByOwner retrieves the custody account for an (owner, asset) pair.
func (s *VaultAccountStore) GetByOwner(ctx context.Context, owner, asset string) (domain.VaultAccount, error) {
	row := q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+vaultSelectCols+` FROM vault_accounts WHERE owner = $1 AND asset = $2`,
		owner, asset)

	a, err := scanVaultRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.VaultAccount{}, domain.ErrNotFound
		}
		return domain.VaultAccount{}, fmt.Errorf("postgres: get vault account %s/%s: %w", owner, asset, err)
	}
	return a, nil
}

// Credit adds amount to the account balance.
func (s *VaultAccountStore) Credit(ctx context.Context, address string, amount uint64) error {
	tag, err := q(ctx, s.pool).Exec(ctx,
		`UPDATE vault_accounts SET balance = balance + $2, updated_at = NOW() WHERE address = $1`,
		address, int64(amount))
	if err != nil {
		return fmt.Errorf("postgres: credit vault account %s: %w", address, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Debit removes amount from the account balance. It returns
// ErrInsufficientFunds when the balance is smaller than amount; the balance
// is never pre-checked by callers.
func (s *VaultAccountStore) Debit(ctx context.Context, address string, amount uint64) error {
	tag, err := q(ctx, s.pool).Exec(ctx,
		`UPDATE vault_accounts SET balance = balance - $2, updated_at = NOW()
		 WHERE address = $1 AND balance >= $2`,
		address, int64(amount))
	if err != nil {
		return fmt.Errorf("postgres: debit vault account %s: %w", address, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q(ctx, s.pool).QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM vault_accounts WHERE address = $1)`,
			address).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: debit vault account %s: %w", address, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrInsufficientFunds
	}
	return nil
}

// Delete removes a custody account.
func (s *VaultAccountStore) Delete(ctx context.Context, address string) error {
	tag, err := q(ctx, s.pool).Exec(ctx,
		`DELETE FROM vault_accounts WHERE address = $1`, address)
	if err != nil {
		return fmt.Errorf("postgres: delete vault account %s: %w", address, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByOwner returns all custody accounts belonging to an owner.
func (s *VaultAccountStore) ListByOwner(ctx context.Context, owner string) ([]domain.VaultAccount, error) {
	rows, err := q(ctx, s.pool).Query(ctx,
		`SELECT `+vaultSelectCols+` FROM vault_accounts WHERE owner = $1 ORDER BY created_at`,
		owner)
	if err != nil {
		return nil, fmt.Errorf("postgres: list vault accounts for %s: %w", owner, err)
	}
	defer rows.Close()

	var accounts []domain.VaultAccount
	for rows.Next() {
		a, err := scanVaultRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan vault account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Compile-time interface check.
var _ domain.VaultAccountStore = (*VaultAccountStore)(nil)
