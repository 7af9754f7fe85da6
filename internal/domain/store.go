package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// UnitOfWork runs fn atomically: every store call made through the ctx it
// passes to fn commits together, or none do. The opening pipeline relies on
// this so a position record never exists without custodied funds backing it.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// PoolStore persists pool configurations.
type PoolStore interface {
	Create(ctx context.Context, p Pool) error
	Update(ctx context.Context, p Pool) error
	Get(ctx context.Context, id string) (Pool, error)
	List(ctx context.Context, opts ListOpts) ([]Pool, error)
}

// PositionStore persists betting positions, one per (pool, owner) pair.
type PositionStore interface {
	// Upsert creates the position on first bet and overwrites it on reopen.
	Upsert(ctx context.Context, pos BettingPosition) error
	Get(ctx context.Context, poolID, owner string) (BettingPosition, error)
	GetByID(ctx context.Context, id string) (BettingPosition, error)
	ListOpen(ctx context.Context, owner string) ([]BettingPosition, error)
	CountOpenByOwner(ctx context.Context, owner string) (int64, error)
}

// VaultAccountStore persists custody balances. Debit returns
// ErrInsufficientFunds when the balance is smaller than the amount; callers
// never pre-check.
type VaultAccountStore interface {
	Create(ctx context.Context, acct VaultAccount) error
	Get(ctx context.Context, address string) (VaultAccount, error)
	GetByOwner(ctx context.Context, owner, asset string) (VaultAccount, error)
	Credit(ctx context.Context, address string, amount uint64) error
	Debit(ctx context.Context, address string, amount uint64) error
	Delete(ctx context.Context, address string) error
	ListByOwner(ctx context.Context, owner string) ([]VaultAccount, error)
}

// TriggerStore persists one-shot settlement triggers. Create returns
// ErrDuplicateSchedule when the thread id is already in use.
type TriggerStore interface {
	Create(ctx context.Context, t ScheduledTrigger) error
	Get(ctx context.Context, threadID string) (ScheduledTrigger, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]ScheduledTrigger, error)
	MarkFired(ctx context.Context, threadID string, firedAt time.Time) error
	ListFiredBefore(ctx context.Context, before time.Time) ([]ScheduledTrigger, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}
