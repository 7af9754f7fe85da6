package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fluster/fluster/internal/domain"
)

// TriggerStore implements domain.TriggerStore using PostgreSQL. The thread id
// primary key enforces the scheduler's idempotency-of-id contract.
type TriggerStore struct {
	pool *pgxpool.Pool
}

// NewTriggerStore creates a new TriggerStore backed by the given connection pool.
func NewTriggerStore(pool *pgxpool.Pool) *TriggerStore {
	return &TriggerStore{pool: pool}
}

const triggerSelectCols = `thread_id, authority, callback, trigger_at,
	fee_amount, fee_payer, status, created_at, fired_at`

func scanTriggerRow(row pgx.Row) (domain.ScheduledTrigger, error) {
	var t domain.ScheduledTrigger
	var callbackJSON []byte
	var feeAmount int64
	var status string

	err := row.Scan(
		&t.ThreadID, &t.Authority, &callbackJSON, &t.TriggerAt,
		&feeAmount, &t.FeePayer, &status, &t.CreatedAt, &t.FiredAt,
	)
	if err != nil {
		return domain.ScheduledTrigger{}, err
	}
	if err := json.Unmarshal(callbackJSON, &t.Callback); err != nil {
		return domain.ScheduledTrigger{}, fmt.Errorf("decode callback: %w", err)
	}
	t.FeeAmount = uint64(feeAmount)
	t.Status = domain.TriggerStatus(status)
	return t, nil
}

// Create registers a new one-shot trigger. Reusing a thread id fails with
// ErrDuplicateSchedule.
func (s *TriggerStore) Create(ctx context.Context, t domain.ScheduledTrigger) error {
	callbackJSON, err := json.Marshal(t.Callback)
	if err != nil {
		return fmt.Errorf("postgres: marshal trigger callback: %w", err)
	}

	const query = `
		INSERT INTO triggers (
			thread_id, authority, callback, trigger_at,
			fee_amount, fee_payer, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = q(ctx, s.pool).Exec(ctx, query,
		t.ThreadID, t.Authority, callbackJSON, t.TriggerAt,
		int64(t.FeeAmount), t.FeePayer, string(t.Status), t.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateSchedule
		}
		return fmt.Errorf("postgres: create trigger %s: %w", t.ThreadID, err)
	}
	return nil
}

// Get retrieves a trigger by its thread id.
func (s *TriggerStore) Get(ctx context.Context, threadID string) (domain.ScheduledTrigger, error) {
	row := q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+triggerSelectCols+` FROM triggers WHERE thread_id = $1`, threadID)

	t, err := scanTriggerRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ScheduledTrigger{}, domain.ErrNotFound
		}
		return domain.ScheduledTrigger{}, fmt.Errorf("postgres: get trigger %s: %w", threadID, err)
	}
	return t, nil
}

// ListDue returns pending triggers whose trigger_at is at or before now,
// oldest first.
func (s *TriggerStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledTrigger, error) {
	rows, err := q(ctx, s.pool).Query(ctx,
		`SELECT `+triggerSelectCols+` FROM triggers
		 WHERE status = 'pending' AND trigger_at <= $1
		 ORDER BY trigger_at
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due triggers: %w", err)
	}
	defer rows.Close()

	var triggers []domain.ScheduledTrigger
	for rows.Next() {
		t, err := scanTriggerRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan due trigger: %w", err)
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// MarkFired transitions a pending trigger to fired exactly once.
func (s *TriggerStore) MarkFired(ctx context.Context, threadID string, firedAt time.Time) error {
	tag, err := q(ctx, s.pool).Exec(ctx,
		`UPDATE triggers SET status = 'fired', fired_at = $2 WHERE thread_id = $1 AND status = 'pending'`,
		threadID, firedAt)
	if err != nil {
		return fmt.Errorf("postgres: mark trigger %s fired: %w", threadID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListFiredBefore returns fired triggers older than the cutoff, for archival.
func (s *TriggerStore) ListFiredBefore(ctx context.Context, before time.Time) ([]domain.ScheduledTrigger, error) {
	rows, err := q(ctx, s.pool).Query(ctx,
		`SELECT `+triggerSelectCols+` FROM triggers
		 WHERE status = 'fired' AND fired_at < $1
		 ORDER BY fired_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fired triggers: %w", err)
	}
	defer rows.Close()

	var triggers []domain.ScheduledTrigger
	for rows.Next() {
		t, err := scanTriggerRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan fired trigger: %w", err)
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// Compile-time interface check.
var _ domain.TriggerStore = (*TriggerStore)(nil)
