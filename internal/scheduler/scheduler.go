// Package scheduler registers one-shot settlement triggers and dispatches
// them when due. Registration happens inside the caller's transaction so a
// trigger and the position it settles commit together; dispatch is a separate
// best-effort loop that fires triggers at-or-after their deadline.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluster/fluster/internal/domain"
	"github.com/fluster/fluster/internal/vault"
)

// DefaultAutomationFee is the fee debited from the payer for each trigger
// registration, in base units of the settlement asset.
const DefaultAutomationFee uint64 = 10_000_000

// SettleEntrypoint is the callback entry point carried by betting triggers.
const SettleEntrypoint = "bet_settle"

// Service registers triggers. The fee debit and the trigger row share the
// caller's transaction scope.
type Service struct {
	triggers domain.TriggerStore
	vault    *vault.Vault
	fee      uint64
	logger   *slog.Logger
}

func NewService(triggers domain.TriggerStore, v *vault.Vault, fee uint64, logger *slog.Logger) *Service {
	if fee == 0 {
		fee = DefaultAutomationFee
	}
	return &Service{
		triggers: triggers,
		vault:    v,
		fee:      fee,
		logger:   logger,
	}
}

// Fee returns the automation fee charged per registration.
func (s *Service) Fee() uint64 {
	return s.fee
}

// RegisterOneShot debits the automation fee from the payer into the fee vault
// and records the trigger. A thread id that is already registered fails with
// domain.ErrDuplicateSchedule; a payer that cannot cover the fee fails with
// domain.ErrInsufficientFunds. Neither failure leaves a partial registration
// when the caller runs this inside a unit of work.
func (s *Service) RegisterOneShot(ctx context.Context, t domain.ScheduledTrigger, feeVault string) error {
	if err := s.vault.Transfer(ctx, t.FeePayer, feeVault, s.fee); err != nil {
		return fmt.Errorf("scheduler: automation fee: %w", err)
	}

	t.FeeAmount = s.fee
	t.Status = domain.TriggerStatusPending
	t.CreatedAt = time.Now().UTC()
	if err := s.triggers.Create(ctx, t); err != nil {
		return fmt.Errorf("scheduler: register %s: %w", t.ThreadID, err)
	}

	s.logger.InfoContext(ctx, "scheduler: trigger registered",
		slog.String("thread_id", t.ThreadID),
		slog.Time("trigger_at", t.TriggerAt),
		slog.Uint64("fee", s.fee),
	)
	return nil
}
