package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluster/fluster/internal/crypto"
	"github.com/fluster/fluster/internal/domain"
)

// Custody is the account-lifecycle side of the collateral vault.
type Custody interface {
	Open(ctx context.Context, owner, asset string, decimals uint8) (domain.VaultAccount, error)
	Credit(ctx context.Context, address string, amount uint64) error
	Withdraw(ctx context.Context, address string, amount uint64) error
	Balance(ctx context.Context, address string) (uint64, error)
	Close(ctx context.Context, address string) error
}

// VaultService handles user-facing custody operations: deposits, withdrawals,
// and account closure. Each mutating operation is gated by the owner's
// signature over the request payload.
type VaultService struct {
	uow       domain.UnitOfWork
	pools     domain.PoolStore
	accounts  domain.VaultAccountStore
	positions domain.PositionStore
	custody   Custody
	audit     domain.AuditStore
	logger    *slog.Logger

	requireSignature bool
}

// NewVaultService creates a VaultService with all required dependencies.
func NewVaultService(
	uow domain.UnitOfWork,
	pools domain.PoolStore,
	accounts domain.VaultAccountStore,
	positions domain.PositionStore,
	custody Custody,
	audit domain.AuditStore,
	requireSignature bool,
	logger *slog.Logger,
) *VaultService {
	return &VaultService{
		uow:              uow,
		pools:            pools,
		accounts:         accounts,
		positions:        positions,
		custody:          custody,
		audit:            audit,
		logger:           logger,
		requireSignature: requireSignature,
	}
}

// Deposit credits the owner's custody account for the pool's asset, creating
// the account at its derived address on first use. The pool's deposit bit
// must be enabled.
func (s *VaultService) Deposit(ctx context.Context, poolID, owner string, amount uint64, sigHex string) (domain.VaultAccount, error) {
	if amount == 0 {
		return domain.VaultAccount{}, fmt.Errorf("vault_service: zero deposit: %w", domain.ErrInvalidAmount)
	}

	pool, err := s.pools.Get(ctx, poolID)
	if err != nil {
		return domain.VaultAccount{}, fmt.Errorf("vault_service: pool %s: %w", poolID, err)
	}
	if !pool.StatusEnabled(domain.PoolStatusDeposit) {
		return domain.VaultAccount{}, fmt.Errorf("vault_service: pool %s deposits disabled: %w", poolID, domain.ErrNotApproved)
	}

	if err := s.verify("deposit", pool.TokenMint, amount, sigHex, owner); err != nil {
		return domain.VaultAccount{}, err
	}

	var acct domain.VaultAccount
	err = s.uow.Do(ctx, func(ctx context.Context) error {
		acct, err = s.custody.Open(ctx, owner, pool.TokenMint, pool.TokenDecimals)
		if err != nil {
			return fmt.Errorf("vault_service: open account: %w", err)
		}
		if err := s.custody.Credit(ctx, acct.Address, amount); err != nil {
			return fmt.Errorf("vault_service: credit: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.VaultAccount{}, err
	}

	s.auditLog(ctx, "vault_deposit", map[string]any{
		"owner": owner, "asset": pool.TokenMint, "amount": amount,
	})
	s.logger.InfoContext(ctx, "vault_service: deposit",
		slog.String("owner", owner),
		slog.String("asset", pool.TokenMint),
		slog.Uint64("amount", amount),
	)
	return s.accounts.Get(ctx, acct.Address)
}

// Withdraw debits the owner's custody account. The pool's withdraw bit must
// be enabled; a balance shortfall fails with domain.ErrInsufficientFunds.
func (s *VaultService) Withdraw(ctx context.Context, poolID, owner string, amount uint64, sigHex string) error {
	if amount == 0 {
		return fmt.Errorf("vault_service: zero withdrawal: %w", domain.ErrInvalidAmount)
	}

	pool, err := s.pools.Get(ctx, poolID)
	if err != nil {
		return fmt.Errorf("vault_service: pool %s: %w", poolID, err)
	}
	if !pool.StatusEnabled(domain.PoolStatusWithdraw) {
		return fmt.Errorf("vault_service: pool %s withdrawals disabled: %w", poolID, domain.ErrNotApproved)
	}

	if err := s.verify("withdraw", pool.TokenMint, amount, sigHex, owner); err != nil {
		return err
	}

	addr := crypto.DeriveUserAccountAddress(owner, pool.TokenMint)
	if err := s.custody.Withdraw(ctx, addr, amount); err != nil {
		return fmt.Errorf("vault_service: %w", err)
	}

	s.auditLog(ctx, "vault_withdraw", map[string]any{
		"owner": owner, "asset": pool.TokenMint, "amount": amount,
	})
	s.logger.InfoContext(ctx, "vault_service: withdrawal",
		slog.String("owner", owner),
		slog.String("asset", pool.TokenMint),
		slog.Uint64("amount", amount),
	)
	return nil
}

// CloseAccount refunds any remaining balance and deletes the custody account.
// It is rejected with domain.ErrAccountInUse while the owner holds an open
// unexpired position; expired positions waiting on settlement do not block.
func (s *VaultService) CloseAccount(ctx context.Context, poolID, owner string, sigHex string) (refunded uint64, err error) {
	pool, err := s.pools.Get(ctx, poolID)
	if err != nil {
		return 0, fmt.Errorf("vault_service: pool %s: %w", poolID, err)
	}

	if err := s.verify("close", pool.TokenMint, 0, sigHex, owner); err != nil {
		return 0, err
	}

	addr := crypto.DeriveUserAccountAddress(owner, pool.TokenMint)
	err = s.uow.Do(ctx, func(ctx context.Context) error {
		open, err := s.positions.ListOpen(ctx, owner)
		if err != nil {
			return fmt.Errorf("vault_service: open positions: %w", err)
		}
		now := time.Now().UTC()
		for _, pos := range open {
			if pos.ExpiresAt.After(now) {
				return fmt.Errorf("vault_service: position %s still live: %w", pos.ID, domain.ErrAccountInUse)
			}
		}

		refunded, err = s.custody.Balance(ctx, addr)
		if err != nil {
			return fmt.Errorf("vault_service: balance: %w", err)
		}
		if refunded > 0 {
			if err := s.custody.Withdraw(ctx, addr, refunded); err != nil {
				return fmt.Errorf("vault_service: refund: %w", err)
			}
		}
		if err := s.custody.Close(ctx, addr); err != nil {
			return fmt.Errorf("vault_service: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.auditLog(ctx, "vault_account_closed", map[string]any{
		"owner": owner, "asset": pool.TokenMint, "refunded": refunded,
	})
	s.logger.InfoContext(ctx, "vault_service: account closed",
		slog.String("owner", owner),
		slog.String("asset", pool.TokenMint),
		slog.Uint64("refunded", refunded),
	)
	return refunded, nil
}

// GetAccount returns the owner's custody account for the pool's asset.
func (s *VaultService) GetAccount(ctx context.Context, poolID, owner string) (domain.VaultAccount, error) {
	pool, err := s.pools.Get(ctx, poolID)
	if err != nil {
		return domain.VaultAccount{}, fmt.Errorf("vault_service: pool %s: %w", poolID, err)
	}
	acct, err := s.accounts.GetByOwner(ctx, owner, pool.TokenMint)
	if err != nil {
		return domain.VaultAccount{}, fmt.Errorf("vault_service: account for %q: %w", owner, err)
	}
	return acct, nil
}

// ListAccounts returns all custody accounts held by an owner.
func (s *VaultService) ListAccounts(ctx context.Context, owner string) ([]domain.VaultAccount, error) {
	accts, err := s.accounts.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("vault_service: list accounts for %q: %w", owner, err)
	}
	return accts, nil
}

func (s *VaultService) verify(action, asset string, amount uint64, sigHex, owner string) error {
	if !s.requireSignature {
		return nil
	}
	payload := crypto.TransferPayload{Action: action, Asset: asset, Amount: amount}
	if err := crypto.VerifyTransfer(payload, sigHex, owner); err != nil {
		return fmt.Errorf("vault_service: %s signature: %w", action, err)
	}
	return nil
}

func (s *VaultService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "vault_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
