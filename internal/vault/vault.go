// Package vault implements collateral custody: deterministic per-user custody
// accounts, balance movements with sufficiency enforced at the store, and
// authority-gated transfers out of program-controlled accounts.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluster/fluster/internal/crypto"
	"github.com/fluster/fluster/internal/domain"
)

// Vault moves collateral between custody accounts. It never pre-checks
// balances; the store's Debit is the single sufficiency gate.
type Vault struct {
	accounts domain.VaultAccountStore
	keyring  *crypto.Keyring
	logger   *slog.Logger
}

func New(accounts domain.VaultAccountStore, keyring *crypto.Keyring, logger *slog.Logger) *Vault {
	return &Vault{
		accounts: accounts,
		keyring:  keyring,
		logger:   logger,
	}
}

// Open creates the custody account for an (owner, asset) pair at its derived
// address. Opening an account that already exists returns the existing record.
func (v *Vault) Open(ctx context.Context, owner, asset string, decimals uint8) (domain.VaultAccount, error) {
	addr := crypto.DeriveUserAccountAddress(owner, asset)
	now := time.Now().UTC()
	acct := domain.VaultAccount{
		Address:   addr,
		Owner:     owner,
		Asset:     asset,
		Balance:   0,
		Decimals:  decimals,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := v.accounts.Create(ctx, acct); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return v.accounts.Get(ctx, addr)
		}
		return domain.VaultAccount{}, fmt.Errorf("vault: open account %s: %w", addr, err)
	}
	return acct, nil
}

// Balance returns the current balance of a custody account.
func (v *Vault) Balance(ctx context.Context, address string) (uint64, error) {
	acct, err := v.accounts.Get(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("vault: balance %s: %w", address, err)
	}
	return acct.Balance, nil
}

// Credit adds amount to a custody account.
func (v *Vault) Credit(ctx context.Context, address string, amount uint64) error {
	if err := v.accounts.Credit(ctx, address, amount); err != nil {
		return fmt.Errorf("vault: credit %s: %w", address, err)
	}
	return nil
}

// Transfer moves amount from a user-held custody account into another
// account. The caller authenticates the source owner; the debit fails with
// domain.ErrInsufficientFunds when the balance cannot cover the amount, and
// no credit happens in that case.
func (v *Vault) Transfer(ctx context.Context, from, to string, amount uint64) error {
	if err := v.accounts.Debit(ctx, from, amount); err != nil {
		return fmt.Errorf("vault: debit %s: %w", from, err)
	}
	if err := v.accounts.Credit(ctx, to, amount); err != nil {
		return fmt.Errorf("vault: credit %s: %w", to, err)
	}
	return nil
}

// Withdraw removes amount from a custody account, handing it back to the
// owner's external wallet. It fails with domain.ErrInsufficientFunds when the
// balance cannot cover the amount.
func (v *Vault) Withdraw(ctx context.Context, address string, amount uint64) error {
	if err := v.accounts.Debit(ctx, address, amount); err != nil {
		return fmt.Errorf("vault: withdraw %s: %w", address, err)
	}
	return nil
}

// TransferFromVault moves amount out of a program-controlled account. The
// capability must verify against the derivation recorded when the pool was
// created, otherwise the transfer fails with domain.ErrAuthorityMismatch
// before any balance changes.
func (v *Vault) TransferFromVault(ctx context.Context, auth crypto.Authority, bump uint8, from, to string, amount uint64) error {
	if err := v.keyring.Verify(auth, crypto.AuthSeed, bump); err != nil {
		return fmt.Errorf("vault: transfer from %s: %w", from, err)
	}
	if err := v.accounts.Debit(ctx, from, amount); err != nil {
		return fmt.Errorf("vault: debit %s: %w", from, err)
	}
	if err := v.accounts.Credit(ctx, to, amount); err != nil {
		return fmt.Errorf("vault: credit %s: %w", to, err)
	}
	v.logger.InfoContext(ctx, "vault: authority transfer",
		slog.String("from", from),
		slog.String("to", to),
		slog.Uint64("amount", amount),
	)
	return nil
}

// Close removes an empty custody account. Accounts holding funds must be
// drained first.
func (v *Vault) Close(ctx context.Context, address string) error {
	acct, err := v.accounts.Get(ctx, address)
	if err != nil {
		return fmt.Errorf("vault: close %s: %w", address, err)
	}
	if acct.Balance > 0 {
		return fmt.Errorf("vault: close %s with balance %d: %w", address, acct.Balance, domain.ErrAccountInUse)
	}
	if err := v.accounts.Delete(ctx, address); err != nil {
		return fmt.Errorf("vault: close %s: %w", address, err)
	}
	return nil
}
