package vault

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluster/fluster/internal/crypto"
	"github.com/fluster/fluster/internal/domain"
)

type memAccounts struct {
	byAddr map[string]domain.VaultAccount
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byAddr: make(map[string]domain.VaultAccount)}
}

func (s *memAccounts) Create(_ context.Context, acct domain.VaultAccount) error {
	if _, ok := s.byAddr[acct.Address]; ok {
		return domain.ErrAlreadyExists
	}
	s.byAddr[acct.Address] = acct
	return nil
}

func (s *memAccounts) Get(_ context.Context, address string) (domain.VaultAccount, error) {
	acct, ok := s.byAddr[address]
	if !ok {
		return domain.VaultAccount{}, domain.ErrNotFound
	}
	return acct, nil
}

func (s *memAccounts) GetByOwner(_ context.Context, owner, asset string) (domain.VaultAccount, error) {
	for _, acct := range s.byAddr {
		if acct.Owner == owner && acct.Asset == asset {
			return acct, nil
		}
	}
	return domain.VaultAccount{}, domain.ErrNotFound
}

func (s *memAccounts) Credit(_ context.Context, address string, amount uint64) error {
	acct, ok := s.byAddr[address]
	if !ok {
		return domain.ErrNotFound
	}
	acct.Balance += amount
	s.byAddr[address] = acct
	return nil
}

func (s *memAccounts) Debit(_ context.Context, address string, amount uint64) error {
	acct, ok := s.byAddr[address]
	if !ok {
		return domain.ErrNotFound
	}
	if acct.Balance < amount {
		return domain.ErrInsufficientFunds
	}
	acct.Balance -= amount
	s.byAddr[address] = acct
	return nil
}

func (s *memAccounts) Delete(_ context.Context, address string) error {
	if _, ok := s.byAddr[address]; !ok {
		return domain.ErrNotFound
	}
	delete(s.byAddr, address)
	return nil
}

func (s *memAccounts) ListByOwner(_ context.Context, owner string) ([]domain.VaultAccount, error) {
	var out []domain.VaultAccount
	for _, acct := range s.byAddr {
		if acct.Owner == owner {
			out = append(out, acct)
		}
	}
	return out, nil
}

func newTestVault(t *testing.T) (*Vault, *memAccounts, *crypto.Keyring) {
	t.Helper()
	keyring, err := crypto.NewKeyring([]byte("test-program-secret"))
	require.NoError(t, err)
	accounts := newMemAccounts()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(accounts, keyring, logger), accounts, keyring
}

func TestOpen_DerivedAddressIdempotent(t *testing.T) {
	v, _, _ := newTestVault(t)

	first, err := v.Open(context.Background(), "owner-1", "SOL", 9)
	require.NoError(t, err)
	assert.Equal(t, crypto.DeriveUserAccountAddress("owner-1", "SOL"), first.Address)
	assert.Equal(t, uint64(0), first.Balance)

	require.NoError(t, v.Credit(context.Background(), first.Address, 300))

	// reopening returns the live account, not a reset one
	again, err := v.Open(context.Background(), "owner-1", "SOL", 9)
	require.NoError(t, err)
	assert.Equal(t, first.Address, again.Address)
	assert.Equal(t, uint64(300), again.Balance)
}

func TestTransfer(t *testing.T) {
	v, accounts, _ := newTestVault(t)
	accounts.byAddr["a"] = domain.VaultAccount{Address: "a", Balance: 100}
	accounts.byAddr["b"] = domain.VaultAccount{Address: "b"}

	require.NoError(t, v.Transfer(context.Background(), "a", "b", 60))
	assert.Equal(t, uint64(40), accounts.byAddr["a"].Balance)
	assert.Equal(t, uint64(60), accounts.byAddr["b"].Balance)
}

func TestTransfer_Insufficient(t *testing.T) {
	v, accounts, _ := newTestVault(t)
	accounts.byAddr["a"] = domain.VaultAccount{Address: "a", Balance: 10}
	accounts.byAddr["b"] = domain.VaultAccount{Address: "b"}

	err := v.Transfer(context.Background(), "a", "b", 60)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, uint64(10), accounts.byAddr["a"].Balance)
	assert.Equal(t, uint64(0), accounts.byAddr["b"].Balance)
}

func TestTransferFromVault_AuthorityGate(t *testing.T) {
	v, accounts, keyring := newTestVault(t)
	accounts.byAddr["vault"] = domain.VaultAccount{Address: "vault", Balance: 500}
	accounts.byAddr["user"] = domain.VaultAccount{Address: "user"}

	auth := keyring.Derive(crypto.AuthSeed, 254)
	require.NoError(t, v.TransferFromVault(context.Background(), auth, 254, "vault", "user", 200))
	assert.Equal(t, uint64(300), accounts.byAddr["vault"].Balance)
	assert.Equal(t, uint64(200), accounts.byAddr["user"].Balance)

	// a capability for a different bump must fail before any balance moves
	err := v.TransferFromVault(context.Background(), auth, 253, "vault", "user", 200)
	assert.ErrorIs(t, err, domain.ErrAuthorityMismatch)
	assert.Equal(t, uint64(300), accounts.byAddr["vault"].Balance)
}

func TestWithdraw(t *testing.T) {
	v, accounts, _ := newTestVault(t)
	accounts.byAddr["a"] = domain.VaultAccount{Address: "a", Balance: 100}

	require.NoError(t, v.Withdraw(context.Background(), "a", 100))
	assert.Equal(t, uint64(0), accounts.byAddr["a"].Balance)

	err := v.Withdraw(context.Background(), "a", 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestClose(t *testing.T) {
	v, accounts, _ := newTestVault(t)
	accounts.byAddr["a"] = domain.VaultAccount{Address: "a", Balance: 5}

	err := v.Close(context.Background(), "a")
	assert.ErrorIs(t, err, domain.ErrAccountInUse)

	require.NoError(t, v.Withdraw(context.Background(), "a", 5))
	require.NoError(t, v.Close(context.Background(), "a"))
	_, ok := accounts.byAddr["a"]
	assert.False(t, ok)
}
