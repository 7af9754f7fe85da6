package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluster/fluster/internal/crypto"
	"github.com/fluster/fluster/internal/domain"
	"github.com/fluster/fluster/internal/vault"
)

type vaultEnv struct {
	db   *memDB
	svc  *VaultService
	pool domain.Pool
}

func newVaultEnv(t *testing.T, requireSignature bool) *vaultEnv {
	t.Helper()

	db := newMemDB()
	logger := testLogger()
	keyring, err := crypto.NewKeyring([]byte("test-program-secret"))
	require.NoError(t, err)
	custody := vault.New(&accountStore{db}, keyring, logger)

	pool := domain.Pool{
		ID:            "pool-sol",
		TokenMint:     testMint,
		TokenOracle:   testFeedRef,
		TokenDecimals: 9,
		MaxLeverage:   10,
	}
	pool.SetStatus(domain.PoolStatusDeposit, true)
	pool.SetStatus(domain.PoolStatusWithdraw, true)
	pool.SetStatus(domain.PoolStatusBet, true)
	db.pools[pool.ID] = pool

	svc := NewVaultService(
		&memUoW{db},
		&poolStore{db},
		&accountStore{db},
		&positionStore{db},
		custody,
		&auditStore{db},
		requireSignature,
		logger,
	)
	return &vaultEnv{db: db, svc: svc, pool: pool}
}

func TestDeposit_CreatesAndCredits(t *testing.T) {
	env := newVaultEnv(t, false)

	acct, err := env.svc.Deposit(context.Background(), env.pool.ID, testOwner, 5_000, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), acct.Balance)
	assert.Equal(t, testOwner, acct.Owner)
	assert.Equal(t, testMint, acct.Asset)
	assert.Equal(t, crypto.DeriveUserAccountAddress(testOwner, testMint), acct.Address)

	// second deposit accumulates on the same account
	acct, err = env.svc.Deposit(context.Background(), env.pool.ID, testOwner, 1_500, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(6_500), acct.Balance)
	assert.Contains(t, env.db.audit, "vault_deposit")
}

func TestDeposit_ZeroAmount(t *testing.T) {
	env := newVaultEnv(t, false)

	_, err := env.svc.Deposit(context.Background(), env.pool.ID, testOwner, 0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestDeposit_Disabled(t *testing.T) {
	env := newVaultEnv(t, false)
	p := env.db.pools[env.pool.ID]
	p.SetStatus(domain.PoolStatusDeposit, false)
	env.db.pools[env.pool.ID] = p

	_, err := env.svc.Deposit(context.Background(), env.pool.ID, testOwner, 100, "")
	assert.ErrorIs(t, err, domain.ErrNotApproved)
}

func TestDeposit_SignatureRequired(t *testing.T) {
	env := newVaultEnv(t, true)

	signer, err := crypto.NewBetSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	owner := signer.Address().Hex()

	sig, err := signer.SignTransfer(crypto.TransferPayload{Action: "deposit", Asset: testMint, Amount: 100})
	require.NoError(t, err)

	_, err = env.svc.Deposit(context.Background(), env.pool.ID, owner, 100, sig)
	assert.NoError(t, err)

	// the same signature does not cover a different amount
	_, err = env.svc.Deposit(context.Background(), env.pool.ID, owner, 200, sig)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestWithdraw_RoundTrip(t *testing.T) {
	env := newVaultEnv(t, false)

	_, err := env.svc.Deposit(context.Background(), env.pool.ID, testOwner, 1_000, "")
	require.NoError(t, err)

	require.NoError(t, env.svc.Withdraw(context.Background(), env.pool.ID, testOwner, 400, ""))

	acct, err := env.svc.GetAccount(context.Background(), env.pool.ID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), acct.Balance)
}

func TestWithdraw_Insufficient(t *testing.T) {
	env := newVaultEnv(t, false)

	_, err := env.svc.Deposit(context.Background(), env.pool.ID, testOwner, 100, "")
	require.NoError(t, err)

	err = env.svc.Withdraw(context.Background(), env.pool.ID, testOwner, 500, "")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestWithdraw_Disabled(t *testing.T) {
	env := newVaultEnv(t, false)
	p := env.db.pools[env.pool.ID]
	p.SetStatus(domain.PoolStatusWithdraw, false)
	env.db.pools[env.pool.ID] = p

	err := env.svc.Withdraw(context.Background(), env.pool.ID, testOwner, 100, "")
	assert.ErrorIs(t, err, domain.ErrNotApproved)
}

func TestCloseAccount_RefundsBalance(t *testing.T) {
	env := newVaultEnv(t, false)

	_, err := env.svc.Deposit(context.Background(), env.pool.ID, testOwner, 777, "")
	require.NoError(t, err)

	refunded, err := env.svc.CloseAccount(context.Background(), env.pool.ID, testOwner, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(777), refunded)

	_, err = env.svc.GetAccount(context.Background(), env.pool.ID, testOwner)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCloseAccount_BlockedByLivePosition(t *testing.T) {
	env := newVaultEnv(t, false)

	_, err := env.svc.Deposit(context.Background(), env.pool.ID, testOwner, 777, "")
	require.NoError(t, err)

	env.db.positions[env.pool.ID+"/"+testOwner] = domain.BettingPosition{
		ID:        "pos-1",
		PoolID:    env.pool.ID,
		Owner:     testOwner,
		Status:    domain.PositionStatusOpen,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}

	_, err = env.svc.CloseAccount(context.Background(), env.pool.ID, testOwner, "")
	assert.ErrorIs(t, err, domain.ErrAccountInUse)
}

func TestCloseAccount_ExpiredPositionDoesNotBlock(t *testing.T) {
	env := newVaultEnv(t, false)

	_, err := env.svc.Deposit(context.Background(), env.pool.ID, testOwner, 50, "")
	require.NoError(t, err)

	// expired but not yet settled: the dispatcher owns it from here
	env.db.positions[env.pool.ID+"/"+testOwner] = domain.BettingPosition{
		ID:        "pos-1",
		PoolID:    env.pool.ID,
		Owner:     testOwner,
		Status:    domain.PositionStatusOpen,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}

	refunded, err := env.svc.CloseAccount(context.Background(), env.pool.ID, testOwner, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(50), refunded)
}

func TestListAccounts(t *testing.T) {
	env := newVaultEnv(t, false)

	_, err := env.svc.Deposit(context.Background(), env.pool.ID, testOwner, 10, "")
	require.NoError(t, err)

	accts, err := env.svc.ListAccounts(context.Background(), testOwner)
	require.NoError(t, err)
	require.Len(t, accts, 1)
	assert.Equal(t, uint64(10), accts[0].Balance)
}
