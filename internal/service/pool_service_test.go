package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluster/fluster/internal/crypto"
	"github.com/fluster/fluster/internal/domain"
)

func newPoolEnv(t *testing.T) (*memDB, *PoolService) {
	t.Helper()
	db := newMemDB()
	keyring, err := crypto.NewKeyring([]byte("test-program-secret"))
	require.NoError(t, err)
	svc := NewPoolService(
		&memUoW{db},
		&poolStore{db},
		&accountStore{db},
		keyring,
		&auditStore{db},
		testLogger(),
	)
	return db, svc
}

func initReq() InitializePoolRequest {
	return InitializePoolRequest{
		TokenMint:     testMint,
		TokenOracle:   testFeedRef,
		TokenDecimals: 9,
		MaxLeverage:   10,
		AuthorityBump: 254,
	}
}

func TestInitializePool(t *testing.T) {
	db, svc := newPoolEnv(t)

	pool, err := svc.InitializePool(context.Background(), initReq())
	require.NoError(t, err)

	assert.True(t, pool.StatusEnabled(domain.PoolStatusDeposit))
	assert.True(t, pool.StatusEnabled(domain.PoolStatusWithdraw))
	assert.True(t, pool.StatusEnabled(domain.PoolStatusBet))
	assert.NotEqual(t, pool.TokenVault, pool.FeeVault)

	// both custody accounts exist at their derived addresses
	_, ok := db.accounts[pool.TokenVault]
	assert.True(t, ok)
	_, ok = db.accounts[pool.FeeVault]
	assert.True(t, ok)

	got, err := svc.GetPool(context.Background(), pool.ID)
	require.NoError(t, err)
	assert.Equal(t, pool.ID, got.ID)
	assert.Contains(t, db.audit, "pool_initialized")
}

func TestInitializePool_Validation(t *testing.T) {
	_, svc := newPoolEnv(t)

	req := initReq()
	req.MaxLeverage = 0
	_, err := svc.InitializePool(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	req = initReq()
	req.TokenMint = ""
	_, err = svc.InitializePool(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestInitializePool_SameAuthorityForSameBump(t *testing.T) {
	_, svc := newPoolEnv(t)

	first, err := svc.InitializePool(context.Background(), initReq())
	require.NoError(t, err)

	req := initReq()
	req.TokenMint = "ETH"
	second, err := svc.InitializePool(context.Background(), req)
	require.NoError(t, err)

	// different assets, same derivation: the accounts must not collide
	assert.NotEqual(t, first.TokenVault, second.TokenVault)
	assert.Equal(t, first.AuthorityBump, second.AuthorityBump)
}

func TestUpdatePoolState(t *testing.T) {
	_, svc := newPoolEnv(t)

	pool, err := svc.InitializePool(context.Background(), initReq())
	require.NoError(t, err)

	off := false
	lev := uint8(20)
	updated, err := svc.UpdatePoolState(context.Background(), pool.ID, UpdatePoolStateRequest{
		BetEnabled:  &off,
		MaxLeverage: &lev,
	})
	require.NoError(t, err)

	assert.False(t, updated.StatusEnabled(domain.PoolStatusBet))
	assert.True(t, updated.StatusEnabled(domain.PoolStatusDeposit))
	assert.Equal(t, uint8(20), updated.MaxLeverage)
}

func TestUpdatePoolState_Validation(t *testing.T) {
	_, svc := newPoolEnv(t)

	pool, err := svc.InitializePool(context.Background(), initReq())
	require.NoError(t, err)

	zero := uint8(0)
	_, err = svc.UpdatePoolState(context.Background(), pool.ID, UpdatePoolStateRequest{MaxLeverage: &zero})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.UpdatePoolState(context.Background(), "missing", UpdatePoolStateRequest{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListPools(t *testing.T) {
	_, svc := newPoolEnv(t)

	_, err := svc.InitializePool(context.Background(), initReq())
	require.NoError(t, err)
	req := initReq()
	req.TokenMint = "ETH"
	_, err = svc.InitializePool(context.Background(), req)
	require.NoError(t, err)

	pools, err := svc.ListPools(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, pools, 2)
}
