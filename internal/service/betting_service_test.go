package service

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluster/fluster/internal/crypto"
	"github.com/fluster/fluster/internal/domain"
	"github.com/fluster/fluster/internal/oracle"
	"github.com/fluster/fluster/internal/scheduler"
	"github.com/fluster/fluster/internal/vault"
)

const (
	testMint    = "SOL"
	testFeedRef = "feeds/sol-usd"
	testOwner   = "0x1111111111111111111111111111111111111111"
	testFee     = uint64(500)
)

type betEnv struct {
	db      *memDB
	svc     *BettingService
	bus     *memBus
	limiter *memLimiter
	feed    oracle.StaticSource
	pool    domain.Pool
	custody *vault.Vault
}

func newBetEnv(t *testing.T, cfg BettingConfig) *betEnv {
	t.Helper()

	db := newMemDB()
	logger := testLogger()
	keyring, err := crypto.NewKeyring([]byte("test-program-secret"))
	require.NoError(t, err)

	accounts := &accountStore{db}
	custody := vault.New(accounts, keyring, logger)

	feed := oracle.StaticSource{
		testFeedRef: {Mantissa: 14_325_000_000, Exponent: -8, PublishedAt: time.Now().UTC()},
	}
	priceOracle := oracle.New(feed, oracle.DefaultMaxStaleness, logger)
	registrar := scheduler.NewService(&triggerStore{db}, custody, testFee, logger)

	authority := keyring.Derive(crypto.AuthSeed, 254)
	pool := domain.Pool{
		ID:            "pool-sol",
		TokenMint:     testMint,
		TokenVault:    crypto.DeriveUserAccountAddress(authority.Address(), testMint),
		FeeVault:      crypto.DeriveUserAccountAddress(authority.Address(), testMint+":fees"),
		TokenOracle:   testFeedRef,
		TokenDecimals: 9,
		MaxLeverage:   10,
		AuthorityBump: 254,
	}
	pool.SetStatus(domain.PoolStatusDeposit, true)
	pool.SetStatus(domain.PoolStatusWithdraw, true)
	pool.SetStatus(domain.PoolStatusBet, true)
	db.pools[pool.ID] = pool

	for _, addr := range []string{pool.TokenVault, pool.FeeVault} {
		db.accounts[addr] = domain.VaultAccount{
			Address: addr, Owner: authority.Address(), Asset: testMint, Decimals: 9,
		}
	}

	bus := newMemBus()
	limiter := &memLimiter{allowed: true}
	svc := NewBettingService(
		cfg,
		&memUoW{db},
		&poolStore{db},
		&positionStore{db},
		custody,
		priceOracle,
		registrar,
		limiter,
		bus,
		&auditStore{db},
		logger,
	)
	return &betEnv{db: db, svc: svc, bus: bus, limiter: limiter, feed: feed, pool: pool, custody: custody}
}

// fund credits the owner's derived custody account, creating it when needed.
func (e *betEnv) fund(t *testing.T, owner string, amount uint64) string {
	t.Helper()
	addr := crypto.DeriveUserAccountAddress(owner, testMint)
	acct, ok := e.db.accounts[addr]
	if !ok {
		acct = domain.VaultAccount{Address: addr, Owner: owner, Asset: testMint, Decimals: 9}
	}
	acct.Balance += amount
	e.db.accounts[addr] = acct
	return addr
}

func (e *betEnv) balance(addr string) uint64 {
	return e.db.accounts[addr].Balance
}

func openReq(threadID string) OpenBetRequest {
	return OpenBetRequest{
		ThreadID:        threadID,
		PoolID:          "pool-sol",
		Owner:           testOwner,
		Direction:       domain.DirectionUp,
		Leverage:        5,
		AmountIn:        1000,
		DurationSeconds: 300,
	}
}

func TestOpenBet_Success(t *testing.T) {
	env := newBetEnv(t, BettingConfig{})
	ownerAddr := env.fund(t, testOwner, 200+testFee)

	pos, err := env.svc.OpenBet(context.Background(), openReq("thread-1"))
	require.NoError(t, err)

	// floor(1000 / 5) collateral custodied, notional retained for payout math
	assert.Equal(t, uint64(200), pos.AmountAtRisk)
	assert.Equal(t, uint64(1000), pos.Notional)
	assert.Equal(t, uint64(14_325_000_000), pos.EntryPrice)
	assert.Equal(t, int32(-8), pos.EntryExponent)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, "thread-1", pos.ThreadID)
	assert.WithinDuration(t, pos.OpenedAt.Add(300*time.Second), pos.ExpiresAt, time.Second)

	assert.Equal(t, uint64(0), env.balance(ownerAddr))
	assert.Equal(t, uint64(200), env.balance(env.pool.TokenVault))
	assert.Equal(t, testFee, env.balance(env.pool.FeeVault))

	trig, ok := env.db.triggers["thread-1"]
	require.True(t, ok)
	assert.Equal(t, domain.TriggerStatusPending, trig.Status)
	assert.Equal(t, testFee, trig.FeeAmount)
	assert.Equal(t, scheduler.SettleEntrypoint, trig.Callback.Entrypoint)
	assert.Equal(t, pos.ID, trig.Callback.PositionID)
	assert.True(t, trig.TriggerAt.Equal(pos.ExpiresAt))

	require.Len(t, env.bus.published[OrdersChannel], 1)
	require.Len(t, env.bus.streamed[OrdersStream], 1)
	var evt domain.OrderPlaced
	require.NoError(t, json.Unmarshal(env.bus.published[OrdersChannel][0], &evt))
	assert.Equal(t, "order_placed", evt.Event)
	assert.Equal(t, pos.ID, evt.PositionID)
	assert.Equal(t, uint64(0), evt.VaultBalanceBefore)
	assert.Equal(t, uint64(1000), evt.AmountIn)
	assert.Contains(t, env.db.audit, "order_placed")
}

func TestOpenBet_BettingDisabled(t *testing.T) {
	env := newBetEnv(t, BettingConfig{})
	ownerAddr := env.fund(t, testOwner, 10_000)

	p := env.db.pools[env.pool.ID]
	p.SetStatus(domain.PoolStatusBet, false)
	env.db.pools[env.pool.ID] = p

	_, err := env.svc.OpenBet(context.Background(), openReq("thread-1"))
	assert.ErrorIs(t, err, domain.ErrNotApproved)
	assert.Equal(t, uint64(10_000), env.balance(ownerAddr))
	assert.Empty(t, env.bus.published[OrdersChannel])
}

func TestOpenBet_LeverageOutOfRange(t *testing.T) {
	env := newBetEnv(t, BettingConfig{})
	env.fund(t, testOwner, 10_000)

	req := openReq("thread-1")
	req.Leverage = 0
	_, err := env.svc.OpenBet(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrNotApproved)

	req.Leverage = 11 // pool max is 10
	_, err = env.svc.OpenBet(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrNotApproved)
}

func TestOpenBet_AmountRoundsToZeroRisk(t *testing.T) {
	env := newBetEnv(t, BettingConfig{})
	env.fund(t, testOwner, 10_000)

	req := openReq("thread-1")
	req.AmountIn = 4
	req.Leverage = 10
	_, err := env.svc.OpenBet(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestOpenBet_StaleOracle(t *testing.T) {
	env := newBetEnv(t, BettingConfig{})
	ownerAddr := env.fund(t, testOwner, 10_000)

	env.feed[testFeedRef] = domain.PriceQuote{
		Mantissa:    14_325_000_000,
		Exponent:    -8,
		PublishedAt: time.Now().UTC().Add(-15 * time.Second),
	}

	_, err := env.svc.OpenBet(context.Background(), openReq("thread-1"))
	assert.ErrorIs(t, err, domain.ErrOracleStale)

	// nothing moved and nothing was scheduled
	assert.Equal(t, uint64(10_000), env.balance(ownerAddr))
	assert.Equal(t, uint64(0), env.balance(env.pool.TokenVault))
	assert.Empty(t, env.db.triggers)
	assert.Empty(t, env.bus.published[OrdersChannel])
}

func TestOpenBet_OracleUnavailable(t *testing.T) {
	env := newBetEnv(t, BettingConfig{})
	env.fund(t, testOwner, 10_000)
	delete(env.feed, testFeedRef)

	_, err := env.svc.OpenBet(context.Background(), openReq("thread-1"))
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
}

func TestOpenBet_InsufficientCollateral(t *testing.T) {
	env := newBetEnv(t, BettingConfig{})
	ownerAddr := env.fund(t, testOwner, 100) // needs 200

	_, err := env.svc.OpenBet(context.Background(), openReq("thread-1"))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, uint64(100), env.balance(ownerAddr))
	assert.Empty(t, env.db.positions)
}

func TestOpenBet_AutomationFeeShortfall(t *testing.T) {
	env := newBetEnv(t, BettingConfig{})
	ownerAddr := env.fund(t, testOwner, 200) // covers collateral but not the fee

	_, err := env.svc.OpenBet(context.Background(), openReq("thread-1"))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// the whole open rolled back, including the collateral transfer
	assert.Equal(t, uint64(200), env.balance(ownerAddr))
	assert.Equal(t, uint64(0), env.balance(env.pool.TokenVault))
	assert.Empty(t, env.db.positions)
	assert.Empty(t, env.db.triggers)
	assert.Empty(t, env.bus.published[OrdersChannel])
}

func TestOpenBet_DuplicateThreadID(t *testing.T) {
	env := newBetEnv(t, BettingConfig{})
	env.fund(t, testOwner, 2*(200+testFee))

	first, err := env.svc.OpenBet(context.Background(), openReq("thread-1"))
	require.NoError(t, err)

	_, err = env.svc.OpenBet(context.Background(), openReq("thread-1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateSchedule)

	// the first position survives untouched
	got, err := env.svc.GetPosition(context.Background(), env.pool.ID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Len(t, env.bus.published[OrdersChannel], 1)
}

func TestOpenBet_ReopenOverwrites(t *testing.T) {
	env := newBetEnv(t, BettingConfig{})
	env.fund(t, testOwner, 2*(200+testFee))

	first, err := env.svc.OpenBet(context.Background(), openReq("thread-1"))
	require.NoError(t, err)

	req := openReq("thread-2")
	req.Direction = domain.DirectionDown
	second, err := env.svc.OpenBet(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	open, err := env.svc.ListOpenPositions(context.Background(), testOwner)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, second.ID, open[0].ID)
	assert.Equal(t, domain.DirectionDown, open[0].Direction)
}

func TestOpenBet_RateLimited(t *testing.T) {
	env := newBetEnv(t, BettingConfig{})
	env.fund(t, testOwner, 10_000)
	env.limiter.allowed = false

	_, err := env.svc.OpenBet(context.Background(), openReq("thread-1"))
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestOpenBet_LimiterErrorFailsOpen(t *testing.T) {
	env := newBetEnv(t, BettingConfig{})
	env.fund(t, testOwner, 200+testFee)
	env.limiter.err = context.DeadlineExceeded

	_, err := env.svc.OpenBet(context.Background(), openReq("thread-1"))
	assert.NoError(t, err)
}

func TestOpenBet_InvalidDirection(t *testing.T) {
	env := newBetEnv(t, BettingConfig{})
	env.fund(t, testOwner, 10_000)

	req := openReq("thread-1")
	req.Direction = domain.Direction(7)
	_, err := env.svc.OpenBet(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestOpenBet_DurationOverflow(t *testing.T) {
	env := newBetEnv(t, BettingConfig{})
	env.fund(t, testOwner, 10_000)

	req := openReq("thread-1")
	req.DurationSeconds = math.MaxUint64
	_, err := env.svc.OpenBet(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrOverflow)
}

func TestOpenBet_SignatureGate(t *testing.T) {
	env := newBetEnv(t, BettingConfig{RequireSignature: true})

	signer, err := crypto.NewBetSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	owner := signer.Address().Hex()
	env.fund(t, owner, 200+testFee)

	req := openReq("thread-1")
	req.Owner = owner
	sig, err := signer.Sign(crypto.BetPayload{
		ThreadID:        req.ThreadID,
		PoolID:          req.PoolID,
		Direction:       req.Direction,
		Leverage:        req.Leverage,
		AmountIn:        req.AmountIn,
		DurationSeconds: req.DurationSeconds,
	})
	require.NoError(t, err)
	req.Signature = sig

	_, err = env.svc.OpenBet(context.Background(), req)
	require.NoError(t, err)

	// a signature over different terms must not authorize this request
	tampered := req
	tampered.ThreadID = "thread-2"
	tampered.AmountIn = 9999
	_, err = env.svc.OpenBet(context.Background(), tampered)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestInertOperationsAccept(t *testing.T) {
	env := newBetEnv(t, BettingConfig{})
	ctx := context.Background()

	assert.NoError(t, env.svc.CancelBet(ctx, env.pool.ID, testOwner))
	assert.NoError(t, env.svc.RevealResult(ctx, env.pool.ID, testOwner))
	assert.NoError(t, env.svc.ClaimPayout(ctx, env.pool.ID, testOwner))
}
