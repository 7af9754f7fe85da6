package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fluster/fluster/internal/crypto"
	"github.com/fluster/fluster/internal/domain"
)

// InitializePoolRequest carries the full configuration for a new pool.
type InitializePoolRequest struct {
	TokenMint       string
	TokenOracle     string
	TokenDecimals   uint8
	MaxLeverage     uint8
	ProtocolFeeRate uint16
	AuthorityBump   uint8
}

// PoolService administers pools: creation wires up the custody accounts and
// records the authority derivation; updates touch policy fields only. The
// HTTP layer gates both behind the admin key.
type PoolService struct {
	uow      domain.UnitOfWork
	pools    domain.PoolStore
	accounts domain.VaultAccountStore
	keyring  *crypto.Keyring
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewPoolService creates a PoolService with all required dependencies.
func NewPoolService(
	uow domain.UnitOfWork,
	pools domain.PoolStore,
	accounts domain.VaultAccountStore,
	keyring *crypto.Keyring,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PoolService {
	return &PoolService{
		uow:      uow,
		pools:    pools,
		accounts: accounts,
		keyring:  keyring,
		audit:    audit,
		logger:   logger,
	}
}

// InitializePool creates a pool together with its token vault and fee vault
// custody accounts. The vault addresses derive from the signing authority
// recorded on the pool, so transfers out of them verify against the same
// (seed, bump) forever after.
func (s *PoolService) InitializePool(ctx context.Context, req InitializePoolRequest) (domain.Pool, error) {
	if req.MaxLeverage == 0 {
		return domain.Pool{}, fmt.Errorf("pool_service: max leverage must be at least 1: %w", domain.ErrInvalidAmount)
	}
	if req.TokenMint == "" || req.TokenOracle == "" {
		return domain.Pool{}, fmt.Errorf("pool_service: token mint and oracle required: %w", domain.ErrInvalidAmount)
	}

	authority := s.keyring.Derive(crypto.AuthSeed, req.AuthorityBump)
	now := time.Now().UTC()

	pool := domain.Pool{
		ID:              uuid.NewString(),
		TokenMint:       req.TokenMint,
		TokenVault:      crypto.DeriveUserAccountAddress(authority.Address(), req.TokenMint),
		FeeVault:        crypto.DeriveUserAccountAddress(authority.Address(), req.TokenMint+":fees"),
		TokenOracle:     req.TokenOracle,
		TokenDecimals:   req.TokenDecimals,
		MaxLeverage:     req.MaxLeverage,
		ProtocolFeeRate: req.ProtocolFeeRate,
		AuthorityBump:   req.AuthorityBump,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	pool.SetStatus(domain.PoolStatusDeposit, true)
	pool.SetStatus(domain.PoolStatusWithdraw, true)
	pool.SetStatus(domain.PoolStatusBet, true)

	err := s.uow.Do(ctx, func(ctx context.Context) error {
		for _, addr := range []string{pool.TokenVault, pool.FeeVault} {
			acct := domain.VaultAccount{
				Address:   addr,
				Owner:     authority.Address(),
				Asset:     pool.TokenMint,
				Decimals:  pool.TokenDecimals,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.accounts.Create(ctx, acct); err != nil {
				return fmt.Errorf("pool_service: create vault %s: %w", addr, err)
			}
		}
		if err := s.pools.Create(ctx, pool); err != nil {
			return fmt.Errorf("pool_service: create pool: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Pool{}, err
	}

	s.auditLog(ctx, "pool_initialized", map[string]any{
		"pool_id":      pool.ID,
		"token_mint":   pool.TokenMint,
		"max_leverage": pool.MaxLeverage,
		"authority":    authority.Address(),
	})
	s.logger.InfoContext(ctx, "pool_service: pool initialized",
		slog.String("pool_id", pool.ID),
		slog.String("token_mint", pool.TokenMint),
		slog.String("authority", authority.Address()),
	)
	return pool, nil
}

// UpdatePoolStateRequest carries the mutable policy fields. Nil pointers
// leave the current value untouched.
type UpdatePoolStateRequest struct {
	DepositEnabled  *bool
	WithdrawEnabled *bool
	BetEnabled      *bool
	MaxLeverage     *uint8
	ProtocolFeeRate *uint16
	TokenOracle     *string
}

// UpdatePoolState applies a partial policy update to an existing pool.
func (s *PoolService) UpdatePoolState(ctx context.Context, poolID string, req UpdatePoolStateRequest) (domain.Pool, error) {
	var pool domain.Pool
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		pool, err = s.pools.Get(ctx, poolID)
		if err != nil {
			return fmt.Errorf("pool_service: pool %s: %w", poolID, err)
		}

		if req.DepositEnabled != nil {
			pool.SetStatus(domain.PoolStatusDeposit, *req.DepositEnabled)
		}
		if req.WithdrawEnabled != nil {
			pool.SetStatus(domain.PoolStatusWithdraw, *req.WithdrawEnabled)
		}
		if req.BetEnabled != nil {
			pool.SetStatus(domain.PoolStatusBet, *req.BetEnabled)
		}
		if req.MaxLeverage != nil {
			if *req.MaxLeverage == 0 {
				return fmt.Errorf("pool_service: max leverage must be at least 1: %w", domain.ErrInvalidAmount)
			}
			pool.MaxLeverage = *req.MaxLeverage
		}
		if req.ProtocolFeeRate != nil {
			pool.ProtocolFeeRate = *req.ProtocolFeeRate
		}
		if req.TokenOracle != nil {
			pool.TokenOracle = *req.TokenOracle
		}
		pool.UpdatedAt = time.Now().UTC()

		if err := s.pools.Update(ctx, pool); err != nil {
			return fmt.Errorf("pool_service: update pool %s: %w", poolID, err)
		}
		return nil
	})
	if err != nil {
		return domain.Pool{}, err
	}

	s.auditLog(ctx, "pool_updated", map[string]any{
		"pool_id":      pool.ID,
		"status_bits":  pool.StatusBits,
		"max_leverage": pool.MaxLeverage,
	})
	s.logger.InfoContext(ctx, "pool_service: pool updated",
		slog.String("pool_id", pool.ID),
		slog.Int("status_bits", int(pool.StatusBits)),
	)
	return pool, nil
}

// GetPool returns a single pool.
func (s *PoolService) GetPool(ctx context.Context, id string) (domain.Pool, error) {
	pool, err := s.pools.Get(ctx, id)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("pool_service: pool %s: %w", id, err)
	}
	return pool, nil
}

// ListPools returns pools with pagination.
func (s *PoolService) ListPools(ctx context.Context, opts domain.ListOpts) ([]domain.Pool, error) {
	pools, err := s.pools.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("pool_service: list pools: %w", err)
	}
	return pools, nil
}

func (s *PoolService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "pool_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
