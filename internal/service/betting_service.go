package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/fluster/fluster/internal/crypto"
	"github.com/fluster/fluster/internal/domain"
	"github.com/fluster/fluster/internal/scheduler"
)

// OrdersChannel carries OrderPlaced events to external observers.
const OrdersChannel = "orders"

// OrdersStream is the durable record of placed orders.
const OrdersStream = "orders:log"

// PriceOracle reads a freshness-checked price for a feed reference.
type PriceOracle interface {
	GetPrice(ctx context.Context, feedRef string, now time.Time) (domain.PriceQuote, error)
}

// Collateral moves custody balances. Sufficiency is enforced by the transfer
// itself, never pre-checked.
type Collateral interface {
	Balance(ctx context.Context, address string) (uint64, error)
	Transfer(ctx context.Context, from, to string, amount uint64) error
}

// TriggerRegistrar registers one-shot settlement triggers and reports the
// automation fee it charges.
type TriggerRegistrar interface {
	RegisterOneShot(ctx context.Context, t domain.ScheduledTrigger, feeVault string) error
	Fee() uint64
}

// BettingConfig tunes the request gate in front of the opening pipeline.
type BettingConfig struct {
	RateLimit        int
	RateWindow       time.Duration
	RequireSignature bool
}

// OpenBetRequest is the full argument set for opening a leveraged bet. The
// thread id doubles as the settlement trigger's idempotency key.
type OpenBetRequest struct {
	ThreadID        string
	PoolID          string
	Owner           string
	Direction       domain.Direction
	Leverage        uint8
	AmountIn        uint64
	DurationSeconds uint64
	Signature       string
}

// BettingService orchestrates the opening pipeline: policy checks, oracle
// read, collateral transfer, position write, and trigger registration commit
// as one unit, then the OrderPlaced event goes out.
type BettingService struct {
	cfg       BettingConfig
	uow       domain.UnitOfWork
	pools     domain.PoolStore
	positions domain.PositionStore
	vault     Collateral
	oracle    PriceOracle
	registrar TriggerRegistrar
	limiter   domain.RateLimiter
	bus       domain.SignalBus
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewBettingService creates a BettingService with all required dependencies.
func NewBettingService(
	cfg BettingConfig,
	uow domain.UnitOfWork,
	pools domain.PoolStore,
	positions domain.PositionStore,
	vault Collateral,
	oracle PriceOracle,
	registrar TriggerRegistrar,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *BettingService {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 30
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	return &BettingService{
		cfg:       cfg,
		uow:       uow,
		pools:     pools,
		positions: positions,
		vault:     vault,
		oracle:    oracle,
		registrar: registrar,
		limiter:   limiter,
		bus:       bus,
		audit:     audit,
		logger:    logger,
	}
}

// OpenBet opens a leveraged directional bet. Every failure leaves balances
// and positions exactly as they were; the caller observes a specific error
// kind and no state change.
//
// Validation short-circuits in order: betting-enabled bit, leverage range,
// then the amount-at-risk floor. Collateral moves only after the oracle read
// succeeds, and the position record plus settlement trigger commit in the
// same transaction as the transfer.
func (s *BettingService) OpenBet(ctx context.Context, req OpenBetRequest) (domain.BettingPosition, error) {
	allowed, err := s.limiter.Allow(ctx, "bet:"+req.Owner, s.cfg.RateLimit, s.cfg.RateWindow)
	if err != nil {
		s.logger.WarnContext(ctx, "betting_service: rate limiter unavailable",
			slog.String("error", err.Error()),
		)
	} else if !allowed {
		return domain.BettingPosition{}, fmt.Errorf("betting_service: owner %s: %w", req.Owner, domain.ErrRateLimited)
	}

	if s.cfg.RequireSignature {
		payload := crypto.BetPayload{
			ThreadID:        req.ThreadID,
			PoolID:          req.PoolID,
			Direction:       req.Direction,
			Leverage:        req.Leverage,
			AmountIn:        req.AmountIn,
			DurationSeconds: req.DurationSeconds,
		}
		if err := crypto.VerifyBet(payload, req.Signature, req.Owner); err != nil {
			return domain.BettingPosition{}, fmt.Errorf("betting_service: bet signature: %w", err)
		}
	}

	if !req.Direction.Valid() {
		return domain.BettingPosition{}, fmt.Errorf("betting_service: direction %d: %w", req.Direction, domain.ErrInvalidAmount)
	}

	now := time.Now().UTC()

	var (
		position      domain.BettingPosition
		balanceBefore uint64
	)
	err = s.uow.Do(ctx, func(ctx context.Context) error {
		pool, err := s.pools.Get(ctx, req.PoolID)
		if err != nil {
			return fmt.Errorf("betting_service: pool %s: %w", req.PoolID, err)
		}

		if !pool.StatusEnabled(domain.PoolStatusBet) {
			return fmt.Errorf("betting_service: pool %s betting disabled: %w", pool.ID, domain.ErrNotApproved)
		}
		if req.Leverage == 0 || req.Leverage > pool.MaxLeverage {
			return fmt.Errorf("betting_service: leverage %d outside [1, %d]: %w",
				req.Leverage, pool.MaxLeverage, domain.ErrNotApproved)
		}

		amountAtRisk := req.AmountIn / uint64(req.Leverage)
		if amountAtRisk == 0 {
			return fmt.Errorf("betting_service: amount %d at leverage %d rounds to zero risk: %w",
				req.AmountIn, req.Leverage, domain.ErrInvalidAmount)
		}

		expiresAt, err := expiryAt(now, req.DurationSeconds)
		if err != nil {
			return err
		}

		quote, err := s.oracle.GetPrice(ctx, pool.TokenOracle, now)
		if err != nil {
			return fmt.Errorf("betting_service: entry price: %w", err)
		}
		if quote.Mantissa < 0 {
			return fmt.Errorf("betting_service: negative feed mantissa: %w", domain.ErrOracleUnavailable)
		}

		balanceBefore, err = s.vault.Balance(ctx, pool.TokenVault)
		if err != nil {
			return fmt.Errorf("betting_service: vault balance: %w", err)
		}

		ownerAccount := crypto.DeriveUserAccountAddress(req.Owner, pool.TokenMint)
		if err := s.vault.Transfer(ctx, ownerAccount, pool.TokenVault, amountAtRisk); err != nil {
			return fmt.Errorf("betting_service: custody collateral: %w", err)
		}

		position = domain.BettingPosition{
			ID:            uuid.NewString(),
			PoolID:        pool.ID,
			Owner:         req.Owner,
			Direction:     req.Direction,
			AmountAtRisk:  amountAtRisk,
			Notional:      req.AmountIn,
			Leverage:      req.Leverage,
			EntryPrice:    uint64(quote.Mantissa),
			EntryExponent: quote.Exponent,
			ThreadID:      req.ThreadID,
			Status:        domain.PositionStatusOpen,
			ExpiresAt:     expiresAt,
			OpenedAt:      now,
		}
		if err := s.positions.Upsert(ctx, position); err != nil {
			return fmt.Errorf("betting_service: record position: %w", err)
		}

		trigger := domain.ScheduledTrigger{
			ThreadID:  req.ThreadID,
			Authority: crypto.DeriveAddress(crypto.AuthSeed, pool.AuthorityBump),
			Callback: domain.CallbackSpec{
				Entrypoint: scheduler.SettleEntrypoint,
				PositionID: position.ID,
				PoolID:     pool.ID,
				Owner:      req.Owner,
			},
			TriggerAt: expiresAt,
			FeePayer:  ownerAccount,
		}
		if err := s.registrar.RegisterOneShot(ctx, trigger, pool.FeeVault); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return domain.BettingPosition{}, err
	}

	s.emitOrderPlaced(ctx, position, balanceBefore, req)

	s.logger.InfoContext(ctx, "betting_service: bet opened",
		slog.String("position_id", position.ID),
		slog.String("pool_id", position.PoolID),
		slog.String("owner", position.Owner),
		slog.String("direction", position.Direction.String()),
		slog.Uint64("amount_at_risk", position.AmountAtRisk),
		slog.Int("leverage", int(position.Leverage)),
		slog.Time("expires_at", position.ExpiresAt),
	)

	return position, nil
}

// emitOrderPlaced publishes the post-commit event exactly once on the signal
// bus and mirrors it into the durable stream and audit log. Delivery failures
// are logged, never retried; the committed state is already authoritative.
func (s *BettingService) emitOrderPlaced(ctx context.Context, pos domain.BettingPosition, balanceBefore uint64, req OpenBetRequest) {
	evt, _ := json.Marshal(domain.OrderPlaced{
		Event:              "order_placed",
		PositionID:         pos.ID,
		PoolID:             pos.PoolID,
		VaultBalanceBefore: balanceBefore,
		Direction:          pos.Direction,
		AmountIn:           req.AmountIn,
		Leverage:           pos.Leverage,
		DurationSeconds:    req.DurationSeconds,
	})

	if err := s.bus.Publish(ctx, OrdersChannel, evt); err != nil {
		s.logger.WarnContext(ctx, "betting_service: publish order event failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, OrdersStream, evt); err != nil {
		s.logger.WarnContext(ctx, "betting_service: append order event failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.audit.Log(ctx, "order_placed", map[string]any{
		"position_id":    pos.ID,
		"pool_id":        pos.PoolID,
		"owner":          pos.Owner,
		"direction":      pos.Direction.String(),
		"amount_in":      req.AmountIn,
		"amount_at_risk": pos.AmountAtRisk,
		"leverage":       pos.Leverage,
		"thread_id":      pos.ThreadID,
	}); err != nil {
		s.logger.WarnContext(ctx, "betting_service: audit log failed",
			slog.String("error", err.Error()),
		)
	}
}

// CancelBet accepts a cancellation request and performs no work.
// TODO: cancellation should refund amount_at_risk and void the settlement
// trigger; until that lands, requests are acknowledged and discarded.
func (s *BettingService) CancelBet(ctx context.Context, poolID, owner string) error {
	s.logger.InfoContext(ctx, "betting_service: cancel accepted (inert)",
		slog.String("pool_id", poolID),
		slog.String("owner", owner),
	)
	return nil
}

// RevealResult accepts a reveal request and performs no work. The settlement
// dispatcher owns result evaluation.
func (s *BettingService) RevealResult(ctx context.Context, poolID, owner string) error {
	s.logger.InfoContext(ctx, "betting_service: reveal accepted (inert)",
		slog.String("pool_id", poolID),
		slog.String("owner", owner),
	)
	return nil
}

// ClaimPayout accepts a claim request and performs no work. Payout follows
// settlement, which the dispatcher triggers after expiry.
func (s *BettingService) ClaimPayout(ctx context.Context, poolID, owner string) error {
	s.logger.InfoContext(ctx, "betting_service: claim accepted (inert)",
		slog.String("pool_id", poolID),
		slog.String("owner", owner),
	)
	return nil
}

// GetPosition returns the open position for a (pool, owner) pair.
func (s *BettingService) GetPosition(ctx context.Context, poolID, owner string) (domain.BettingPosition, error) {
	pos, err := s.positions.Get(ctx, poolID, owner)
	if err != nil {
		return domain.BettingPosition{}, fmt.Errorf("betting_service: get position: %w", err)
	}
	return pos, nil
}

// ListOpenPositions returns all open positions held by an owner.
func (s *BettingService) ListOpenPositions(ctx context.Context, owner string) ([]domain.BettingPosition, error) {
	positions, err := s.positions.ListOpen(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("betting_service: list positions for %q: %w", owner, err)
	}
	return positions, nil
}

// expiryAt computes open time plus duration with checked addition.
func expiryAt(now time.Time, durationSeconds uint64) (time.Time, error) {
	nowUnix := now.Unix()
	if durationSeconds > uint64(math.MaxInt64)-uint64(nowUnix) {
		return time.Time{}, fmt.Errorf("betting_service: expiry timestamp: %w", domain.ErrOverflow)
	}
	expUnix := nowUnix + int64(durationSeconds)
	if expUnix < nowUnix {
		return time.Time{}, fmt.Errorf("betting_service: expiry timestamp: %w", domain.ErrOverflow)
	}
	return time.Unix(expUnix, 0).UTC(), nil
}
