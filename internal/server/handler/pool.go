package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fluster/fluster/internal/domain"
	"github.com/fluster/fluster/internal/service"
)

// PoolService defines the administration surface the pool handler requires.
type PoolService interface {
	InitializePool(ctx context.Context, req service.InitializePoolRequest) (domain.Pool, error)
	UpdatePoolState(ctx context.Context, poolID string, req service.UpdatePoolStateRequest) (domain.Pool, error)
	GetPool(ctx context.Context, id string) (domain.Pool, error)
	ListPools(ctx context.Context, opts domain.ListOpts) ([]domain.Pool, error)
}

// PoolHandler serves pool read and administration endpoints. The server gates
// the mutating routes behind the admin key.
type PoolHandler struct {
	pools  PoolService
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler with the given service and logger.
func NewPoolHandler(pools PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{
		pools:  pools,
		logger: logger,
	}
}

// poolResponse is the JSON view of a pool.
type poolResponse struct {
	ID              string `json:"id"`
	TokenMint       string `json:"token_mint"`
	TokenVault      string `json:"token_vault"`
	FeeVault        string `json:"fee_vault"`
	TokenOracle     string `json:"token_oracle"`
	TokenDecimals   uint8  `json:"token_decimals"`
	MaxLeverage     uint8  `json:"max_leverage"`
	ProtocolFeeRate uint16 `json:"protocol_fee_rate"`
	DepositEnabled  bool   `json:"deposit_enabled"`
	WithdrawEnabled bool   `json:"withdraw_enabled"`
	BetEnabled      bool   `json:"bet_enabled"`
}

func toPoolResponse(p domain.Pool) poolResponse {
	return poolResponse{
		ID:              p.ID,
		TokenMint:       p.TokenMint,
		TokenVault:      p.TokenVault,
		FeeVault:        p.FeeVault,
		TokenOracle:     p.TokenOracle,
		TokenDecimals:   p.TokenDecimals,
		MaxLeverage:     p.MaxLeverage,
		ProtocolFeeRate: p.ProtocolFeeRate,
		DepositEnabled:  p.StatusEnabled(domain.PoolStatusDeposit),
		WithdrawEnabled: p.StatusEnabled(domain.PoolStatusWithdraw),
		BetEnabled:      p.StatusEnabled(domain.PoolStatusBet),
	}
}

// ListPools returns pools with pagination.
// GET /api/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.pools.ListPools(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list pools failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list pools")
		return
	}

	out := make([]poolResponse, 0, len(pools))
	for _, p := range pools {
		out = append(out, toPoolResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": out})
}

// GetPool returns a single pool.
// GET /api/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing pool id")
		return
	}

	pool, err := h.pools.GetPool(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "pool not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get pool failed",
			slog.String("pool_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get pool")
		return
	}
	writeJSON(w, http.StatusOK, toPoolResponse(pool))
}

// initializePoolRequest is the JSON body for pool creation.
type initializePoolRequest struct {
	TokenMint       string `json:"token_mint"`
	TokenOracle     string `json:"token_oracle"`
	TokenDecimals   uint8  `json:"token_decimals"`
	MaxLeverage     uint8  `json:"max_leverage"`
	ProtocolFeeRate uint16 `json:"protocol_fee_rate"`
	AuthorityBump   uint8  `json:"authority_bump"`
}

// InitializePool creates a new pool with its custody accounts.
// POST /api/admin/pools
func (h *PoolHandler) InitializePool(w http.ResponseWriter, r *http.Request) {
	var body initializePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	pool, err := h.pools.InitializePool(r.Context(), service.InitializePoolRequest{
		TokenMint:       body.TokenMint,
		TokenOracle:     body.TokenOracle,
		TokenDecimals:   body.TokenDecimals,
		MaxLeverage:     body.MaxLeverage,
		ProtocolFeeRate: body.ProtocolFeeRate,
		AuthorityBump:   body.AuthorityBump,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "pool or vault already exists")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: initialize pool failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to initialize pool")
		return
	}
	writeJSON(w, http.StatusCreated, toPoolResponse(pool))
}

// updatePoolRequest is the JSON body for pool policy updates. Omitted fields
// keep their current value.
type updatePoolRequest struct {
	DepositEnabled  *bool   `json:"deposit_enabled"`
	WithdrawEnabled *bool   `json:"withdraw_enabled"`
	BetEnabled      *bool   `json:"bet_enabled"`
	MaxLeverage     *uint8  `json:"max_leverage"`
	ProtocolFeeRate *uint16 `json:"protocol_fee_rate"`
	TokenOracle     *string `json:"token_oracle"`
}

// UpdatePool applies a partial policy update.
// PUT /api/admin/pools/{id}
func (h *PoolHandler) UpdatePool(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing pool id")
		return
	}

	var body updatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	pool, err := h.pools.UpdatePoolState(r.Context(), id, service.UpdatePoolStateRequest{
		DepositEnabled:  body.DepositEnabled,
		WithdrawEnabled: body.WithdrawEnabled,
		BetEnabled:      body.BetEnabled,
		MaxLeverage:     body.MaxLeverage,
		ProtocolFeeRate: body.ProtocolFeeRate,
		TokenOracle:     body.TokenOracle,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "pool not found")
			return
		}
		if errors.Is(err, domain.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: update pool failed",
			slog.String("pool_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update pool")
		return
	}
	writeJSON(w, http.StatusOK, toPoolResponse(pool))
}
