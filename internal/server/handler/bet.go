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

// BettingService defines the methods that the bet handler requires from the
// service layer.
type BettingService interface {
	OpenBet(ctx context.Context, req service.OpenBetRequest) (domain.BettingPosition, error)
	CancelBet(ctx context.Context, poolID, owner string) error
	RevealResult(ctx context.Context, poolID, owner string) error
	ClaimPayout(ctx context.Context, poolID, owner string) error
}

// BetHandler serves bet-related HTTP endpoints.
type BetHandler struct {
	bets   BettingService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler with the given service and logger.
func NewBetHandler(bets BettingService, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		bets:   bets,
		logger: logger,
	}
}

// openBetRequest is the JSON body for opening a bet.
type openBetRequest struct {
	ThreadID        string `json:"thread_id"`
	PoolID          string `json:"pool_id"`
	Owner           string `json:"owner"`
	Direction       string `json:"direction"`
	Leverage        uint8  `json:"leverage"`
	AmountIn        uint64 `json:"amount_in"`
	DurationSeconds uint64 `json:"duration_seconds"`
	Signature       string `json:"signature"`
}

// betResponse is the JSON view of a betting position.
type betResponse struct {
	PositionID   string `json:"position_id"`
	PoolID       string `json:"pool_id"`
	Owner        string `json:"owner"`
	Direction    string `json:"direction"`
	AmountAtRisk uint64 `json:"amount_at_risk"`
	Notional     uint64 `json:"notional"`
	Leverage     uint8  `json:"leverage"`
	EntryPrice   uint64 `json:"entry_price"`
	EntryExp     int32  `json:"entry_exponent"`
	Status       string `json:"status"`
	ExpiresAt    string `json:"expires_at"`
	OpenedAt     string `json:"opened_at"`
}

func toBetResponse(p domain.BettingPosition) betResponse {
	return betResponse{
		PositionID:   p.ID,
		PoolID:       p.PoolID,
		Owner:        p.Owner,
		Direction:    p.Direction.String(),
		AmountAtRisk: p.AmountAtRisk,
		Notional:     p.Notional,
		Leverage:     p.Leverage,
		EntryPrice:   p.EntryPrice,
		EntryExp:     p.EntryExponent,
		Status:       string(p.Status),
		ExpiresAt:    p.ExpiresAt.UTC().Format(timeFormat),
		OpenedAt:     p.OpenedAt.UTC().Format(timeFormat),
	}
}

// OpenBet opens a leveraged directional bet.
// POST /api/bets
func (h *BetHandler) OpenBet(w http.ResponseWriter, r *http.Request) {
	var body openBetRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if body.ThreadID == "" || body.PoolID == "" || body.Owner == "" {
		writeError(w, http.StatusBadRequest, "thread_id, pool_id, and owner are required")
		return
	}

	direction, ok := parseDirection(body.Direction)
	if !ok {
		writeError(w, http.StatusBadRequest, `direction must be "up" or "down"`)
		return
	}

	pos, err := h.bets.OpenBet(r.Context(), service.OpenBetRequest{
		ThreadID:        body.ThreadID,
		PoolID:          body.PoolID,
		Owner:           body.Owner,
		Direction:       direction,
		Leverage:        body.Leverage,
		AmountIn:        body.AmountIn,
		DurationSeconds: body.DurationSeconds,
		Signature:       body.Signature,
	})
	if err != nil {
		h.writeOpenBetError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBetResponse(pos))
}

// writeOpenBetError maps pipeline failures to HTTP statuses. Every rejection
// leaves state unchanged, so the status codes describe the request, never a
// partial effect.
func (h *BetHandler) writeOpenBetError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, domain.ErrNotApproved):
		writeError(w, http.StatusForbidden, "betting not approved for this request")
	case errors.Is(err, domain.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "amount rounds to zero risk under leverage")
	case errors.Is(err, domain.ErrOverflow):
		writeError(w, http.StatusBadRequest, "duration overflows expiry timestamp")
	case errors.Is(err, domain.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "insufficient collateral or fee balance")
	case errors.Is(err, domain.ErrDuplicateSchedule):
		writeError(w, http.StatusConflict, "thread id already scheduled")
	case errors.Is(err, domain.ErrOracleStale), errors.Is(err, domain.ErrOracleUnavailable):
		writeError(w, http.StatusServiceUnavailable, "price feed unavailable or stale")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "pool not found")
	default:
		h.logger.ErrorContext(r.Context(), "handler: open bet failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to open bet")
	}
}

// CancelBet accepts a cancellation request. The operation is inert; the
// response is 202 to signal acceptance without effect.
// POST /api/bets/{pool_id}/cancel
func (h *BetHandler) CancelBet(w http.ResponseWriter, r *http.Request) {
	h.acceptInert(w, r, "cancel", h.bets.CancelBet)
}

// RevealResult accepts a reveal request; inert, see CancelBet.
// POST /api/bets/{pool_id}/reveal
func (h *BetHandler) RevealResult(w http.ResponseWriter, r *http.Request) {
	h.acceptInert(w, r, "reveal", h.bets.RevealResult)
}

// ClaimPayout accepts a claim request; inert, see CancelBet.
// POST /api/bets/{pool_id}/claim
func (h *BetHandler) ClaimPayout(w http.ResponseWriter, r *http.Request) {
	h.acceptInert(w, r, "claim", h.bets.ClaimPayout)
}

func (h *BetHandler) acceptInert(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, poolID, owner string) error) {
	poolID := pathParam(r, "pool_id")
	owner := r.URL.Query().Get("owner")
	if poolID == "" || owner == "" {
		writeError(w, http.StatusBadRequest, "pool_id path and owner query parameter required")
		return
	}

	if err := fn(r.Context(), poolID, owner); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("pool_id", poolID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to accept "+op)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"op":      op,
		"pool_id": poolID,
		"owner":   owner,
	})
}

// parseDirection maps the wire direction to its domain value.
func parseDirection(s string) (domain.Direction, bool) {
	switch s {
	case "up":
		return domain.DirectionUp, true
	case "down":
		return domain.DirectionDown, true
	default:
		return 0, false
	}
}
