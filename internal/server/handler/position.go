package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fluster/fluster/internal/domain"
)

// PositionService defines the read side that the position handler requires.
type PositionService interface {
	GetPosition(ctx context.Context, poolID, owner string) (domain.BettingPosition, error)
	ListOpenPositions(ctx context.Context, owner string) ([]domain.BettingPosition, error)
}

// PositionHandler serves position read endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// ListPositions returns all open positions for an owner.
// GET /api/positions?owner=0x...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter required")
		return
	}

	positions, err := h.positions.ListOpenPositions(r.Context(), owner)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	out := make([]betResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, toBetResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// GetPosition returns the open position for a (pool, owner) pair.
// GET /api/positions/{pool_id}?owner=0x...
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	poolID := pathParam(r, "pool_id")
	owner := r.URL.Query().Get("owner")
	if poolID == "" || owner == "" {
		writeError(w, http.StatusBadRequest, "pool_id path and owner query parameter required")
		return
	}

	pos, err := h.positions.GetPosition(r.Context(), poolID, owner)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.String("pool_id", poolID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}

	writeJSON(w, http.StatusOK, toBetResponse(pos))
}
