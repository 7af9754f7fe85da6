package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fluster/fluster/internal/domain"
)

// VaultService defines the custody operations the vault handler requires.
type VaultService interface {
	Deposit(ctx context.Context, poolID, owner string, amount uint64, sigHex string) (domain.VaultAccount, error)
	Withdraw(ctx context.Context, poolID, owner string, amount uint64, sigHex string) error
	CloseAccount(ctx context.Context, poolID, owner string, sigHex string) (uint64, error)
	GetAccount(ctx context.Context, poolID, owner string) (domain.VaultAccount, error)
	ListAccounts(ctx context.Context, owner string) ([]domain.VaultAccount, error)
}

// VaultHandler serves custody account HTTP endpoints.
type VaultHandler struct {
	vaults VaultService
	logger *slog.Logger
}

// NewVaultHandler creates a VaultHandler with the given service and logger.
func NewVaultHandler(vaults VaultService, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{
		vaults: vaults,
		logger: logger,
	}
}

// vaultOpRequest is the JSON body shared by deposit and withdraw.
type vaultOpRequest struct {
	PoolID    string `json:"pool_id"`
	Owner     string `json:"owner"`
	Amount    uint64 `json:"amount"`
	Signature string `json:"signature"`
}

// accountResponse is the JSON view of a custody account.
type accountResponse struct {
	Address  string `json:"address"`
	Owner    string `json:"owner"`
	Asset    string `json:"asset"`
	Balance  uint64 `json:"balance"`
	Decimals uint8  `json:"decimals"`
}

func toAccountResponse(a domain.VaultAccount) accountResponse {
	return accountResponse{
		Address:  a.Address,
		Owner:    a.Owner,
		Asset:    a.Asset,
		Balance:  a.Balance,
		Decimals: a.Decimals,
	}
}

// Deposit credits the owner's custody account.
// POST /api/vault/deposit
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var body vaultOpRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.PoolID == "" || body.Owner == "" {
		writeError(w, http.StatusBadRequest, "pool_id and owner are required")
		return
	}

	acct, err := h.vaults.Deposit(r.Context(), body.PoolID, body.Owner, body.Amount, body.Signature)
	if err != nil {
		h.writeVaultError(w, r, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}

// Withdraw debits the owner's custody account.
// POST /api/vault/withdraw
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var body vaultOpRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.PoolID == "" || body.Owner == "" {
		writeError(w, http.StatusBadRequest, "pool_id and owner are required")
		return
	}

	if err := h.vaults.Withdraw(r.Context(), body.PoolID, body.Owner, body.Amount, body.Signature); err != nil {
		h.writeVaultError(w, r, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "withdrawn",
		"amount": body.Amount,
	})
}

// CloseAccount refunds and deletes the owner's custody account.
// POST /api/vault/close
func (h *VaultHandler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	var body vaultOpRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.PoolID == "" || body.Owner == "" {
		writeError(w, http.StatusBadRequest, "pool_id and owner are required")
		return
	}

	refunded, err := h.vaults.CloseAccount(r.Context(), body.PoolID, body.Owner, body.Signature)
	if err != nil {
		h.writeVaultError(w, r, "close", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "closed",
		"refunded": refunded,
	})
}

// GetAccount returns the custody account for a (pool, owner) pair.
// GET /api/vault/{pool_id}?owner=0x...
func (h *VaultHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	poolID := pathParam(r, "pool_id")
	owner := r.URL.Query().Get("owner")
	if poolID == "" || owner == "" {
		writeError(w, http.StatusBadRequest, "pool_id path and owner query parameter required")
		return
	}

	acct, err := h.vaults.GetAccount(r.Context(), poolID, owner)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get account failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get account")
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}

// ListAccounts returns all custody accounts for an owner.
// GET /api/vault?owner=0x...
func (h *VaultHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter required")
		return
	}

	accts, err := h.vaults.ListAccounts(r.Context(), owner)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list accounts failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}

	out := make([]accountResponse, 0, len(accts))
	for _, a := range accts {
		out = append(out, toAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

func (h *VaultHandler) writeVaultError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, domain.ErrNotApproved):
		writeError(w, http.StatusForbidden, op+" disabled for this pool")
	case errors.Is(err, domain.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "amount must be positive")
	case errors.Is(err, domain.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "insufficient balance")
	case errors.Is(err, domain.ErrAccountInUse):
		writeError(w, http.StatusConflict, "account has a live position")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "pool or account not found")
	default:
		h.logger.ErrorContext(r.Context(), "handler: vault "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}
