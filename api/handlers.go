/*
handlers.go - HTTP handlers for the payment ledger

PURPOSE:
  Exposes the ledger engine over REST. Handlers parse and validate HTTP
  input, delegate to the engine, and serialize results; no business rule
  lives here.

ERROR HANDLING:
  Engine errors map to HTTP status via their taxonomy:
  - 400: validation errors (invalid amount, self transfer, bad status)
  - 403: unauthorized dispute
  - 404: missing user/wallet/transaction/issue
  - 409: duplicate username
  - 500: everything else
  Business outcomes (FAILED transactions, uncleared dues) are not errors:
  they come back 200/201 with the outcome in the body.

SEE ALSO:
  - dto.go: request/response shapes
  - server.go: routing and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/campuspay/ledger-engine/ledger"
)

// Handler holds the dependencies shared by all routes.
type Handler struct {
	Engine *ledger.Engine
	Store  ledger.TxStore
}

func NewHandler(engine *ledger.Engine, store ledger.TxStore) *Handler {
	return &Handler{Engine: engine, Store: store}
}

// =============================================================================
// USERS
// =============================================================================

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required", nil)
		return
	}

	user, err := h.Engine.RegisterUser(r.Context(), req.Username, req.Email, req.Phone, ledger.Role(req.Role))
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateUsername) {
			writeError(w, http.StatusConflict, "username already in use", err)
			return
		}
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*user))
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))
	user, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user))
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))
	wallet, err := h.Store.GetWalletByUser(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(*wallet))
}

// =============================================================================
// TRANSFERS
// =============================================================================

func (h *Handler) MakeTransfer(w http.ResponseWriter, r *http.Request) {
	sender := ledger.UserID(chi.URLParam(r, "id"))

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}
	mode := ledger.ModeImmediate
	if req.Mode != "" {
		mode = ledger.Mode(req.Mode)
		if mode != ledger.ModeImmediate && mode != ledger.ModePending {
			writeError(w, http.StatusBadRequest, "mode must be IMMEDIATE or PENDING", nil)
			return
		}
	}

	tx, err := h.Engine.Transfer(r.Context(), sender, ledger.UserID(req.ReceiverID), amount, mode)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

func (h *Handler) AddBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))

	var req AddBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}

	wallet, err := h.Engine.AddBalance(r.Context(), id, amount)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(*wallet))
}

func (h *Handler) GetUserTransactions(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))
	txs, err := h.Engine.History(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Store.ListTransactions(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))
	tx, err := h.Store.GetTransaction(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// =============================================================================
// DUES AND CLEARANCE
// =============================================================================

func (h *Handler) ClearDues(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))
	result, err := h.Engine.ClearAll(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toClearanceDTO(*result))
}

func (h *Handler) ClearDuesPayee(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))
	payee := ledger.UserID(chi.URLParam(r, "payee"))
	result, err := h.Engine.ClearOne(r.Context(), id, payee)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toClearanceDTO(*result))
}

func (h *Handler) PendingDues(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))
	dues, err := h.Engine.PendingDuesByPayee(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDueDTOs(dues))
}

func (h *Handler) PendingDuesOwed(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))
	dues, err := h.Engine.PendingDuesByPayer(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDueDTOs(dues))
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetUser(r.Context(), id); err != nil {
		writeLedgerError(w, err)
		return
	}
	notes, err := h.Store.NotificationsByUser(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	dtos := make([]NotificationDTO, len(notes))
	for i, n := range notes {
		dtos[i] = toNotificationDTO(n)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.MarkNotificationRead(r.Context(), id); err != nil {
		writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ISSUES
// =============================================================================

func (h *Handler) RaiseIssue(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))

	var req RaiseIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	issue, err := h.Engine.RaiseIssue(r.Context(), id,
		ledger.TransactionID(req.TransactionID), req.Subject, req.Content,
		ledger.Status(req.ResolvedStatus))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toIssueDTO(*issue))
}

func (h *Handler) ResolveIssue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ResolveIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	issue, err := h.Engine.ResolveIssue(r.Context(), id, ledger.Status(req.Status))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toIssueDTO(*issue))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps the engine's error taxonomy onto HTTP status.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "not a party to the transaction", err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, ledger.ErrDuplicateUsername):
		writeError(w, http.StatusConflict, "conflict", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}
