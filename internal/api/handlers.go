/**
 * @description
 * This file contains the HTTP handlers for the ledger service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as
 * the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sunubank/ledger-service/internal/app"
	"github.com/sunubank/ledger-service/internal/domain"
	"github.com/sunubank/ledger-service/internal/store"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service *app.Service
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{service: service}
}

// CreateAccountHandler opens an additional account for the caller.
func (h *LedgerHandlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not resolve acting user")
		return
	}

	var req domain.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	account, err := h.service.CreateAccount(r.Context(), userID, req)
	if err != nil {
		h.writeOperationError(w, "create_account", userID, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, account)
}

// ListAccountsHandler returns all of the caller's accounts.
func (h *LedgerHandlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not resolve acting user")
		return
	}

	accounts, err := h.service.ListAccounts(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_accounts outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	h.writeJSON(w, http.StatusOK, accounts)
}

// GetAccountHandler returns one of the caller's accounts by id.
func (h *LedgerHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not resolve acting user")
		return
	}
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	account, err := h.service.GetAccount(r.Context(), accountID, userID)
	if err != nil {
		h.writeOperationError(w, "get_account", userID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// DepositHandler credits one of the caller's accounts.
func (h *LedgerHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not resolve acting user")
		return
	}

	var req domain.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	result, err := h.service.Deposit(r.Context(), userID, req)
	if err != nil {
		h.writeOperationError(w, "deposit", userID, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// WithdrawHandler debits one of the caller's accounts.
func (h *LedgerHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not resolve acting user")
		return
	}

	var req domain.WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	result, err := h.service.Withdraw(r.Context(), userID, req)
	if err != nil {
		h.writeOperationError(w, "withdraw", userID, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// InternalTransferHandler moves funds between two of the caller's accounts.
func (h *LedgerHandlers) InternalTransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not resolve acting user")
		return
	}

	var req domain.InternalTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	result, err := h.service.TransferInternal(r.Context(), userID, req)
	if err != nil {
		h.writeOperationError(w, "transfer_internal", userID, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// UserTransferHandler moves funds to another user's CURRENT account.
func (h *LedgerHandlers) UserTransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not resolve acting user")
		return
	}

	var req domain.UserTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	result, err := h.service.TransferToUser(r.Context(), userID, req)
	if err != nil {
		h.writeOperationError(w, "transfer_user", userID, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// BeneficiaryTransferHandler moves funds to a saved beneficiary.
func (h *LedgerHandlers) BeneficiaryTransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not resolve acting user")
		return
	}

	var req domain.BeneficiaryTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	result, err := h.service.TransferToBeneficiary(r.Context(), userID, req)
	if err != nil {
		h.writeOperationError(w, "transfer_beneficiary", userID, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// BillPaymentHandler pays a utility bill from the caller's CURRENT account.
func (h *LedgerHandlers) BillPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not resolve acting user")
		return
	}

	var req domain.BillPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	result, err := h.service.PayBill(r.Context(), userID, req)
	if err != nil {
		h.writeOperationError(w, "bill_payment", userID, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// HistoryHandler returns the caller's ledger history, newest first.
func (h *LedgerHandlers) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not resolve acting user")
		return
	}

	history, err := h.service.GetHistory(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=get_history outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if history == nil {
		history = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, history)
}

// writeOperationError maps service errors onto HTTP statuses. Anything not in
// the business taxonomy is logged with full context and surfaced generically.
func (h *LedgerHandlers) writeOperationError(w http.ResponseWriter, endpoint string, userID uuid.UUID, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrSameAccount),
		errors.Is(err, app.ErrInvalidAccountType),
		errors.Is(err, app.ErrUnknownBillService),
		errors.Is(err, app.ErrBillNumberRequired):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrBeneficiaryNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, app.ErrAccountNotUsable),
		errors.Is(err, app.ErrAccountAlreadyExists):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrTransferNotAllowed),
		errors.Is(err, app.ErrSelfTransferNotAllowed),
		errors.Is(err, app.ErrLimitExceeded),
		errors.Is(err, app.ErrDailyLimitExceeded):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s outcome=failed user_id=%s err=%v", endpoint, userID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
