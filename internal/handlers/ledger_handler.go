package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/marketpay/internal/middleware"
	"github.com/ruralpay/marketpay/internal/models"
	"github.com/ruralpay/marketpay/internal/services"
)

type LedgerHandler struct {
	ledger     *services.LedgerService
	journal    *services.JournalService
	commission *services.CommissionService
	audit      *services.AuditService
}

func NewLedgerHandler(ledger *services.LedgerService, journal *services.JournalService, commission *services.CommissionService, audit *services.AuditService) *LedgerHandler {
	return &LedgerHandler{
		ledger:     ledger,
		journal:    journal,
		commission: commission,
		audit:      audit,
	}
}

func limitParam(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}

func currencyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	currency := strings.ToUpper(chi.URLParam(r, "currency"))
	if len(currency) != 3 {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			services.NewValidationError("currency", "must be a 3-letter code"))
		return "", false
	}
	return currency, true
}

// Balance returns the wallet balance
// @Summary Wallet balance
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Param currency path string true "ISO currency code"
// @Success 200 {object} models.LedgerBalance
// @Router /api/v1/balances/{currency} [get]
func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountOrUnauthorized(w, r)
	if !ok {
		return
	}
	currency, ok := currencyParam(w, r)
	if !ok {
		return
	}

	balance, err := h.ledger.Balance(r.Context(), accountID, currency)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, balance)
}

// Transactions lists recent transactions
// @Summary List transactions
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (max 100)"
// @Success 200 {array} models.Transaction
// @Router /api/v1/transactions [get]
func (h *LedgerHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountOrUnauthorized(w, r)
	if !ok {
		return
	}

	txns, err := h.journal.List(r.Context(), accountID, limitParam(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if txns == nil {
		txns = []models.Transaction{}
	}
	writeData(w, txns)
}

// Transaction returns one transaction owned by the caller
// @Summary Get transaction
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param ref path string true "Transaction reference"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} services.ErrorResponse
// @Router /api/v1/transactions/{ref} [get]
func (h *LedgerHandler) Transaction(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountOrUnauthorized(w, r)
	if !ok {
		return
	}

	txn, err := h.journal.Get(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if txn.AccountID != accountID && middleware.Role(r.Context()) != middleware.RoleAdmin {
		writeServiceError(w, r, models.ErrNotFound)
		return
	}
	writeData(w, txn)
}

// Audit lists the caller's audit trail
// @Summary Audit trail
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (max 200)"
// @Success 200 {array} models.AuditEntry
// @Router /api/v1/audit [get]
func (h *LedgerHandler) Audit(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountOrUnauthorized(w, r)
	if !ok {
		return
	}

	entries, err := h.audit.List(r.Context(), accountID, limitParam(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	writeData(w, entries)
}

// Commission returns the platform fee total for a currency
// @Summary Commission total
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param currency path string true "ISO currency code"
// @Success 200 {object} models.CommissionTotal
// @Failure 403 {string} string "Forbidden"
// @Router /api/v1/commissions/{currency} [get]
func (h *LedgerHandler) Commission(w http.ResponseWriter, r *http.Request) {
	currency, ok := currencyParam(w, r)
	if !ok {
		return
	}

	total, err := h.commission.Total(r.Context(), currency)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, total)
}
