package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/marketpay/internal/middleware"
	"github.com/ruralpay/marketpay/internal/models"
	"github.com/ruralpay/marketpay/internal/services"
)

// PaymentService starts and cancels provider-backed money movements.
type PaymentService interface {
	InitiateDeposit(ctx context.Context, req services.DepositRequest, actor models.Actor) (*models.Transaction, error)
	InitiatePayout(ctx context.Context, req services.PayoutRequest, actor models.Actor) (*models.Transaction, error)
	Cancel(ctx context.Context, accountID, ref string, actor models.Actor) (*models.Transaction, error)
	CollectionFees(ctx context.Context, req services.CollectionFeeRequest) (*services.FeeQuote, error)
	RequestOTP(ctx context.Context, phone string) (json.RawMessage, error)
	PayoutQuotation(ctx context.Context, req services.PayoutQuotationRequest) (*services.Quotation, error)
}

type PaymentHandler struct {
	service PaymentService
}

func NewPaymentHandler(service PaymentService) *PaymentHandler {
	return &PaymentHandler{service: service}
}

func accountOrUnauthorized(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID := middleware.AccountID(r.Context())
	if accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return "", false
	}
	return accountID, true
}

// CollectionFees quotes a deposit
// @Summary Collection fees
// @Description Provider fee plus platform service fee for a mobile money deposit
// @Tags Collections
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.CollectionFeeRequest true "Fee query"
// @Success 200 {object} services.FeeQuote
// @Failure 400 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /api/v1/collections/fees [post]
func (h *PaymentHandler) CollectionFees(w http.ResponseWriter, r *http.Request) {
	if _, ok := accountOrUnauthorized(w, r); !ok {
		return
	}
	var req services.CollectionFeeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	quote, err := h.service.CollectionFees(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, quote)
}

// RequestOTP sends a mobile money OTP
// @Summary Request OTP
// @Tags Collections
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{phone=string} true "Phone number"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} services.ErrorResponse
// @Router /api/v1/collections/otp [post]
func (h *PaymentHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := accountOrUnauthorized(w, r); !ok {
		return
	}
	var req struct {
		Phone string `json:"phone"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	data, err := h.service.RequestOTP(r.Context(), req.Phone)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, data)
}

// Deposit initiates a mobile money collection
// @Summary Initiate deposit
// @Description Records a pending deposit and asks the provider to collect it
// @Tags Collections
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.DepositRequest true "Deposit"
// @Success 200 {object} models.Transaction
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /api/v1/collections/momo [post]
func (h *PaymentHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req services.DepositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.AccountID = accountID

	txn, err := h.service.InitiateDeposit(r.Context(), req, actorFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, txn)
}

// PayoutQuotation quotes a payout
// @Summary Payout quotation
// @Tags Payouts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.PayoutQuotationRequest true "Quotation query"
// @Success 200 {object} services.Quotation
// @Failure 400 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /api/v1/payouts/quotation [post]
func (h *PaymentHandler) PayoutQuotation(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req services.PayoutQuotationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.AccountID = accountID

	q, err := h.service.PayoutQuotation(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, q)
}

// Payout reserves funds and instructs the provider
// @Summary Initiate payout
// @Tags Payouts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.PayoutRequest true "Payout"
// @Success 200 {object} models.Transaction
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /api/v1/payouts [post]
func (h *PaymentHandler) Payout(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req services.PayoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.AccountID = accountID

	txn, err := h.service.InitiatePayout(r.Context(), req, actorFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, txn)
}

// Cancel cancels a pending deposit. Payouts cannot be cancelled.
// @Summary Cancel transaction
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param ref path string true "Transaction reference"
// @Success 200 {object} models.Transaction
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /api/v1/transactions/{ref}/cancel [post]
func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountOrUnauthorized(w, r)
	if !ok {
		return
	}

	txn, err := h.service.Cancel(r.Context(), accountID, chi.URLParam(r, "ref"), actorFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, txn)
}
