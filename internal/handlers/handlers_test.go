package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/marketpay/internal/database"
	"github.com/ruralpay/marketpay/internal/middleware"
	"github.com/ruralpay/marketpay/internal/models"
	"github.com/ruralpay/marketpay/internal/services"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPayments struct {
	deposit    *services.DepositRequest
	depositErr error
	payoutErr  error
	cancelRef  string
}

func (s *stubPayments) InitiateDeposit(_ context.Context, req services.DepositRequest, _ models.Actor) (*models.Transaction, error) {
	s.deposit = &req
	if s.depositErr != nil {
		return nil, s.depositErr
	}
	return &models.Transaction{TransactionRef: "txn_000000000001", AccountID: req.AccountID, Status: models.StatusPending}, nil
}

func (s *stubPayments) InitiatePayout(_ context.Context, req services.PayoutRequest, _ models.Actor) (*models.Transaction, error) {
	return nil, s.payoutErr
}

func (s *stubPayments) Cancel(_ context.Context, accountID, ref string, _ models.Actor) (*models.Transaction, error) {
	s.cancelRef = ref
	return &models.Transaction{TransactionRef: ref, AccountID: accountID, Status: models.StatusCancelled}, nil
}

func (s *stubPayments) CollectionFees(context.Context, services.CollectionFeeRequest) (*services.FeeQuote, error) {
	return &services.FeeQuote{ServiceFee: decimal.NewFromInt(50)}, nil
}

func (s *stubPayments) RequestOTP(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`{"sent":true}`), nil
}

func (s *stubPayments) PayoutQuotation(context.Context, services.PayoutQuotationRequest) (*services.Quotation, error) {
	return &services.Quotation{}, nil
}

func authed(r *http.Request, accountID, role string) *http.Request {
	return r.WithContext(middleware.WithAccount(r.Context(), accountID, role))
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) services.ErrorResponse {
	t.Helper()
	var resp services.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestPaymentHandler_Deposit(t *testing.T) {
	t.Run("account comes from the token", func(t *testing.T) {
		stub := &stubPayments{}
		h := NewPaymentHandler(stub)
		body := `{"currency":"UGX","amount":1000,"phone":"+256700000000","country":"UG","otp":"1234","customer":"Jane"}`
		req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/collections/momo", bytes.NewBufferString(body)), "acct-1", "")
		w := httptest.NewRecorder()

		h.Deposit(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, stub.deposit)
		assert.Equal(t, "acct-1", stub.deposit.AccountID)
		assert.True(t, stub.deposit.Amount.Equal(decimal.NewFromInt(1000)))
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		h := NewPaymentHandler(&stubPayments{})
		req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/collections/momo", bytes.NewBufferString(`{"account_id":"acct-2"}`)), "acct-1", "")
		w := httptest.NewRecorder()

		h.Deposit(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Invalid request body", decodeError(t, w).Error)
	})

	t.Run("trailing data rejected", func(t *testing.T) {
		h := NewPaymentHandler(&stubPayments{})
		req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/collections/momo", bytes.NewBufferString(`{"currency":"UGX"}{}`)), "acct-1", "")
		w := httptest.NewRecorder()

		h.Deposit(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no account in context", func(t *testing.T) {
		h := NewPaymentHandler(&stubPayments{})
		w := httptest.NewRecorder()

		h.Deposit(w, httptest.NewRequest(http.MethodPost, "/api/v1/collections/momo", bytes.NewBufferString(`{}`)))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestPaymentHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"validation", services.NewValidationError("amount", "must be greater than 0"), http.StatusBadRequest, "Validation failed"},
		{"insufficient", models.ErrInsufficientFunds, http.StatusBadRequest, "Insufficient balance"},
		{"inactive", models.ErrAccountInactive, http.StatusForbidden, "Account is not active"},
		{"not found", models.ErrNotFound, http.StatusNotFound, "Not found"},
		{"provider", &services.ProviderError{StatusCode: 400, Body: "secret provider detail"}, http.StatusBadGateway, "Payment provider unavailable, please try again later"},
		{"auth", &services.AuthError{Err: errors.New("bad credentials")}, http.StatusBadGateway, "Payment provider unavailable, please try again later"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPaymentHandler(&stubPayments{payoutErr: tt.err})
			req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/payouts", bytes.NewBufferString(`{"currency":"USD","amount":10}`)), "acct-1", "")
			w := httptest.NewRecorder()

			h.Payout(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.wantError, resp.Error)
			assert.NotContains(t, w.Body.String(), "secret provider detail")
		})
	}
}

func TestPaymentHandler_Cancel(t *testing.T) {
	stub := &stubPayments{}
	r := chi.NewRouter()
	r.Post("/api/v1/transactions/{ref}/cancel", NewPaymentHandler(stub).Cancel)

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/transactions/txn_abc/cancel", nil), "acct-1", "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "txn_abc", stub.cancelRef)
}

func TestWebhookHandler(t *testing.T) {
	store := database.NewMemoryStore()
	verifier := services.NewSignatureVerifier("secret", false)
	gateway := services.NewWebhookGateway(store, verifier, services.NewJournalService(store),
		services.NewLedgerService(store, nil, nil), services.NewCommissionService(store, nil),
		services.NewAuditService(store), nil, services.LogNotifier{}, nil)
	h := NewWebhookHandler(gateway)

	require.NoError(t, store.WithTx(context.Background(), func(tx database.Tx) error {
		return tx.InsertTransaction(context.Background(), &models.Transaction{
			TransactionRef: "txn_hook00000001",
			AccountID:      "acct-1",
			Currency:       "UGX",
			Kind:           models.KindDeposit,
			GrossAmount:    decimal.NewFromInt(1000),
			ServiceFee:     decimal.NewFromInt(50),
			Status:         models.StatusPending,
		})
	}))

	body := []byte(`{"eventType":"wallet.load.successful","transactionRef":"txn_hook00000001","transactionId":"ext-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment-provider", bytes.NewReader(body))
	req.Header.Set("X-Signature", verifier.Sign(body))
	req.Header.Set("User-Agent", "provider-hooks/2.0")
	req.RemoteAddr = "192.0.2.10:44321"
	w := httptest.NewRecorder()

	h.PaymentProvider(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"detail":"Webhook processed successfully"}`, w.Body.String())

	bal, err := store.GetBalance(context.Background(), "acct-1", "UGX")
	require.NoError(t, err)
	assert.True(t, bal.Amount.Equal(decimal.NewFromInt(1000)))

	entries, err := store.ListAuditEntries(context.Background(), "acct-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "192.0.2.10", entries[0].IPAddress)
	assert.Equal(t, "provider-hooks/2.0", entries[0].UserAgent)

	t.Run("unsigned", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment-provider", bytes.NewReader(body))
		w := httptest.NewRecorder()

		h.PaymentProvider(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"detail":"Invalid signature"}`, w.Body.String())
	})
}

func TestLedgerHandler(t *testing.T) {
	store := database.NewMemoryStore()
	ledger := services.NewLedgerService(store, nil, nil)
	journal := services.NewJournalService(store)
	h := NewLedgerHandler(ledger, journal, services.NewCommissionService(store, nil), services.NewAuditService(store))

	require.NoError(t, store.WithTx(context.Background(), func(tx database.Tx) error {
		if _, err := ledger.Adjust(context.Background(), tx, "acct-1", "KES", decimal.NewFromInt(75), false); err != nil {
			return err
		}
		return tx.InsertTransaction(context.Background(), &models.Transaction{
			TransactionRef: "txn_ledger000001",
			AccountID:      "acct-1",
			Currency:       "KES",
			Kind:           models.KindDeposit,
			GrossAmount:    decimal.NewFromInt(75),
			Status:         models.StatusPending,
		})
	}))

	r := chi.NewRouter()
	r.Get("/balances/{currency}", h.Balance)
	r.Get("/transactions", h.Transactions)
	r.Get("/transactions/{ref}", h.Transaction)
	r.Get("/audit", h.Audit)
	r.Get("/commissions/{currency}", h.Commission)

	get := func(path, accountID string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, authed(httptest.NewRequest(http.MethodGet, path, nil), accountID, ""))
		return w
	}

	t.Run("balance", func(t *testing.T) {
		w := get("/balances/kes", "acct-1")
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Data models.LedgerBalance `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Data.Amount.Equal(decimal.NewFromInt(75)))
	})

	t.Run("bad currency", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, get("/balances/KESX", "acct-1").Code)
	})

	t.Run("list", func(t *testing.T) {
		w := get("/transactions?limit=5", "acct-1")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "txn_ledger000001")
	})

	t.Run("other account's transaction is hidden", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get("/transactions/txn_ledger000001", "acct-1").Code)
		assert.Equal(t, http.StatusNotFound, get("/transactions/txn_ledger000001", "acct-2").Code)
		assert.Equal(t, http.StatusNotFound, get("/transactions/txn_nope", "acct-1").Code)
	})

	t.Run("empty audit is an array", func(t *testing.T) {
		w := get("/audit", "acct-9")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"success":true,"data":[]}`, w.Body.String())
	})

	t.Run("commission", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get("/commissions/KES", "admin-1").Code)
	})
}
