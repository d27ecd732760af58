package services

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ruralpay/marketpay/internal/database"
	"github.com/ruralpay/marketpay/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

type gatewayFixture struct {
	store    *database.MemoryStore
	gateway  *WebhookGateway
	verifier *SignatureVerifier
	metrics  *Metrics
	notifier *MockNotifier
}

func newGatewayFixture(t *testing.T, secret string, failOpen bool) *gatewayFixture {
	t.Helper()
	store := database.NewMemoryStore()
	metrics := NewMetrics(prometheus.NewRegistry())
	notifier := &MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil).Maybe()
	verifier := NewSignatureVerifier(secret, failOpen)

	gateway := NewWebhookGateway(
		store,
		verifier,
		NewJournalService(store),
		NewLedgerService(store, nil, metrics),
		NewCommissionService(store, metrics),
		NewAuditService(store),
		nil,
		notifier,
		metrics,
	)
	return &gatewayFixture{store: store, gateway: gateway, verifier: verifier, metrics: metrics, notifier: notifier}
}

func (f *gatewayFixture) deliver(t *testing.T, payload map[string]any) WebhookResult {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	headers := http.Header{}
	headers.Set("X-Signature", f.verifier.Sign(body))
	return f.gateway.Handle(context.Background(), body, headers, models.Actor{IPAddress: "10.0.0.1", UserAgent: "provider/1.0"})
}

func depositTxn(ref string) *models.Transaction {
	return &models.Transaction{
		TransactionRef: ref,
		AccountID:      "acct-1",
		Currency:       "UGX",
		Kind:           models.KindDeposit,
		GrossAmount:    decimal.NewFromInt(1000),
		ServiceFee:     decimal.NewFromInt(50),
		Method:         "momo",
	}
}

func payoutTxn(ref string) *models.Transaction {
	return &models.Transaction{
		TransactionRef: ref,
		AccountID:      "acct-2",
		Currency:       "USD",
		Kind:           models.KindWithdraw,
		GrossAmount:    decimal.NewFromInt(500),
		ServiceFee:     decimal.NewFromInt(10),
		Method:         "momo",
	}
}

func TestWebhookGateway_DepositSuccess(t *testing.T) {
	f := newGatewayFixture(t, testWebhookSecret, false)
	seedTransaction(t, f.store, depositTxn("txn_dep000001"))

	res := f.deliver(t, map[string]any{
		"eventType":      "wallet.load.successful",
		"transactionRef": "txn_dep000001",
		"transactionId":  "ext-1",
		"amount":         1000,
		"currency":       "UGX",
	})

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "Webhook processed successfully", res.Body["detail"])
	assert.True(t, balanceOf(t, f.store, "acct-1", "UGX").Equal(decimal.NewFromInt(1000)), "wallet is credited the gross amount")
	assert.True(t, commissionOf(t, f.store, "UGX").Equal(decimal.NewFromInt(50)))

	txn, err := f.store.GetTransaction(context.Background(), "txn_dep000001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccessful, txn.Status)
	require.NotNil(t, txn.ExternalTransactionID)
	assert.Equal(t, "ext-1", *txn.ExternalTransactionID)

	settlements := f.store.Settlements("txn_dep000001")
	require.Len(t, settlements, 1)
	assert.Equal(t, models.SettlementCompleted, settlements[0].Status)

	earnings := f.store.Earnings("txn_dep000001")
	require.Len(t, earnings, 1)
	assert.Equal(t, models.EarningEarned, earnings[0].Status)
	assert.Equal(t, "collection", earnings[0].ServiceName)
	assert.True(t, earnings[0].Amount.Equal(decimal.NewFromInt(50)))

	f.notifier.AssertCalled(t, "Notify", mock.Anything, LedgerEvent{AccountID: "acct-1", Kind: EventBalanceChanged, TransactionRef: "txn_dep000001"})
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.webhookEventsTotal.WithLabelValues("wallet.load", "applied")))
}

func TestWebhookGateway_ReplayIsIdempotent(t *testing.T) {
	f := newGatewayFixture(t, testWebhookSecret, false)
	seedTransaction(t, f.store, depositTxn("txn_dep000002"))

	payload := map[string]any{
		"eventType":      "wallet.load",
		"status":         "successful",
		"transactionRef": "txn_dep000002",
	}
	for i := 0; i < 5; i++ {
		res := f.deliver(t, payload)
		assert.Equal(t, http.StatusOK, res.Status)
	}

	assert.True(t, balanceOf(t, f.store, "acct-1", "UGX").Equal(decimal.NewFromInt(1000)))
	assert.True(t, commissionOf(t, f.store, "UGX").Equal(decimal.NewFromInt(50)))
	assert.Len(t, f.store.Settlements("txn_dep000002"), 1)

	entries, err := f.store.ListAuditEntries(context.Background(), "acct-1", 50)
	require.NoError(t, err)
	assert.Len(t, entries, 5, "every delivery is audited")
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.webhookEventsTotal.WithLabelValues("wallet.load", "noop")))
}

func TestWebhookGateway_ConcurrentDeliveriesApplyOnce(t *testing.T) {
	f := newGatewayFixture(t, testWebhookSecret, false)
	seedTransaction(t, f.store, depositTxn("txn_dep000003"))

	payload := map[string]any{
		"eventType":      "wallet.load.successful",
		"transactionRef": "txn_dep000003",
	}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := f.deliver(t, payload)
			assert.Equal(t, http.StatusOK, res.Status)
		}()
	}
	wg.Wait()

	assert.True(t, balanceOf(t, f.store, "acct-1", "UGX").Equal(decimal.NewFromInt(1000)))
	assert.True(t, commissionOf(t, f.store, "UGX").Equal(decimal.NewFromInt(50)))
	assert.Len(t, f.store.Settlements("txn_dep000003"), 1)
}

func TestWebhookGateway_DepositFailed(t *testing.T) {
	f := newGatewayFixture(t, testWebhookSecret, false)
	seedTransaction(t, f.store, depositTxn("txn_dep000004"))

	res := f.deliver(t, map[string]any{
		"eventType":      "wallet.load.failed",
		"transactionRef": "txn_dep000004",
	})

	assert.Equal(t, http.StatusOK, res.Status)
	txn, err := f.store.GetTransaction(context.Background(), "txn_dep000004")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, txn.Status)
	assert.True(t, balanceOf(t, f.store, "acct-1", "UGX").IsZero())
	assert.True(t, commissionOf(t, f.store, "UGX").IsZero())

	// a late success after failure must not credit
	f.deliver(t, map[string]any{"eventType": "wallet.load.successful", "transactionRef": "txn_dep000004"})
	assert.True(t, balanceOf(t, f.store, "acct-1", "UGX").IsZero())
}

func TestWebhookGateway_PayoutFailureRefundsReservation(t *testing.T) {
	f := newGatewayFixture(t, testWebhookSecret, false)
	// 1000 before the payout, 510 reserved for it
	seedBalance(t, f.store, "acct-2", "USD", "490")
	seedTransaction(t, f.store, payoutTxn("txn_pay000001"))

	res := f.deliver(t, map[string]any{
		"eventType":      "transaction.payout",
		"status":         "failed",
		"transactionRef": "txn_pay000001",
	})

	assert.Equal(t, http.StatusOK, res.Status)
	assert.True(t, balanceOf(t, f.store, "acct-2", "USD").Equal(decimal.NewFromInt(1000)), "net balance unchanged by the attempt")
	assert.True(t, commissionOf(t, f.store, "USD").IsZero(), "no fee was accrued for a payout that never succeeded")

	txn, err := f.store.GetTransaction(context.Background(), "txn_pay000001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReversed, txn.Status)

	settlements := f.store.Settlements("txn_pay000001")
	require.Len(t, settlements, 1)
	assert.Equal(t, models.SettlementReversed, settlements[0].Status)
	assert.True(t, settlements[0].Amount.Equal(decimal.NewFromInt(510)))
	assert.Empty(t, f.store.Earnings("txn_pay000001"))

	// redelivery of the failure is a no-op
	f.deliver(t, map[string]any{"eventType": "transaction.payout.failed", "transactionRef": "txn_pay000001"})
	assert.True(t, balanceOf(t, f.store, "acct-2", "USD").Equal(decimal.NewFromInt(1000)))
}

func TestWebhookGateway_PayoutSuccessThenReversal(t *testing.T) {
	f := newGatewayFixture(t, testWebhookSecret, false)
	seedBalance(t, f.store, "acct-2", "USD", "490")
	seedTransaction(t, f.store, payoutTxn("txn_pay000002"))

	f.deliver(t, map[string]any{"eventType": "transaction.payout.successful", "transactionRef": "txn_pay000002"})
	assert.True(t, balanceOf(t, f.store, "acct-2", "USD").Equal(decimal.NewFromInt(490)), "success does not touch the reserved balance")
	assert.True(t, commissionOf(t, f.store, "USD").Equal(decimal.NewFromInt(10)))

	f.deliver(t, map[string]any{"eventType": "transaction.payout.reversed", "transactionRef": "txn_pay000002"})
	assert.True(t, balanceOf(t, f.store, "acct-2", "USD").Equal(decimal.NewFromInt(1000)))
	assert.True(t, commissionOf(t, f.store, "USD").IsZero())

	txn, err := f.store.GetTransaction(context.Background(), "txn_pay000002")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReversed, txn.Status)

	earnings := f.store.Earnings("txn_pay000002")
	require.Len(t, earnings, 2)
	assert.Equal(t, models.EarningEarned, earnings[0].Status)
	assert.Equal(t, "payout", earnings[0].ServiceName)
	assert.Equal(t, models.EarningReversed, earnings[1].Status)
	assert.True(t, earnings[1].Amount.Equal(decimal.NewFromInt(10)))
}

func TestWebhookGateway_SuccessAfterCancelIsFlagged(t *testing.T) {
	f := newGatewayFixture(t, testWebhookSecret, false)
	txn := depositTxn("txn_dep000009")
	txn.Status = models.StatusCancelled
	seedTransaction(t, f.store, txn)

	res := f.deliver(t, map[string]any{"eventType": "wallet.load.successful", "transactionRef": "txn_dep000009"})

	assert.Equal(t, http.StatusOK, res.Status)
	assert.True(t, balanceOf(t, f.store, "acct-1", "UGX").IsZero())
	assert.True(t, commissionOf(t, f.store, "UGX").IsZero())
	stored, err := f.store.GetTransaction(context.Background(), "txn_dep000009")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)

	entries, err := f.store.ListAuditEntries(context.Background(), "acct-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Action, "flagged for review")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.webhookEventsTotal.WithLabelValues("wallet.load", "needs_review")))
}

func TestWebhookGateway_KindMismatchIsIgnored(t *testing.T) {
	f := newGatewayFixture(t, testWebhookSecret, false)
	seedTransaction(t, f.store, depositTxn("txn_dep000005"))

	res := f.deliver(t, map[string]any{"eventType": "transaction.payout.reversed", "transactionRef": "txn_dep000005"})

	assert.Equal(t, http.StatusOK, res.Status)
	txn, err := f.store.GetTransaction(context.Background(), "txn_dep000005")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, txn.Status)
	assert.True(t, balanceOf(t, f.store, "acct-1", "UGX").IsZero())
}

func TestWebhookGateway_UnknownReference(t *testing.T) {
	f := newGatewayFixture(t, testWebhookSecret, false)

	res := f.deliver(t, map[string]any{"eventType": "wallet.load.successful", "transactionRef": "txn_missing0001"})

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "Transaction not found, but acknowledged", res.Body["detail"])

	entries, err := f.store.ListAuditEntries(context.Background(), models.SystemAccount, 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "txn_missing0001", entries[0].TransactionRef)
	assert.Equal(t, "10.0.0.1", entries[0].IPAddress)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestWebhookGateway_Rejections(t *testing.T) {
	t.Run("bad signature", func(t *testing.T) {
		f := newGatewayFixture(t, testWebhookSecret, false)
		seedTransaction(t, f.store, depositTxn("txn_dep000006"))
		body := []byte(`{"eventType":"wallet.load.successful","transactionRef":"txn_dep000006"}`)
		headers := http.Header{}
		headers.Set("X-Signature", "deadbeef")

		res := f.gateway.Handle(context.Background(), body, headers, models.Actor{IPAddress: "203.0.113.9"})

		assert.Equal(t, http.StatusUnauthorized, res.Status)
		assert.True(t, balanceOf(t, f.store, "acct-1", "UGX").IsZero())
		entries, err := f.store.ListAuditEntries(context.Background(), models.SystemAccount, 50)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Contains(t, entries[0].Action, "203.0.113.9")
	})

	t.Run("malformed json", func(t *testing.T) {
		f := newGatewayFixture(t, testWebhookSecret, false)
		body := []byte(`{"eventType":`)
		headers := http.Header{}
		headers.Set("X-Signature", f.verifier.Sign(body))

		res := f.gateway.Handle(context.Background(), body, headers, models.Actor{})

		assert.Equal(t, http.StatusBadRequest, res.Status)
		assert.Equal(t, "Invalid JSON payload", res.Body["detail"])
	})

	t.Run("missing transaction ref", func(t *testing.T) {
		f := newGatewayFixture(t, testWebhookSecret, false)

		res := f.deliver(t, map[string]any{"eventType": "wallet.load.successful"})

		assert.Equal(t, http.StatusBadRequest, res.Status)
		assert.Contains(t, res.Body, "errors")
	})

	t.Run("no secret fails closed", func(t *testing.T) {
		f := newGatewayFixture(t, "", false)
		seedTransaction(t, f.store, depositTxn("txn_dep000007"))

		res := f.gateway.Handle(context.Background(),
			[]byte(`{"eventType":"wallet.load.successful","transactionRef":"txn_dep000007"}`), http.Header{}, models.Actor{})

		assert.Equal(t, http.StatusUnauthorized, res.Status)
	})

	t.Run("no secret fails open when configured", func(t *testing.T) {
		f := newGatewayFixture(t, "", true)
		seedTransaction(t, f.store, depositTxn("txn_dep000008"))

		res := f.gateway.Handle(context.Background(),
			[]byte(`{"eventType":"wallet.load.successful","transactionRef":"txn_dep000008"}`), http.Header{}, models.Actor{})

		assert.Equal(t, http.StatusOK, res.Status)
		assert.True(t, balanceOf(t, f.store, "acct-1", "UGX").Equal(decimal.NewFromInt(1000)))
	})
}

func TestWebhookGateway_NotifierFailureDoesNotFailCallback(t *testing.T) {
	store := database.NewMemoryStore()
	metrics := NewMetrics(prometheus.NewRegistry())
	notifier := &MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(assert.AnError)
	verifier := NewSignatureVerifier(testWebhookSecret, false)
	gateway := NewWebhookGateway(store, verifier, NewJournalService(store), NewLedgerService(store, nil, metrics),
		NewCommissionService(store, metrics), NewAuditService(store), nil, notifier, metrics)
	seedTransaction(t, store, depositTxn("txn_dep000009"))

	body := []byte(`{"eventType":"wallet.load.successful","transactionRef":"txn_dep000009"}`)
	headers := http.Header{}
	headers.Set("X-Eversend-Signature", "sha256="+verifier.Sign(body))
	res := gateway.Handle(context.Background(), body, headers, models.Actor{})

	assert.Equal(t, http.StatusOK, res.Status)
	assert.True(t, balanceOf(t, store, "acct-1", "UGX").Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.notificationFailures))
}
