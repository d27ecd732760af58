package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ruralpay/marketpay/internal/database"
	"github.com/ruralpay/marketpay/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) CollectionFees(ctx context.Context, req FeeQuery) (*ProviderFees, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProviderFees), args.Error(1)
}

func (m *MockProvider) RequestOTP(ctx context.Context, phone string) (json.RawMessage, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *MockProvider) InitiateMomo(ctx context.Context, req MomoCollection) (*ProviderTransaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProviderTransaction), args.Error(1)
}

func (m *MockProvider) Payout(ctx context.Context, req PayoutInstruction) (*ProviderTransaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProviderTransaction), args.Error(1)
}

func (m *MockProvider) PayoutQuotation(ctx context.Context, req QuotationQuery) (*ProviderQuotation, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProviderQuotation), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, event LedgerEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type MockAccountDirectory struct {
	mock.Mock
}

func (m *MockAccountDirectory) IsActive(ctx context.Context, accountID string) (bool, error) {
	args := m.Called(ctx, accountID)
	return args.Bool(0), args.Error(1)
}

// seedBalance sets a committed balance on the store.
func seedBalance(t *testing.T, store database.Store, accountID, currency, amount string) {
	t.Helper()
	err := store.WithTx(context.Background(), func(tx database.Tx) error {
		bal, err := tx.LockBalance(context.Background(), accountID, currency)
		if err != nil {
			return err
		}
		bal.Amount = decimal.RequireFromString(amount)
		return tx.SaveBalance(context.Background(), bal)
	})
	require.NoError(t, err)
}

// seedTransaction records a pending transaction directly on the store.
func seedTransaction(t *testing.T, store database.Store, txn *models.Transaction) {
	t.Helper()
	if txn.Status == "" {
		txn.Status = models.StatusPending
	}
	err := store.WithTx(context.Background(), func(tx database.Tx) error {
		return tx.InsertTransaction(context.Background(), txn)
	})
	require.NoError(t, err)
}

func balanceOf(t *testing.T, store database.Store, accountID, currency string) decimal.Decimal {
	t.Helper()
	bal, err := store.GetBalance(context.Background(), accountID, currency)
	require.NoError(t, err)
	return bal.Amount
}

func commissionOf(t *testing.T, store database.Store, currency string) decimal.Decimal {
	t.Helper()
	total, err := store.GetCommission(context.Background(), currency)
	require.NoError(t, err)
	return total.Amount
}
