package services

import (
	"context"
	"fmt"
	"log"

	"github.com/ruralpay/marketpay/internal/database"
	"github.com/ruralpay/marketpay/internal/models"
	"github.com/shopspring/decimal"
)

// NewTransaction describes a pending transaction about to be recorded.
type NewTransaction struct {
	Ref             string
	AccountID       string
	Currency        string
	Kind            models.TransactionKind
	GrossAmount     decimal.Decimal
	ServiceFee      decimal.Decimal
	ProviderCharges decimal.Decimal
	Method          string
	Destination     string
}

// JournalService records external money movements and drives their status.
type JournalService struct {
	store database.Store
}

func NewJournalService(store database.Store) *JournalService {
	return &JournalService{store: store}
}

// Create inserts a pending transaction. A blank Ref gets a fresh txn_ reference.
func (s *JournalService) Create(ctx context.Context, tx database.Tx, nt NewTransaction) (*models.Transaction, error) {
	if nt.Ref == "" {
		nt.Ref = models.NewTransactionRef()
	}
	txn := &models.Transaction{
		TransactionRef:  nt.Ref,
		AccountID:       nt.AccountID,
		Currency:        nt.Currency,
		Kind:            nt.Kind,
		GrossAmount:     nt.GrossAmount,
		ServiceFee:      nt.ServiceFee,
		ProviderCharges: nt.ProviderCharges,
		Status:          models.StatusPending,
		Method:          nt.Method,
		Destination:     nt.Destination,
	}
	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("insert transaction %s: %w", nt.Ref, err)
	}
	return txn, nil
}

// Transition moves the transaction to target under its row lock. It reports
// applied=false without error when the move is not allowed from the current
// status, which is how redelivered events become no-ops.
func (s *JournalService) Transition(ctx context.Context, tx database.Tx, ref string, target models.TransactionStatus, externalID string) (bool, *models.Transaction, error) {
	txn, err := tx.LockTransaction(ctx, ref)
	if err != nil {
		return false, nil, err
	}

	if !models.CanTransition(txn.Kind, txn.Status, target) {
		log.Printf("[JOURNAL] %s: %s -> %s not applied", ref, txn.Status, target)
		return false, txn, nil
	}

	txn.Status = target
	if externalID != "" {
		txn.ExternalTransactionID = &externalID
	}
	if err := tx.UpdateTransactionStatus(ctx, txn); err != nil {
		return false, nil, fmt.Errorf("update transaction %s: %w", ref, err)
	}
	return true, txn, nil
}

func (s *JournalService) Get(ctx context.Context, ref string) (*models.Transaction, error) {
	return s.store.GetTransaction(ctx, ref)
}

func (s *JournalService) List(ctx context.Context, accountID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListTransactions(ctx, accountID, limit)
}
