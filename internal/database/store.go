package database

import (
	"context"

	"github.com/ruralpay/marketpay/internal/models"
)

// Tx is one atomic unit of work. Lock methods hold their row until the unit
// commits or rolls back. Callers must lock in the order
// transaction -> balance -> commission.
type Tx interface {
	// LockBalance creates the row at zero when absent and locks it.
	LockBalance(ctx context.Context, accountID, currency string) (*models.LedgerBalance, error)
	SaveBalance(ctx context.Context, balance *models.LedgerBalance) error

	// LockCommission creates the row at zero when absent and locks it.
	LockCommission(ctx context.Context, currency string) (*models.CommissionTotal, error)
	SaveCommission(ctx context.Context, total *models.CommissionTotal) error

	InsertTransaction(ctx context.Context, txn *models.Transaction) error
	// LockTransaction returns models.ErrNotFound when the ref is unknown.
	LockTransaction(ctx context.Context, ref string) (*models.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, txn *models.Transaction) error

	InsertAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	InsertSettlement(ctx context.Context, settlement *models.Settlement) error
	InsertEarning(ctx context.Context, earning *models.Earning) error
}

// Store is the durable home of ledger state.
type Store interface {
	// WithTx runs fn inside one atomic unit. A returned error rolls back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetTransaction(ctx context.Context, ref string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, accountID string, limit int) ([]models.Transaction, error)
	GetBalance(ctx context.Context, accountID, currency string) (*models.LedgerBalance, error)
	GetCommission(ctx context.Context, currency string) (*models.CommissionTotal, error)
	ListAuditEntries(ctx context.Context, accountID string, limit int) ([]models.AuditEntry, error)
}
