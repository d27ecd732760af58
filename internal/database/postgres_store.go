package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/ruralpay/marketpay/internal/models"
	"github.com/shopspring/decimal"
)

const (
	pqUniqueViolation = "23505"
	pqCheckViolation  = "23514"
)

// PostgresStore keeps ledger state in PostgreSQL and serializes writers
// with SELECT ... FOR UPDATE row locks.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) GetTransaction(ctx context.Context, ref string) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE transaction_ref = $1`, ref)
	return scanTransaction(row)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID string, limit int) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}
	return txns, rows.Err()
}

// GetBalance returns a zero balance for accounts that never held the currency.
func (s *PostgresStore) GetBalance(ctx context.Context, accountID, currency string) (*models.LedgerBalance, error) {
	balance := &models.LedgerBalance{AccountID: accountID, Currency: currency}
	err := s.db.QueryRowContext(ctx, `
		SELECT amount, updated_at
		FROM ledger_balances
		WHERE account_id = $1 AND currency = $2`, accountID, currency).
		Scan(&balance.Amount, &balance.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return balance, nil
	}
	if err != nil {
		return nil, err
	}
	return balance, nil
}

func (s *PostgresStore) GetCommission(ctx context.Context, currency string) (*models.CommissionTotal, error) {
	total := &models.CommissionTotal{Currency: currency}
	err := s.db.QueryRowContext(ctx, `
		SELECT amount, updated_at
		FROM commission_totals
		WHERE currency = $1`, currency).
		Scan(&total.Amount, &total.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return total, nil
	}
	if err != nil {
		return nil, err
	}
	return total, nil
}

func (s *PostgresStore) ListAuditEntries(ctx context.Context, accountID string, limit int) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, action, transaction_ref, ip_address, user_agent, created_at
		FROM audit_entries
		WHERE account_id = $1
		ORDER BY id DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Action, &e.TransactionRef, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockBalance(ctx context.Context, accountID, currency string) (*models.LedgerBalance, error) {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_balances (account_id, currency, amount, updated_at)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (account_id, currency) DO NOTHING`,
		accountID, currency, time.Now()); err != nil {
		return nil, err
	}

	balance := &models.LedgerBalance{}
	err := t.tx.QueryRowContext(ctx, `
		SELECT account_id, currency, amount, updated_at
		FROM ledger_balances
		WHERE account_id = $1 AND currency = $2
		FOR UPDATE`, accountID, currency).
		Scan(&balance.AccountID, &balance.Currency, &balance.Amount, &balance.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return balance, nil
}

func (t *pgTx) SaveBalance(ctx context.Context, balance *models.LedgerBalance) error {
	if balance.Amount.IsNegative() {
		return models.ErrInsufficientFunds
	}
	balance.UpdatedAt = time.Now()
	_, err := t.tx.ExecContext(ctx, `
		UPDATE ledger_balances
		SET amount = $1, updated_at = $2
		WHERE account_id = $3 AND currency = $4`,
		balance.Amount, balance.UpdatedAt, balance.AccountID, balance.Currency)
	return mapPQError(err)
}

func (t *pgTx) LockCommission(ctx context.Context, currency string) (*models.CommissionTotal, error) {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO commission_totals (currency, amount, updated_at)
		VALUES ($1, 0, $2)
		ON CONFLICT (currency) DO NOTHING`,
		currency, time.Now()); err != nil {
		return nil, err
	}

	total := &models.CommissionTotal{}
	err := t.tx.QueryRowContext(ctx, `
		SELECT currency, amount, updated_at
		FROM commission_totals
		WHERE currency = $1
		FOR UPDATE`, currency).
		Scan(&total.Currency, &total.Amount, &total.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return total, nil
}

func (t *pgTx) SaveCommission(ctx context.Context, total *models.CommissionTotal) error {
	total.UpdatedAt = time.Now()
	_, err := t.tx.ExecContext(ctx, `
		UPDATE commission_totals
		SET amount = $1, updated_at = $2
		WHERE currency = $3`,
		total.Amount, total.UpdatedAt, total.Currency)
	return mapPQError(err)
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	now := time.Now()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = now
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payment_transactions (
			transaction_ref, account_id, currency, kind, gross_amount, service_fee,
			provider_charges, status, external_transaction_id, method, destination,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		txn.TransactionRef, txn.AccountID, txn.Currency, string(txn.Kind),
		txn.GrossAmount, txn.ServiceFee, txn.ProviderCharges, string(txn.Status),
		nullString(txn.ExternalTransactionID), txn.Method, txn.Destination,
		txn.CreatedAt, txn.UpdatedAt)
	return mapPQError(err)
}

func (t *pgTx) LockTransaction(ctx context.Context, ref string) (*models.Transaction, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE transaction_ref = $1
		FOR UPDATE`, ref)
	return scanTransaction(row)
}

func (t *pgTx) UpdateTransactionStatus(ctx context.Context, txn *models.Transaction) error {
	txn.UpdatedAt = time.Now()
	result, err := t.tx.ExecContext(ctx, `
		UPDATE payment_transactions
		SET status = $1, external_transaction_id = COALESCE($2, external_transaction_id), updated_at = $3
		WHERE transaction_ref = $4`,
		string(txn.Status), nullString(txn.ExternalTransactionID), txn.UpdatedAt, txn.TransactionRef)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO audit_entries (account_id, action, transaction_ref, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		entry.AccountID, entry.Action, entry.TransactionRef, entry.IPAddress, entry.UserAgent, entry.CreatedAt).
		Scan(&entry.ID)
}

func (t *pgTx) InsertSettlement(ctx context.Context, settlement *models.Settlement) error {
	if settlement.CreatedAt.IsZero() {
		settlement.CreatedAt = time.Now()
	}
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO settlements (account_id, transaction_ref, amount, payment_method, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		settlement.AccountID, settlement.TransactionRef, settlement.Amount,
		settlement.PaymentMethod, settlement.Status, settlement.CreatedAt).
		Scan(&settlement.ID)
}

func (t *pgTx) InsertEarning(ctx context.Context, earning *models.Earning) error {
	if earning.CreatedAt.IsZero() {
		earning.CreatedAt = time.Now()
	}
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO earnings (account_id, currency, transaction_ref, service_name, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		earning.AccountID, earning.Currency, earning.TransactionRef, earning.ServiceName,
		earning.Amount, earning.Status, earning.CreatedAt).
		Scan(&earning.ID)
}

const transactionColumns = `transaction_ref, account_id, currency, kind, gross_amount, service_fee,
		provider_charges, status, external_transaction_id, method, destination, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		txn        models.Transaction
		kind       string
		status     string
		externalID sql.NullString
		gross      decimal.Decimal
		fee        decimal.Decimal
		charges    decimal.Decimal
	)
	err := row.Scan(
		&txn.TransactionRef, &txn.AccountID, &txn.Currency, &kind, &gross, &fee,
		&charges, &status, &externalID, &txn.Method, &txn.Destination,
		&txn.CreatedAt, &txn.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	txn.Kind = models.TransactionKind(kind)
	txn.Status = models.TransactionStatus(status)
	txn.GrossAmount, txn.ServiceFee, txn.ProviderCharges = gross, fee, charges
	if externalID.Valid {
		id := externalID.String
		txn.ExternalTransactionID = &id
	}
	return &txn, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("%w: %s", models.ErrDuplicate, pqErr.Constraint)
		case pqCheckViolation:
			return models.ErrInsufficientFunds
		}
	}
	return err
}
