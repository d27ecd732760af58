package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerBalance is the single-entry balance held by an account in one currency.
type LedgerBalance struct {
	AccountID string          `json:"account_id" db:"account_id"`
	Currency  string          `json:"currency" db:"currency"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // NUMERIC(18,2), never negative
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// CommissionTotal is the running platform fee total for a currency.
type CommissionTotal struct {
	Currency  string          `json:"currency" db:"currency"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Settlement records money that actually landed in (or was returned to) a wallet.
type Settlement struct {
	ID             int64           `json:"id" db:"id"`
	AccountID      string          `json:"account_id" db:"account_id"`
	TransactionRef string          `json:"transaction_ref" db:"transaction_ref"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	PaymentMethod  string          `json:"payment_method" db:"payment_method"`
	Status         string          `json:"status" db:"status"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

const (
	SettlementCompleted = "completed"
	SettlementReversed  = "reversed"
)

// Earning is the platform fee taken on one transaction. A reversal is a
// second row with status reversed, so the rows for a currency sum to its
// commission movements.
type Earning struct {
	ID             int64           `json:"id" db:"id"`
	AccountID      string          `json:"account_id" db:"account_id"`
	Currency       string          `json:"currency" db:"currency"`
	TransactionRef string          `json:"transaction_ref" db:"transaction_ref"`
	ServiceName    string          `json:"service_name" db:"service_name"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Status         string          `json:"status" db:"status"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

const (
	EarningEarned   = "earned"
	EarningReversed = "reversed"
)

// AuditEntry is an append-only compliance record.
type AuditEntry struct {
	ID             int64     `json:"id" db:"id"`
	AccountID      string    `json:"account_id" db:"account_id"`
	Action         string    `json:"action" db:"action"`
	TransactionRef string    `json:"transaction_ref,omitempty" db:"transaction_ref"`
	IPAddress      string    `json:"ip_address" db:"ip_address"`
	UserAgent      string    `json:"user_agent" db:"user_agent"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// SystemAccount is the audit owner for events that cannot be tied to an account.
const SystemAccount = "system"

// Actor carries request metadata recorded on audit entries.
type Actor struct {
	IPAddress string
	UserAgent string
}

// Normalized fills unknown actor fields the way the audit table expects.
func (a Actor) Normalized() Actor {
	if a.IPAddress == "" {
		a.IPAddress = "Unknown"
	}
	if a.UserAgent == "" {
		a.UserAgent = "Unknown"
	}
	return a
}
