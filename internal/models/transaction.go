package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind is the direction of an external money movement.
type TransactionKind string

const (
	KindDeposit  TransactionKind = "deposit"
	KindWithdraw TransactionKind = "withdraw"
)

// TransactionStatus is a state of the transaction lifecycle.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusSuccessful TransactionStatus = "successful"
	StatusFailed     TransactionStatus = "failed"
	StatusCancelled  TransactionStatus = "cancelled"
	StatusReversed   TransactionStatus = "reversed"
)

// Terminal reports whether no further transition can leave the status.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusFailed, StatusCancelled, StatusReversed:
		return true
	}
	return false
}

// CanTransition reports whether a transaction of the given kind may move
// from one status to another. Withdrawals may be reversed straight from
// pending because their funds are reserved up front.
func CanTransition(kind TransactionKind, from, to TransactionStatus) bool {
	switch from {
	case StatusPending:
		switch to {
		case StatusSuccessful, StatusFailed, StatusCancelled:
			return true
		case StatusReversed:
			return kind == KindWithdraw
		}
	case StatusSuccessful:
		return to == StatusReversed
	}
	return false
}

// Transaction is one external money movement and its lifecycle state.
type Transaction struct {
	TransactionRef        string            `json:"transaction_ref" db:"transaction_ref"`
	AccountID             string            `json:"account_id" db:"account_id"`
	Currency              string            `json:"currency" db:"currency"`
	Kind                  TransactionKind   `json:"kind" db:"kind"`
	GrossAmount           decimal.Decimal   `json:"gross_amount" db:"gross_amount"`
	ServiceFee            decimal.Decimal   `json:"service_fee" db:"service_fee"`
	ProviderCharges       decimal.Decimal   `json:"provider_charges" db:"provider_charges"`
	Status                TransactionStatus `json:"status" db:"status"`
	ExternalTransactionID *string           `json:"external_transaction_id" db:"external_transaction_id"`
	Method                string            `json:"method" db:"method"`
	Destination           string            `json:"destination,omitempty" db:"destination"`
	CreatedAt             time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at" db:"updated_at"`
}

// ReservedAmount is what a transaction holds back from the wallet while it
// is in flight. Deposits reserve nothing.
func (t *Transaction) ReservedAmount() decimal.Decimal {
	if t.Kind != KindWithdraw {
		return decimal.Zero
	}
	return t.GrossAmount.Add(t.ServiceFee).Add(t.ProviderCharges)
}

// NewTransactionRef returns a platform reference in the txn_<12-hex> format.
func NewTransactionRef() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("txn_%s", id[:12])
}
