package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/ruralpay/marketpay/internal/config"
	"github.com/ruralpay/marketpay/internal/database"
	"github.com/ruralpay/marketpay/internal/models"
	"github.com/shopspring/decimal"
)

// PaymentProvider is the subset of the provider API the orchestrator drives.
type PaymentProvider interface {
	CollectionFees(ctx context.Context, req FeeQuery) (*ProviderFees, error)
	RequestOTP(ctx context.Context, phone string) (json.RawMessage, error)
	InitiateMomo(ctx context.Context, req MomoCollection) (*ProviderTransaction, error)
	Payout(ctx context.Context, req PayoutInstruction) (*ProviderTransaction, error)
	PayoutQuotation(ctx context.Context, req QuotationQuery) (*ProviderQuotation, error)
}

type DepositRequest struct {
	AccountID       string          `json:"-"`
	Currency        string          `json:"currency" validate:"required,len=3,alpha"`
	Amount          decimal.Decimal `json:"amount"`
	ProviderCharges decimal.Decimal `json:"charges"`
	Method          string          `json:"method" validate:"omitempty,oneof=momo"`
	Phone           string          `json:"phone" validate:"required,min=10,max=20"`
	Country         string          `json:"country" validate:"required,len=2,alpha"`
	OTP             string          `json:"otp" validate:"required,max=10"`
	Customer        string          `json:"customer" validate:"required,max=255"`
}

type PayoutRequest struct {
	AccountID       string          `json:"-"`
	Currency        string          `json:"currency" validate:"required,len=3,alpha"`
	Amount          decimal.Decimal `json:"amount"`
	ProviderCharges decimal.Decimal `json:"charges"`
	QuotationToken  string          `json:"token" validate:"required"`
	Country         string          `json:"country" validate:"required,len=2,alpha"`
	PhoneNumber     string          `json:"phoneNumber" validate:"required,min=10,max=20"`
	FirstName       string          `json:"firstName" validate:"required,min=2,max=100"`
	LastName        string          `json:"lastName" validate:"required,min=2,max=100"`
}

type CollectionFeeRequest struct {
	Method   string          `json:"method" validate:"required,max=50"`
	Currency string          `json:"currency" validate:"required,len=3,alpha"`
	Amount   decimal.Decimal `json:"amount"`
}

// FeeQuote is the provider's fee quote with the platform fee on top.
type FeeQuote struct {
	Amount        decimal.Decimal `json:"amount"`
	ProviderFees  decimal.Decimal `json:"provider_charges"`
	ServiceFee    decimal.Decimal `json:"service_fee"`
	Charges       decimal.Decimal `json:"charges"`
	TotalToPay    decimal.Decimal `json:"total_to_pay"`
	PayableAmount decimal.Decimal `json:"payable_amount"`
}

type PayoutQuotationRequest struct {
	AccountID           string          `json:"-"`
	SourceWallet        string          `json:"sourceWallet" validate:"required,len=3,alpha"`
	Amount              decimal.Decimal `json:"amount"`
	Type                string          `json:"type" validate:"required,oneof=momo bank card"`
	DestinationCountry  string          `json:"destinationCountry" validate:"required,len=2,alpha"`
	DestinationCurrency string          `json:"destinationCurrency" validate:"required,len=3,alpha"`
	AmountType          string          `json:"amountType" validate:"required,oneof=source destination"`
}

// Quotation is a provider payout quote with the platform fee and the wallet
// balance check applied.
type Quotation struct {
	ProviderQuotation
	ServiceFee          decimal.Decimal `json:"service_fee"`
	TotalFees           decimal.Decimal `json:"total_fees"`
	TotalAmountRequired decimal.Decimal `json:"totalAmountRequired"`
	Sufficient          bool            `json:"sufficient"`
}

// PaymentOrchestrator starts deposits and payouts. Pending records and any
// reservation are committed before the provider is called, so no ledger lock
// is held across a provider round trip.
type PaymentOrchestrator struct {
	store     database.Store
	provider  PaymentProvider
	accounts  AccountDirectory
	journal   *JournalService
	ledger    *LedgerService
	audit     *AuditService
	cache     *BalanceCache
	notifier  Notifier
	metrics   *Metrics
	validator *ValidationHelper
	fees      config.FeeConfig
	limits    config.LimitConfig
}

func NewPaymentOrchestrator(
	store database.Store,
	provider PaymentProvider,
	accounts AccountDirectory,
	journal *JournalService,
	ledger *LedgerService,
	audit *AuditService,
	cache *BalanceCache,
	notifier Notifier,
	metrics *Metrics,
	fees config.FeeConfig,
	limits config.LimitConfig,
) *PaymentOrchestrator {
	return &PaymentOrchestrator{
		store:     store,
		provider:  provider,
		accounts:  accounts,
		journal:   journal,
		ledger:    ledger,
		audit:     audit,
		cache:     cache,
		notifier:  notifier,
		metrics:   metrics,
		validator: NewValidationHelper(),
		fees:      fees,
		limits:    limits,
	}
}

func serviceFee(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(2)
}

func checkAmount(field string, amount decimal.Decimal, bounds config.Bounds) error {
	if !amount.IsPositive() {
		return NewValidationError(field, "must be greater than 0")
	}
	if !amount.Equal(amount.Round(2)) {
		return NewValidationError(field, "must have at most 2 decimal places")
	}
	if bounds.Min.IsPositive() && amount.LessThan(bounds.Min) {
		return NewValidationError(field, fmt.Sprintf("must be at least %s", bounds.Min))
	}
	if bounds.Max.IsPositive() && amount.GreaterThan(bounds.Max) {
		return NewValidationError(field, fmt.Sprintf("must not exceed %s", bounds.Max))
	}
	return nil
}

func checkFees(amount, fee, charges decimal.Decimal) error {
	if charges.IsNegative() {
		return NewValidationError("charges", "must not be negative")
	}
	if !charges.Equal(charges.Round(2)) {
		return NewValidationError("charges", "must have at most 2 decimal places")
	}
	if fee.Add(charges).GreaterThan(amount) {
		return NewValidationError("amount", "fees exceed amount")
	}
	return nil
}

func (o *PaymentOrchestrator) ensureActive(ctx context.Context, accountID string) error {
	active, err := o.accounts.IsActive(ctx, accountID)
	if err != nil {
		return fmt.Errorf("account lookup: %w", err)
	}
	if !active {
		return models.ErrAccountInactive
	}
	return nil
}

func cleanPhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
}

// InitiateDeposit records a pending deposit and asks the provider to collect
// it. The wallet is only credited when the success webhook arrives.
func (o *PaymentOrchestrator) InitiateDeposit(ctx context.Context, req DepositRequest, actor models.Actor) (*models.Transaction, error) {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.Country = strings.ToUpper(strings.TrimSpace(req.Country))
	req.Phone = cleanPhone(req.Phone)
	if req.Method == "" {
		req.Method = "momo"
	}
	if err := o.validator.Validate(&req); err != nil {
		return nil, err
	}
	if err := checkAmount("amount", req.Amount, o.limits.Deposit); err != nil {
		return nil, err
	}
	fee := serviceFee(req.Amount, o.fees.DepositRate)
	if err := checkFees(req.Amount, fee, req.ProviderCharges); err != nil {
		return nil, err
	}
	if err := o.ensureActive(ctx, req.AccountID); err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err := o.store.WithTx(ctx, func(tx database.Tx) error {
		var err error
		txn, err = o.journal.Create(ctx, tx, NewTransaction{
			AccountID:       req.AccountID,
			Currency:        req.Currency,
			Kind:            models.KindDeposit,
			GrossAmount:     req.Amount,
			ServiceFee:      fee,
			ProviderCharges: req.ProviderCharges,
			Method:          req.Method,
			Destination:     req.Phone,
		})
		if err != nil {
			return err
		}
		return o.audit.Record(ctx, tx, req.AccountID, "Deposit initiated: "+txn.TransactionRef, txn.TransactionRef, actor)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[DEPOSIT] %s pending: %s %s for %s", txn.TransactionRef, req.Amount, req.Currency, req.AccountID)

	_, err = o.provider.InitiateMomo(ctx, MomoCollection{
		Phone:          req.Phone,
		Amount:         json.Number(req.Amount.String()),
		Country:        req.Country,
		Currency:       req.Currency,
		TransactionRef: txn.TransactionRef,
		OTP:            strings.TrimSpace(req.OTP),
		Customer:       strings.TrimSpace(req.Customer),
	})
	if err != nil {
		return o.rejectAfterProvider(ctx, txn, actor, err)
	}
	return txn, nil
}

// InitiatePayout reserves gross + fee + charges, records the pending payout
// in the same unit, then instructs the provider.
func (o *PaymentOrchestrator) InitiatePayout(ctx context.Context, req PayoutRequest, actor models.Actor) (*models.Transaction, error) {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.Country = strings.ToUpper(strings.TrimSpace(req.Country))
	req.PhoneNumber = cleanPhone(req.PhoneNumber)
	if err := o.validator.Validate(&req); err != nil {
		return nil, err
	}
	if err := checkAmount("amount", req.Amount, o.limits.Payout); err != nil {
		return nil, err
	}
	fee := serviceFee(req.Amount, o.fees.PayoutRate)
	if err := checkFees(req.Amount, fee, req.ProviderCharges); err != nil {
		return nil, err
	}
	if err := o.ensureActive(ctx, req.AccountID); err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err := o.store.WithTx(ctx, func(tx database.Tx) error {
		var err error
		txn, err = o.journal.Create(ctx, tx, NewTransaction{
			AccountID:       req.AccountID,
			Currency:        req.Currency,
			Kind:            models.KindWithdraw,
			GrossAmount:     req.Amount,
			ServiceFee:      fee,
			ProviderCharges: req.ProviderCharges,
			Method:          "momo",
			Destination:     req.PhoneNumber,
		})
		if err != nil {
			return err
		}
		if _, err := o.ledger.Adjust(ctx, tx, req.AccountID, req.Currency, txn.ReservedAmount().Neg(), false); err != nil {
			return err
		}
		return o.audit.Record(ctx, tx, req.AccountID, "Payout initiated: "+txn.TransactionRef, txn.TransactionRef, actor)
	})
	if err != nil {
		if errors.Is(err, models.ErrInsufficientFunds) {
			log.Printf("[PAYOUT] insufficient balance for %s %s payout by %s", req.Amount, req.Currency, req.AccountID)
			o.audit.RecordStandalone(ctx, req.AccountID,
				fmt.Sprintf("Payout rejected: insufficient balance for %s %s", req.Amount, req.Currency), "", actor)
		}
		return nil, err
	}
	o.cache.Invalidate(ctx, BalanceCacheKey(req.AccountID, req.Currency))
	dispatch(ctx, o.notifier, o.metrics, LedgerEvent{AccountID: req.AccountID, Kind: EventBalanceChanged, TransactionRef: txn.TransactionRef})
	log.Printf("[PAYOUT] %s pending: reserved %s %s for %s", txn.TransactionRef, txn.ReservedAmount(), req.Currency, req.AccountID)

	_, err = o.provider.Payout(ctx, PayoutInstruction{
		Token:          strings.TrimSpace(req.QuotationToken),
		Country:        req.Country,
		PhoneNumber:    req.PhoneNumber,
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		TransactionRef: txn.TransactionRef,
	})
	if err != nil {
		return o.rejectAfterProvider(ctx, txn, actor, err)
	}
	return txn, nil
}

// rejectAfterProvider fails a pending transaction the provider refused and
// returns any reservation in the same unit.
func (o *PaymentOrchestrator) rejectAfterProvider(ctx context.Context, txn *models.Transaction, actor models.Actor, cause error) (*models.Transaction, error) {
	log.Printf("[%s] provider rejected %s: %v", strings.ToUpper(string(txn.Kind)), txn.TransactionRef, cause)

	var (
		updated  *models.Transaction
		refunded bool
	)
	err := o.store.WithTx(ctx, func(tx database.Tx) error {
		applied, t, err := o.journal.Transition(ctx, tx, txn.TransactionRef, models.StatusFailed, "")
		if err != nil {
			return err
		}
		updated = t
		action := fmt.Sprintf("Provider rejected %s: %s", txn.Kind, txn.TransactionRef)
		if applied {
			if reserved := t.ReservedAmount(); reserved.IsPositive() {
				if _, err := o.ledger.Adjust(ctx, tx, t.AccountID, t.Currency, reserved, false); err != nil {
					return err
				}
				refunded = true
				action += fmt.Sprintf(", refunded %s %s", reserved, t.Currency)
			}
		}
		return o.audit.Record(ctx, tx, t.AccountID, action, t.TransactionRef, actor)
	})
	if err != nil {
		log.Printf("[%s] failed to record rejection of %s: %v", strings.ToUpper(string(txn.Kind)), txn.TransactionRef, err)
		return nil, fmt.Errorf("%w (and recording the failure: %v)", cause, err)
	}

	if refunded {
		o.cache.Invalidate(ctx, BalanceCacheKey(updated.AccountID, updated.Currency))
		dispatch(ctx, o.notifier, o.metrics, LedgerEvent{AccountID: updated.AccountID, Kind: EventBalanceChanged, TransactionRef: updated.TransactionRef})
	}
	return updated, cause
}

// Cancel moves a pending deposit owned by accountID to cancelled. Payouts
// are refused: once instructed, only the provider's callback may settle or
// refund the reservation.
func (o *PaymentOrchestrator) Cancel(ctx context.Context, accountID, ref string, actor models.Actor) (*models.Transaction, error) {
	var (
		updated *models.Transaction
		applied bool
		refused bool
	)
	err := o.store.WithTx(ctx, func(tx database.Tx) error {
		current, err := tx.LockTransaction(ctx, ref)
		if err != nil {
			return err
		}
		if current.AccountID != accountID {
			return models.ErrNotFound
		}
		if current.Kind == models.KindWithdraw {
			refused = true
			updated = current
			return o.audit.Record(ctx, tx, accountID, "Cancel refused: payout "+ref+" already submitted to provider", ref, actor)
		}
		applied, updated, err = o.journal.Transition(ctx, tx, ref, models.StatusCancelled, "")
		if err != nil {
			return err
		}
		action := fmt.Sprintf("Cancel requested: %s, transaction %s", ref, updated.Status)
		if applied {
			action = "Transaction cancelled: " + ref
		}
		return o.audit.Record(ctx, tx, accountID, action, ref, actor)
	})
	if err != nil {
		return nil, err
	}
	if refused {
		return updated, NewValidationError("status", "payouts cannot be cancelled once submitted to the provider")
	}
	if !applied {
		return updated, NewValidationError("status", fmt.Sprintf("transaction is %s and cannot be cancelled", updated.Status))
	}

	dispatch(ctx, o.notifier, o.metrics, LedgerEvent{AccountID: accountID, Kind: EventTransactionSettled, TransactionRef: ref})
	return updated, nil
}

// CollectionFees quotes the provider fee for a deposit and adds the platform fee.
func (o *PaymentOrchestrator) CollectionFees(ctx context.Context, req CollectionFeeRequest) (*FeeQuote, error) {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.Method = strings.TrimSpace(req.Method)
	if err := o.validator.Validate(&req); err != nil {
		return nil, err
	}
	if err := checkAmount("amount", req.Amount, o.limits.Deposit); err != nil {
		return nil, err
	}

	fees, err := o.provider.CollectionFees(ctx, FeeQuery{
		Method:   req.Method,
		Currency: req.Currency,
		Amount:   json.Number(req.Amount.String()),
	})
	if err != nil {
		return nil, err
	}

	amount := fees.Amount
	if amount.IsZero() {
		amount = req.Amount
	}
	fee := serviceFee(req.Amount, o.fees.DepositRate)
	total := amount.Add(fee)
	return &FeeQuote{
		Amount:        amount,
		ProviderFees:  fees.Charges,
		ServiceFee:    fee,
		Charges:       fees.Charges.Add(fee),
		TotalToPay:    total,
		PayableAmount: total,
	}, nil
}

func (o *PaymentOrchestrator) RequestOTP(ctx context.Context, phone string) (json.RawMessage, error) {
	phone = cleanPhone(phone)
	digits := strings.TrimPrefix(phone, "+")
	if len(phone) < 10 || strings.Trim(digits, "0123456789") != "" {
		return nil, NewValidationError("phone", "invalid phone number format")
	}
	return o.provider.RequestOTP(ctx, phone)
}

// PayoutQuotation returns the provider quote plus the platform fee and
// whether the wallet can cover the total.
func (o *PaymentOrchestrator) PayoutQuotation(ctx context.Context, req PayoutQuotationRequest) (*Quotation, error) {
	req.SourceWallet = strings.ToUpper(strings.TrimSpace(req.SourceWallet))
	req.DestinationCountry = strings.ToUpper(strings.TrimSpace(req.DestinationCountry))
	req.DestinationCurrency = strings.ToUpper(strings.TrimSpace(req.DestinationCurrency))
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	req.AmountType = strings.ToLower(strings.TrimSpace(req.AmountType))
	if err := o.validator.Validate(&req); err != nil {
		return nil, err
	}
	if err := checkAmount("amount", req.Amount, o.limits.Payout); err != nil {
		return nil, err
	}

	pq, err := o.provider.PayoutQuotation(ctx, QuotationQuery{
		SourceWallet:        req.SourceWallet,
		Amount:              json.Number(req.Amount.String()),
		Type:                req.Type,
		DestinationCountry:  req.DestinationCountry,
		DestinationCurrency: req.DestinationCurrency,
		AmountType:          req.AmountType,
	})
	if err != nil {
		return nil, err
	}

	fee := serviceFee(req.Amount, o.fees.PayoutRate)
	totalFees := pq.TotalFees.Add(fee)
	q := &Quotation{
		ProviderQuotation:   *pq,
		ServiceFee:          fee,
		TotalFees:           totalFees,
		TotalAmountRequired: req.Amount.Add(totalFees),
	}

	balance, err := o.ledger.Balance(ctx, req.AccountID, req.SourceWallet)
	if err != nil {
		return nil, err
	}
	q.Sufficient = !balance.Amount.LessThan(q.TotalAmountRequired)
	return q, nil
}
