package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/ruralpay/marketpay/internal/database"
	"github.com/ruralpay/marketpay/internal/models"
	"github.com/shopspring/decimal"
)

const settlementMethod = "eversend"

// Service names on earning rows.
const (
	earningCollection = "collection"
	earningPayout     = "payout"
)

// WebhookResult is the HTTP status and acknowledgement returned to the provider.
type WebhookResult struct {
	Status int
	Body   map[string]any
}

func ack(status int, detail string) WebhookResult {
	return WebhookResult{Status: status, Body: map[string]any{"detail": detail}}
}

// WebhookGateway reconciles provider callbacks against the journal. All
// money movement for one callback happens in a single unit of work and only
// when the status transition is newly applied.
type WebhookGateway struct {
	store      database.Store
	verifier   *SignatureVerifier
	validator  *ValidationHelper
	journal    *JournalService
	ledger     *LedgerService
	commission *CommissionService
	audit      *AuditService
	cache      *BalanceCache
	notifier   Notifier
	metrics    *Metrics
}

func NewWebhookGateway(
	store database.Store,
	verifier *SignatureVerifier,
	journal *JournalService,
	ledger *LedgerService,
	commission *CommissionService,
	audit *AuditService,
	cache *BalanceCache,
	notifier Notifier,
	metrics *Metrics,
) *WebhookGateway {
	return &WebhookGateway{
		store:      store,
		verifier:   verifier,
		validator:  NewValidationHelper(),
		journal:    journal,
		ledger:     ledger,
		commission: commission,
		audit:      audit,
		cache:      cache,
		notifier:   notifier,
		metrics:    metrics,
	}
}

// reconciliation is what one callback did inside its unit of work.
type reconciliation struct {
	txn     *models.Transaction
	applied bool
	action  string
	events  []LedgerEvent
	touched bool
	review  bool
}

func (g *WebhookGateway) Handle(ctx context.Context, rawBody []byte, headers http.Header, actor models.Actor) WebhookResult {
	if err := g.verifier.Verify(rawBody, headers); err != nil {
		log.Printf("[WEBHOOK] signature verification failed from IP: %s", actor.IPAddress)
		g.metrics.ObserveWebhook("unknown", "bad_signature")
		g.audit.RecordStandalone(ctx, models.SystemAccount,
			fmt.Sprintf("Failed webhook signature verification from IP: %s", actor.Normalized().IPAddress), "", actor)
		return ack(http.StatusUnauthorized, "Invalid signature")
	}

	var payload models.WebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		log.Printf("[WEBHOOK] invalid JSON payload from IP %s: %v", actor.IPAddress, err)
		g.metrics.ObserveWebhook("unknown", "bad_json")
		return ack(http.StatusBadRequest, "Invalid JSON payload")
	}

	if err := g.validator.Validate(&payload); err != nil {
		log.Printf("[WEBHOOK] invalid payload structure from IP %s: %v", actor.IPAddress, err)
		g.metrics.ObserveWebhook("unknown", "invalid")
		res := ack(http.StatusBadRequest, "Invalid payload")
		var ve *ValidationError
		if errors.As(err, &ve) {
			res.Body["errors"] = ve.Fields
		}
		return res
	}

	kind, status := payload.Classify()
	ref := payload.TransactionRef
	log.Printf("[WEBHOOK] processing eventType=%s kind=%s status=%s txRef=%s txId=%s IP=%s",
		payload.EventType, kind, status, ref, payload.TransactionID, actor.IPAddress)

	if _, err := g.journal.Get(ctx, ref); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Printf("[WEBHOOK] no transaction found for ref: %s", ref)
			g.metrics.ObserveWebhook(kind.String(), "unknown_ref")
			g.audit.RecordStandalone(ctx, models.SystemAccount,
				fmt.Sprintf("Webhook for unknown transaction: %s - %s", payload.EventType, ref), ref, actor)
			return ack(http.StatusOK, "Transaction not found, but acknowledged")
		}
		return g.fail(ctx, ref, actor, err)
	}

	var rec *reconciliation
	err := g.store.WithTx(ctx, func(tx database.Tx) error {
		var err error
		rec, err = g.reconcile(ctx, tx, &payload, kind, status)
		if err != nil {
			return err
		}
		return g.audit.Record(ctx, tx, rec.txn.AccountID, rec.action, ref, actor)
	})
	if err != nil {
		return g.fail(ctx, ref, actor, err)
	}

	if rec.touched {
		g.cache.Invalidate(ctx, BalanceCacheKey(rec.txn.AccountID, rec.txn.Currency))
	}
	dispatch(ctx, g.notifier, g.metrics, rec.events...)

	outcome := "noop"
	switch {
	case rec.applied:
		outcome = "applied"
	case rec.review:
		outcome = "needs_review"
	}
	g.metrics.ObserveWebhook(kind.String(), outcome)
	log.Printf("[WEBHOOK] %s: %s", ref, rec.action)
	return ack(http.StatusOK, "Webhook processed successfully")
}

func (g *WebhookGateway) fail(ctx context.Context, ref string, actor models.Actor, err error) WebhookResult {
	log.Printf("[WEBHOOK] error processing %s: %v", ref, err)
	g.metrics.ObserveWebhook("unknown", "error")
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	g.audit.RecordStandalone(ctx, models.SystemAccount, "Webhook processing error: "+msg, ref, actor)
	return ack(http.StatusInternalServerError, "Internal server error")
}

// reconcile runs under the transaction row lock. Lock order inside is
// transaction, balance, commission.
func (g *WebhookGateway) reconcile(ctx context.Context, tx database.Tx, p *models.WebhookPayload, kind models.EventKind, status models.ProviderStatus) (*reconciliation, error) {
	txn, err := tx.LockTransaction(ctx, p.TransactionRef)
	if err != nil {
		return nil, err
	}
	rec := &reconciliation{
		txn:    txn,
		action: fmt.Sprintf("Webhook ignored: %s - %s", p.EventType, status),
	}

	wantKind, known := kind.TransactionKind()
	if !known {
		log.Printf("[WEBHOOK] unrecognized event type %q for %s", p.EventType, txn.TransactionRef)
		rec.action = fmt.Sprintf("Webhook ignored: unrecognized event %s", p.EventType)
		return rec, nil
	}
	if wantKind != txn.Kind {
		log.Printf("[WEBHOOK] %s event for %s transaction %s", kind, txn.Kind, txn.TransactionRef)
		rec.action = fmt.Sprintf("Webhook ignored: %s does not apply to %s transaction", kind, txn.Kind)
		return rec, nil
	}

	var target models.TransactionStatus
	switch {
	case status == models.ProviderStatusSuccessful:
		target = models.StatusSuccessful
	case kind == models.EventWalletLoad && status == models.ProviderStatusFailed:
		target = models.StatusFailed
	case kind == models.EventPayout && (status == models.ProviderStatusFailed || status == models.ProviderStatusReversed):
		target = models.StatusReversed
	default:
		rec.action = fmt.Sprintf("Webhook ignored: %s - %s", kind, status)
		return rec, nil
	}

	previous := txn.Status
	applied, txn, err := g.journal.Transition(ctx, tx, txn.TransactionRef, target, p.TransactionID)
	if err != nil {
		return nil, err
	}
	rec.txn = txn
	if !applied {
		if previous == models.StatusCancelled && target == models.StatusSuccessful {
			// Money moved at the provider after the transaction was cancelled
			// here. The ledger is left alone and an operator settles it by hand.
			log.Printf("[WEBHOOK] REVIEW: provider reported %s successful for cancelled transaction %s", kind, txn.TransactionRef)
			rec.review = true
			rec.action = fmt.Sprintf("Webhook flagged for review: %s - %s reported for cancelled transaction", kind, status)
			return rec, nil
		}
		rec.action = fmt.Sprintf("Webhook duplicate: %s - %s, transaction already %s", kind, status, txn.Status)
		return rec, nil
	}
	rec.applied = true
	rec.action = fmt.Sprintf("Webhook processed: %s - %s", kind, status)

	switch {
	case kind == models.EventWalletLoad && target == models.StatusSuccessful:
		err = g.settleDeposit(ctx, tx, txn, rec)
	case kind == models.EventPayout && target == models.StatusSuccessful:
		err = g.takeFee(ctx, tx, txn, earningPayout)
		rec.events = append(rec.events, LedgerEvent{AccountID: txn.AccountID, Kind: EventTransactionSettled, TransactionRef: txn.TransactionRef})
	case kind == models.EventPayout && target == models.StatusReversed:
		err = g.refundPayout(ctx, tx, txn, previous, rec)
	default:
		rec.events = append(rec.events, LedgerEvent{AccountID: txn.AccountID, Kind: EventTransactionSettled, TransactionRef: txn.TransactionRef})
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (g *WebhookGateway) settleDeposit(ctx context.Context, tx database.Tx, txn *models.Transaction, rec *reconciliation) error {
	if _, err := g.ledger.Adjust(ctx, tx, txn.AccountID, txn.Currency, txn.GrossAmount, false); err != nil {
		return err
	}
	rec.touched = true
	if err := tx.InsertSettlement(ctx, &models.Settlement{
		AccountID:      txn.AccountID,
		TransactionRef: txn.TransactionRef,
		Amount:         txn.GrossAmount,
		PaymentMethod:  settlementMethod,
		Status:         models.SettlementCompleted,
	}); err != nil {
		return err
	}
	if err := g.takeFee(ctx, tx, txn, earningCollection); err != nil {
		return err
	}
	rec.events = append(rec.events,
		LedgerEvent{AccountID: txn.AccountID, Kind: EventBalanceChanged, TransactionRef: txn.TransactionRef},
		LedgerEvent{AccountID: txn.AccountID, Kind: EventTransactionSettled, TransactionRef: txn.TransactionRef},
	)
	return nil
}

// takeFee accrues the service fee to commission and records the earning.
func (g *WebhookGateway) takeFee(ctx context.Context, tx database.Tx, txn *models.Transaction, service string) error {
	if _, err := g.commission.Accrue(ctx, tx, txn.Currency, txn.ServiceFee, 1); err != nil {
		return err
	}
	return tx.InsertEarning(ctx, &models.Earning{
		AccountID:      txn.AccountID,
		Currency:       txn.Currency,
		TransactionRef: txn.TransactionRef,
		ServiceName:    service,
		Amount:         txn.ServiceFee,
		Status:         models.EarningEarned,
	})
}

// refundPayout returns the reservation to the wallet. The fee was only
// accrued if the payout had succeeded, so only then is it taken back.
func (g *WebhookGateway) refundPayout(ctx context.Context, tx database.Tx, txn *models.Transaction, previous models.TransactionStatus, rec *reconciliation) error {
	refund := txn.ReservedAmount()
	if refund.GreaterThan(decimal.Zero) {
		if _, err := g.ledger.Adjust(ctx, tx, txn.AccountID, txn.Currency, refund, false); err != nil {
			return err
		}
		rec.touched = true
	}
	if err := tx.InsertSettlement(ctx, &models.Settlement{
		AccountID:      txn.AccountID,
		TransactionRef: txn.TransactionRef,
		Amount:         refund,
		PaymentMethod:  settlementMethod,
		Status:         models.SettlementReversed,
	}); err != nil {
		return err
	}
	if previous == models.StatusSuccessful {
		if _, err := g.commission.Accrue(ctx, tx, txn.Currency, txn.ServiceFee, -1); err != nil {
			return err
		}
		if err := tx.InsertEarning(ctx, &models.Earning{
			AccountID:      txn.AccountID,
			Currency:       txn.Currency,
			TransactionRef: txn.TransactionRef,
			ServiceName:    earningPayout,
			Amount:         txn.ServiceFee,
			Status:         models.EarningReversed,
		}); err != nil {
			return err
		}
	}
	rec.events = append(rec.events,
		LedgerEvent{AccountID: txn.AccountID, Kind: EventBalanceChanged, TransactionRef: txn.TransactionRef},
		LedgerEvent{AccountID: txn.AccountID, Kind: EventTransactionSettled, TransactionRef: txn.TransactionRef},
	)
	return nil
}
