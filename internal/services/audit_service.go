package services

import (
	"context"
	"encoding/json"
	"log"

	"github.com/ruralpay/marketpay/internal/database"
	"github.com/ruralpay/marketpay/internal/models"
)

// AuditService appends compliance records and mirrors each one to the log.
type AuditService struct {
	store database.Store
}

func NewAuditService(store database.Store) *AuditService {
	return &AuditService{store: store}
}

func newAuditEntry(accountID, action, ref string, actor models.Actor) *models.AuditEntry {
	actor = actor.Normalized()
	if accountID == "" {
		accountID = models.SystemAccount
	}
	return &models.AuditEntry{
		AccountID:      accountID,
		Action:         action,
		TransactionRef: ref,
		IPAddress:      actor.IPAddress,
		UserAgent:      actor.UserAgent,
	}
}

// Record writes the entry inside the caller's unit of work.
func (a *AuditService) Record(ctx context.Context, tx database.Tx, accountID, action, ref string, actor models.Actor) error {
	entry := newAuditEntry(accountID, action, ref, actor)
	if err := tx.InsertAuditEntry(ctx, entry); err != nil {
		return err
	}
	a.log(entry)
	return nil
}

// RecordStandalone writes the entry in its own unit of work, for paths that
// never open one.
func (a *AuditService) RecordStandalone(ctx context.Context, accountID, action, ref string, actor models.Actor) error {
	err := a.store.WithTx(ctx, func(tx database.Tx) error {
		return a.Record(ctx, tx, accountID, action, ref, actor)
	})
	if err != nil {
		log.Printf("[AUDIT] failed to record %q for %s: %v", action, accountID, err)
	}
	return err
}

func (a *AuditService) List(ctx context.Context, accountID string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return a.store.ListAuditEntries(ctx, accountID, limit)
}

func (a *AuditService) log(entry *models.AuditEntry) {
	data, _ := json.Marshal(entry)
	log.Printf("AUDIT: %s", string(data))
}
