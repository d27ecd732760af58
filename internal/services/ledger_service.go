package services

import (
	"context"
	"fmt"
	"log"

	"github.com/ruralpay/marketpay/internal/database"
	"github.com/ruralpay/marketpay/internal/models"
	"github.com/shopspring/decimal"
)

// LedgerService owns per-account, per-currency balances.
type LedgerService struct {
	store   database.Store
	cache   *BalanceCache
	metrics *Metrics
}

func NewLedgerService(store database.Store, cache *BalanceCache, metrics *Metrics) *LedgerService {
	return &LedgerService{
		store:   store,
		cache:   cache,
		metrics: metrics,
	}
}

// Adjust applies delta to the balance inside the caller's unit of work. The
// row stays locked until the unit ends. A result below zero is rejected with
// models.ErrInsufficientFunds unless allowNegative is set; the store itself
// still refuses to persist a negative amount.
func (s *LedgerService) Adjust(ctx context.Context, tx database.Tx, accountID, currency string, delta decimal.Decimal, allowNegative bool) (decimal.Decimal, error) {
	direction := "credit"
	if delta.IsNegative() {
		direction = "debit"
	}

	balance, err := tx.LockBalance(ctx, accountID, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock balance %s/%s: %w", accountID, currency, err)
	}

	newAmount := balance.Amount.Add(delta)
	if newAmount.IsNegative() && !allowNegative {
		s.metrics.ObserveLedgerAdjustment(direction, models.ErrInsufficientFunds)
		log.Printf("[LEDGER] rejected %s of %s %s for %s: balance %s", direction, delta.Abs(), currency, accountID, balance.Amount)
		return balance.Amount, models.ErrInsufficientFunds
	}

	balance.Amount = newAmount
	if err := tx.SaveBalance(ctx, balance); err != nil {
		s.metrics.ObserveLedgerAdjustment(direction, err)
		return decimal.Zero, err
	}

	s.metrics.ObserveLedgerAdjustment(direction, nil)
	return newAmount, nil
}

// Balance reads the committed balance, served from the cache when possible.
func (s *LedgerService) Balance(ctx context.Context, accountID, currency string) (*models.LedgerBalance, error) {
	amount, gen, ok := s.cache.Get(ctx, accountID, currency)
	if ok {
		return &models.LedgerBalance{AccountID: accountID, Currency: currency, Amount: amount}, nil
	}

	balance, err := s.store.GetBalance(ctx, accountID, currency)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, accountID, currency, gen, balance.Amount)
	return balance, nil
}
