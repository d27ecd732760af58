package services

import (
	"context"
	"fmt"
	"log"

	"github.com/ruralpay/marketpay/internal/database"
	"github.com/ruralpay/marketpay/internal/models"
	"github.com/shopspring/decimal"
)

type CommissionService struct {
	store   database.Store
	metrics *Metrics
}

func NewCommissionService(store database.Store, metrics *Metrics) *CommissionService {
	return &CommissionService{store: store, metrics: metrics}
}

// Accrue adds sign*fee to the currency total inside tx. A reversal that would
// take the total below zero is floored at zero and logged.
func (s *CommissionService) Accrue(ctx context.Context, tx database.Tx, currency string, fee decimal.Decimal, sign int) (decimal.Decimal, error) {
	if sign != 1 && sign != -1 {
		return decimal.Zero, fmt.Errorf("commission sign must be +1 or -1, got %d", sign)
	}

	total, err := tx.LockCommission(ctx, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock commission %s: %w", currency, err)
	}

	newAmount := total.Amount.Add(fee.Mul(decimal.NewFromInt(int64(sign))))
	if newAmount.IsNegative() {
		log.Printf("[COMMISSION] WARNING: reversing %s %s exceeds tracked total %s, flooring at zero", fee, currency, total.Amount)
		s.metrics.ObserveCommissionClamp(currency)
		newAmount = decimal.Zero
	}

	total.Amount = newAmount
	if err := tx.SaveCommission(ctx, total); err != nil {
		return decimal.Zero, err
	}
	return newAmount, nil
}

func (s *CommissionService) Total(ctx context.Context, currency string) (*models.CommissionTotal, error) {
	return s.store.GetCommission(ctx, currency)
}
