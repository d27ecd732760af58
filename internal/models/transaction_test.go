package models

import (
	"regexp"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		kind     TransactionKind
		from, to TransactionStatus
		want     bool
	}{
		{KindDeposit, StatusPending, StatusSuccessful, true},
		{KindDeposit, StatusPending, StatusFailed, true},
		{KindDeposit, StatusPending, StatusCancelled, true},
		{KindDeposit, StatusPending, StatusReversed, false},
		{KindWithdraw, StatusPending, StatusReversed, true},
		{KindDeposit, StatusSuccessful, StatusReversed, true},
		{KindDeposit, StatusSuccessful, StatusPending, false},
		{KindDeposit, StatusSuccessful, StatusFailed, false},
		{KindWithdraw, StatusReversed, StatusSuccessful, false},
		{KindWithdraw, StatusFailed, StatusSuccessful, false},
		{KindWithdraw, StatusCancelled, StatusPending, false},
		{KindDeposit, StatusPending, StatusPending, false},
		{KindDeposit, StatusSuccessful, StatusSuccessful, false},
	}

	for _, c := range cases {
		t.Run(string(c.kind)+"_"+string(c.from)+"_to_"+string(c.to), func(t *testing.T) {
			assert.Equal(t, c.want, CanTransition(c.kind, c.from, c.to))
		})
	}
}

func TestTransactionStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusSuccessful.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusReversed.Terminal())
}

func TestTransaction_ReservedAmount(t *testing.T) {
	payout := &Transaction{
		Kind:            KindWithdraw,
		GrossAmount:     decimal.RequireFromString("500"),
		ServiceFee:      decimal.RequireFromString("10"),
		ProviderCharges: decimal.RequireFromString("2.50"),
	}
	assert.True(t, decimal.RequireFromString("512.50").Equal(payout.ReservedAmount()))

	deposit := &Transaction{Kind: KindDeposit, GrossAmount: decimal.RequireFromString("1000")}
	assert.True(t, deposit.ReservedAmount().IsZero())
}

func TestNewTransactionRef(t *testing.T) {
	pattern := regexp.MustCompile(`^txn_[0-9a-f]{12}$`)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		ref := NewTransactionRef()
		assert.Regexp(t, pattern, ref)
		assert.False(t, seen[ref])
		seen[ref] = true
	}
}
