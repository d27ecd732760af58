package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		viper.Reset()
		defer viper.Reset()

		cfg := Load()
		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, "postgres", cfg.Store)
		assert.Equal(t, "https://api.eversend.co/v1", cfg.Provider.BaseURL)
		assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
		assert.Equal(t, 3, cfg.Provider.MaxAttempts)
		assert.Equal(t, time.Hour, cfg.Provider.TokenTTL)
		assert.False(t, cfg.Webhook.FailOpen)
		assert.True(t, cfg.Fees.DepositRate.Equal(decimal.RequireFromString("0.005")))
		assert.True(t, cfg.Fees.PayoutRate.Equal(decimal.RequireFromString("0.02")))
		assert.True(t, cfg.Limits.Deposit.Min.Equal(decimal.NewFromInt(500)))
		assert.True(t, cfg.Limits.Deposit.Max.Equal(decimal.NewFromInt(4000000)))
		assert.Equal(t, 1000, cfg.Rates.Webhook)
		assert.Equal(t, 100, cfg.Rates.Collections)
		assert.Equal(t, 50, cfg.Rates.Payouts)
	})

	t.Run("environment overrides", func(t *testing.T) {
		viper.Reset()
		defer viper.Reset()

		t.Setenv("WEBHOOK_FAIL_OPEN", "true")
		t.Setenv("WEBHOOK_SECRET", "whsec")
		t.Setenv("PROVIDER_TIMEOUT", "5s")
		t.Setenv("FEES_PAYOUT_RATE", "0.015")
		for key, env := range envBindings {
			viper.BindEnv(key, env)
		}

		cfg := Load()
		assert.True(t, cfg.Webhook.FailOpen)
		assert.Equal(t, "whsec", cfg.Webhook.Secret)
		assert.Equal(t, 5*time.Second, cfg.Provider.Timeout)
		assert.True(t, cfg.Fees.PayoutRate.Equal(decimal.RequireFromString("0.015")))
	})

	t.Run("bad decimal falls back to zero", func(t *testing.T) {
		viper.Reset()
		defer viper.Reset()

		viper.Set("fees.deposit_rate", "half")
		cfg := Load()
		assert.True(t, cfg.Fees.DepositRate.IsZero())
	})
}
