package config

import (
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the typed view of everything the server reads from viper.
type Config struct {
	Port     string
	Store    string
	JWT      JWTConfig
	Provider ProviderConfig
	Webhook  WebhookConfig
	Fees     FeeConfig
	Limits   LimitConfig
	Cache    CacheConfig
	Rates    RateConfig
}

type JWTConfig struct {
	SecretKey string
}

type ProviderConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	TokenTTL     time.Duration
}

type WebhookConfig struct {
	Secret   string
	FailOpen bool
}

type FeeConfig struct {
	DepositRate decimal.Decimal
	PayoutRate  decimal.Decimal
}

// Bounds is an inclusive amount range.
type Bounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

type LimitConfig struct {
	Deposit Bounds
	Payout  Bounds
}

type CacheConfig struct {
	BalanceTTL time.Duration
}

// RateConfig holds per-client request budgets per hour.
type RateConfig struct {
	Webhook     int
	Collections int
	Payouts     int
}

var envBindings = map[string]string{
	"port":                      "PORT",
	"store.backend":             "STORE_BACKEND",
	"database.host":             "DATABASE_HOST",
	"database.port":             "DATABASE_PORT",
	"database.user":             "DATABASE_USER",
	"database.password":         "DATABASE_PASSWORD",
	"database.name":             "DATABASE_NAME",
	"database.ssl_mode":         "DATABASE_SSL_MODE",
	"database.auto_migrate":     "DATABASE_AUTO_MIGRATE",
	"redis.host":                "REDIS_HOST",
	"redis.port":                "REDIS_PORT",
	"redis.password":            "REDIS_PASSWORD",
	"redis.db":                  "REDIS_DB",
	"jwt.secret_key":            "JWT_SECRET_KEY",
	"provider.base_url":         "PROVIDER_BASE_URL",
	"provider.client_id":        "PROVIDER_CLIENT_ID",
	"provider.client_secret":    "PROVIDER_CLIENT_SECRET",
	"provider.timeout":          "PROVIDER_TIMEOUT",
	"provider.max_attempts":     "PROVIDER_MAX_ATTEMPTS",
	"provider.base_backoff":     "PROVIDER_BASE_BACKOFF",
	"provider.max_backoff":      "PROVIDER_MAX_BACKOFF",
	"provider.token_ttl":        "PROVIDER_TOKEN_TTL",
	"webhook.secret":            "WEBHOOK_SECRET",
	"webhook.fail_open":         "WEBHOOK_FAIL_OPEN",
	"fees.deposit_rate":         "FEES_DEPOSIT_RATE",
	"fees.payout_rate":          "FEES_PAYOUT_RATE",
	"limits.deposit_min":        "LIMITS_DEPOSIT_MIN",
	"limits.deposit_max":        "LIMITS_DEPOSIT_MAX",
	"limits.payout_min":         "LIMITS_PAYOUT_MIN",
	"limits.payout_max":         "LIMITS_PAYOUT_MAX",
	"cache.balance_ttl":         "CACHE_BALANCE_TTL",
	"rate.webhook_per_hour":     "RATE_WEBHOOK_PER_HOUR",
	"rate.collections_per_hour": "RATE_COLLECTIONS_PER_HOUR",
	"rate.payouts_per_hour":     "RATE_PAYOUTS_PER_HOUR",
}

// SetDefaults registers every default value on the global viper instance.
func SetDefaults() {
	viper.SetDefault("port", "8080")
	viper.SetDefault("store.backend", "postgres")

	viper.SetDefault("provider.base_url", "https://api.eversend.co/v1")
	viper.SetDefault("provider.timeout", 30*time.Second)
	viper.SetDefault("provider.max_attempts", 3)
	viper.SetDefault("provider.base_backoff", 200*time.Millisecond)
	viper.SetDefault("provider.max_backoff", 5*time.Second)
	viper.SetDefault("provider.token_ttl", time.Hour)

	viper.SetDefault("webhook.fail_open", false)

	viper.SetDefault("fees.deposit_rate", "0.005")
	viper.SetDefault("fees.payout_rate", "0.02")

	viper.SetDefault("limits.deposit_min", "500")
	viper.SetDefault("limits.deposit_max", "4000000")
	viper.SetDefault("limits.payout_min", "1")
	viper.SetDefault("limits.payout_max", "4000000")

	viper.SetDefault("cache.balance_ttl", 5*time.Minute)

	viper.SetDefault("rate.webhook_per_hour", 1000)
	viper.SetDefault("rate.collections_per_hour", 100)
	viper.SetDefault("rate.payouts_per_hour", 50)
}

// Init reads .env and binds environment variables.
func Init() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	for key, env := range envBindings {
		viper.BindEnv(key, env)
	}
	SetDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}
}

// Load builds a Config from the current viper state.
func Load() *Config {
	SetDefaults()
	return &Config{
		Port:  viper.GetString("port"),
		Store: viper.GetString("store.backend"),
		JWT: JWTConfig{
			SecretKey: viper.GetString("jwt.secret_key"),
		},
		Provider: ProviderConfig{
			BaseURL:      viper.GetString("provider.base_url"),
			ClientID:     viper.GetString("provider.client_id"),
			ClientSecret: viper.GetString("provider.client_secret"),
			Timeout:      viper.GetDuration("provider.timeout"),
			MaxAttempts:  viper.GetInt("provider.max_attempts"),
			BaseBackoff:  viper.GetDuration("provider.base_backoff"),
			MaxBackoff:   viper.GetDuration("provider.max_backoff"),
			TokenTTL:     viper.GetDuration("provider.token_ttl"),
		},
		Webhook: WebhookConfig{
			Secret:   viper.GetString("webhook.secret"),
			FailOpen: viper.GetBool("webhook.fail_open"),
		},
		Fees: FeeConfig{
			DepositRate: getDecimal("fees.deposit_rate"),
			PayoutRate:  getDecimal("fees.payout_rate"),
		},
		Limits: LimitConfig{
			Deposit: Bounds{Min: getDecimal("limits.deposit_min"), Max: getDecimal("limits.deposit_max")},
			Payout:  Bounds{Min: getDecimal("limits.payout_min"), Max: getDecimal("limits.payout_max")},
		},
		Cache: CacheConfig{
			BalanceTTL: viper.GetDuration("cache.balance_ttl"),
		},
		Rates: RateConfig{
			Webhook:     viper.GetInt("rate.webhook_per_hour"),
			Collections: viper.GetInt("rate.collections_per_hour"),
			Payouts:     viper.GetInt("rate.payouts_per_hour"),
		},
	}
}

func getDecimal(key string) decimal.Decimal {
	d, err := decimal.NewFromString(viper.GetString(key))
	if err != nil {
		log.Printf("[CONFIG] invalid decimal for %s: %v", key, err)
		return decimal.Zero
	}
	return d
}
