package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruralpay/marketpay/internal/config"
	"github.com/ruralpay/marketpay/internal/database"
	"github.com/ruralpay/marketpay/internal/handlers"
	mW "github.com/ruralpay/marketpay/internal/middleware"
	"github.com/ruralpay/marketpay/internal/services"
)

// @title Marketpay Ledger API
// @version 1.0
// @description Wallet ledger, provider payments and webhook reconciliation
// @host localhost:8080
// @BasePath /
// @schemes http https

// app holds everything the router needs.
type app struct {
	cfg      *config.Config
	registry *prometheus.Registry
	webhooks *handlers.WebhookHandler
	payments *handlers.PaymentHandler
	ledger   *handlers.LedgerHandler
}

func newRouter(a *app) http.Handler {
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	r.With(mW.NewRateLimiter(a.cfg.Rates.Webhook).Middleware).
		Post("/webhooks/payment-provider", a.webhooks.PaymentProvider)

	collections := mW.NewRateLimiter(a.cfg.Rates.Collections)
	payouts := mW.NewRateLimiter(a.cfg.Rates.Payouts)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.Auth(a.cfg.JWT.SecretKey))

		r.Group(func(r chi.Router) {
			r.Use(collections.Middleware)
			r.Post("/collections/fees", a.payments.CollectionFees)
			r.Post("/collections/otp", a.payments.RequestOTP)
			r.Post("/collections/momo", a.payments.Deposit)
		})

		r.Group(func(r chi.Router) {
			r.Use(payouts.Middleware)
			r.Post("/payouts", a.payments.Payout)
			r.Post("/payouts/quotation", a.payments.PayoutQuotation)
		})

		r.Get("/transactions", a.ledger.Transactions)
		r.Get("/transactions/{ref}", a.ledger.Transaction)
		r.Post("/transactions/{ref}/cancel", a.payments.Cancel)
		r.Get("/balances/{currency}", a.ledger.Balance)
		r.Get("/audit", a.ledger.Audit)

		r.With(mW.RequireRole(mW.RoleAdmin)).Get("/commissions/{currency}", a.ledger.Commission)
	})

	return r
}

// newApp wires services over the given store. rdb and db may be nil.
func newApp(cfg *config.Config, store database.Store, db *sql.DB, rdb *redis.Client) *app {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)

	var (
		tokens   services.TokenCache = services.NewMemoryTokenCache()
		notifier services.Notifier   = services.LogNotifier{}
		cache    *services.BalanceCache
	)
	if rdb != nil {
		tokens = services.NewRedisTokenCache(rdb)
		notifier = services.NewRedisNotifier(rdb)
		cache = services.NewBalanceCache(rdb, cfg.Cache.BalanceTTL)
	}

	var accounts services.AccountDirectory = services.NewStaticAccountDirectory()
	if db != nil {
		accounts = services.NewSQLAccountDirectory(db)
	}

	journal := services.NewJournalService(store)
	ledger := services.NewLedgerService(store, cache, metrics)
	commission := services.NewCommissionService(store, metrics)
	audit := services.NewAuditService(store)
	provider := services.NewProviderClient(cfg.Provider, tokens, metrics)
	verifier := services.NewSignatureVerifier(cfg.Webhook.Secret, cfg.Webhook.FailOpen)
	if cfg.Webhook.Secret == "" && cfg.Webhook.FailOpen {
		log.Println("[CONFIG] WARNING: WEBHOOK_SECRET not set and WEBHOOK_FAIL_OPEN enabled, webhooks are unauthenticated")
	}

	gateway := services.NewWebhookGateway(store, verifier, journal, ledger, commission, audit, cache, notifier, metrics)
	orchestrator := services.NewPaymentOrchestrator(store, provider, accounts, journal, ledger, audit, cache, notifier, metrics, cfg.Fees, cfg.Limits)

	return &app{
		cfg:      cfg,
		registry: registry,
		webhooks: handlers.NewWebhookHandler(gateway),
		payments: handlers.NewPaymentHandler(orchestrator),
		ledger:   handlers.NewLedgerHandler(ledger, journal, commission, audit),
	}
}

func main() {
	config.Init()
	cfg := config.Load()

	if cfg.JWT.SecretKey == "" {
		log.Println("[CONFIG] WARNING: JWT_SECRET_KEY not set, all API requests will be rejected")
	}

	var (
		store database.Store
		db    *sql.DB
	)
	switch cfg.Store {
	case "memory":
		log.Println("[STORE] using in-memory store, data is not persisted")
		store = database.NewMemoryStore()
	default:
		db = database.InitDatabase()
		defer db.Close()
		store = database.NewPostgresStore(db)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		log.Println("[REDIS] unavailable, using in-process token cache and log notifier")
	}

	a := newApp(cfg, store, db, redisClient)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(a),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
