package services

import (
	"context"
	"encoding/json"
	"log"

	"github.com/go-redis/redis/v8"
)

type LedgerEventKind string

const (
	EventBalanceChanged     LedgerEventKind = "balance_changed"
	EventTransactionSettled LedgerEventKind = "transaction_settled"
)

// LedgerEvent tells the notification subsystem that something committed.
type LedgerEvent struct {
	AccountID      string          `json:"account_id"`
	Kind           LedgerEventKind `json:"kind"`
	TransactionRef string          `json:"transaction_ref"`
}

type Notifier interface {
	Notify(ctx context.Context, event LedgerEvent) error
}

const ledgerEventsQueue = "ledger_events"

// RedisNotifier pushes events onto a redis list for the notification workers.
type RedisNotifier struct {
	rdb   *redis.Client
	queue string
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, queue: ledgerEventsQueue}
}

func (n *RedisNotifier) Notify(ctx context.Context, event LedgerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.rdb.RPush(ctx, n.queue, string(data)).Err()
}

// LogNotifier is used when redis is unavailable.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event LedgerEvent) error {
	log.Printf("[NOTIFY] %s %s %s", event.Kind, event.AccountID, event.TransactionRef)
	return nil
}

// dispatch delivers events after commit. Failures are logged and counted only.
func dispatch(ctx context.Context, notifier Notifier, metrics *Metrics, events ...LedgerEvent) {
	if notifier == nil {
		return
	}
	for _, event := range events {
		if err := notifier.Notify(ctx, event); err != nil {
			metrics.ObserveNotificationFailure()
			log.Printf("[NOTIFY] failed to deliver %s for %s: %v", event.Kind, event.TransactionRef, err)
		}
	}
}
