package services

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// BalanceCache is a read-through cache of committed balances. Writers call
// Invalidate after commit. A nil cache or nil client passes every call through.
//
// Every key has a generation counter that Invalidate bumps. Entries are
// stored as "<generation>|<amount>" and only served while their generation
// is current, so a reader that loaded a balance before a concurrent commit
// cannot repopulate the cache with it.
type BalanceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewBalanceCache(rdb *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{rdb: rdb, ttl: ttl}
}

func BalanceCacheKey(accountID, currency string) string {
	return "balance:" + accountID + ":" + currency
}

func generationKey(key string) string {
	return key + ":gen"
}

func (c *BalanceCache) enabled() bool {
	return c != nil && c.rdb != nil
}

// Get returns the cached amount and the current generation. On a miss the
// generation is what the caller passes to Set once it has loaded the row.
func (c *BalanceCache) Get(ctx context.Context, accountID, currency string) (decimal.Decimal, string, bool) {
	if !c.enabled() {
		return decimal.Zero, "", false
	}
	key := BalanceCacheKey(accountID, currency)
	vals, err := c.rdb.MGet(ctx, key, generationKey(key)).Result()
	if err != nil || len(vals) != 2 {
		if err != nil {
			log.Printf("[CACHE] balance read failed: %v", err)
		}
		return decimal.Zero, "", false
	}

	gen := "0"
	if g, ok := vals[1].(string); ok {
		gen = g
	}
	entry, ok := vals[0].(string)
	if !ok {
		return decimal.Zero, gen, false
	}
	entryGen, raw, found := strings.Cut(entry, "|")
	if !found || entryGen != gen {
		return decimal.Zero, gen, false
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, gen, false
	}
	return amount, gen, true
}

// Set stores amount under the generation observed by Get.
func (c *BalanceCache) Set(ctx context.Context, accountID, currency, gen string, amount decimal.Decimal) {
	if !c.enabled() || gen == "" {
		return
	}
	if err := c.rdb.Set(ctx, BalanceCacheKey(accountID, currency), gen+"|"+amount.String(), c.ttl).Err(); err != nil {
		log.Printf("[CACHE] balance write failed: %v", err)
	}
}

// Invalidate bumps the generation of each key and drops its entry.
func (c *BalanceCache) Invalidate(ctx context.Context, keys ...string) {
	if !c.enabled() || len(keys) == 0 {
		return
	}
	for _, key := range keys {
		if err := c.rdb.Incr(ctx, generationKey(key)).Err(); err != nil {
			log.Printf("[CACHE] bump generation of %s failed: %v", key, err)
		}
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		log.Printf("[CACHE] invalidate %v failed: %v", keys, err)
	}
}
