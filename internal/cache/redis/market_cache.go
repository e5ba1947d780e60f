package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pairarb/pairarb/internal/domain"
)

// Entries expire on their own; the registry rewrites the cache on every
// refresh cycle anyway.
const marketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache with JSON values and a reverse
// token index, so feed handlers can resolve an incoming token ID to its
// market without touching Postgres.
//
// Keys:
//
//	market:{id}            JSON-encoded domain.Market
//	market:token:{tokenID} market ID owning that outcome token
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

var _ domain.MarketCache = (*MarketCache)(nil)

func marketKey(id string) string       { return "market:" + id }
func marketTokenKey(tok string) string { return "market:token:" + tok }

func (mc *MarketCache) tokenIDs(m domain.Market) []string {
	toks := make([]string, 0, 2)
	if m.YesTokenID != "" {
		toks = append(toks, m.YesTokenID)
	}
	if m.NoTokenID != "" {
		toks = append(toks, m.NoTokenID)
	}
	return toks
}

// Set caches the market and both outcome token index entries in one
// transaction.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.ID, err)
	}

	pipe := mc.rdb.TxPipeline()
	pipe.Set(ctx, marketKey(market.ID), data, marketTTL)
	for _, tokenID := range mc.tokenIDs(market) {
		pipe.Set(ctx, marketTokenKey(tokenID), market.ID, marketTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.ID, err)
	}
	return nil
}

// Get returns the cached market, or domain.ErrNotFound on a miss.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.Market, error) {
	data, err := mc.rdb.Get(ctx, marketKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Market{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return market, nil
}

// GetByToken resolves an outcome token ID to its cached market.
func (mc *MarketCache) GetByToken(ctx context.Context, tokenID string) (domain.Market, error) {
	marketID, err := mc.rdb.Get(ctx, marketTokenKey(tokenID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Market{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("redis: get market by token %s: %w", tokenID, err)
	}
	return mc.Get(ctx, marketID)
}

// Invalidate drops the market and, when the entry is still readable, its
// token index entries. A missing entry is not an error.
func (mc *MarketCache) Invalidate(ctx context.Context, id string) error {
	market, err := mc.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}

	keys := []string{marketKey(id)}
	if err == nil {
		for _, tokenID := range mc.tokenIDs(market) {
			keys = append(keys, marketTokenKey(tokenID))
		}
	}
	if err := mc.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}
