package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pairarb/pairarb/internal/domain"
)

const bookTTL = 30 * time.Second

// BookPublisher implements domain.BookPublisher. It mirrors top-of-book
// snapshots into Redis hashes so the dashboard and other out-of-process
// readers can poll them without touching the in-memory hub.
//
// Key schema:
//
//	book:{marketID} - hash with price fields and a "data" JSON blob
type BookPublisher struct {
	rdb *redis.Client
}

// NewBookPublisher creates a BookPublisher backed by the given Client.
func NewBookPublisher(c *Client) *BookPublisher {
	return &BookPublisher{rdb: c.Underlying()}
}

func bookKey(marketID string) string { return "book:" + marketID }

// PublishTop writes the snapshot to the market's book hash with a short TTL.
// A market whose key expires has simply gone quiet; readers treat absence as
// staleness.
func (bp *BookPublisher) PublishTop(ctx context.Context, snap domain.BookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", snap.MarketID, err)
	}

	key := bookKey(snap.MarketID)

	pipe := bp.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"yes_bid", snap.YesBid.Price,
		"yes_ask", snap.YesAsk.Price,
		"no_bid", snap.NoBid.Price,
		"no_ask", snap.NoAsk.Price,
		"updated_at", snap.UpdatedAt.UnixMilli(),
		"data", data,
	)
	pipe.Expire(ctx, key, bookTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish book %s: %w", snap.MarketID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BookPublisher = (*BookPublisher)(nil)
