package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pairarb/pairarb/internal/domain"
)

// releaseLua deletes the lock key only when it still holds the caller's
// token, so a holder can never release a lock that has since been taken by
// someone else.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SETNX and a conditional
// Lua release. Trade mode takes the instance lock through it so two bots
// never trade the same wallet.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLua),
	}
}

var _ domain.LockManager = (*LockManager)(nil)

// Acquire takes the lock for key, returning domain.ErrLockHeld when another
// holder has it. A ttl of zero means no expiry; the lock then lives until
// the returned unlock function runs (a crashed holder leaves it behind and
// the operator clears it by hand, which is the intended failure mode for
// the instance guard). The unlock function is idempotent and works even
// after the caller's context is cancelled.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	name := "lock:" + key

	ok, err := lm.rdb.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// Release must work during shutdown, after the run context died.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.release.Run(rctx, lm.rdb, []string{name}, token).Err()
		})
	}
	return unlock, nil
}
