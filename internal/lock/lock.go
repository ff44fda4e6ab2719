// Package lock implements the per-event distributed mutex on Redis. A lock
// is acquired with SET NX PX carrying a unique token and released with a
// compare-and-delete script, so a holder whose TTL expired cannot delete a
// lock someone else has since acquired. The TTL is the server-side
// auto-release: a crashed holder never deadlocks an event.
package lock

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/evently/bookings/internal/model"
)

// releaseScript deletes the lock key only when it still carries our token.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Locker hands out distributed locks keyed by resource id. Unrelated
// resources never contend because each key is scoped to one event.
type Locker interface {
	// Acquire blocks until the lock is held, the wait bound elapses
	// (model.ErrLockTimeout) or ctx is cancelled.
	Acquire(ctx context.Context, key string) (Handle, error)
}

// Handle represents a held lock. Release is safe to call once; releasing a
// lock whose TTL already expired is a no-op.
type Handle interface {
	Release(ctx context.Context) error
}

// RedisLocker implements Locker on a single Redis instance.
type RedisLocker struct {
	rdb        *redis.Client
	ttl        time.Duration
	wait       time.Duration
	retryDelay time.Duration
}

// NewRedisLocker builds a locker with the given lock TTL, acquisition wait
// bound and retry delay.
func NewRedisLocker(rdb *redis.Client, ttl, wait, retryDelay time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, ttl: ttl, wait: wait, retryDelay: retryDelay}
}

// Acquire tries SET NX in a bounded loop. Each attempt is cheap; the retry
// delay keeps the loop from hammering Redis while another holder works.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Handle, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return &redisHandle{rdb: l.rdb, key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, model.ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
}

type redisHandle struct {
	rdb   *redis.Client
	key   string
	token string
}

func (h *redisHandle) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, h.rdb, []string{h.key}, h.token).Err()
}

// EventKey builds the lock key for an event's capacity ledger.
func EventKey(eventID uint64) string {
	return "booking:event:" + strconv.FormatUint(eventID, 10)
}
