package redislock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release when the key expired or was taken over by
// another holder before the release landed.
var ErrNotHeld = errors.New("redislock: lock not held")

// Only the token that set the key may delete it.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	rdb goredis.Cmdable
}

func New(rdb goredis.Cmdable) *Locker {
	return &Locker{rdb: rdb}
}

// Lease is a held lock. The key self-expires after the TTL passed to TryAcquire.
type Lease struct {
	rdb   goredis.Cmdable
	key   string
	token string
	ttl   time.Duration
}

func (l *Lease) Key() string   { return l.key }
func (l *Lease) Token() string { return l.token }

// TryAcquire sets key with SET NX PX. It returns (nil, nil) when another holder
// already owns the key.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.rdb == nil {
		return nil, fmt.Errorf("redislock: not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("redislock: empty key")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("redislock: ttl must be positive")
	}
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redislock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{rdb: l.rdb, key: key, token: token, ttl: ttl}, nil
}

// Release deletes the key if this lease still owns it.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	n, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("redislock: release %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
