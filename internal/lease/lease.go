package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned when another instance already holds the lease.
var ErrNotHeld = errors.New("lease held by another instance")

const keyPrefix = "campbook:lease:"

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived exclusive leases backed by Redis.
type Locker struct {
	rdb *redis.Client
}

// NewLocker creates a Locker on rdb.
func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

// NewClient opens a Redis client for leasing.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 2 * time.Second,
	})
}

// Lease is a held lock. Release it when the guarded work is done; it also
// expires on its own after the TTL.
type Lease struct {
	rdb   *redis.Client
	key   string
	token string
}

// Acquire takes the named lease for ttl or returns ErrNotHeld.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	key := keyPrefix + name
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, ErrNotHeld
	}
	return &Lease{rdb: l.rdb, key: key, token: token}, nil
}

// Release drops the lease if it is still ours. Releasing an expired or stolen
// lease is a no-op.
func (le *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, le.rdb, []string{le.key}, le.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", le.key, err)
	}
	return nil
}

// WithLease runs fn while holding the named lease. It returns ErrNotHeld
// without calling fn when the lease is taken.
func (l *Locker) WithLease(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	le, err := l.Acquire(ctx, name, ttl)
	if err != nil {
		return err
	}
	defer le.Release(context.WithoutCancel(ctx))
	return fn(ctx)
}
