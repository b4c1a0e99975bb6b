// Package locks serializes mutating operations per project id. A single
// process uses an in-memory keyed mutex; deployments running several
// replicas configure the Redis locker so concurrent writers on different
// nodes cannot interleave a read-modify-write on the same ledger.
package locks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker acquires an exclusive lock for a key. The returned release
// function must be called once the critical section ends.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// KeyedMutex is the in-process Locker.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}, nil
}

// RedisLocker takes a lock via SET NX with a TTL so a crashed holder
// cannot wedge the key forever, and polls until the lock frees or the
// request context expires.
type RedisLocker struct {
	Client *redis.Client
	TTL    time.Duration
	Retry  time.Duration
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{Client: client, TTL: 30 * time.Second, Retry: 50 * time.Millisecond}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := "budgetd:lock:" + key
	token := uuid.NewString()
	for {
		ok, err := r.Client.SetNX(ctx, lockKey, token, r.TTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// Only the holder may release; a stale release after TTL
				// expiry must not drop somebody else's lock.
				val, err := r.Client.Get(context.Background(), lockKey).Result()
				if err == nil && val == token {
					_ = r.Client.Del(context.Background(), lockKey).Err()
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.Retry):
		}
	}
}
