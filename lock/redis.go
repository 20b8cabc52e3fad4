/*
Package lock provides a ledger.Locker shared between processes.

PURPOSE:
  ledger.KeyedLocker only serializes callers inside one process. When
  several ledger processes write to the same database, RedisLocker takes
  the same keys ("txn:<id>", "stock:<b>/<w>/<i>", "drawer:<b>@<date>") in
  Redis instead, so every process sees the same lock.

SEMANTICS:
  - Keys are sorted and taken one by one; a failure releases the keys
    already held.
  - Each key is retried with linear backoff up to the configured attempts,
    then Acquire returns *ledger.BusyError.
  - Locks carry a TTL. A holder that outlives it loses the lock; the
    database row locks still keep stock balances consistent.

USAGE:
  client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
  eng := ledger.New(store, ledger.Options{
      Locker: lock.NewRedisLocker(client, lock.RedisOptions{}),
  })
*/
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/warp/stock-ledger/ledger"
)

const (
	DefaultKeyPrefix = "ledger:lock:"
	DefaultTTL       = 30 * time.Second
	releaseTimeout   = 5 * time.Second
)

type RedisOptions struct {
	// KeyPrefix namespaces lock keys in Redis.
	KeyPrefix string
	TTL       time.Duration
	Attempts  int
	Backoff   time.Duration
	Logger    *zerolog.Logger
}

type RedisLocker struct {
	client   *redislock.Client
	prefix   string
	ttl      time.Duration
	attempts int
	backoff  time.Duration
	log      zerolog.Logger
}

var _ ledger.Locker = (*RedisLocker)(nil)

func NewRedisLocker(client redis.UniversalClient, opts RedisOptions) *RedisLocker {
	l := &RedisLocker{
		client:   redislock.New(client),
		prefix:   opts.KeyPrefix,
		ttl:      opts.TTL,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		log:      zerolog.Nop(),
	}
	if l.prefix == "" {
		l.prefix = DefaultKeyPrefix
	}
	if l.ttl <= 0 {
		l.ttl = DefaultTTL
	}
	if l.attempts <= 0 {
		l.attempts = ledger.DefaultLockAttempts
	}
	if l.backoff <= 0 {
		l.backoff = ledger.DefaultLockBackoff
	}
	if opts.Logger != nil {
		l.log = *opts.Logger
	}
	return l
}

func (l *RedisLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = sortedUnique(keys)
	held := make([]*redislock.Lock, 0, len(keys))
	for _, k := range keys {
		lk, err := l.client.Obtain(ctx, l.prefix+k, l.ttl, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.backoff), l.attempts),
		})
		if err != nil {
			l.releaseAll(held)
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, &ledger.BusyError{Key: k, Attempts: l.attempts}
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("obtain lock %s: %w", k, err)
		}
		held = append(held, lk)
	}

	var once sync.Once
	return func() { once.Do(func() { l.releaseAll(held) }) }, nil
}

// releaseAll runs on its own context: the caller's may already be done.
func (l *RedisLocker) releaseAll(held []*redislock.Lock) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	for i := len(held) - 1; i >= 0; i-- {
		if err := held[i].Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.log.Warn().Err(err).Str("key", held[i].Key()).Msg("failed to release lock")
		}
	}
}

func sortedUnique(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}
