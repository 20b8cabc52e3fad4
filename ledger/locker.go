package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// LOCKER - per-key mutual exclusion with bounded retry
// =============================================================================

// Locker serializes work on named keys (stock keys, transactions, drawers).
// Acquire takes every key or none; release must be called exactly once.
// When a key cannot be taken within the retry budget Acquire returns a
// *BusyError.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (func(), error)
}

// KeyedLocker is the in-process Locker. Keys are acquired in sorted order so
// two callers locking overlapping key sets cannot deadlock.
type KeyedLocker struct {
	mu       sync.Mutex
	locks    map[string]*keyLock
	attempts int
	backoff  time.Duration
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

const (
	DefaultLockAttempts = 50
	DefaultLockBackoff  = 10 * time.Millisecond
)

// NewKeyedLocker waits up to attempts rounds per key, the n-th round lasting
// n*backoff.
func NewKeyedLocker(attempts int, backoff time.Duration) *KeyedLocker {
	if attempts <= 0 {
		attempts = DefaultLockAttempts
	}
	if backoff <= 0 {
		backoff = DefaultLockBackoff
	}
	return &KeyedLocker{
		locks:    make(map[string]*keyLock),
		attempts: attempts,
		backoff:  backoff,
	}
}

func (l *KeyedLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = sortedUnique(keys)
	held := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := l.lock(ctx, k); err != nil {
			l.unlockAll(held)
			return nil, err
		}
		held = append(held, k)
	}
	var once sync.Once
	return func() { once.Do(func() { l.unlockAll(held) }) }, nil
}

func (l *KeyedLocker) lock(ctx context.Context, key string) error {
	kl := l.ref(key)
	for attempt := 1; attempt <= l.attempts; attempt++ {
		timer := time.NewTimer(time.Duration(attempt) * l.backoff)
		select {
		case kl.ch <- struct{}{}:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			l.unref(key, kl)
			return ctx.Err()
		case <-timer.C:
		}
	}
	l.unref(key, kl)
	return &BusyError{Key: key, Attempts: l.attempts}
}

func (l *KeyedLocker) unlockAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		kl := l.locks[keys[i]]
		l.mu.Unlock()
		<-kl.ch
		l.unref(keys[i], kl)
	}
}

func (l *KeyedLocker) ref(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *KeyedLocker) unref(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
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
