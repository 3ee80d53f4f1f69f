package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// keyLocks hands out one exclusive lock per key. Acquisition waits at most
// the configured timeout; channels are used instead of sync.Mutex so the
// wait can be abandoned.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]chan struct{}
}

func (l *keyLocks) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m == nil {
		l.m = make(map[string]chan struct{})
	}
	ch := l.m[key]
	if ch == nil {
		ch = make(chan struct{}, 1)
		l.m[key] = ch
	}
	return ch
}

// acquire returns an unlock func, ErrLockTimeout after timeout, or the
// context error if ctx ends first.
func (l *keyLocks) acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	ch := l.slot(key)

	// Fast path.
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-t.C:
		return nil, ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

const lockPollInterval = 10 * time.Millisecond

// lockFile takes an exclusive flock on path, polling until timeout. The
// file is created when missing and left in place on unlock.
func lockFile(ctx context.Context, path string, timeout time.Duration) (func(), error) {
	if timeout <= 0 {
		return nil, ErrLockTimeout
	}
	fl := flock.New(path)
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := fl.TryLockContext(lctx, lockPollInterval)
	if ok {
		return func() { _ = fl.Unlock() }, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrLockTimeout
	}
	return nil, fmt.Errorf("lock %s: %w", path, err)
}
