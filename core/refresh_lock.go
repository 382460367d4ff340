package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultRetryInitialBackoff = 500 * time.Millisecond
	defaultRetryMaxBackoff     = 10 * time.Second
	DefaultRefreshLockTTL      = 30 * time.Second
)

type BackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoffScheduler yields Initial x 2^(attempt-1), capped at Max.
type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultRetryInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultRetryMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// WaitWithContext sleeps for delay or until ctx is done.
func WaitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type MemoryConnectionLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	nowFn func() time.Time
}

func NewMemoryConnectionLocker() *MemoryConnectionLocker {
	return &MemoryConnectionLocker{
		locks: make(map[string]time.Time),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryConnectionLocker) Acquire(_ context.Context, key string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: refresh locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: lock key is required")
	}
	if ttl <= 0 {
		ttl = DefaultRefreshLockTTL
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.locks[key]; ok && now.Before(until) {
		return nil, ErrLockHeld
	}
	l.locks[key] = now.Add(ttl)
	return &memoryLockHandle{locker: l, key: key}, nil
}

type memoryLockHandle struct {
	locker *MemoryConnectionLocker
	key    string
	once   sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		delete(h.locker.locks, h.key)
		h.locker.mu.Unlock()
	})
	return nil
}

// ErrLockHeld is returned by lockers when another holder owns the key.
var ErrLockHeld = errors.New("core: refresh lock already held")

// AcquireWithRetry polls locker until the lock is obtained or ctx ends.
func AcquireWithRetry(ctx context.Context, locker ConnectionLocker, key string, ttl time.Duration, backoff BackoffScheduler) (LockHandle, error) {
	if locker == nil {
		return nil, fmt.Errorf("core: refresh locker is not configured")
	}
	if backoff == nil {
		backoff = ExponentialBackoffScheduler{Initial: 50 * time.Millisecond, Max: time.Second}
	}
	for attempt := 1; ; attempt++ {
		handle, err := locker.Acquire(ctx, key, ttl)
		if err == nil {
			return handle, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}
		if waitErr := WaitWithContext(ctx, backoff.NextDelay(attempt)); waitErr != nil {
			return nil, fmt.Errorf("core: waiting for refresh lock %q: %w", key, waitErr)
		}
	}
}

