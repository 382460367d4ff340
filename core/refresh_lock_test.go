package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponentialBackoffScheduler_DoublesAndCaps(t *testing.T) {
	scheduler := ExponentialBackoffScheduler{Initial: 100 * time.Millisecond, Max: time.Second}
	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second}
	for index, want := range expected {
		if got := scheduler.NextDelay(index + 1); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", index+1, want, got)
		}
	}
}

func TestMemoryConnectionLocker_RejectsConcurrentHolder(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryConnectionLocker()
	handle, err := locker.Acquire(ctx, "refresh:revolut", DefaultRefreshLockTTL)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := locker.Acquire(ctx, "refresh:revolut", DefaultRefreshLockTTL); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if err := handle.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	again, err := locker.Acquire(ctx, "refresh:revolut", DefaultRefreshLockTTL)
	if err != nil {
		t.Fatalf("acquire after unlock: %v", err)
	}
	_ = again.Unlock(ctx)
}

func TestAcquireWithRetry_WaitsForRelease(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	locker := NewMemoryConnectionLocker()
	handle, err := locker.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = handle.Unlock(context.Background())
	}()

	second, err := AcquireWithRetry(ctx, locker, "k", time.Minute, ExponentialBackoffScheduler{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("acquire with retry: %v", err)
	}
	_ = second.Unlock(ctx)
}

func TestAcquireWithRetry_StopsOnContext(t *testing.T) {
	locker := NewMemoryConnectionLocker()
	if _, err := locker.Acquire(context.Background(), "k", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := AcquireWithRetry(ctx, locker, "k", time.Minute, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
