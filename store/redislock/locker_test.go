package redislock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nestorgt/go-settlement/core"
	goredislib "github.com/redis/go-redis/v9"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker, err := New(client)
	if err != nil {
		t.Fatalf("new locker: %v", err)
	}
	return locker, server
}

func TestLocker_SecondAcquireIsHeld(t *testing.T) {
	locker, server := newTestLocker(t)
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "revolut", 5*time.Second)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if !server.Exists("go-settlement:refresh:revolut") {
		t.Fatalf("expected prefixed lock key in redis")
	}
	if _, err := locker.Acquire(ctx, "revolut", 5*time.Second); !errors.Is(err, core.ErrLockHeld) {
		t.Fatalf("expected lock held, got %v", err)
	}
	if _, err := locker.Acquire(ctx, "mercury", 5*time.Second); err != nil {
		t.Fatalf("independent keys must not block: %v", err)
	}

	if err := first.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	again, err := locker.Acquire(ctx, "revolut", 5*time.Second)
	if err != nil {
		t.Fatalf("acquire after unlock: %v", err)
	}
	_ = again.Unlock(ctx)
}

func TestLocker_ExpiredLockCanBeTaken(t *testing.T) {
	locker, server := newTestLocker(t)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "revolut", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	server.FastForward(2 * time.Second)

	if _, err := locker.Acquire(ctx, "revolut", time.Second); err != nil {
		t.Fatalf("expected expired lock to be acquirable: %v", err)
	}
	if err := stale.Unlock(ctx); err == nil {
		t.Fatalf("expected releasing an expired lock to fail")
	}
}

func TestLocker_SerializesWithAcquireWithRetry(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var inside int32
	var overlaps int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle, err := core.AcquireWithRetry(ctx, locker, "airwallex", 5*time.Second, core.ExponentialBackoffScheduler{
				Initial: 5 * time.Millisecond,
				Max:     20 * time.Millisecond,
			})
			if err != nil {
				t.Errorf("acquire with retry: %v", err)
				return
			}
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.AddInt32(&overlaps, 1)
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			if err := handle.Unlock(ctx); err != nil {
				t.Errorf("unlock: %v", err)
			}
		}()
	}
	wg.Wait()
	if overlaps != 0 {
		t.Fatalf("expected exclusive critical sections, saw %d overlaps", overlaps)
	}
}

func TestNewFromConfig_NoAddressDisablesLocker(t *testing.T) {
	locker, client, err := NewFromConfig(core.RedisConfig{})
	if err != nil || locker != nil || client != nil {
		t.Fatalf("expected disabled locker, got %v %v %v", locker, client, err)
	}
}
