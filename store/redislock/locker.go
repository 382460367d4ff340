// Package redislock serializes credential refresh across engine processes
// with a Redis backed redsync mutex.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/nestorgt/go-settlement/core"
	goredislib "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "go-settlement:refresh:"

type Option func(*Locker)

// WithKeyPrefix namespaces lock keys when several deployments share one
// Redis.
func WithKeyPrefix(prefix string) Option {
	return func(l *Locker) {
		l.prefix = prefix
	}
}

// Locker implements core.ConnectionLocker. Acquire makes a single attempt
// and reports core.ErrLockHeld when another process owns the key, leaving
// retry policy to core.AcquireWithRetry.
type Locker struct {
	redsync *redsync.Redsync
	prefix  string
}

func New(client goredislib.UniversalClient, opts ...Option) (*Locker, error) {
	if client == nil {
		return nil, fmt.Errorf("redislock: redis client is required")
	}
	locker := &Locker{
		redsync: redsync.New(goredis.NewPool(client)),
		prefix:  defaultKeyPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(locker)
		}
	}
	return locker, nil
}

// NewFromConfig dials the configured Redis. It returns nil without error
// when no address is set, so callers fall back to the in-process locker.
func NewFromConfig(cfg core.RedisConfig, opts ...Option) (*Locker, goredislib.UniversalClient, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, nil, nil
	}
	client := goredislib.NewClient(&goredislib.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	locker, err := New(client, opts...)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return locker, client, nil
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (core.LockHandle, error) {
	if l == nil || l.redsync == nil {
		return nil, fmt.Errorf("redislock: locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("redislock: lock key is required")
	}
	if ttl <= 0 {
		ttl = core.DefaultRefreshLockTTL
	}
	mutex := l.redsync.NewMutex(
		l.prefix+key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
			return nil, core.ErrLockHeld
		}
		return nil, fmt.Errorf("redislock: acquire %q: %w", key, err)
	}
	return &handle{mutex: mutex}, nil
}

type handle struct {
	mutex *redsync.Mutex
}

func (h *handle) Unlock(ctx context.Context) error {
	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		return fmt.Errorf("redislock: release %q: %w", h.mutex.Name(), err)
	}
	if !ok {
		return fmt.Errorf("redislock: lock %q expired before release", h.mutex.Name())
	}
	return nil
}

var _ core.ConnectionLocker = (*Locker)(nil)
