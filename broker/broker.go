package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nestorgt/go-settlement/core"
	"golang.org/x/sync/singleflight"
)

const (
	lockKeyPrefix = "settlement:credential:"

	// DefaultRenewTimeout bounds one shared renewal, independent of the
	// deadline of whichever caller started it.
	DefaultRenewTimeout = 60 * time.Second
)

type Option func(*Broker)

func WithCache(cache core.CredentialCache) Option {
	return func(b *Broker) {
		if cache != nil {
			b.cache = cache
		}
	}
}

// WithLocker serializes refresh across processes sharing the same cache.
func WithLocker(locker core.ConnectionLocker, ttl time.Duration) Option {
	return func(b *Broker) {
		b.locker = locker
		if ttl > 0 {
			b.lockTTL = ttl
		}
	}
}

func WithExpiryBuffer(buffer time.Duration) Option {
	return func(b *Broker) {
		b.buffer = core.NormalizeExpiryBuffer(buffer)
	}
}

func WithObserver(observer core.Observer) Option {
	return func(b *Broker) {
		b.observer = observer
	}
}

func WithRenewTimeout(timeout time.Duration) Option {
	return func(b *Broker) {
		if timeout > 0 {
			b.renewTTL = timeout
		}
	}
}

func WithLockBackoff(backoff core.BackoffScheduler) Option {
	return func(b *Broker) {
		if backoff != nil {
			b.lockBackoff = backoff
		}
	}
}

// Broker owns the credential of one provider. Callers always receive a
// credential outside the expiry buffer, and concurrent callers share a
// single refresh.
type Broker struct {
	connector   core.Connector
	cache       core.CredentialCache
	locker      core.ConnectionLocker
	lockTTL     time.Duration
	lockBackoff core.BackoffScheduler
	buffer      time.Duration
	renewTTL    time.Duration
	observer    core.Observer
	flight      singleflight.Group

	mu          sync.RWMutex
	current     core.Credential
	loaded      bool
	invalidated bool
}

func New(connector core.Connector, opts ...Option) (*Broker, error) {
	if connector == nil {
		return nil, fmt.Errorf("broker: connector is required")
	}
	if strings.TrimSpace(connector.ProviderID()) == "" {
		return nil, fmt.Errorf("broker: connector provider id is required")
	}
	b := &Broker{
		connector: connector,
		cache:     NewMemoryCache(),
		lockTTL:   core.DefaultRefreshLockTTL,
		buffer:    core.DefaultExpiryBuffer,
		renewTTL:  DefaultRenewTimeout,
		observer:  core.NewObserver("settlement", nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

func (b *Broker) ProviderID() string {
	return b.connector.ProviderID()
}

// Current returns the cached credential without refreshing it.
func (b *Broker) Current() (core.Credential, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.current.IsZero() {
		return core.Credential{}, false
	}
	return b.current.Clone(), true
}

// GetValid returns a credential outside the expiry buffer, renewing it when
// needed. The renewal is shared by every concurrent caller and outlives the
// caller that started it; each caller only waits as long as its own ctx.
func (b *Broker) GetValid(ctx context.Context) (core.Credential, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := b.ensureLoaded(ctx); err != nil {
		return core.Credential{}, err
	}
	if cred, ok := b.usable(); ok {
		return cred, nil
	}

	flight := b.flight.DoChan("renew", func() (any, error) {
		renewCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.renewTTL)
		defer cancel()
		return b.renew(renewCtx)
	})
	select {
	case <-ctx.Done():
		return core.Credential{}, ctx.Err()
	case result := <-flight:
		if result.Err != nil {
			return core.Credential{}, result.Err
		}
		return result.Val.(core.Credential).Clone(), nil
	}
}

// Invalidate drops cred if it is still the cached value. It reports false
// when the cache already moved on to a newer credential.
func (b *Broker) Invalidate(cred core.Credential) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current.IsZero() || b.current.Fingerprint() != cred.Fingerprint() {
		return false
	}
	b.invalidated = true
	return true
}

func (b *Broker) AuthContext(cred core.Credential) (core.AuthContext, error) {
	return b.connector.AuthContext(cred)
}

func (b *Broker) usable() (core.Credential, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.invalidated || b.current.IsZero() {
		return core.Credential{}, false
	}
	if b.connector.IsExpiring(b.current, b.buffer) {
		return core.Credential{}, false
	}
	return b.current.Clone(), true
}

func (b *Broker) ensureLoaded(ctx context.Context) error {
	b.mu.RLock()
	loaded := b.loaded
	b.mu.RUnlock()
	if loaded {
		return nil
	}

	cred, ok, err := b.cache.Load(ctx)
	if err != nil {
		// An unreadable cache is replaced on the next successful renewal.
		b.observer.Warn(ctx, "credential cache unreadable", map[string]any{
			"provider_id": b.ProviderID(),
			"error":       err.Error(),
		})
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		return nil
	}
	b.loaded = true
	if ok && b.current.IsZero() {
		b.current = cred.Clone()
	}
	return nil
}

func (b *Broker) renew(ctx context.Context) (cred core.Credential, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"provider_id": b.ProviderID(),
		"auth_method": string(b.connector.Method()),
	}
	defer func() {
		b.observer.ObserveOperation(ctx, startedAt, "credential_renew", err, fields)
	}()

	// A previous flight may have finished between the check and this call.
	if current, ok := b.usable(); ok {
		fields["source"] = "memory"
		return current, nil
	}

	if b.locker != nil {
		handle, lockErr := core.AcquireWithRetry(ctx, b.locker, lockKeyPrefix+b.ProviderID(), b.lockTTL, b.lockBackoff)
		if lockErr != nil {
			return core.Credential{}, core.WrapProviderError(lockErr, b.ProviderID(), core.ErrorTransientProvider, "acquire credential refresh lock")
		}
		defer func() {
			if unlockErr := handle.Unlock(context.WithoutCancel(ctx)); unlockErr != nil {
				b.observer.Warn(ctx, "credential refresh unlock failed", map[string]any{
					"provider_id": b.ProviderID(),
					"error":       unlockErr.Error(),
				})
			}
		}()
		if adopted, ok := b.adoptFromCache(ctx); ok {
			fields["source"] = "durable_cache"
			return adopted, nil
		}
	}

	previous, invalidated := b.snapshot()
	next, err := b.obtain(ctx, previous, invalidated, fields)
	if err != nil {
		return core.Credential{}, err
	}
	if next.ProviderID == "" {
		next.ProviderID = b.ProviderID()
	}
	if next.AuthMethod == "" {
		next.AuthMethod = b.connector.Method()
	}

	if saveErr := b.cache.Save(ctx, next); saveErr != nil {
		return core.Credential{}, core.WrapProviderError(saveErr, b.ProviderID(), core.ErrorInternal, "persist credential")
	}
	b.store(next)
	return next.Clone(), nil
}

// obtain tries Refresh when a previous credential exists and falls back to
// a full Authenticate. A result that does not move expiry past the cached
// credential counts as a failure, unless that credential was invalidated.
func (b *Broker) obtain(ctx context.Context, previous core.Credential, invalidated bool, fields map[string]any) (core.Credential, error) {
	advances := func(next core.Credential) bool {
		return previous.IsZero() || invalidated || core.ExpiryAdvanced(previous, next)
	}

	if !previous.IsZero() {
		next, err := b.connector.Refresh(ctx, previous.Clone())
		switch {
		case err != nil:
			b.observer.Debug(ctx, "credential refresh failed, authenticating", map[string]any{
				"provider_id": b.ProviderID(),
				"error":       err.Error(),
			})
		case next.IsZero():
		case !advances(next):
			b.observer.Warn(ctx, "refreshed credential does not advance expiry, authenticating", map[string]any{
				"provider_id": b.ProviderID(),
			})
		default:
			fields["source"] = "refresh"
			return next, nil
		}
	}

	next, err := b.connector.Authenticate(ctx)
	if err != nil {
		return core.Credential{}, err
	}
	if next.IsZero() {
		return core.Credential{}, core.NewAuthError(b.ProviderID(), "connector returned an empty credential")
	}
	if !advances(next) {
		return core.Credential{}, core.NewAuthError(b.ProviderID(), "renewed credential does not advance expiry")
	}
	fields["source"] = "authenticate"
	return next, nil
}

// adoptFromCache picks up a credential renewed by another process while
// this one waited for the lock.
func (b *Broker) adoptFromCache(ctx context.Context) (core.Credential, bool) {
	cred, ok, err := b.cache.Load(ctx)
	if err != nil || !ok || cred.IsZero() {
		return core.Credential{}, false
	}
	if b.connector.IsExpiring(cred, b.buffer) {
		return core.Credential{}, false
	}
	previous, _ := b.snapshot()
	if previous.Fingerprint() == cred.Fingerprint() {
		return core.Credential{}, false
	}
	b.store(cred)
	return cred.Clone(), true
}

func (b *Broker) snapshot() (core.Credential, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current.Clone(), b.invalidated
}

func (b *Broker) store(cred core.Credential) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = cred.Clone()
	b.invalidated = false
	b.loaded = true
}

var _ core.CredentialSource = (*Broker)(nil)
