package settlement

import (
	"context"
	"strings"
	"time"

	"github.com/nestorgt/go-settlement/balance"
	"github.com/nestorgt/go-settlement/broker"
	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/notify"
	"github.com/nestorgt/go-settlement/security"
	"github.com/nestorgt/go-settlement/transport"
)

type Config = core.Config

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// CredentialStore hands out a durable credential cache per provider.
type CredentialStore interface {
	ForProvider(providerID string) core.CredentialCache
}

// TransferHistoryStore reads journaled money movement attempts.
type TransferHistoryStore interface {
	History(ctx context.Context, providerID string, requestID string) ([]core.TransferEntry, error)
}

type Option func(*engineBuilder)

type engineBuilder struct {
	logger          core.Logger
	loggerProvider  core.LoggerProvider
	metricsRecorder core.MetricsRecorder
	credentialStore CredentialStore
	locker          core.ConnectionLocker
	snapshotStore   balance.SnapshotStore
	journal         core.TransferJournal
	history         TransferHistoryStore
	notifier        notify.Dispatcher
	adapterFactory  transport.AdapterFactory
	tokenAdapter    core.TransportAdapter
	factories       map[string]ProviderFactory
	now             func() time.Time
}

func defaultEngineBuilder() engineBuilder {
	return engineBuilder{
		factories: defaultProviderFactories(),
		now:       time.Now,
	}
}

func WithLogger(logger core.Logger) Option {
	return func(b *engineBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *engineBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *engineBuilder) {
		b.metricsRecorder = recorder
	}
}

// WithCredentialStore replaces the per provider credential files.
func WithCredentialStore(store CredentialStore) Option {
	return func(b *engineBuilder) {
		b.credentialStore = store
	}
}

func WithConnectionLocker(locker core.ConnectionLocker) Option {
	return func(b *engineBuilder) {
		b.locker = locker
	}
}

func WithSnapshotStore(store balance.SnapshotStore) Option {
	return func(b *engineBuilder) {
		b.snapshotStore = store
	}
}

// WithTransferJournal records money movement attempts. A journal that can
// also read its history backs TransferHistory.
func WithTransferJournal(journal core.TransferJournal) Option {
	return func(b *engineBuilder) {
		b.journal = journal
		if history, ok := journal.(TransferHistoryStore); ok && b.history == nil {
			b.history = history
		}
	}
}

func WithTransferHistory(history TransferHistoryStore) Option {
	return func(b *engineBuilder) {
		b.history = history
	}
}

// WithNotifier overrides the webhook dispatcher built from the notify
// config.
func WithNotifier(dispatcher notify.Dispatcher) Option {
	return func(b *engineBuilder) {
		b.notifier = dispatcher
	}
}

// WithAdapterFactory swaps the HTTP adapter used for provider calls.
func WithAdapterFactory(factory transport.AdapterFactory) Option {
	return func(b *engineBuilder) {
		b.adapterFactory = factory
	}
}

// WithTokenAdapter swaps the adapter connectors use for token and sidecar
// calls.
func WithTokenAdapter(adapter core.TransportAdapter) Option {
	return func(b *engineBuilder) {
		b.tokenAdapter = adapter
	}
}

// WithProviderFactory registers or replaces the factory for a provider id.
func WithProviderFactory(providerID string, factory ProviderFactory) Option {
	return func(b *engineBuilder) {
		if b.factories == nil {
			b.factories = map[string]ProviderFactory{}
		}
		b.factories[normalizeProviderID(providerID)] = factory
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *engineBuilder) {
		if now != nil {
			b.now = now
		}
	}
}

func (b engineBuilder) credentialCache(cfg core.BrokerConfig, providerID string, sealer *security.Sealer) (core.CredentialCache, error) {
	var cache core.CredentialCache
	switch {
	case b.credentialStore != nil:
		cache = b.credentialStore.ForProvider(providerID)
	case strings.TrimSpace(cfg.CacheDir) == "":
		cache = broker.NewMemoryCache()
	default:
		cache = broker.NewProviderFileCache(cfg.CacheDir, providerID)
	}
	if sealer == nil {
		return cache, nil
	}
	return security.NewSealedCredentialCache(cache, sealer)
}

func credentialSealer(cfg core.BrokerConfig) (*security.Sealer, error) {
	if strings.TrimSpace(cfg.EncryptionKey) == "" {
		return nil, nil
	}
	return security.NewSealerFromString(cfg.EncryptionKey, security.WithKeyID("broker"))
}
