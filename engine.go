// Package settlement wires the bank integrations, credential brokers and
// request executor into one engine that reports balances, classifies
// monthly ledgers and moves money.
package settlement

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/nestorgt/go-settlement/adapters/gologger"
	"github.com/nestorgt/go-settlement/balance"
	"github.com/nestorgt/go-settlement/broker"
	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/ledger"
	"github.com/nestorgt/go-settlement/notify"
	"github.com/nestorgt/go-settlement/transfer"
	"github.com/nestorgt/go-settlement/transport"
)

type Engine struct {
	config         Config
	logger         core.Logger
	loggerProvider core.LoggerProvider
	observer       core.Observer
	registry       *core.ProviderRegistry
	executor       *transport.RequestExecutor
	brokers        map[string]*broker.Broker
	classifier     *ledger.Classifier
	aggregator     *balance.Aggregator
	transfers      *transfer.Engine
	history        TransferHistoryStore
}

// NewEngine builds every enabled provider in cfg. Providers without a
// registered factory fail the build.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	builder := defaultEngineBuilder()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := gologger.Resolve(cfg.ServiceName, builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = core.NopMetricsRecorder{}
	}
	if builder.locker == nil {
		builder.locker = core.NewMemoryConnectionLocker()
	}
	if builder.snapshotStore == nil {
		builder.snapshotStore = balance.NewMemorySnapshotStore()
	}

	engine := &Engine{
		config:         cfg,
		logger:         logger,
		loggerProvider: provider,
		registry:       core.NewProviderRegistry(),
		brokers:        map[string]*broker.Broker{},
		history:        builder.history,
	}
	engine.observer = engine.observerFor("engine", builder.metricsRecorder)

	engine.executor = transport.NewRequestExecutor(
		transport.ExecutorConfigFrom(cfg.Executor),
		transport.WithObserver(engine.observerFor("transport", builder.metricsRecorder)),
		transport.WithAdapterFactory(builder.adapterFactory),
	)
	engine.classifier = ledger.NewClassifier(
		cfg.Classifier,
		ledger.WithObserver(engine.observerFor("ledger", builder.metricsRecorder)),
	)
	engine.aggregator = balance.NewAggregator(
		balance.WithSnapshotStore(builder.snapshotStore),
		balance.WithStaleness(cfg.Balance.StalenessBound()),
		balance.WithObserver(engine.observerFor("balance", builder.metricsRecorder)),
		balance.WithClock(builder.now),
	)

	notifier := builder.notifier
	if notifier == nil {
		built, err := webhookNotifier(cfg.Notify, engine.observerFor("notify", builder.metricsRecorder), builder.tokenAdapter)
		if err != nil {
			return nil, err
		}
		if built != nil {
			notifier = built
		}
	}
	transferOpts := []transfer.Option{
		transfer.WithObserver(engine.observerFor("transfer", builder.metricsRecorder)),
		transfer.WithClock(func() time.Time { return builder.now().UTC() }),
	}
	if notifier != nil {
		transferOpts = append(transferOpts, transfer.WithNotifier(notifier, cfg.Notify.RecipientID))
	}
	if builder.journal != nil {
		transferOpts = append(transferOpts, transfer.WithJournal(builder.journal))
	}
	engine.transfers = transfer.NewEngine(engine.executor, transferOpts...)

	if err := engine.buildProviders(builder); err != nil {
		return nil, err
	}
	return engine, nil
}

func (e *Engine) buildProviders(builder engineBuilder) error {
	env := ProviderEnv{
		Executor:      e.executor,
		TokenAdapter:  builder.tokenAdapter,
		ScrapeTimeout: e.config.Executor.Timeout(core.OperationScrape),
		Now:           builder.now,
	}
	brokerObserver := e.observerFor("broker", builder.metricsRecorder)
	sealer, err := credentialSealer(e.config.Broker)
	if err != nil {
		return err
	}
	for _, id := range e.config.EnabledProviders() {
		providerID := normalizeProviderID(id)
		factory, ok := builder.factories[providerID]
		if !ok || factory == nil {
			return fmt.Errorf("settlement: no factory for provider %q", providerID)
		}
		built, err := factory(e.config.Providers[id], env)
		if err != nil {
			return fmt.Errorf("settlement: build provider %q: %w", providerID, err)
		}
		if built.Connector != nil {
			cache, err := builder.credentialCache(e.config.Broker, built.Connector.ProviderID(), sealer)
			if err != nil {
				return err
			}
			credentialBroker, err := broker.New(
				built.Connector,
				broker.WithCache(cache),
				broker.WithLocker(builder.locker, e.config.Broker.LockTTL()),
				broker.WithExpiryBuffer(e.config.Broker.ExpiryBuffer()),
				broker.WithObserver(brokerObserver),
			)
			if err != nil {
				return fmt.Errorf("settlement: broker for %q: %w", providerID, err)
			}
			if err := e.executor.Register(credentialBroker); err != nil {
				return err
			}
			e.brokers[credentialBroker.ProviderID()] = credentialBroker
		}
		if err := e.registry.Register(built.Provider); err != nil {
			return err
		}
		e.logger.Info("provider registered", "provider_id", providerID, "capabilities", capabilityNames(built.Provider))
	}
	return nil
}

func (e *Engine) observerFor(component string, metrics core.MetricsRecorder) core.Observer {
	logger := e.logger
	if e.loggerProvider != nil {
		if named := e.loggerProvider.GetLogger(e.config.ServiceName + "." + component); named != nil {
			logger = named
		}
	}
	return core.NewObserver(e.config.ServiceName, logger, metrics)
}

func webhookNotifier(cfg core.NotifyConfig, observer core.Observer, adapter core.TransportAdapter) (*notify.MultiChannelDispatcher, error) {
	urls := make([]string, 0, len(cfg.WebhookURLs))
	for _, raw := range cfg.WebhookURLs {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	if len(urls) == 0 {
		return nil, nil
	}
	channels := make([]notify.Channel, 0, len(urls))
	for i, url := range urls {
		channels = append(channels, notify.NewWebhookChannel(notify.WebhookChannelConfig{
			Name:    fmt.Sprintf("webhook_%d", i+1),
			URL:     url,
			Secret:  cfg.WebhookSecret,
			Adapter: adapter,
		}))
	}
	return notify.NewMultiChannelDispatcher(observer, channels...)
}

func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) Registry() *core.ProviderRegistry {
	return e.registry
}

// Broker returns the credential broker of a provider called through the
// executor.
func (e *Engine) Broker(providerID string) (*broker.Broker, bool) {
	b, ok := e.brokers[normalizeProviderID(providerID)]
	return b, ok
}

// Summary fetches every balance capable provider concurrently.
func (e *Engine) Summary(ctx context.Context) balance.Report {
	return e.aggregator.FetchAll(ctx, core.BalanceProviders(e.registry.List()))
}

func (e *Engine) ProviderSummary(ctx context.Context, providerID string) (core.Balance, error) {
	provider, err := e.resolve(providerID, core.CapabilityBalances)
	if err != nil {
		return core.Balance{}, err
	}
	typed, ok := provider.(core.BalanceProvider)
	if !ok {
		return core.Balance{}, core.NewCapabilityUnsupportedError(provider.ID(), core.CapabilityBalances)
	}
	return e.aggregator.Fetch(ctx, typed)
}

// PeriodLedger classifies the provider's completed transactions for one
// calendar month in UTC.
func (e *Engine) PeriodLedger(ctx context.Context, providerID string, month int, year int) (core.PeriodLedger, error) {
	provider, err := e.resolve(providerID, core.CapabilityTransactions)
	if err != nil {
		return core.PeriodLedger{}, err
	}
	typed, ok := provider.(core.TransactionProvider)
	if !ok {
		return core.PeriodLedger{}, core.NewCapabilityUnsupportedError(provider.ID(), core.CapabilityTransactions)
	}
	start, end, err := core.MonthPeriod(month, year)
	if err != nil {
		return core.PeriodLedger{}, core.NewPermanentRequestError(provider.ID(), "period", err.Error())
	}
	return e.classifier.Fetch(ctx, typed, nil, start, end)
}

// StatementLedger classifies an exported CSV statement. The provider does
// not have to be configured.
func (e *Engine) StatementLedger(ctx context.Context, providerID string, month int, year int, statement io.Reader) (core.PeriodLedger, error) {
	providerID = normalizeProviderID(providerID)
	start, end, err := core.MonthPeriod(month, year)
	if err != nil {
		return core.PeriodLedger{}, core.NewPermanentRequestError(providerID, "period", err.Error())
	}
	startedAt := time.Now()
	transactions, err := ledger.ParseStatementCSV(statement, providerID)
	e.observer.ObserveOperation(ctx, startedAt, "statement_import", err, map[string]any{
		"provider_id": providerID,
		"rows":        len(transactions),
	})
	if err != nil {
		return core.PeriodLedger{}, err
	}
	return e.classifier.ClassifyTransactions(providerID, transactions, start, end), nil
}

func (e *Engine) Assets(ctx context.Context, providerID string) (assets []core.Asset, err error) {
	provider, err := e.resolve(providerID, core.CapabilityAssets)
	if err != nil {
		return nil, err
	}
	typed, ok := provider.(core.AssetProvider)
	if !ok {
		return nil, core.NewCapabilityUnsupportedError(provider.ID(), core.CapabilityAssets)
	}
	startedAt := time.Now()
	defer func() {
		e.observer.ObserveOperation(ctx, startedAt, "assets_fetch", err, map[string]any{
			"provider_id": provider.ID(),
			"count":       len(assets),
		})
	}()
	return typed.FetchAssets(ctx)
}

func (e *Engine) SubmitTransfer(ctx context.Context, providerID string, req core.TransferRequest) (core.TransferResult, error) {
	provider, err := e.resolve(providerID, core.CapabilityTransfer)
	if err != nil {
		return core.TransferResult{}, err
	}
	typed, ok := provider.(core.TransferProvider)
	if !ok {
		return core.TransferResult{}, core.NewCapabilityUnsupportedError(provider.ID(), core.CapabilityTransfer)
	}
	return e.transfers.Submit(ctx, typed, req)
}

func (e *Engine) SubmitExchange(ctx context.Context, providerID string, req core.ExchangeRequest) (core.TransferResult, error) {
	provider, err := e.resolve(providerID, core.CapabilityExchange)
	if err != nil {
		return core.TransferResult{}, err
	}
	typed, ok := provider.(core.ExchangeProvider)
	if !ok {
		return core.TransferResult{}, core.NewCapabilityUnsupportedError(provider.ID(), core.CapabilityExchange)
	}
	return e.transfers.Exchange(ctx, typed, req)
}

// TransferHistory lists the journaled attempts of one request id, oldest
// first.
func (e *Engine) TransferHistory(ctx context.Context, providerID string, requestID string) ([]core.TransferEntry, error) {
	if e.history == nil {
		return nil, goerrors.New("settlement: transfer journal is not configured", goerrors.CategoryInternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.ErrorInternal)
	}
	return e.history.History(ctx, normalizeProviderID(providerID), strings.TrimSpace(requestID))
}

func (e *Engine) resolve(providerID string, capability core.Capability) (core.Provider, error) {
	provider, err := e.registry.Resolve(normalizeProviderID(providerID))
	if err != nil {
		return nil, err
	}
	if !core.Supports(provider, capability) {
		return nil, core.NewCapabilityUnsupportedError(provider.ID(), capability)
	}
	return provider, nil
}

func capabilityNames(provider core.Provider) []string {
	names := make([]string, 0, len(provider.Capabilities()))
	for _, capability := range provider.Capabilities() {
		names = append(names, string(capability))
	}
	sort.Strings(names)
	return names
}
