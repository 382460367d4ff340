package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	settlement "github.com/nestorgt/go-settlement"
	"github.com/nestorgt/go-settlement/adapters/gocommand"
	"github.com/nestorgt/go-settlement/adapters/gologger"
	"github.com/nestorgt/go-settlement/adapters/otelmetrics"
	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/httpapi"
	settlementmigrations "github.com/nestorgt/go-settlement/migrations"
	"github.com/nestorgt/go-settlement/store/redislock"
	sqlstore "github.com/nestorgt/go-settlement/store/sql"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const shutdownTimeout = 15 * time.Second

type persistenceConfig struct {
	storage core.StorageConfig
	name    string
}

func (c persistenceConfig) GetDebug() bool {
	return c.storage.Debug
}

func (c persistenceConfig) GetDriver() string {
	return c.storage.Driver
}

func (c persistenceConfig) GetServer() string {
	return c.storage.DSN
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return c.name
}

func main() {
	var (
		configPath = flag.String("config", os.Getenv("SETTLEMENT_CONFIG"), "path to the YAML config file")
		logLevel   = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logger, err := gologger.NewProductionLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "settlementd: build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, logger); err != nil {
		logger.Error("settlementd stopped", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, logger *gologger.ZapLogger) error {
	cfg, err := core.LoadConfig(ctx, configPath, core.Config{})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(meterProvider)
	defer func() { _ = meterProvider.Shutdown(context.Background()) }()
	recorder := otelmetrics.New(meterProvider)

	client, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return err
	}
	cacheConfig := repositorycache.DefaultConfig()
	if cfg.Balance.CacheTTLSeconds > 0 {
		cacheConfig.TTL = time.Duration(cfg.Balance.CacheTTLSeconds) * time.Second
	}
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return fmt.Errorf("snapshot cache: %w", err)
	}
	snapshots, err := sqlstore.NewCachedSnapshotStore(factory.BalanceSnapshotStore(), cacheService)
	if err != nil {
		return err
	}

	opts := []settlement.Option{
		settlement.WithLoggerProvider(gologger.NewProvider(logger)),
		settlement.WithMetricsRecorder(recorder),
		settlement.WithSnapshotStore(snapshots),
		settlement.WithTransferJournal(factory.TransferJournalStore()),
	}
	if strings.TrimSpace(cfg.Broker.CacheDir) == "" {
		opts = append(opts, settlement.WithCredentialStore(factory.CredentialStore()))
	}
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		locker, redisClient, err := redislock.NewFromConfig(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis locker: %w", err)
		}
		defer func() { _ = redisClient.Close() }()
		opts = append(opts, settlement.WithConnectionLocker(locker))
	}

	engine, err := settlement.NewEngine(cfg, opts...)
	if err != nil {
		return err
	}
	facade := engine.Facade()

	bus := gocommand.NewBus(nil)
	defer bus.Close()
	if err := facade.Subscribe(bus); err != nil {
		return fmt.Errorf("subscribe handlers: %w", err)
	}

	router, err := httpapi.NewRouter(
		cfg.Server.APISecret,
		facade.HTTPHandlers(),
		httpapi.WithObserver(core.NewObserver(cfg.ServiceName, logger, recorder)),
	)
	if err != nil {
		return err
	}
	server := httpapi.NewServer(cfg.Server, router)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("settlementd listening", "addr", server.Addr, "providers", cfg.EnabledProviders())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("settlementd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openStorage(ctx context.Context, cfg core.Config) (*persistence.Client, error) {
	driver := strings.TrimSpace(cfg.Storage.Driver)
	if driver == "" {
		driver = "sqlite3"
	}
	var (
		dialect       schema.Dialect
		migrationsFor string
	)
	switch driver {
	case "postgres":
		dialect = pgdialect.New()
		migrationsFor = settlementmigrations.DialectPostgres
	default:
		dialect = sqlitedialect.New()
		migrationsFor = settlementmigrations.DialectSQLite
	}

	sqlDB, err := sql.Open(driver, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	storage := cfg.Storage
	storage.Driver = driver
	client, err := persistence.New(persistenceConfig{storage: storage, name: cfg.ServiceName}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}

	_, err = settlementmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != migrationsFor {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, settlementmigrations.WithDialects(migrationsFor))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return client, nil
}
