package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type ServerConfig struct {
	Addr                string `koanf:"addr" mapstructure:"addr" json:"addr,omitempty"`
	APISecret           string `koanf:"api_secret" mapstructure:"api_secret" json:"api_secret,omitempty"`
	ReadTimeoutSeconds  int    `koanf:"read_timeout_seconds" mapstructure:"read_timeout_seconds" json:"read_timeout_seconds,omitempty"`
	WriteTimeoutSeconds int    `koanf:"write_timeout_seconds" mapstructure:"write_timeout_seconds" json:"write_timeout_seconds,omitempty"`
}

type BrokerConfig struct {
	ExpiryBufferSeconds int    `koanf:"expiry_buffer_seconds" mapstructure:"expiry_buffer_seconds" json:"expiry_buffer_seconds,omitempty"`
	CacheDir            string `koanf:"cache_dir" mapstructure:"cache_dir" json:"cache_dir,omitempty"`
	LockTTLSeconds      int    `koanf:"lock_ttl_seconds" mapstructure:"lock_ttl_seconds" json:"lock_ttl_seconds,omitempty"`
	// EncryptionKey seals cached tokens at rest when set.
	EncryptionKey string `koanf:"encryption_key" mapstructure:"encryption_key" json:"encryption_key,omitempty"`
}

// ExpiryBuffer never drops below DefaultExpiryBuffer.
func (c BrokerConfig) ExpiryBuffer() time.Duration {
	buffer := time.Duration(c.ExpiryBufferSeconds) * time.Second
	if buffer < DefaultExpiryBuffer {
		return DefaultExpiryBuffer
	}
	return buffer
}

func (c BrokerConfig) LockTTL() time.Duration {
	if c.LockTTLSeconds <= 0 {
		return DefaultRefreshLockTTL
	}
	return time.Duration(c.LockTTLSeconds) * time.Second
}

type ExecutorConfig struct {
	MaxAttempts             int     `koanf:"max_attempts" mapstructure:"max_attempts" json:"max_attempts,omitempty"`
	BackoffBaseMS           int     `koanf:"backoff_base_ms" mapstructure:"backoff_base_ms" json:"backoff_base_ms,omitempty"`
	BackoffMaxMS            int     `koanf:"backoff_max_ms" mapstructure:"backoff_max_ms" json:"backoff_max_ms,omitempty"`
	ReadTimeoutSeconds      int     `koanf:"read_timeout_seconds" mapstructure:"read_timeout_seconds" json:"read_timeout_seconds,omitempty"`
	MoneyTimeoutSeconds     int     `koanf:"money_timeout_seconds" mapstructure:"money_timeout_seconds" json:"money_timeout_seconds,omitempty"`
	ScrapeTimeoutSeconds    int     `koanf:"scrape_timeout_seconds" mapstructure:"scrape_timeout_seconds" json:"scrape_timeout_seconds,omitempty"`
	RequestsPerSecond       float64 `koanf:"requests_per_second" mapstructure:"requests_per_second" json:"requests_per_second,omitempty"`
	Burst                   int     `koanf:"burst" mapstructure:"burst" json:"burst,omitempty"`
	BreakerFailureThreshold int     `koanf:"breaker_failure_threshold" mapstructure:"breaker_failure_threshold" json:"breaker_failure_threshold,omitempty"`
	BreakerOpenSeconds      int     `koanf:"breaker_open_seconds" mapstructure:"breaker_open_seconds" json:"breaker_open_seconds,omitempty"`
}

func (c ExecutorConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

func (c ExecutorConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}

// Timeout returns the deadline for an operation class.
func (c ExecutorConfig) Timeout(class OperationClass) time.Duration {
	switch class {
	case OperationMoney:
		return time.Duration(c.MoneyTimeoutSeconds) * time.Second
	case OperationScrape:
		return time.Duration(c.ScrapeTimeoutSeconds) * time.Second
	default:
		return time.Duration(c.ReadTimeoutSeconds) * time.Second
	}
}

type ClassifierConfig struct {
	PageSize         int      `koanf:"page_size" mapstructure:"page_size" json:"page_size,omitempty"`
	MaxPages         int      `koanf:"max_pages" mapstructure:"max_pages" json:"max_pages,omitempty"`
	WatchedNames     []string `koanf:"watched_names" mapstructure:"watched_names" json:"watched_names,omitempty"`
	CardMarkers      []string `koanf:"card_markers" mapstructure:"card_markers" json:"card_markers,omitempty"`
	ACHMarkers       []string `koanf:"ach_markers" mapstructure:"ach_markers" json:"ach_markers,omitempty"`
	InternalMarkers  []string `koanf:"internal_markers" mapstructure:"internal_markers" json:"internal_markers,omitempty"`
	SendMoneyMarkers []string `koanf:"send_money_markers" mapstructure:"send_money_markers" json:"send_money_markers,omitempty"`
}

type BalanceConfig struct {
	StalenessHours  int `koanf:"staleness_hours" mapstructure:"staleness_hours" json:"staleness_hours,omitempty"`
	CacheTTLSeconds int `koanf:"cache_ttl_seconds" mapstructure:"cache_ttl_seconds" json:"cache_ttl_seconds,omitempty"`
}

func (c BalanceConfig) StalenessBound() time.Duration {
	return time.Duration(c.StalenessHours) * time.Hour
}

type StorageConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver" json:"driver,omitempty"`
	DSN    string `koanf:"dsn" mapstructure:"dsn" json:"dsn,omitempty"`
	Debug  bool   `koanf:"debug" mapstructure:"debug" json:"debug,omitempty"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr" mapstructure:"addr" json:"addr,omitempty"`
	Password string `koanf:"password" mapstructure:"password" json:"password,omitempty"`
	DB       int    `koanf:"db" mapstructure:"db" json:"db,omitempty"`
}

type NotifyConfig struct {
	WebhookURLs   []string `koanf:"webhook_urls" mapstructure:"webhook_urls" json:"webhook_urls,omitempty"`
	WebhookSecret string   `koanf:"webhook_secret" mapstructure:"webhook_secret" json:"webhook_secret,omitempty"`
	RecipientID   string   `koanf:"recipient_id" mapstructure:"recipient_id" json:"recipient_id,omitempty"`
}

type ProviderConfig struct {
	Enabled          bool     `koanf:"enabled" mapstructure:"enabled" json:"enabled,omitempty"`
	BaseURL          string   `koanf:"base_url" mapstructure:"base_url" json:"base_url,omitempty"`
	TokenURL         string   `koanf:"token_url" mapstructure:"token_url" json:"token_url,omitempty"`
	ClientID         string   `koanf:"client_id" mapstructure:"client_id" json:"client_id,omitempty"`
	APIKey           string   `koanf:"api_key" mapstructure:"api_key" json:"api_key,omitempty"`
	Token            string   `koanf:"token" mapstructure:"token" json:"token,omitempty"`
	Issuer           string   `koanf:"issuer" mapstructure:"issuer" json:"issuer,omitempty"`
	PrivateKeyPath   string   `koanf:"private_key_path" mapstructure:"private_key_path" json:"private_key_path,omitempty"`
	CertPath         string   `koanf:"cert_path" mapstructure:"cert_path" json:"cert_path,omitempty"`
	KeyPath          string   `koanf:"key_path" mapstructure:"key_path" json:"key_path,omitempty"`
	Audiences        []string `koanf:"audiences" mapstructure:"audiences" json:"audiences,omitempty"`
	FallbackAudience string   `koanf:"fallback_audience" mapstructure:"fallback_audience" json:"fallback_audience,omitempty"`
	RefreshToken     string   `koanf:"refresh_token" mapstructure:"refresh_token" json:"refresh_token,omitempty"`
	AuthCode         string   `koanf:"auth_code" mapstructure:"auth_code" json:"auth_code,omitempty"`
	AccountRefs      []string `koanf:"account_refs" mapstructure:"account_refs" json:"account_refs,omitempty"`
	ProfileID        string   `koanf:"profile_id" mapstructure:"profile_id" json:"profile_id,omitempty"`
}

type Config struct {
	ServiceName string                    `koanf:"service_name" mapstructure:"service_name" json:"service_name,omitempty"`
	Server      ServerConfig              `koanf:"server" mapstructure:"server" json:"server"`
	Broker      BrokerConfig              `koanf:"broker" mapstructure:"broker" json:"broker"`
	Executor    ExecutorConfig            `koanf:"executor" mapstructure:"executor" json:"executor"`
	Classifier  ClassifierConfig          `koanf:"classifier" mapstructure:"classifier" json:"classifier"`
	Balance     BalanceConfig             `koanf:"balance" mapstructure:"balance" json:"balance"`
	Storage     StorageConfig             `koanf:"storage" mapstructure:"storage" json:"storage"`
	Redis       RedisConfig               `koanf:"redis" mapstructure:"redis" json:"redis"`
	Notify      NotifyConfig              `koanf:"notify" mapstructure:"notify" json:"notify"`
	Providers   map[string]ProviderConfig `koanf:"providers" mapstructure:"providers" json:"providers,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "settlement",
		Server: ServerConfig{
			Addr:                ":8080",
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 120,
		},
		Broker: BrokerConfig{
			ExpiryBufferSeconds: 300,
			CacheDir:            ".settlement/credentials",
			LockTTLSeconds:      30,
		},
		Executor: ExecutorConfig{
			MaxAttempts:             3,
			BackoffBaseMS:           500,
			BackoffMaxMS:            8000,
			ReadTimeoutSeconds:      15,
			MoneyTimeoutSeconds:     25,
			ScrapeTimeoutSeconds:    90,
			RequestsPerSecond:       5,
			Burst:                   5,
			BreakerFailureThreshold: 5,
			BreakerOpenSeconds:      30,
		},
		Classifier: ClassifierConfig{
			PageSize:         100,
			MaxPages:         20,
			WatchedNames:     []string{"waresoul"},
			CardMarkers:      []string{"card", "visa", "mastercard", "amex", "apple pay", "google pay", "pos purchase"},
			ACHMarkers:       []string{"ach", "wire", "bank transfer"},
			InternalMarkers:  []string{"internal transfer", "own account", "between accounts", "consolidation", "top-up", "topup"},
			SendMoneyMarkers: []string{"send money"},
		},
		Balance: BalanceConfig{
			StalenessHours:  6,
			CacheTTLSeconds: 60,
		},
		Storage: StorageConfig{
			Driver: "sqlite3",
			DSN:    "file:settlement.db?cache=shared&_foreign_keys=on",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Broker.ExpiryBufferSeconds > 0 && time.Duration(c.Broker.ExpiryBufferSeconds)*time.Second < DefaultExpiryBuffer {
		return fmt.Errorf("core: broker.expiry_buffer_seconds must be at least %d", int(DefaultExpiryBuffer.Seconds()))
	}
	if c.Executor.MaxAttempts < 0 {
		return fmt.Errorf("core: executor.max_attempts must be positive")
	}
	if c.Classifier.MaxPages < 0 || c.Classifier.MaxPages > 20 {
		return fmt.Errorf("core: classifier.max_pages must be between 1 and 20")
	}
	switch strings.TrimSpace(c.Storage.Driver) {
	case "", "sqlite3", "postgres":
	default:
		return fmt.Errorf("core: storage.driver %q is invalid", c.Storage.Driver)
	}
	for id, provider := range c.Providers {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("core: provider id is required")
		}
		if provider.Enabled && strings.TrimSpace(provider.BaseURL) == "" {
			return fmt.Errorf("core: providers.%s.base_url is required", id)
		}
	}
	return nil
}

// EnabledProviders returns the ids of enabled providers in sorted order.
func (c Config) EnabledProviders() []string {
	ids := make([]string, 0, len(c.Providers))
	for id, provider := range c.Providers {
		if provider.Enabled {
			ids = append(ids, strings.TrimSpace(id))
		}
	}
	sort.Strings(ids)
	return ids
}
