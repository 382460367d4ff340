package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Capability string

const (
	CapabilityBalances     Capability = "balances"
	CapabilityTransactions Capability = "transactions"
	CapabilityTransfer     Capability = "transfer"
	CapabilityExchange     Capability = "exchange"
	CapabilityAssets       Capability = "assets"
)

// Connector owns provider specific credential material for one auth
// protocol variant.
type Connector interface {
	ProviderID() string
	Method() AuthMethod
	Authenticate(ctx context.Context) (Credential, error)
	Refresh(ctx context.Context, cred Credential) (Credential, error)
	IsExpiring(cred Credential, buffer time.Duration) bool
	AuthContext(cred Credential) (AuthContext, error)
}

// CredentialCache is the durable store behind one broker.
type CredentialCache interface {
	Load(ctx context.Context) (Credential, bool, error)
	Save(ctx context.Context, cred Credential) error
}

// CredentialSource is the view of a broker the request executor needs.
type CredentialSource interface {
	ProviderID() string
	GetValid(ctx context.Context) (Credential, error)
	Invalidate(cred Credential) bool
	AuthContext(cred Credential) (AuthContext, error)
}

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// ConnectionLocker serializes credential refresh across processes. Acquire
// fails fast when the key is held.
type ConnectionLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

type OperationClass string

const (
	OperationRead   OperationClass = "read"
	OperationMoney  OperationClass = "money"
	OperationScrape OperationClass = "scrape"
)

type TransportRequest struct {
	Method      string
	URL         string
	Headers     map[string]string
	Query       map[string]string
	Body        []byte
	Timeout     time.Duration
	Idempotency string
	// Retryable marks idempotent reads the executor may retry.
	Retryable            bool
	Class                OperationClass
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

func (r TransportResponse) Successful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

// Executor issues authenticated calls on behalf of a registered provider.
type Executor interface {
	Execute(ctx context.Context, providerID string, req TransportRequest) (TransportResponse, error)
}

type Provider interface {
	ID() string
	Capabilities() []Capability
}

type BalanceProvider interface {
	Provider
	FetchBalance(ctx context.Context) (Balance, error)
}

// BalanceCachePolicy is implemented by providers whose balance source is
// fragile enough to warrant a last good value fallback.
type BalanceCachePolicy interface {
	CachesLastGoodBalance() bool
}

type AssetProvider interface {
	Provider
	FetchAssets(ctx context.Context) ([]Asset, error)
}

type TransactionQuery struct {
	AccountRef string
	From       time.Time
	To         time.Time
	PageSize   int
	PageIndex  int
	Cursor     string
	// Variant names an alternate endpoint or parameter shape. Empty is the
	// primary listing.
	Variant string
}

type TransactionPage struct {
	Transactions []Transaction
	NextCursor   string
}

type TransactionProvider interface {
	Provider
	AccountRefs(ctx context.Context) ([]string, error)
	FetchTransactions(ctx context.Context, query TransactionQuery) (TransactionPage, error)
	// FallbackQueries returns alternate single page queries merged with the
	// primary pagination.
	FallbackQueries(primary TransactionQuery) []TransactionQuery
}

// TransferProvider shapes money movement calls for one provider. Error
// interpretation is left to the transfer engine.
type TransferProvider interface {
	Provider
	BuildTransfer(req TransferRequest) (TransportRequest, error)
	ParseTransfer(req TransferRequest, res TransportResponse) (TransferResult, error)
	IsDuplicate(res TransportResponse) bool
}

type ExchangeProvider interface {
	Provider
	BuildExchange(req ExchangeRequest) (TransportRequest, error)
	ParseExchange(req ExchangeRequest, res TransportResponse) (TransferResult, error)
	IsDuplicate(res TransportResponse) bool
}

// TransferLookup resolves the original transfer behind a duplicate signal.
type TransferLookup interface {
	LookupTransfer(ctx context.Context, requestID string) (TransferResult, bool, error)
}

// TransferJournal keeps an audit trail of money movement attempts,
// including ones whose outcome is unknown.
type TransferJournal interface {
	RecordTransfer(ctx context.Context, entry TransferEntry) error
}

type Registry interface {
	Register(provider Provider) error
	Get(providerID string) (Provider, bool)
	List() []Provider
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
