package mercury

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nestorgt/go-settlement/auth"
	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/providers"
	"github.com/nestorgt/go-settlement/transport"
	"github.com/shopspring/decimal"
)

const (
	ProviderID = "mercury"
	BaseURL    = "https://api.mercury.com/api/v1"
	Currency   = "USD"

	// VariantAllAccounts lists transactions across accounts. It catches
	// entries the per account listing files under a different account.
	VariantAllAccounts = "all_accounts"
)

type Config struct {
	BaseURL     string
	Token       string
	AccountRefs []string
	// PaymentMethod defaults to ach.
	PaymentMethod string
	Now           func() time.Time
}

func DefaultConfig() Config {
	return Config{BaseURL: BaseURL, PaymentMethod: "ach"}
}

func withDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if strings.TrimSpace(cfg.PaymentMethod) == "" {
		cfg.PaymentMethod = defaults.PaymentMethod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

func NewConnector(cfg Config) *auth.StaticBearerConnector {
	return auth.NewStaticBearerConnector(auth.StaticBearerConnectorConfig{
		ProviderID: ProviderID,
		Token:      cfg.Token,
	})
}

type Provider struct {
	client        providers.Client
	accountRefs   []string
	paymentMethod string
	now           func() time.Time
}

func New(cfg Config, executor core.Executor) (*Provider, error) {
	cfg = withDefaults(cfg)
	client, err := providers.NewClient(ProviderID, cfg.BaseURL, executor)
	if err != nil {
		return nil, err
	}
	return &Provider{
		client:        client,
		accountRefs:   cfg.AccountRefs,
		paymentMethod: cfg.PaymentMethod,
		now:           cfg.Now,
	}, nil
}

func (*Provider) ID() string {
	return ProviderID
}

func (*Provider) Capabilities() []core.Capability {
	return []core.Capability{
		core.CapabilityBalances,
		core.CapabilityTransactions,
		core.CapabilityTransfer,
	}
}

type account struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Status           string          `json:"status"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	CurrentBalance   decimal.Decimal `json:"currentBalance"`
}

func (p *Provider) accounts(ctx context.Context) ([]account, error) {
	var payload struct {
		Accounts []account `json:"accounts"`
	}
	if err := p.client.GetJSON(ctx, nil, &payload, "accounts"); err != nil {
		return nil, err
	}
	active := make([]account, 0, len(payload.Accounts))
	for _, item := range payload.Accounts {
		if status := providers.Lower(item.Status); status == "" || status == "active" {
			active = append(active, item)
		}
	}
	return active, nil
}

func (p *Provider) FetchBalance(ctx context.Context) (core.Balance, error) {
	accounts, err := p.accounts(ctx)
	if err != nil {
		return core.Balance{}, err
	}
	balance := core.Balance{ProviderID: ProviderID, FetchedAt: p.now().UTC()}
	for _, item := range accounts {
		balance.Accounts = append(balance.Accounts, core.AccountBalance{
			ID:       item.ID,
			Name:     item.Name,
			Currency: Currency,
			Amount:   item.AvailableBalance,
		})
	}
	return balance.WithTotals(), nil
}

func (p *Provider) AccountRefs(ctx context.Context) ([]string, error) {
	return providers.AccountRefs(p.accountRefs, func() ([]string, error) {
		accounts, err := p.accounts(ctx)
		if err != nil {
			return nil, err
		}
		refs := make([]string, 0, len(accounts))
		for _, item := range accounts {
			refs = append(refs, item.ID)
		}
		return refs, nil
	})
}

type transaction struct {
	ID               string          `json:"id"`
	AccountID        string          `json:"accountId"`
	Amount           decimal.Decimal `json:"amount"`
	Status           string          `json:"status"`
	Kind             string          `json:"kind"`
	CreatedAt        time.Time       `json:"createdAt"`
	PostedAt         *time.Time      `json:"postedAt"`
	BankDescription  string          `json:"bankDescription"`
	CounterpartyName string          `json:"counterpartyName"`
	Note             string          `json:"note"`
	ExternalMemo     string          `json:"externalMemo"`
}

// FetchTransactions pages with limit and offset. Dates are inclusive on
// the provider side, so the exclusive period end is moved back one day.
func (p *Provider) FetchTransactions(ctx context.Context, query core.TransactionQuery) (core.TransactionPage, error) {
	params := map[string]string{
		"start":  query.From.UTC().Format(time.DateOnly),
		"end":    query.To.UTC().Add(-time.Nanosecond).Format(time.DateOnly),
		"limit":  strconv.Itoa(query.PageSize),
		"offset": strconv.Itoa(query.PageIndex * query.PageSize),
	}
	segments := []string{"account", query.AccountRef, "transactions"}
	if query.Variant == VariantAllAccounts {
		segments = []string{"transactions"}
	}
	var payload struct {
		Transactions []transaction `json:"transactions"`
	}
	if err := p.client.GetJSON(ctx, params, &payload, segments...); err != nil {
		return core.TransactionPage{}, err
	}
	page := core.TransactionPage{Transactions: make([]core.Transaction, 0, len(payload.Transactions))}
	for _, item := range payload.Transactions {
		page.Transactions = append(page.Transactions, toTransaction(item, query.AccountRef))
	}
	return page, nil
}

// FallbackQueries adds a single page cross account listing. With
// configured accounts it is issued once, next to the first account.
func (p *Provider) FallbackQueries(primary core.TransactionQuery) []core.TransactionQuery {
	if len(p.accountRefs) > 0 && primary.AccountRef != p.accountRefs[0] {
		return nil
	}
	fallback := primary
	fallback.Variant = VariantAllAccounts
	fallback.PageIndex = 0
	fallback.Cursor = ""
	fallback.PageSize = 500
	return []core.TransactionQuery{fallback}
}

func toTransaction(item transaction, accountRef string) core.Transaction {
	timestamp := item.CreatedAt
	if item.PostedAt != nil {
		timestamp = *item.PostedAt
	}
	accountID := item.AccountID
	if accountID == "" {
		accountID = accountRef
	}
	kind := transactionKind(item.Kind, item.Amount)
	return core.Transaction{
		ID:         item.ID,
		ProviderID: ProviderID,
		AccountRef: accountID,
		Amount:     item.Amount,
		Currency:   Currency,
		Timestamp:  timestamp.UTC(),
		Kind:       kind,
		State:      providers.Lower(item.Status),
		CardFlag:   kind == core.TransactionKindCard,
		Descriptors: core.Descriptors{
			Description:  item.Note,
			Reference:    item.ExternalMemo,
			Counterparty: item.CounterpartyName,
			BankNote:     item.BankDescription,
		},
	}
}

func transactionKind(kind string, amount decimal.Decimal) core.TransactionKind {
	switch strings.TrimSpace(kind) {
	case "debitCardTransaction", "creditCardTransaction", "cardInternationalTransactionFee":
		return core.TransactionKindCard
	case "outgoingPayment":
		return core.TransactionKindOutgoingPayment
	case "internalTransfer", "treasuryTransfer":
		return core.TransactionKindInternal
	case "incomingDomesticWire", "incomingInternationalWire", "deposit", "checkDeposit":
		return core.TransactionKindIncomingPayment
	case "fee":
		return core.TransactionKindFee
	case "externalTransfer", "wireTransfer", "domesticWire", "internationalWire":
		if amount.IsNegative() {
			return core.TransactionKindOutgoingPayment
		}
		return core.TransactionKindIncomingPayment
	default:
		return core.TransactionKindOther
	}
}

type paymentRequest struct {
	RecipientID    string          `json:"recipientId"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentMethod  string          `json:"paymentMethod"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Note           string          `json:"note,omitempty"`
}

// BuildTransfer sends money from SourceRef to the recipient TargetRef.
// Only USD accounts exist on this provider.
func (p *Provider) BuildTransfer(req core.TransferRequest) (core.TransportRequest, error) {
	if !strings.EqualFold(req.Currency, Currency) {
		return core.TransportRequest{}, core.NewPermanentRequestError(ProviderID, "currency", "only USD transfers are supported")
	}
	body, err := providers.EncodeJSON(ProviderID, paymentRequest{
		RecipientID:    req.TargetRef,
		Amount:         req.Amount,
		PaymentMethod:  p.paymentMethod,
		IdempotencyKey: req.RequestID,
		Note:           req.Reference,
	})
	if err != nil {
		return core.TransportRequest{}, err
	}
	return core.TransportRequest{
		Method: http.MethodPost,
		URL:    p.client.URL("account", req.SourceRef, "transactions"),
		Body:   body,
	}, nil
}

func (p *Provider) ParseTransfer(req core.TransferRequest, res core.TransportResponse) (core.TransferResult, error) {
	var payload transaction
	if err := providers.DecodeJSON(ProviderID, res.Body, &payload); err != nil {
		return core.TransferResult{}, err
	}
	if strings.TrimSpace(payload.ID) == "" {
		return core.TransferResult{}, core.NewTransientProviderError(ProviderID, "transfer response has no id")
	}
	result := core.TransferResult{
		RequestID:  req.RequestID,
		ProviderID: ProviderID,
		TransferID: payload.ID,
		State:      transferState(payload.Status),
		Amount:     payload.Amount.Abs(),
		Currency:   Currency,
	}
	if !payload.CreatedAt.IsZero() {
		createdAt := payload.CreatedAt.UTC()
		result.CreatedAt = &createdAt
	}
	return result, nil
}

// IsDuplicate recognizes a reused idempotency key.
func (*Provider) IsDuplicate(res core.TransportResponse) bool {
	if res.StatusCode == http.StatusConflict {
		return true
	}
	if res.StatusCode >= 400 && res.StatusCode < 500 {
		return strings.Contains(strings.ToLower(transport.ProviderMessage(res.Body)), "idempotency")
	}
	return false
}

func transferState(status string) core.TransferState {
	switch providers.Lower(status) {
	case "sent":
		return core.TransferStateCompleted
	case "cancelled", "failed", "reversed":
		return core.TransferStateFailed
	case "":
		return core.TransferStateUnknown
	default:
		return core.TransferStatePending
	}
}

var (
	_ core.BalanceProvider     = (*Provider)(nil)
	_ core.TransactionProvider = (*Provider)(nil)
	_ core.TransferProvider    = (*Provider)(nil)
)
