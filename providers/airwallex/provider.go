package airwallex

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/nestorgt/go-settlement/auth"
	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/providers"
	"github.com/shopspring/decimal"
)

const (
	ProviderID = "airwallex"
	BaseURL    = "https://api.airwallex.com/api/v1"

	// WalletRef names the single multi currency wallet.
	WalletRef = "wallet"
)

type Config struct {
	BaseURL  string
	LoginURL string
	ClientID string
	APIKey   string
	Adapter  core.TransportAdapter
	Now      func() time.Time
}

func DefaultConfig() Config {
	return Config{BaseURL: BaseURL, LoginURL: BaseURL + "/authentication/login"}
}

func withDefaults(cfg Config) Config {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = BaseURL
	}
	if strings.TrimSpace(cfg.LoginURL) == "" {
		cfg.LoginURL = strings.TrimRight(cfg.BaseURL, "/") + "/authentication/login"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

func NewConnector(cfg Config) *auth.ClientCredentialsConnector {
	cfg = withDefaults(cfg)
	return auth.NewClientCredentialsConnector(auth.ClientCredentialsConnectorConfig{
		ProviderID: ProviderID,
		LoginURL:   cfg.LoginURL,
		ClientID:   cfg.ClientID,
		APIKey:     cfg.APIKey,
		Adapter:    cfg.Adapter,
		Now:        cfg.Now,
	})
}

type Provider struct {
	client providers.Client
	now    func() time.Time
}

func New(cfg Config, executor core.Executor) (*Provider, error) {
	cfg = withDefaults(cfg)
	client, err := providers.NewClient(ProviderID, cfg.BaseURL, executor)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, now: cfg.Now}, nil
}

func (*Provider) ID() string {
	return ProviderID
}

func (*Provider) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilityBalances, core.CapabilityTransactions}
}

type currencyBalance struct {
	Currency        string          `json:"currency"`
	AvailableAmount decimal.Decimal `json:"available_amount"`
	PendingAmount   decimal.Decimal `json:"pending_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
}

func (p *Provider) FetchBalance(ctx context.Context) (core.Balance, error) {
	var balances []currencyBalance
	if err := p.client.GetJSON(ctx, nil, &balances, "balances", "current"); err != nil {
		return core.Balance{}, err
	}
	balance := core.Balance{ProviderID: ProviderID, FetchedAt: p.now().UTC()}
	for _, item := range balances {
		currency := strings.ToUpper(strings.TrimSpace(item.Currency))
		if currency == "" {
			continue
		}
		balance.Accounts = append(balance.Accounts, core.AccountBalance{
			ID:       WalletRef + ":" + currency,
			Name:     currency + " wallet",
			Currency: currency,
			Amount:   item.AvailableAmount,
		})
	}
	return balance.WithTotals(), nil
}

func (*Provider) AccountRefs(context.Context) ([]string, error) {
	return []string{WalletRef}, nil
}

type financialTransaction struct {
	ID              string          `json:"id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	TransactionType string          `json:"transaction_type"`
	Description     string          `json:"description"`
	SourceID        string          `json:"source_id"`
	CreatedAt       time.Time       `json:"created_at"`
	SettledAt       *time.Time      `json:"settled_at"`
}

// FetchTransactions reads the wallet ledger. Page numbers start at zero;
// the cursor only signals whether more pages exist.
func (p *Provider) FetchTransactions(ctx context.Context, query core.TransactionQuery) (core.TransactionPage, error) {
	params := map[string]string{
		"from_created_at": query.From.UTC().Format(time.RFC3339),
		"to_created_at":   query.To.UTC().Format(time.RFC3339),
		"page_num":        strconv.Itoa(query.PageIndex),
		"page_size":       strconv.Itoa(query.PageSize),
	}
	var payload struct {
		Items   []financialTransaction `json:"items"`
		HasMore bool                   `json:"has_more"`
	}
	if err := p.client.GetJSON(ctx, params, &payload, "financial_transactions"); err != nil {
		return core.TransactionPage{}, err
	}
	page := core.TransactionPage{Transactions: make([]core.Transaction, 0, len(payload.Items))}
	for _, item := range payload.Items {
		page.Transactions = append(page.Transactions, toTransaction(item))
	}
	if payload.HasMore {
		page.NextCursor = strconv.Itoa(query.PageIndex + 1)
	}
	return page, nil
}

func (*Provider) FallbackQueries(core.TransactionQuery) []core.TransactionQuery {
	return nil
}

func toTransaction(item financialTransaction) core.Transaction {
	timestamp := item.CreatedAt
	if item.SettledAt != nil {
		timestamp = *item.SettledAt
	}
	kind := TransactionKind(item.TransactionType, item.Amount)
	return core.Transaction{
		ID:          item.ID,
		ProviderID:  ProviderID,
		AccountRef:  WalletRef,
		Amount:      item.Amount,
		Currency:    strings.ToUpper(item.Currency),
		Timestamp:   timestamp.UTC(),
		Kind:        kind,
		State:       providers.Lower(item.Status),
		CardFlag:    kind == core.TransactionKindCard,
		Descriptors: core.Descriptors{Description: item.Description, Reference: item.SourceID},
	}
}

// TransactionKind maps the wallet ledger transaction types.
func TransactionKind(transactionType string, amount decimal.Decimal) core.TransactionKind {
	switch strings.ToUpper(strings.TrimSpace(transactionType)) {
	case "CARD_PAYMENT", "ISSUING_CAPTURE", "ISSUING_REFUND", "CARD_REFUND":
		return core.TransactionKindCard
	case "PAYOUT", "PAYMENT":
		return core.TransactionKindOutgoingPayment
	case "DEPOSIT", "PAYMENT_ATTEMPT":
		return core.TransactionKindIncomingPayment
	case "CONVERSION", "EXCHANGE":
		return core.TransactionKindExchange
	case "FEE":
		return core.TransactionKindFee
	case "TRANSFER":
		if amount.IsNegative() {
			return core.TransactionKindOutgoingPayment
		}
		return core.TransactionKindIncomingPayment
	default:
		return core.TransactionKindOther
	}
}

var (
	_ core.BalanceProvider     = (*Provider)(nil)
	_ core.TransactionProvider = (*Provider)(nil)
)
