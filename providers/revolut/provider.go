package revolut

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nestorgt/go-settlement/auth"
	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/providers"
	"github.com/nestorgt/go-settlement/transport"
	"github.com/shopspring/decimal"
)

const (
	ProviderID       = "revolut"
	BaseURL          = "https://b2b.revolut.com/api/1.0"
	TokenURL         = BaseURL + "/auth/token"
	FallbackAudience = "revolut.com"
)

type Config struct {
	BaseURL          string
	TokenURL         string
	ClientID         string
	Issuer           string
	KeyID            string
	PrivateKey       *rsa.PrivateKey
	Certificate      *tls.Certificate
	Audiences        []string
	FallbackAudience string
	RefreshToken     string
	AuthCode         string
	AccountRefs      []string
	Adapter          core.TransportAdapter
	Now              func() time.Time
}

func DefaultConfig() Config {
	return Config{
		BaseURL:          BaseURL,
		TokenURL:         TokenURL,
		Audiences:        []string{"https://revolut.com", "https://b2b.revolut.com"},
		FallbackAudience: FallbackAudience,
	}
}

func withDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = strings.TrimRight(cfg.BaseURL, "/") + "/auth/token"
	}
	if len(cfg.Audiences) == 0 {
		cfg.Audiences = defaults.Audiences
	}
	if strings.TrimSpace(cfg.FallbackAudience) == "" {
		cfg.FallbackAudience = defaults.FallbackAudience
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// NewConnector builds the JWT assertion connector. Token calls go over a
// mutually authenticated channel built from the configured certificate.
func NewConnector(cfg Config) *auth.JWTAssertionMTLSConnector {
	cfg = withDefaults(cfg)
	return auth.NewJWTAssertionMTLSConnector(auth.JWTAssertionMTLSConnectorConfig{
		ProviderID:       ProviderID,
		TokenURL:         cfg.TokenURL,
		ClientID:         cfg.ClientID,
		Issuer:           cfg.Issuer,
		KeyID:            cfg.KeyID,
		PrivateKey:       cfg.PrivateKey,
		Audiences:        cfg.Audiences,
		FallbackAudience: cfg.FallbackAudience,
		RefreshToken:     cfg.RefreshToken,
		AuthCode:         cfg.AuthCode,
		Certificate:      cfg.Certificate,
		Adapter:          cfg.Adapter,
		Now:              cfg.Now,
	})
}

type Provider struct {
	client      providers.Client
	accountRefs []string
	now         func() time.Time
}

func New(cfg Config, executor core.Executor) (*Provider, error) {
	cfg = withDefaults(cfg)
	client, err := providers.NewClient(ProviderID, cfg.BaseURL, executor)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, accountRefs: cfg.AccountRefs, now: cfg.Now}, nil
}

func (*Provider) ID() string {
	return ProviderID
}

func (*Provider) Capabilities() []core.Capability {
	return []core.Capability{
		core.CapabilityBalances,
		core.CapabilityTransactions,
		core.CapabilityTransfer,
		core.CapabilityExchange,
	}
}

type account struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
	State    string          `json:"state"`
}

func (p *Provider) accounts(ctx context.Context) ([]account, error) {
	var accounts []account
	if err := p.client.GetJSON(ctx, nil, &accounts, "accounts"); err != nil {
		return nil, err
	}
	active := accounts[:0]
	for _, item := range accounts {
		if state := providers.Lower(item.State); state == "" || state == "active" {
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
			Currency: strings.ToUpper(item.Currency),
			Amount:   item.Balance,
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

type transactionLeg struct {
	LegID        string          `json:"leg_id"`
	AccountID    string          `json:"account_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Description  string          `json:"description"`
	Counterparty struct {
		AccountType string `json:"account_type"`
		AccountID   string `json:"account_id"`
	} `json:"counterparty"`
}

type transaction struct {
	ID          string           `json:"id"`
	Type        string           `json:"type"`
	State       string           `json:"state"`
	RequestID   string           `json:"request_id"`
	Reference   string           `json:"reference"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at"`
	Legs        []transactionLeg `json:"legs"`
	Merchant    *struct {
		Name string `json:"name"`
	} `json:"merchant"`
}

// FetchTransactions lists transactions newest first. The cursor is the
// creation time of the oldest transaction seen, used as the next upper
// bound.
func (p *Provider) FetchTransactions(ctx context.Context, query core.TransactionQuery) (core.TransactionPage, error) {
	to := query.To.UTC().Format(time.RFC3339)
	if query.Cursor != "" {
		to = query.Cursor
	}
	params := map[string]string{
		"from":  query.From.UTC().Format(time.RFC3339),
		"to":    to,
		"count": fmt.Sprintf("%d", query.PageSize),
	}
	if query.AccountRef != "" {
		params["account"] = query.AccountRef
	}
	var listed []transaction
	if err := p.client.GetJSON(ctx, params, &listed, "transactions"); err != nil {
		return core.TransactionPage{}, err
	}

	page := core.TransactionPage{Transactions: make([]core.Transaction, 0, len(listed))}
	var oldest time.Time
	for i, item := range listed {
		page.Transactions = append(page.Transactions, toTransaction(item, query.AccountRef))
		if i == 0 || item.CreatedAt.Before(oldest) {
			oldest = item.CreatedAt
		}
	}
	if len(listed) > 0 {
		page.NextCursor = oldest.UTC().Format(time.RFC3339Nano)
	}
	return page, nil
}

func (*Provider) FallbackQueries(core.TransactionQuery) []core.TransactionQuery {
	return nil
}

func toTransaction(item transaction, accountRef string) core.Transaction {
	leg := pickLeg(item.Legs, accountRef)
	timestamp := item.CreatedAt
	if item.CompletedAt != nil {
		timestamp = *item.CompletedAt
	}
	tx := core.Transaction{
		ID:         item.ID,
		ProviderID: ProviderID,
		AccountRef: leg.AccountID,
		Amount:     leg.Amount,
		Currency:   strings.ToUpper(leg.Currency),
		Timestamp:  timestamp.UTC(),
		Kind:       transactionKind(item.Type, leg),
		State:      providers.Lower(item.State),
		Descriptors: core.Descriptors{
			Description: leg.Description,
			Reference:   item.Reference,
		},
	}
	if item.Merchant != nil {
		tx.Descriptors.Merchant = item.Merchant.Name
	}
	tx.CardFlag = tx.Kind == core.TransactionKindCard
	return tx
}

func pickLeg(legs []transactionLeg, accountRef string) transactionLeg {
	for _, leg := range legs {
		if accountRef != "" && leg.AccountID == accountRef {
			return leg
		}
	}
	if len(legs) > 0 {
		return legs[0]
	}
	return transactionLeg{}
}

func transactionKind(kind string, leg transactionLeg) core.TransactionKind {
	switch providers.Lower(kind) {
	case "card_payment", "card_refund", "card_chargeback", "card_credit", "atm":
		return core.TransactionKindCard
	case "exchange":
		return core.TransactionKindExchange
	case "topup", "tax_refund":
		return core.TransactionKindIncomingPayment
	case "fee":
		return core.TransactionKindFee
	case "transfer":
		if providers.Lower(leg.Counterparty.AccountType) == "self" {
			return core.TransactionKindInternal
		}
		if leg.Amount.IsNegative() {
			return core.TransactionKindOutgoingPayment
		}
		return core.TransactionKindIncomingPayment
	default:
		return core.TransactionKindOther
	}
}

type payRequest struct {
	RequestID string          `json:"request_id"`
	AccountID string          `json:"account_id"`
	Receiver  payReceiver     `json:"receiver"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference,omitempty"`
}

type payReceiver struct {
	CounterpartyID string `json:"counterparty_id"`
	AccountID      string `json:"account_id,omitempty"`
}

type transferResponse struct {
	ID          string     `json:"id"`
	State       string     `json:"state"`
	CreatedAt   *time.Time `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// BuildTransfer targets a counterparty. TargetRef is either a counterparty
// id or "counterparty:account" to pick one of its accounts.
func (p *Provider) BuildTransfer(req core.TransferRequest) (core.TransportRequest, error) {
	counterparty, accountID, _ := strings.Cut(req.TargetRef, ":")
	body, err := providers.EncodeJSON(ProviderID, payRequest{
		RequestID: req.RequestID,
		AccountID: req.SourceRef,
		Receiver:  payReceiver{CounterpartyID: counterparty, AccountID: accountID},
		Amount:    req.Amount,
		Currency:  req.Currency,
		Reference: req.Reference,
	})
	if err != nil {
		return core.TransportRequest{}, err
	}
	return core.TransportRequest{Method: http.MethodPost, URL: p.client.URL("pay"), Body: body}, nil
}

func (p *Provider) ParseTransfer(req core.TransferRequest, res core.TransportResponse) (core.TransferResult, error) {
	return parseResult(req.RequestID, res)
}

type exchangeSide struct {
	AccountID string           `json:"account_id"`
	Currency  string           `json:"currency"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
}

type exchangeRequest struct {
	From      exchangeSide `json:"from"`
	To        exchangeSide `json:"to"`
	Reference string       `json:"reference,omitempty"`
	RequestID string       `json:"request_id"`
}

func (p *Provider) BuildExchange(req core.ExchangeRequest) (core.TransportRequest, error) {
	amount := req.Amount
	body, err := providers.EncodeJSON(ProviderID, exchangeRequest{
		From:      exchangeSide{AccountID: req.SourceRef, Currency: req.SourceCurrency, Amount: &amount},
		To:        exchangeSide{AccountID: req.TargetRef, Currency: req.TargetCurrency},
		Reference: req.Reference,
		RequestID: req.RequestID,
	})
	if err != nil {
		return core.TransportRequest{}, err
	}
	return core.TransportRequest{Method: http.MethodPost, URL: p.client.URL("exchange"), Body: body}, nil
}

func (p *Provider) ParseExchange(req core.ExchangeRequest, res core.TransportResponse) (core.TransferResult, error) {
	return parseResult(req.RequestID, res)
}

// IsDuplicate recognizes the conflict answer for a reused request id.
func (*Provider) IsDuplicate(res core.TransportResponse) bool {
	if res.StatusCode == http.StatusConflict {
		return true
	}
	if res.StatusCode == http.StatusBadRequest {
		message := strings.ToLower(transport.ProviderMessage(res.Body))
		return strings.Contains(message, "request_id") && strings.Contains(message, "already")
	}
	return false
}

// LookupTransfer finds a transaction by the request id it was created with.
func (p *Provider) LookupTransfer(ctx context.Context, requestID string) (core.TransferResult, bool, error) {
	res, err := p.client.Executor.Execute(ctx, ProviderID, core.TransportRequest{
		Method:    http.MethodGet,
		URL:       p.client.URL("transaction", requestID),
		Query:     map[string]string{"id_type": "request_id"},
		Retryable: true,
		Class:     core.OperationRead,
	})
	if err != nil {
		return core.TransferResult{}, false, err
	}
	if res.StatusCode == http.StatusNotFound {
		return core.TransferResult{}, false, nil
	}
	if err := transport.StatusError(ProviderID, res); err != nil {
		return core.TransferResult{}, false, err
	}
	var found transaction
	if err := providers.DecodeJSON(ProviderID, res.Body, &found); err != nil {
		return core.TransferResult{}, false, err
	}
	result := core.TransferResult{
		RequestID:  requestID,
		ProviderID: ProviderID,
		TransferID: found.ID,
		State:      transferState(found.State),
	}
	if !found.CreatedAt.IsZero() {
		createdAt := found.CreatedAt.UTC()
		result.CreatedAt = &createdAt
	}
	if leg := pickLeg(found.Legs, ""); leg.Currency != "" {
		result.Amount = leg.Amount.Abs()
		result.Currency = strings.ToUpper(leg.Currency)
	}
	return result, true, nil
}

func parseResult(requestID string, res core.TransportResponse) (core.TransferResult, error) {
	var payload transferResponse
	if err := providers.DecodeJSON(ProviderID, res.Body, &payload); err != nil {
		return core.TransferResult{}, err
	}
	if strings.TrimSpace(payload.ID) == "" {
		return core.TransferResult{}, core.NewTransientProviderError(ProviderID, "transfer response has no id")
	}
	return core.TransferResult{
		RequestID:  requestID,
		ProviderID: ProviderID,
		TransferID: payload.ID,
		State:      transferState(payload.State),
		CreatedAt:  payload.CreatedAt,
	}, nil
}

func transferState(state string) core.TransferState {
	switch providers.Lower(state) {
	case "completed":
		return core.TransferStateCompleted
	case "declined", "failed", "reverted":
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
	_ core.ExchangeProvider    = (*Provider)(nil)
	_ core.TransferLookup      = (*Provider)(nil)
)
