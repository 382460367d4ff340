package wise

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nestorgt/go-settlement/auth"
	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/providers"
	"github.com/shopspring/decimal"
)

const (
	ProviderID = "wise"
	BaseURL    = "https://api.transferwise.com"
)

type Config struct {
	BaseURL   string
	Token     string
	ProfileID string
	Now       func() time.Time
}

func DefaultConfig() Config {
	return Config{BaseURL: BaseURL}
}

func NewConnector(cfg Config) *auth.StaticBearerConnector {
	return auth.NewStaticBearerConnector(auth.StaticBearerConnectorConfig{
		ProviderID: ProviderID,
		Token:      cfg.Token,
	})
}

type Provider struct {
	client    providers.Client
	profileID string
	now       func() time.Time
}

func New(cfg Config, executor core.Executor) (*Provider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = BaseURL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	profileID := strings.TrimSpace(cfg.ProfileID)
	if profileID == "" {
		return nil, fmt.Errorf("wise: profile id is required")
	}
	client, err := providers.NewClient(ProviderID, cfg.BaseURL, executor)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, profileID: profileID, now: cfg.Now}, nil
}

func (*Provider) ID() string {
	return ProviderID
}

func (*Provider) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilityBalances}
}

type balanceEntry struct {
	ID       json.Number `json:"id"`
	Currency string      `json:"currency"`
	Name     string      `json:"name"`
	Amount   struct {
		Value    decimal.Decimal `json:"value"`
		Currency string          `json:"currency"`
	} `json:"amount"`
}

// FetchBalance lists the standard balances of the configured profile.
func (p *Provider) FetchBalance(ctx context.Context) (core.Balance, error) {
	var entries []balanceEntry
	err := p.client.GetJSON(ctx, map[string]string{"types": "STANDARD"}, &entries, "v4", "profiles", p.profileID, "balances")
	if err != nil {
		return core.Balance{}, err
	}
	balance := core.Balance{ProviderID: ProviderID, FetchedAt: p.now().UTC()}
	for _, entry := range entries {
		currency := strings.ToUpper(strings.TrimSpace(entry.Amount.Currency))
		if currency == "" {
			currency = strings.ToUpper(strings.TrimSpace(entry.Currency))
		}
		name := entry.Name
		if name == "" {
			name = currency + " balance"
		}
		balance.Accounts = append(balance.Accounts, core.AccountBalance{
			ID:       entry.ID.String(),
			Name:     name,
			Currency: currency,
			Amount:   entry.Amount.Value,
		})
	}
	return balance.WithTotals(), nil
}

var _ core.BalanceProvider = (*Provider)(nil)
