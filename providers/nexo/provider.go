package nexo

import (
	"context"
	"strings"
	"time"

	"github.com/nestorgt/go-settlement/auth"
	"github.com/nestorgt/go-settlement/core"
)

const ProviderID = "nexo"

type Config struct {
	// AdapterURL points at the automation sidecar holding the browser
	// session.
	AdapterURL string
	Secret     string
	Timeout    time.Duration
	Adapter    core.TransportAdapter
	Now        func() time.Time
}

func NewConnector(cfg Config) *auth.SessionScrapeConnector {
	return auth.NewSessionScrapeConnector(auth.SessionScrapeConnectorConfig{
		ProviderID: ProviderID,
		BaseURL:    cfg.AdapterURL,
		Secret:     cfg.Secret,
		Timeout:    cfg.Timeout,
		Adapter:    cfg.Adapter,
		Now:        cfg.Now,
	})
}

// Provider reads balances and holdings through the sidecar. Its source is
// fragile, so the last good balance is kept for the aggregator.
type Provider struct {
	connector *auth.SessionScrapeConnector
	now       func() time.Time
}

func New(connector *auth.SessionScrapeConnector) *Provider {
	return &Provider{connector: connector, now: time.Now}
}

func (*Provider) ID() string {
	return ProviderID
}

func (*Provider) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilityBalances, core.CapabilityAssets}
}

func (*Provider) CachesLastGoodBalance() bool {
	return true
}

func (p *Provider) FetchBalance(ctx context.Context) (core.Balance, error) {
	balance, err := p.connector.GetBalance(ctx)
	if err != nil {
		return core.Balance{}, err
	}
	balance.ProviderID = ProviderID
	if balance.FetchedAt.IsZero() {
		balance.FetchedAt = p.now().UTC()
	}
	return balance, nil
}

func (p *Provider) FetchAssets(ctx context.Context) ([]core.Asset, error) {
	assets, err := p.connector.GetAssetList(ctx)
	if err != nil {
		return nil, err
	}
	for i := range assets {
		assets[i].Symbol = strings.ToUpper(strings.TrimSpace(assets[i].Symbol))
	}
	return assets, nil
}

var (
	_ core.BalanceProvider    = (*Provider)(nil)
	_ core.AssetProvider      = (*Provider)(nil)
	_ core.BalanceCachePolicy = (*Provider)(nil)
)
