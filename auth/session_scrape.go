package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/transport"
)

const defaultSessionScrapeTimeout = 90 * time.Second

type SessionScrapeConnectorConfig struct {
	ProviderID string
	// BaseURL points at the automation sidecar.
	BaseURL string
	Secret  string
	// SecretHeader defaults to X-Api-Secret.
	SecretHeader string
	Timeout      time.Duration
	Adapter      core.TransportAdapter
	Now          func() time.Time
}

// SessionScrapeConnector talks to an automation sidecar that keeps a logged
// in browser session. The shared secret is the only credential and never
// expires. Session mechanics stay on the sidecar; this side only sees the
// balance and asset list capabilities.
type SessionScrapeConnector struct {
	config SessionScrapeConnectorConfig
}

func NewSessionScrapeConnector(cfg SessionScrapeConnectorConfig) *SessionScrapeConnector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSessionScrapeTimeout
	}
	if cfg.Adapter == nil {
		cfg.Adapter = transport.NewRESTAdapter(&http.Client{Timeout: cfg.Timeout})
	}
	if cfg.Now == nil {
		cfg.Now = defaultNow
	}
	cfg.ProviderID = strings.TrimSpace(cfg.ProviderID)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	cfg.SecretHeader = firstNonEmpty(cfg.SecretHeader, "X-Api-Secret")
	return &SessionScrapeConnector{config: cfg}
}

func (c *SessionScrapeConnector) ProviderID() string {
	return c.config.ProviderID
}

func (*SessionScrapeConnector) Method() core.AuthMethod {
	return core.AuthMethodSessionScrape
}

func (c *SessionScrapeConnector) Authenticate(context.Context) (core.Credential, error) {
	if c.config.Secret == "" {
		return core.Credential{}, core.NewAuthError(c.config.ProviderID, "automation secret is not configured")
	}
	return core.Credential{
		ProviderID:  c.config.ProviderID,
		AuthMethod:  core.AuthMethodSessionScrape,
		AccessToken: c.config.Secret,
	}, nil
}

// Refresh re-reads the configured secret. A lost browser session is
// repaired on the sidecar, not here.
func (c *SessionScrapeConnector) Refresh(ctx context.Context, _ core.Credential) (core.Credential, error) {
	return c.Authenticate(ctx)
}

func (*SessionScrapeConnector) IsExpiring(core.Credential, time.Duration) bool {
	return false
}

func (c *SessionScrapeConnector) AuthContext(cred core.Credential) (core.AuthContext, error) {
	if cred.IsZero() {
		return core.AuthContext{}, core.NewAuthError(c.config.ProviderID, "credential has no secret")
	}
	return core.AuthContext{Headers: map[string]string{c.config.SecretHeader: cred.AccessToken}}, nil
}

type scrapedBalance struct {
	Accounts []core.AccountBalance `json:"accounts"`
}

type scrapedAssets struct {
	Assets []core.Asset `json:"assets"`
}

// GetBalance asks the sidecar for the current account balances.
func (c *SessionScrapeConnector) GetBalance(ctx context.Context) (core.Balance, error) {
	payload := scrapedBalance{}
	if err := c.fetch(ctx, "balance", &payload); err != nil {
		return core.Balance{}, err
	}
	return core.Balance{
		ProviderID: c.config.ProviderID,
		Accounts:   payload.Accounts,
		FetchedAt:  c.config.Now(),
	}.WithTotals(), nil
}

// GetAssetList asks the sidecar for the held asset positions.
func (c *SessionScrapeConnector) GetAssetList(ctx context.Context) ([]core.Asset, error) {
	payload := scrapedAssets{}
	if err := c.fetch(ctx, "assets", &payload); err != nil {
		return nil, err
	}
	if payload.Assets == nil {
		return []core.Asset{}, nil
	}
	return payload.Assets, nil
}

func (c *SessionScrapeConnector) fetch(ctx context.Context, path string, out any) error {
	if c.config.BaseURL == "" {
		return core.NewPermanentRequestError(c.config.ProviderID, "base_url", "automation sidecar url is not configured")
	}
	cred, err := c.Authenticate(ctx)
	if err != nil {
		return err
	}
	authCtx, err := c.AuthContext(cred)
	if err != nil {
		return err
	}
	res, err := c.config.Adapter.Do(ctx, core.TransportRequest{
		Method:  http.MethodGet,
		URL:     c.config.BaseURL + "/" + strings.TrimLeft(path, "/"),
		Headers: authCtx.Headers,
		Timeout: c.config.Timeout,
		Class:   core.OperationScrape,
	})
	if err != nil {
		return core.WrapProviderError(err, c.config.ProviderID, core.ErrorTransientProvider, "automation sidecar call failed")
	}
	if err := transport.StatusError(c.config.ProviderID, res); err != nil {
		return err
	}
	if err := json.Unmarshal(res.Body, out); err != nil {
		return core.WrapProviderError(err, c.config.ProviderID, core.ErrorTransientProvider, "decode automation response")
	}
	return nil
}

var _ core.Connector = (*SessionScrapeConnector)(nil)
