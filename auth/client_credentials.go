package auth

import (
	"context"
	"strings"
	"time"

	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/transport"
)

const defaultClientCredentialsTTL = 30 * time.Minute

type ClientCredentialsConnectorConfig struct {
	ProviderID string
	LoginURL   string
	ClientID   string
	APIKey     string
	// ClientIDHeader and APIKeyHeader default to x-client-id and x-api-key.
	ClientIDHeader string
	APIKeyHeader   string
	TokenTTL       time.Duration
	Adapter        core.TransportAdapter
	Now            func() time.Time
}

// ClientCredentialsConnector logs in with a client id and API key sent as
// headers and receives a short lived bearer token.
type ClientCredentialsConnector struct {
	config ClientCredentialsConnectorConfig
}

func NewClientCredentialsConnector(cfg ClientCredentialsConnectorConfig) *ClientCredentialsConnector {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultClientCredentialsTTL
	}
	if cfg.Now == nil {
		cfg.Now = defaultNow
	}
	if cfg.Adapter == nil {
		cfg.Adapter = transport.NewRESTAdapter(nil)
	}
	cfg.ProviderID = strings.TrimSpace(cfg.ProviderID)
	cfg.LoginURL = strings.TrimSpace(cfg.LoginURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.ClientIDHeader = firstNonEmpty(cfg.ClientIDHeader, "x-client-id")
	cfg.APIKeyHeader = firstNonEmpty(cfg.APIKeyHeader, "x-api-key")
	return &ClientCredentialsConnector{config: cfg}
}

func (c *ClientCredentialsConnector) ProviderID() string {
	return c.config.ProviderID
}

func (*ClientCredentialsConnector) Method() core.AuthMethod {
	return core.AuthMethodClientCredentials
}

func (c *ClientCredentialsConnector) Authenticate(ctx context.Context) (core.Credential, error) {
	if c.config.ClientID == "" || c.config.APIKey == "" {
		return core.Credential{}, core.NewAuthError(c.config.ProviderID, "client id and api key are required")
	}
	if c.config.LoginURL == "" {
		return core.Credential{}, core.NewAuthError(c.config.ProviderID, "login url is required")
	}
	now := c.config.Now()
	res, err := postToken(ctx, c.config.Adapter, tokenCall{
		providerID: c.config.ProviderID,
		url:        c.config.LoginURL,
		headers: map[string]string{
			c.config.ClientIDHeader: c.config.ClientID,
			c.config.APIKeyHeader:   c.config.APIKey,
		},
	})
	if err != nil {
		return core.Credential{}, mapTokenError(err)
	}
	expiresAt := res.expiry(now, c.config.TokenTTL)
	return core.Credential{
		ProviderID:  c.config.ProviderID,
		AuthMethod:  core.AuthMethodClientCredentials,
		AccessToken: res.accessToken(),
		ExpiresAt:   &expiresAt,
	}, nil
}

// Refresh issues a new login. The protocol has no refresh grant.
func (c *ClientCredentialsConnector) Refresh(ctx context.Context, _ core.Credential) (core.Credential, error) {
	return c.Authenticate(ctx)
}

func (c *ClientCredentialsConnector) IsExpiring(cred core.Credential, buffer time.Duration) bool {
	return core.CredentialNeedsRenewal(c.config.Now(), cred, buffer)
}

func (c *ClientCredentialsConnector) AuthContext(cred core.Credential) (core.AuthContext, error) {
	if cred.IsZero() {
		return core.AuthContext{}, core.NewAuthError(c.config.ProviderID, "credential has no access token")
	}
	return core.BearerAuthContext(cred.AccessToken), nil
}

var _ core.Connector = (*ClientCredentialsConnector)(nil)
