package auth

import (
	"context"
	"strings"
	"time"

	"github.com/nestorgt/go-settlement/core"
)

type StaticBearerConnectorConfig struct {
	ProviderID string
	Token      string
	// Header defaults to Authorization and Scheme to Bearer. An empty
	// scheme with a custom header sends the raw token.
	Header string
	Scheme string
}

// StaticBearerConnector serves a long lived API token. It never expires and
// cannot be refreshed.
type StaticBearerConnector struct {
	config StaticBearerConnectorConfig
}

func NewStaticBearerConnector(cfg StaticBearerConnectorConfig) *StaticBearerConnector {
	cfg.ProviderID = strings.TrimSpace(cfg.ProviderID)
	cfg.Token = strings.TrimSpace(cfg.Token)
	cfg.Header = strings.TrimSpace(cfg.Header)
	cfg.Scheme = strings.TrimSpace(cfg.Scheme)
	if cfg.Header == "" {
		cfg.Header = "Authorization"
		if cfg.Scheme == "" {
			cfg.Scheme = "Bearer"
		}
	}
	return &StaticBearerConnector{config: cfg}
}

func (c *StaticBearerConnector) ProviderID() string {
	return c.config.ProviderID
}

func (*StaticBearerConnector) Method() core.AuthMethod {
	return core.AuthMethodStaticBearer
}

func (c *StaticBearerConnector) Authenticate(context.Context) (core.Credential, error) {
	if c.config.Token == "" {
		return core.Credential{}, core.NewAuthError(c.config.ProviderID, "api token is not configured")
	}
	return core.Credential{
		ProviderID:  c.config.ProviderID,
		AuthMethod:  core.AuthMethodStaticBearer,
		AccessToken: c.config.Token,
	}, nil
}

// Refresh always fails; a rejected static token needs operator action.
func (c *StaticBearerConnector) Refresh(context.Context, core.Credential) (core.Credential, error) {
	return core.Credential{}, core.NewAuthError(c.config.ProviderID, "static api token cannot be refreshed")
}

func (*StaticBearerConnector) IsExpiring(core.Credential, time.Duration) bool {
	return false
}

func (c *StaticBearerConnector) AuthContext(cred core.Credential) (core.AuthContext, error) {
	if cred.IsZero() {
		return core.AuthContext{}, core.NewAuthError(c.config.ProviderID, "credential has no access token")
	}
	value := cred.AccessToken
	if c.config.Scheme != "" {
		value = c.config.Scheme + " " + cred.AccessToken
	}
	return core.AuthContext{Headers: map[string]string{c.config.Header: value}}, nil
}

var _ core.Connector = (*StaticBearerConnector)(nil)
