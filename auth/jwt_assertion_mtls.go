package auth

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/transport"
)

const (
	defaultJWTAssertionTokenTTL = 40 * time.Minute
	defaultJWTAssertionLifetime = 60 * time.Second
	clientAssertionTypeJWT      = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)

type JWTAssertionMTLSConnectorConfig struct {
	ProviderID string
	TokenURL   string
	ClientID   string
	// Issuer is the domain registered for the signing key.
	Issuer     string
	KeyID      string
	PrivateKey *rsa.PrivateKey
	// Audiences is sent as the aud claim on the first attempt.
	// FallbackAudience is sent as a plain string when the endpoint rejects
	// the client for the primary audience.
	Audiences        []string
	FallbackAudience string
	RefreshToken     string
	AuthCode         string
	Certificate      *tls.Certificate
	TokenTTL         time.Duration
	AssertionTTL     time.Duration
	Adapter          core.TransportAdapter
	Now              func() time.Time
	NewJTI           func() string
}

// JWTAssertionMTLSConnector exchanges a refresh token or authorization code
// for an access token, proving client identity with a signed RS256
// assertion over a mutually authenticated TLS channel.
type JWTAssertionMTLSConnector struct {
	config JWTAssertionMTLSConnectorConfig

	mu           sync.Mutex
	refreshToken string
}

func NewJWTAssertionMTLSConnector(cfg JWTAssertionMTLSConnectorConfig) *JWTAssertionMTLSConnector {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultJWTAssertionTokenTTL
	}
	if cfg.AssertionTTL <= 0 {
		cfg.AssertionTTL = defaultJWTAssertionLifetime
	}
	if cfg.Now == nil {
		cfg.Now = defaultNow
	}
	if cfg.NewJTI == nil {
		cfg.NewJTI = uuid.NewString
	}
	if cfg.Adapter == nil {
		cfg.Adapter = transport.NewRESTAdapter(transport.NewMTLSClient(cfg.Certificate, 0))
	}
	cfg.ProviderID = strings.TrimSpace(cfg.ProviderID)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audiences = normalizeValues(cfg.Audiences)
	cfg.FallbackAudience = strings.TrimSpace(cfg.FallbackAudience)
	cfg.AuthCode = strings.TrimSpace(cfg.AuthCode)
	return &JWTAssertionMTLSConnector{
		config:       cfg,
		refreshToken: strings.TrimSpace(cfg.RefreshToken),
	}
}

func (c *JWTAssertionMTLSConnector) ProviderID() string {
	return c.config.ProviderID
}

func (*JWTAssertionMTLSConnector) Method() core.AuthMethod {
	return core.AuthMethodJWTAssertionMTLS
}

// Authenticate prefers the configured refresh token and falls back to a
// one time authorization code.
func (c *JWTAssertionMTLSConnector) Authenticate(ctx context.Context) (core.Credential, error) {
	if refreshToken := c.currentRefreshToken(); refreshToken != "" {
		return c.exchange(ctx, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {refreshToken},
		}, refreshToken)
	}
	if c.config.AuthCode != "" {
		return c.exchange(ctx, url.Values{
			"grant_type": {"authorization_code"},
			"code":       {c.config.AuthCode},
		}, "")
	}
	return core.Credential{}, core.NewAuthError(c.config.ProviderID, "no refresh token or authorization code configured")
}

func (c *JWTAssertionMTLSConnector) Refresh(ctx context.Context, cred core.Credential) (core.Credential, error) {
	refreshToken := firstNonEmpty(cred.RefreshToken, c.currentRefreshToken())
	if refreshToken == "" {
		return core.Credential{}, core.NewAuthError(c.config.ProviderID, "refresh token is required")
	}
	return c.exchange(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}, refreshToken)
}

func (c *JWTAssertionMTLSConnector) IsExpiring(cred core.Credential, buffer time.Duration) bool {
	return core.CredentialNeedsRenewal(c.config.Now(), cred, buffer)
}

func (c *JWTAssertionMTLSConnector) AuthContext(cred core.Credential) (core.AuthContext, error) {
	if cred.IsZero() {
		return core.AuthContext{}, core.NewAuthError(c.config.ProviderID, "credential has no access token")
	}
	authCtx := core.BearerAuthContext(cred.AccessToken)
	authCtx.Certificate = c.config.Certificate
	return authCtx, nil
}

func (c *JWTAssertionMTLSConnector) exchange(ctx context.Context, grant url.Values, previousRefresh string) (core.Credential, error) {
	if c.config.TokenURL == "" || c.config.ClientID == "" {
		return core.Credential{}, core.NewAuthError(c.config.ProviderID, "token url and client id are required")
	}
	if c.config.PrivateKey == nil {
		return core.Credential{}, core.NewAuthError(c.config.ProviderID, "assertion signing key is required")
	}

	now := c.config.Now()
	var audience any = c.config.Audiences
	if len(c.config.Audiences) == 1 {
		audience = c.config.Audiences[0]
	}
	res, err := c.post(ctx, grant, audience, now)
	var endpointErr *tokenEndpointError
	if err != nil && errors.As(err, &endpointErr) && endpointErr.unauthorizedClient() && c.config.FallbackAudience != "" {
		res, err = c.post(ctx, grant, c.config.FallbackAudience, now)
	}
	if err != nil {
		return core.Credential{}, mapTokenError(err)
	}

	refreshToken := firstNonEmpty(res.RefreshToken, previousRefresh)
	if refreshToken != "" {
		c.mu.Lock()
		c.refreshToken = refreshToken
		c.mu.Unlock()
	}
	expiresAt := res.expiry(now, c.config.TokenTTL)
	return core.Credential{
		ProviderID:   c.config.ProviderID,
		AuthMethod:   core.AuthMethodJWTAssertionMTLS,
		AccessToken:  res.accessToken(),
		RefreshToken: refreshToken,
		ExpiresAt:    &expiresAt,
	}, nil
}

func (c *JWTAssertionMTLSConnector) post(ctx context.Context, grant url.Values, audience any, now time.Time) (tokenResponse, error) {
	assertion, err := c.assertion(audience, now)
	if err != nil {
		return tokenResponse{}, core.WrapProviderError(err, c.config.ProviderID, core.ErrorAuth, "build client assertion")
	}
	form := url.Values{}
	for key, values := range grant {
		form[key] = append([]string(nil), values...)
	}
	form.Set("client_id", c.config.ClientID)
	form.Set("client_assertion_type", clientAssertionTypeJWT)
	form.Set("client_assertion", assertion)
	return postToken(ctx, c.config.Adapter, tokenCall{
		providerID: c.config.ProviderID,
		url:        c.config.TokenURL,
		form:       form,
	})
}

func (c *JWTAssertionMTLSConnector) assertion(audience any, now time.Time) (string, error) {
	claims := map[string]any{
		"iss": firstNonEmpty(c.config.Issuer, c.config.ClientID),
		"sub": c.config.ClientID,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(c.config.AssertionTTL).Unix(),
		"jti": c.config.NewJTI(),
	}
	return buildRS256JWT(c.config.KeyID, c.config.PrivateKey, claims)
}

func (c *JWTAssertionMTLSConnector) currentRefreshToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshToken
}

var _ core.Connector = (*JWTAssertionMTLSConnector)(nil)
