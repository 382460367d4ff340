package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/transport"
)

func TestStaticBearerConnector(t *testing.T) {
	connector := NewStaticBearerConnector(StaticBearerConnectorConfig{ProviderID: "mercury", Token: " secret-token "})
	cred, err := connector.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if cred.AccessToken != "secret-token" || cred.ExpiresAt != nil {
		t.Fatalf("unexpected credential %#v", cred)
	}
	if connector.IsExpiring(cred, time.Hour) {
		t.Fatalf("static token must never expire")
	}
	authCtx, err := connector.AuthContext(cred)
	if err != nil {
		t.Fatalf("auth context: %v", err)
	}
	if authCtx.Headers["Authorization"] != "Bearer secret-token" {
		t.Fatalf("unexpected headers %#v", authCtx.Headers)
	}
	if _, err := connector.Refresh(context.Background(), cred); !core.IsKind(err, core.ErrorAuth) {
		t.Fatalf("expected auth error on refresh, got %v", err)
	}

	missing := NewStaticBearerConnector(StaticBearerConnectorConfig{ProviderID: "wise"})
	if _, err := missing.Authenticate(context.Background()); !core.IsKind(err, core.ErrorAuth) {
		t.Fatalf("expected auth error for missing token, got %v", err)
	}
}

func TestStaticBearerConnector_CustomHeader(t *testing.T) {
	connector := NewStaticBearerConnector(StaticBearerConnectorConfig{ProviderID: "x", Token: "t", Header: "X-Token"})
	authCtx, err := connector.AuthContext(core.Credential{AccessToken: "t"})
	if err != nil {
		t.Fatalf("auth context: %v", err)
	}
	if authCtx.Headers["X-Token"] != "t" {
		t.Fatalf("expected raw token header, got %#v", authCtx.Headers)
	}
}

func TestClientCredentialsConnector_LoginParsesExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-client-id") != "client_1" || r.Header.Get("x-api-key") != "key_1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"bad credentials"}`))
			return
		}
		_, _ = w.Write([]byte(`{"token":"tok_1","expires_at":"2026-03-01T10:30:00+0000"}`))
	}))
	defer server.Close()

	connector := NewClientCredentialsConnector(ClientCredentialsConnectorConfig{
		ProviderID: "airwallex",
		LoginURL:   server.URL,
		ClientID:   "client_1",
		APIKey:     "key_1",
		Now:        func() time.Time { return now },
	})
	cred, err := connector.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if cred.AccessToken != "tok_1" {
		t.Fatalf("expected tok_1, got %q", cred.AccessToken)
	}
	if cred.ExpiresAt == nil || !cred.ExpiresAt.Equal(now.Add(30*time.Minute)) {
		t.Fatalf("unexpected expiry %v", cred.ExpiresAt)
	}
	if connector.IsExpiring(cred, 5*time.Minute) {
		t.Fatalf("fresh token should not be expiring")
	}
	now = now.Add(26 * time.Minute)
	if !connector.IsExpiring(cred, 5*time.Minute) {
		t.Fatalf("token inside buffer should be expiring")
	}
}

func TestClientCredentialsConnector_RejectedIsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"bad credentials"}`))
	}))
	defer server.Close()

	connector := NewClientCredentialsConnector(ClientCredentialsConnectorConfig{
		ProviderID: "airwallex",
		LoginURL:   server.URL,
		ClientID:   "c",
		APIKey:     "k",
	})
	if _, err := connector.Authenticate(context.Background()); !core.IsKind(err, core.ErrorAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestClientCredentialsConnector_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	connector := NewClientCredentialsConnector(ClientCredentialsConnectorConfig{
		ProviderID: "airwallex",
		LoginURL:   server.URL,
		ClientID:   "c",
		APIKey:     "k",
	})
	if _, err := connector.Authenticate(context.Background()); !core.IsKind(err, core.ErrorTransientProvider) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

type tokenEndpointStub struct {
	mu       sync.Mutex
	forms    []map[string]string
	reject   func(aud any) bool
	response string
}

func (s *tokenEndpointStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	form := map[string]string{}
	for key := range r.PostForm {
		form[key] = r.PostForm.Get(key)
	}
	s.mu.Lock()
	s.forms = append(s.forms, form)
	s.mu.Unlock()

	claims, err := decodeJWTClaims(form["client_assertion"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_request"}`))
		return
	}
	if s.reject != nil && s.reject(claims["aud"]) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized_client","error_description":"audience rejected"}`))
		return
	}
	_, _ = w.Write([]byte(s.response))
}

func (s *tokenEndpointStub) calls() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]string(nil), s.forms...)
}

func newJWTConnector(t *testing.T, serverURL string, client *http.Client, now time.Time) *JWTAssertionMTLSConnector {
	t.Helper()
	return NewJWTAssertionMTLSConnector(JWTAssertionMTLSConnectorConfig{
		ProviderID:       "revolut",
		TokenURL:         serverURL,
		ClientID:         "client_rev",
		Issuer:           "ops.example.com",
		PrivateKey:       generateTestRSAPrivateKey(t),
		Audiences:        []string{"https://revolut.com", "revolut"},
		FallbackAudience: "https://revolut.com",
		RefreshToken:     "refresh_1",
		Adapter:          transport.NewRESTAdapter(client),
		Now:              func() time.Time { return now },
		NewJTI:           func() string { return "jti-fixed" },
	})
}

func TestJWTAssertionMTLSConnector_RefreshGrantAndAssertion(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	stub := &tokenEndpointStub{response: `{"access_token":"acc_1","token_type":"bearer","expires_in":2399}`}
	server := httptest.NewServer(stub)
	defer server.Close()

	connector := newJWTConnector(t, server.URL, server.Client(), now)
	cred, err := connector.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if cred.AccessToken != "acc_1" || cred.RefreshToken != "refresh_1" {
		t.Fatalf("unexpected credential %#v", cred)
	}
	if cred.ExpiresAt == nil || !cred.ExpiresAt.Equal(now.Add(2399*time.Second)) {
		t.Fatalf("unexpected expiry %v", cred.ExpiresAt)
	}

	calls := stub.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one token call, got %d", len(calls))
	}
	form := calls[0]
	if form["grant_type"] != "refresh_token" || form["refresh_token"] != "refresh_1" {
		t.Fatalf("unexpected grant %#v", form)
	}
	if form["client_assertion_type"] != clientAssertionTypeJWT {
		t.Fatalf("unexpected assertion type %q", form["client_assertion_type"])
	}
	claims, err := decodeJWTClaims(form["client_assertion"])
	if err != nil {
		t.Fatalf("decode assertion: %v", err)
	}
	if claims["iss"] != "ops.example.com" || claims["sub"] != "client_rev" || claims["jti"] != "jti-fixed" {
		t.Fatalf("unexpected claims %#v", claims)
	}
	if claims["exp"].(float64)-claims["iat"].(float64) != 60 {
		t.Fatalf("expected sixty second assertion lifetime, got %#v", claims)
	}
	if _, ok := claims["aud"].([]any); !ok {
		t.Fatalf("expected audience list on first attempt, got %#v", claims["aud"])
	}

	authCtx, err := connector.AuthContext(cred)
	if err != nil {
		t.Fatalf("auth context: %v", err)
	}
	if authCtx.Headers["Authorization"] != "Bearer acc_1" {
		t.Fatalf("unexpected auth headers %#v", authCtx.Headers)
	}
}

func TestJWTAssertionMTLSConnector_FallsBackToSingleAudience(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	stub := &tokenEndpointStub{
		response: `{"access_token":"acc_2"}`,
		reject: func(aud any) bool {
			_, isList := aud.([]any)
			return isList
		},
	}
	server := httptest.NewServer(stub)
	defer server.Close()

	connector := newJWTConnector(t, server.URL, server.Client(), now)
	cred, err := connector.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if cred.AccessToken != "acc_2" {
		t.Fatalf("expected acc_2, got %q", cred.AccessToken)
	}
	if cred.ExpiresAt == nil || !cred.ExpiresAt.Equal(now.Add(40*time.Minute)) {
		t.Fatalf("expected default forty minute lifetime, got %v", cred.ExpiresAt)
	}
	if got := len(stub.calls()); got != 2 {
		t.Fatalf("expected retry with fallback audience, got %d calls", got)
	}
}

func TestJWTAssertionMTLSConnector_RotatesRefreshToken(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	stub := &tokenEndpointStub{response: `{"access_token":"acc_3","refresh_token":"refresh_2","expires_in":600}`}
	server := httptest.NewServer(stub)
	defer server.Close()

	connector := newJWTConnector(t, server.URL, server.Client(), now)
	cred, err := connector.Refresh(context.Background(), core.Credential{ProviderID: "revolut", RefreshToken: "refresh_1"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if cred.RefreshToken != "refresh_2" {
		t.Fatalf("expected rotated refresh token, got %q", cred.RefreshToken)
	}
	if _, err := connector.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	calls := stub.calls()
	if calls[len(calls)-1]["refresh_token"] != "refresh_2" {
		t.Fatalf("expected later grants to use rotated token, got %#v", calls[len(calls)-1])
	}
}

func TestJWTAssertionMTLSConnector_InvalidGrantIsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	}))
	defer server.Close()

	connector := newJWTConnector(t, server.URL, server.Client(), time.Now().UTC())
	if _, err := connector.Authenticate(context.Background()); !core.IsKind(err, core.ErrorAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestSessionScrapeConnector(t *testing.T) {
	connector := NewSessionScrapeConnector(SessionScrapeConnectorConfig{ProviderID: "nexo", Secret: "s3cret"})
	cred, err := connector.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if connector.IsExpiring(cred, time.Hour) {
		t.Fatalf("session secret never expires")
	}
	authCtx, err := connector.AuthContext(cred)
	if err != nil {
		t.Fatalf("auth context: %v", err)
	}
	if authCtx.Headers["X-Api-Secret"] != "s3cret" {
		t.Fatalf("unexpected headers %#v", authCtx.Headers)
	}
}

func TestSessionScrapeConnector_Capabilities(t *testing.T) {
	now := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Secret") != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/balance":
			_, _ = w.Write([]byte(`{"accounts":[{"id":"main","currency":"usd","amount":"100.10"},{"id":"earn","currency":"USD","amount":"0.205"}]}`))
		case "/assets":
			_, _ = w.Write([]byte(`{"assets":[{"symbol":"BTC","quantity":"0.5","value_usd":"30000"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	connector := NewSessionScrapeConnector(SessionScrapeConnectorConfig{
		ProviderID: "nexo",
		BaseURL:    server.URL + "/",
		Secret:     "s3cret",
		Now:        func() time.Time { return now },
	})
	balance, err := connector.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if got := balance.Totals["USD"].String(); got != "100.31" {
		t.Fatalf("expected USD total 100.31, got %s", got)
	}
	if !balance.FetchedAt.Equal(now) {
		t.Fatalf("unexpected fetched at %v", balance.FetchedAt)
	}
	assets, err := connector.GetAssetList(context.Background())
	if err != nil {
		t.Fatalf("get assets: %v", err)
	}
	if len(assets) != 1 || assets[0].Symbol != "BTC" {
		t.Fatalf("unexpected assets %#v", assets)
	}

	wrong := NewSessionScrapeConnector(SessionScrapeConnectorConfig{ProviderID: "nexo", BaseURL: server.URL, Secret: "nope"})
	if _, err := wrong.GetBalance(context.Background()); !core.IsKind(err, core.ErrorAuth) {
		t.Fatalf("expected auth error for wrong secret, got %v", err)
	}
}
