package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/transport"
)

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func normalizeValues(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		lowered := strings.ToLower(trimmed)
		if _, ok := seen[lowered]; ok {
			continue
		}
		seen[lowered] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func defaultNow() time.Time {
	return time.Now().UTC()
}

// tokenResponse covers the OAuth2 and login endpoint shapes consumed here.
type tokenResponse struct {
	AccessToken      string          `json:"access_token"`
	Token            string          `json:"token"`
	RefreshToken     string          `json:"refresh_token"`
	TokenType        string          `json:"token_type"`
	ExpiresIn        json.Number     `json:"expires_in"`
	ExpiresAt        json.RawMessage `json:"expires_at"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Message          string          `json:"message"`
}

func (r tokenResponse) accessToken() string {
	return firstNonEmpty(r.AccessToken, r.Token)
}

// expiry resolves the token expiry from expires_in, expires_at or the
// fallback lifetime.
func (r tokenResponse) expiry(now time.Time, fallback time.Duration) time.Time {
	if seconds, err := r.ExpiresIn.Int64(); err == nil && seconds > 0 {
		return now.Add(time.Duration(seconds) * time.Second)
	}
	if at, ok := parseExpiresAt(r.ExpiresAt); ok {
		return at
	}
	return now.Add(fallback)
}

var expiresAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05",
}

func parseExpiresAt(raw json.RawMessage) (time.Time, bool) {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" || text == "null" {
		return time.Time{}, false
	}
	if epoch, err := strconv.ParseInt(text, 10, 64); err == nil {
		if epoch > 1e12 {
			return time.UnixMilli(epoch).UTC(), true
		}
		return time.Unix(epoch, 0).UTC(), true
	}
	for _, layout := range expiresAtLayouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

type tokenCall struct {
	providerID string
	url        string
	form       url.Values
	headers    map[string]string
}

// postToken sends a token request and decodes the JSON answer. Non 2xx
// responses are returned as tokenEndpointError.
func postToken(ctx context.Context, adapter core.TransportAdapter, call tokenCall) (tokenResponse, error) {
	headers := map[string]string{}
	var body []byte
	if call.form != nil {
		headers["Content-Type"] = "application/x-www-form-urlencoded"
		body = []byte(call.form.Encode())
	}
	for key, value := range call.headers {
		headers[key] = value
	}
	res, err := adapter.Do(ctx, core.TransportRequest{
		Method:  http.MethodPost,
		URL:     call.url,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return tokenResponse{}, core.WrapProviderError(err, call.providerID, core.ErrorTransientProvider, "token endpoint unreachable")
	}

	parsed := tokenResponse{}
	if len(res.Body) > 0 {
		decoder := json.NewDecoder(bytes.NewReader(res.Body))
		decoder.UseNumber()
		_ = decoder.Decode(&parsed)
	}
	if !res.Successful() {
		return parsed, &tokenEndpointError{
			providerID: call.providerID,
			status:     res.StatusCode,
			code:       strings.TrimSpace(parsed.Error),
			detail:     firstNonEmpty(parsed.ErrorDescription, parsed.Message, transport.ProviderMessage(res.Body)),
		}
	}
	if parsed.accessToken() == "" {
		return parsed, core.NewAuthError(call.providerID, "token endpoint returned no access token")
	}
	return parsed, nil
}

type tokenEndpointError struct {
	providerID string
	status     int
	code       string
	detail     string
}

func (e *tokenEndpointError) Error() string {
	return fmt.Sprintf("auth: %s token endpoint responded %d %s: %s", e.providerID, e.status, e.code, e.detail)
}

// unauthorizedClient reports the class of rejection that may be caused by
// an audience the endpoint does not accept.
func (e *tokenEndpointError) unauthorizedClient() bool {
	code := strings.ToLower(e.code + " " + e.detail)
	return strings.Contains(code, "unauthorized_client") ||
		strings.Contains(code, "invalid_client") ||
		strings.Contains(code, "unauthorized client")
}

// engineError maps the endpoint failure onto the engine taxonomy.
func (e *tokenEndpointError) engineError() error {
	switch {
	case e.status == http.StatusTooManyRequests:
		return core.WrapRateLimitedError(e, e.providerID, "token endpoint throttled")
	case e.status >= 500:
		return core.WrapProviderError(e, e.providerID, core.ErrorTransientProvider, "token endpoint failed")
	default:
		return core.WrapProviderError(e, e.providerID, core.ErrorAuth, "token endpoint rejected credentials")
	}
}

func mapTokenError(err error) error {
	if endpointErr, ok := err.(*tokenEndpointError); ok {
		return endpointErr.engineError()
	}
	return err
}
