package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/transport"
)

// Client issues read calls for one provider through the request executor
// and decodes JSON responses.
type Client struct {
	ProviderID string
	BaseURL    string
	Executor   core.Executor
}

func NewClient(providerID string, baseURL string, executor core.Executor) (Client, error) {
	providerID = strings.TrimSpace(providerID)
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if providerID == "" {
		return Client{}, fmt.Errorf("providers: provider id is required")
	}
	if baseURL == "" {
		return Client{}, fmt.Errorf("providers: base url is required for provider %q", providerID)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return Client{}, fmt.Errorf("providers: invalid base url for provider %q: %w", providerID, err)
	}
	if executor == nil {
		return Client{}, fmt.Errorf("providers: executor is required for provider %q", providerID)
	}
	return Client{ProviderID: providerID, BaseURL: baseURL, Executor: executor}, nil
}

// URL joins path segments onto the base url, escaping each segment.
func (c Client) URL(segments ...string) string {
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, c.BaseURL)
	for _, segment := range segments {
		segment = strings.Trim(strings.TrimSpace(segment), "/")
		if segment == "" {
			continue
		}
		for _, piece := range strings.Split(segment, "/") {
			parts = append(parts, url.PathEscape(piece))
		}
	}
	return strings.Join(parts, "/")
}

// GetJSON performs a retryable read and decodes the body into out.
func (c Client) GetJSON(ctx context.Context, query map[string]string, out any, segments ...string) error {
	return c.DoJSON(ctx, core.TransportRequest{
		Method:    http.MethodGet,
		URL:       c.URL(segments...),
		Query:     query,
		Retryable: true,
		Class:     core.OperationRead,
	}, out)
}

// DoJSON sends req and decodes a successful body into out. Non 2xx
// responses are mapped with transport.StatusError.
func (c Client) DoJSON(ctx context.Context, req core.TransportRequest, out any) error {
	res, err := c.Executor.Execute(ctx, c.ProviderID, req)
	if err != nil {
		return err
	}
	if err := transport.StatusError(c.ProviderID, res); err != nil {
		return err
	}
	return DecodeJSON(c.ProviderID, res.Body, out)
}

// DecodeJSON unmarshals a provider payload. A body that does not match the
// expected shape is reported as a transient provider error.
func DecodeJSON(providerID string, body []byte, out any) error {
	if out == nil {
		return nil
	}
	if len(body) == 0 {
		return core.NewTransientProviderError(providerID, "empty response body")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return core.WrapProviderError(err, providerID, core.ErrorTransientProvider, "decode provider response")
	}
	return nil
}

// EncodeJSON marshals a request payload.
func EncodeJSON(providerID string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, core.WrapProviderError(err, providerID, core.ErrorPermanentRequest, "encode request payload")
	}
	return body, nil
}

// AccountRefs returns the configured account references or, when none are
// configured, the ids produced by list.
func AccountRefs(configured []string, list func() ([]string, error)) ([]string, error) {
	refs := make([]string, 0, len(configured))
	for _, ref := range configured {
		if trimmed := strings.TrimSpace(ref); trimmed != "" {
			refs = append(refs, trimmed)
		}
	}
	if len(refs) > 0 || list == nil {
		return refs, nil
	}
	return list()
}

// Lower normalizes free form provider enums.
func Lower(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
