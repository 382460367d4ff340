package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/nestorgt/go-settlement/core"
)

const (
	KindREST = "rest"

	// IdempotencyHeader carries TransportRequest.Idempotency unless the
	// provider already set its own key.
	IdempotencyHeader = "Idempotency-Key"

	defaultRESTClientTimeout       = 120 * time.Second
	defaultRESTResponseBodyLimit   = int64(10 << 20)
	defaultRESTResponseContentType = "application/json"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTAdapter sends JSON requests to bank APIs and returns the raw answer.
// Status codes are left to the caller.
type RESTAdapter struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultRESTClientTimeout}
	}
	return &RESTAdapter{
		Client:               client,
		DefaultHeaders:       map[string]string{"Accept": defaultRESTResponseContentType},
		MaxResponseBodyBytes: defaultRESTResponseBodyLimit,
	}
}

func (*RESTAdapter) Kind() string {
	return KindREST
}

func (a *RESTAdapter) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil || a.Client == nil {
		return core.TransportResponse{}, transportError(
			"transport: rest adapter requires an http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"adapter": KindREST},
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := a.newRequest(ctx, req)
	if err != nil {
		return core.TransportResponse{}, err
	}
	target := map[string]any{"adapter": KindREST, "method": httpReq.Method, "path": httpReq.URL.Path}

	startedAt := time.Now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return core.TransportResponse{}, transportWrapError(err, goerrors.CategoryExternal, "transport: execute http request", http.StatusBadGateway, target)
	}
	defer httpRes.Body.Close()

	limit := req.MaxResponseBodyBytes
	if limit <= 0 {
		limit = a.MaxResponseBodyBytes
	}
	if limit <= 0 {
		limit = defaultRESTResponseBodyLimit
	}
	payload, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		target["status_code"] = httpRes.StatusCode
		return core.TransportResponse{}, transportWrapError(err, goerrors.CategoryExternal, "transport: read response body", http.StatusBadGateway, target)
	}
	if int64(len(payload)) > limit {
		target["status_code"] = httpRes.StatusCode
		target["limit_bytes"] = limit
		return core.TransportResponse{}, transportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			target,
		)
	}

	return core.TransportResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       payload,
		Metadata: map[string]any{
			"kind":        KindREST,
			"duration_ms": time.Since(startedAt).Milliseconds(),
		},
	}, nil
}

// newRequest resolves the url and query, then layers default, content type,
// idempotency and request headers in that order.
func (a *RESTAdapter) newRequest(ctx context.Context, req core.TransportRequest) (*http.Request, error) {
	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		return nil, transportError("transport: request url is required", goerrors.CategoryBadInput, http.StatusBadRequest, map[string]any{"adapter": KindREST})
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, transportWrapError(err, goerrors.CategoryBadInput, "transport: invalid request url", http.StatusBadRequest, map[string]any{"adapter": KindREST})
	}
	if len(req.Query) > 0 {
		values := target.Query()
		for key, value := range req.Query {
			if key = strings.TrimSpace(key); key != "" {
				values.Set(key, strings.TrimSpace(value))
			}
		}
		target.RawQuery = values.Encode()
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, transportWrapError(err, goerrors.CategoryBadInput, "transport: create http request", http.StatusBadRequest, map[string]any{"adapter": KindREST, "method": method})
	}

	setHeaders(httpReq.Header, a.DefaultHeaders)
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", defaultRESTResponseContentType)
	}
	if key := strings.TrimSpace(req.Idempotency); key != "" && HeaderValue(req.Headers, IdempotencyHeader) == "" {
		httpReq.Header.Set(IdempotencyHeader, key)
	}
	setHeaders(httpReq.Header, req.Headers)
	return httpReq, nil
}

func setHeaders(dst http.Header, src map[string]string) {
	for key, value := range src {
		if key = strings.TrimSpace(key); key != "" {
			dst.Set(key, strings.TrimSpace(value))
		}
	}
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

// HeaderValue looks a header up case-insensitively in a flattened map.
func HeaderValue(headers map[string]string, name string) string {
	if value, ok := headers[http.CanonicalHeaderKey(name)]; ok {
		return value
	}
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}

var _ core.TransportAdapter = (*RESTAdapter)(nil)
