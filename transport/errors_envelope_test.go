package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/nestorgt/go-settlement/core"
)

func TestRESTAdapter_ResponseLimitReturnsRichError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client())
	adapter.MaxResponseBodyBytes = 4

	_, err := adapter.Do(context.Background(), core.TransportRequest{Method: http.MethodGet, URL: server.URL})
	if err == nil {
		t.Fatalf("expected response body limit error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorTransientProvider {
		t.Fatalf("expected %q text code, got %q", core.ErrorTransientProvider, rich.TextCode)
	}
	if rich.Code != http.StatusBadGateway {
		t.Fatalf("expected %d code, got %d", http.StatusBadGateway, rich.Code)
	}
}

func TestRESTAdapter_NilClientReturnsRichError(t *testing.T) {
	adapter := &RESTAdapter{}
	_, err := adapter.Do(context.Background(), core.TransportRequest{URL: "https://bank.example"})
	if err == nil {
		t.Fatalf("expected nil client error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != core.ErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.ErrorInternal, rich.TextCode)
	}
}

func TestRESTAdapter_SendsHeadersQueryAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("from") != "2026-01-01" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		w.Header().Set("X-Request-Id", "req-1")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	res, err := NewRESTAdapter(server.Client()).Do(context.Background(), core.TransportRequest{
		Method:  http.MethodPost,
		URL:     server.URL + "/transfer",
		Headers: map[string]string{"Authorization": "Bearer tok"},
		Query:   map[string]string{"from": "2026-01-01"},
		Body:    []byte(`{"amount":"10.00"}`),
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", res.StatusCode)
	}
	if HeaderValue(res.Headers, "x-request-id") != "req-1" {
		t.Fatalf("expected case insensitive header lookup, got %#v", res.Headers)
	}
}

func TestRESTAdapter_IdempotencyHeader(t *testing.T) {
	seen := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get(IdempotencyHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client())
	if _, err := adapter.Do(context.Background(), core.TransportRequest{Method: http.MethodPost, URL: server.URL, Idempotency: "req-7"}); err != nil {
		t.Fatalf("do: %v", err)
	}
	if got := <-seen; got != "req-7" {
		t.Fatalf("expected request id as idempotency key, got %q", got)
	}

	_, err := adapter.Do(context.Background(), core.TransportRequest{
		Method:      http.MethodPost,
		URL:         server.URL,
		Idempotency: "req-7",
		Headers:     map[string]string{"idempotency-key": "provider-key"},
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if got := <-seen; got != "provider-key" {
		t.Fatalf("expected provider key to win, got %q", got)
	}
}

func TestStatusError_MapsProviderStatuses(t *testing.T) {
	cases := []struct {
		status int
		want   string
	}{
		{status: http.StatusUnauthorized, want: core.ErrorAuth},
		{status: http.StatusForbidden, want: core.ErrorAuth},
		{status: http.StatusTooManyRequests, want: core.ErrorTransientProvider},
		{status: http.StatusRequestTimeout, want: core.ErrorTransientProvider},
		{status: http.StatusServiceUnavailable, want: core.ErrorTransientProvider},
		{status: http.StatusUnprocessableEntity, want: core.ErrorPermanentRequest},
		{status: http.StatusBadRequest, want: core.ErrorPermanentRequest},
	}
	for _, tc := range cases {
		err := StatusError("mercury", core.TransportResponse{StatusCode: tc.status, Body: []byte(`{"message":"nope"}`)})
		if got := core.ErrorKind(err); got != tc.want {
			t.Fatalf("status %d: expected %q, got %q", tc.status, tc.want, got)
		}
	}
	if !core.IsRateLimited(StatusError("mercury", core.TransportResponse{StatusCode: http.StatusTooManyRequests})) {
		t.Fatalf("expected 429 to be tagged as rate limited")
	}
	if err := StatusError("mercury", core.TransportResponse{StatusCode: http.StatusOK}); err != nil {
		t.Fatalf("expected nil for success, got %v", err)
	}
}

func TestProviderMessage(t *testing.T) {
	cases := map[string]string{
		`{"message":"insufficient funds"}`:                      "insufficient funds",
		`{"error":"invalid_grant"}`:                             "invalid_grant",
		`{"error":{"message":"nested"}}`:                        "nested",
		`{"errors":[{"message":"first"},{"message":"second"}]}`: "first",
		`plain text failure`:                                    "plain text failure",
	}
	for body, want := range cases {
		if got := ProviderMessage([]byte(body)); got != want {
			t.Fatalf("body %s: expected %q, got %q", body, want, got)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	if got := RetryAfter(map[string]string{"Retry-After": "3"}, now); got != 3*time.Second {
		t.Fatalf("expected 3s, got %v", got)
	}
	date := now.Add(10 * time.Second).Format(http.TimeFormat)
	if got := RetryAfter(map[string]string{"retry-after": date}, now); got != 10*time.Second {
		t.Fatalf("expected 10s, got %v", got)
	}
	if got := RetryAfter(map[string]string{}, now); got != 0 {
		t.Fatalf("expected zero without header, got %v", got)
	}
}
