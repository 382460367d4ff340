package airwallex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/providers/devkit"
	"github.com/shopspring/decimal"
)

func newTestProvider(t *testing.T, executor core.Executor) *Provider {
	t.Helper()
	provider, err := New(Config{BaseURL: "https://api.airwallex.test/api/v1"}, executor)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestFetchBalance(t *testing.T) {
	executor := devkit.NewFakeExecutor().On("GET", "/api/v1/balances/current", devkit.JSON(200, `[
		{"currency":"USD","available_amount":1500.5,"pending_amount":0,"total_amount":1500.5},
		{"currency":"eur","available_amount":20,"pending_amount":5,"total_amount":25}
	]`))
	balance, err := devkit.ValidateBalanceProviderConformance(context.Background(), newTestProvider(t, executor))
	if err != nil {
		t.Fatalf("balance conformance: %v", err)
	}
	if len(balance.Accounts) != 2 || balance.Accounts[1].ID != "wallet:EUR" || !balance.Totals["EUR"].Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected balance %+v", balance)
	}
}

func TestFetchTransactions_PagesWithHasMore(t *testing.T) {
	executor := devkit.NewFakeExecutor().On("GET", "/api/v1/financial_transactions",
		devkit.JSON(200, `{"has_more":true,"items":[
			{"id":"a-1","amount":-42.1,"currency":"usd","status":"SETTLED","transaction_type":"ISSUING_CAPTURE","description":"Figma","created_at":"2026-03-04T10:00:00Z","settled_at":"2026-03-05T10:00:00Z"},
			{"id":"a-2","amount":-200,"currency":"usd","status":"SETTLED","transaction_type":"CONVERSION","created_at":"2026-03-06T10:00:00Z"}
		]}`),
		devkit.JSON(200, `{"has_more":false,"items":[
			{"id":"a-3","amount":900,"currency":"usd","status":"PENDING","transaction_type":"DEPOSIT","created_at":"2026-03-07T10:00:00Z"}
		]}`),
	)
	provider := newTestProvider(t, executor)
	query := core.TransactionQuery{
		AccountRef: WalletRef,
		From:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:         time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		PageSize:   2,
	}
	first, err := devkit.ValidateTransactionProviderConformance(context.Background(), provider, query)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if first.NextCursor != "1" || first.Transactions[0].Kind != core.TransactionKindCard || first.Transactions[0].Timestamp.Day() != 5 {
		t.Fatalf("unexpected first page %+v", first)
	}
	query.PageIndex = 1
	query.Cursor = first.NextCursor
	second, err := provider.FetchTransactions(context.Background(), query)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if second.NextCursor != "" || second.Transactions[0].State != "pending" {
		t.Fatalf("unexpected second page %+v", second)
	}
	last, _ := executor.LastRequest("GET", "/api/v1/financial_transactions")
	if last.Query["page_num"] != "1" || last.Query["page_size"] != "2" {
		t.Fatalf("unexpected query %+v", last.Query)
	}
}

func TestConnectorLogsInWithHeaderCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/authentication/login" || r.Header.Get("x-client-id") != "client" || r.Header.Get("x-api-key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"aw-token","expires_at":"2026-03-01T10:30:00+0000"}`))
	}))
	defer server.Close()

	connector := NewConnector(Config{BaseURL: server.URL + "/api/v1", ClientID: "client", APIKey: "key"})
	cred, err := connector.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if cred.AccessToken != "aw-token" || cred.ExpiresAt == nil || cred.ExpiresAt.Minute() != 30 {
		t.Fatalf("unexpected credential %+v", cred)
	}
}
