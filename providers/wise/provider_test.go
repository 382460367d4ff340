package wise

import (
	"context"
	"testing"

	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/providers/devkit"
	"github.com/shopspring/decimal"
)

func TestFetchBalance(t *testing.T) {
	executor := devkit.NewFakeExecutor().On("GET", "/v4/profiles/42/balances", devkit.JSON(200, `[
		{"id":101,"currency":"EUR","amount":{"value":310.455,"currency":"EUR"}},
		{"id":102,"currency":"USD","name":"Jar","amount":{"value":12,"currency":"USD"}}
	]`))
	provider, err := New(Config{BaseURL: "https://api.wise.test", ProfileID: "42"}, executor)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	balance, err := devkit.ValidateBalanceProviderConformance(context.Background(), provider)
	if err != nil {
		t.Fatalf("balance conformance: %v", err)
	}
	if balance.Accounts[0].ID != "101" || balance.Accounts[0].Name != "EUR balance" || balance.Accounts[1].Name != "Jar" {
		t.Fatalf("unexpected accounts %+v", balance.Accounts)
	}
	if !balance.Totals["EUR"].Equal(decimal.RequireFromString("310.46")) {
		t.Fatalf("unexpected EUR total %s", balance.Totals["EUR"])
	}
	last, _ := executor.LastRequest("GET", "/v4/profiles/42/balances")
	if last.Query["types"] != "STANDARD" {
		t.Fatalf("unexpected query %+v", last.Query)
	}
}

func TestFetchBalance_AuthFailure(t *testing.T) {
	executor := devkit.NewFakeExecutor().On("GET", "/v4/profiles/42/balances", devkit.JSON(401, `{"error":"invalid_token"}`))
	provider, err := New(Config{BaseURL: "https://api.wise.test", ProfileID: "42"}, executor)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := provider.FetchBalance(context.Background()); !core.IsKind(err, core.ErrorAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestNewRequiresProfile(t *testing.T) {
	if _, err := New(Config{}, devkit.NewFakeExecutor()); err == nil {
		t.Fatalf("expected missing profile to be rejected")
	}
}
