package nexo

import (
	"context"
	"testing"
	"time"

	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/providers/devkit"
	"github.com/shopspring/decimal"
)

func TestFetchBalanceThroughSidecar(t *testing.T) {
	adapter := devkit.NewFakeTransportAdapter("rest", devkit.JSON(200, `{"accounts":[
		{"id":"savings","name":"Savings","currency":"usd","amount":"900.125"},
		{"id":"credit","name":"Credit line","currency":"usd","amount":"-100"}
	]}`))
	fixed := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	provider := New(NewConnector(Config{
		AdapterURL: "http://sidecar.local/nexo/",
		Secret:     "s3cret",
		Adapter:    adapter,
		Now:        func() time.Time { return fixed },
	}))

	balance, err := devkit.ValidateBalanceProviderConformance(context.Background(), provider)
	if err != nil {
		t.Fatalf("balance conformance: %v", err)
	}
	if !balance.Totals["USD"].Equal(decimal.RequireFromString("800.13")) {
		t.Fatalf("unexpected USD total %s", balance.Totals["USD"])
	}
	if !balance.FetchedAt.Equal(fixed) {
		t.Fatalf("unexpected fetched at %s", balance.FetchedAt)
	}

	requests := adapter.Requests()
	if len(requests) != 1 {
		t.Fatalf("expected one sidecar request, got %d", len(requests))
	}
	if requests[0].URL != "http://sidecar.local/nexo/balance" {
		t.Fatalf("unexpected url %q", requests[0].URL)
	}
	if requests[0].Headers["X-Api-Secret"] != "s3cret" || requests[0].Class != core.OperationScrape {
		t.Fatalf("unexpected request %+v", requests[0])
	}
}

func TestFetchAssets(t *testing.T) {
	adapter := devkit.NewFakeTransportAdapter("rest", devkit.JSON(200, `{"assets":[
		{"symbol":" btc","quantity":"0.5","value_usd":"30000"}
	]}`))
	provider := New(NewConnector(Config{AdapterURL: "http://sidecar.local", Secret: "s", Adapter: adapter}))

	assets, err := provider.FetchAssets(context.Background())
	if err != nil {
		t.Fatalf("fetch assets: %v", err)
	}
	if len(assets) != 1 || assets[0].Symbol != "BTC" {
		t.Fatalf("unexpected assets %+v", assets)
	}
}

func TestSidecarFailureIsTransient(t *testing.T) {
	adapter := devkit.NewFakeTransportAdapter("rest", devkit.JSON(503, `{"error":"session expired"}`))
	provider := New(NewConnector(Config{AdapterURL: "http://sidecar.local", Secret: "s", Adapter: adapter}))

	if _, err := provider.FetchBalance(context.Background()); !core.IsKind(err, core.ErrorTransientProvider) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if !provider.CachesLastGoodBalance() {
		t.Fatalf("expected last good balance caching")
	}
}

func TestMissingSecretIsAuthFailure(t *testing.T) {
	provider := New(NewConnector(Config{AdapterURL: "http://sidecar.local", Adapter: devkit.NewFakeTransportAdapter("rest")}))
	if _, err := provider.FetchBalance(context.Background()); !core.IsKind(err, core.ErrorAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}
