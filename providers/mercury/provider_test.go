package mercury

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/ledger"
	"github.com/nestorgt/go-settlement/providers/devkit"
	"github.com/shopspring/decimal"
)

const testBaseURL = "https://api.mercury.test/api/v1"

func newTestProvider(t *testing.T, executor core.Executor, refs ...string) *Provider {
	t.Helper()
	provider, err := New(Config{BaseURL: testBaseURL, AccountRefs: refs}, executor)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

const checkingTransactions = `{"total":3,"transactions":[
	{"id":"m-1","amount":-2500.00,"status":"sent","kind":"outgoingPayment","createdAt":"2026-03-03T15:00:00Z","postedAt":"2026-03-04T09:00:00Z",
	 "bankDescription":"Send Money transaction initiated on Mercury","counterpartyName":"Jane Doe - Waresoul Payroll"},
	{"id":"m-2","amount":-45.20,"status":"sent","kind":"debitCardTransaction","createdAt":"2026-03-05T10:00:00Z","counterpartyName":"AWS"},
	{"id":"m-3","amount":-100,"status":"pending","kind":"externalTransfer","createdAt":"2026-03-06T10:00:00Z","bankDescription":"Send Money"}
]}`

func TestFetchBalance(t *testing.T) {
	executor := devkit.NewFakeExecutor().On("GET", "/api/v1/accounts", devkit.JSON(200, `{"accounts":[
		{"id":"chk","name":"Checking","status":"active","availableBalance":1000.25,"currentBalance":1200},
		{"id":"sav","name":"Savings","status":"active","availableBalance":50,"currentBalance":50},
		{"id":"old","name":"Old","status":"archived","availableBalance":1,"currentBalance":1}
	]}`))
	balance, err := devkit.ValidateBalanceProviderConformance(context.Background(), newTestProvider(t, executor))
	if err != nil {
		t.Fatalf("balance conformance: %v", err)
	}
	if len(balance.Accounts) != 2 || !balance.Totals["USD"].Equal(decimal.RequireFromString("1050.25")) {
		t.Fatalf("unexpected balance %+v", balance)
	}
}

func TestFetchTransactions(t *testing.T) {
	executor := devkit.NewFakeExecutor().On("GET", "/api/v1/account/chk/transactions", devkit.JSON(200, checkingTransactions))
	provider := newTestProvider(t, executor, "chk")
	query := core.TransactionQuery{
		AccountRef: "chk",
		From:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:         time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		PageSize:   50,
		PageIndex:  2,
	}
	page, err := devkit.ValidateTransactionProviderConformance(context.Background(), provider, query)
	if err != nil {
		t.Fatalf("transaction conformance: %v", err)
	}
	if len(page.Transactions) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(page.Transactions))
	}
	first := page.Transactions[0]
	if first.Kind != core.TransactionKindOutgoingPayment || first.Timestamp.Day() != 4 || first.Descriptors.BankNote == "" {
		t.Fatalf("unexpected first transaction %+v", first)
	}
	if page.Transactions[1].Kind != core.TransactionKindCard || page.Transactions[2].Kind != core.TransactionKindOutgoingPayment {
		t.Fatalf("unexpected kinds %+v", page.Transactions)
	}
	last, _ := executor.LastRequest("GET", "/api/v1/account/chk/transactions")
	if last.Query["start"] != "2026-03-01" || last.Query["end"] != "2026-03-31" || last.Query["offset"] != "100" || last.Query["limit"] != "50" {
		t.Fatalf("unexpected query %+v", last.Query)
	}
}

func TestClassifierOverMercuryHistory(t *testing.T) {
	executor := devkit.NewFakeExecutor().
		On("GET", "/api/v1/account/chk/transactions", devkit.JSON(200, checkingTransactions)).
		On("GET", "/api/v1/transactions", devkit.JSON(200, `{"transactions":[
			{"id":"m-2","amount":-45.20,"status":"sent","kind":"debitCardTransaction","createdAt":"2026-03-05T10:00:00Z"},
			{"id":"m-4","amount":-10,"status":"sent","kind":"creditCardTransaction","createdAt":"2026-03-07T10:00:00Z","accountId":"credit"}
		]}`))
	provider := newTestProvider(t, executor, "chk")
	classifier := ledger.NewClassifier(core.DefaultConfig().Classifier)

	result, err := classifier.Fetch(context.Background(), provider, nil,
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	payroll := result.Category(core.Classification{Kind: core.ClassificationExternalTransferNamed, Tag: "waresoul"})
	if !payroll.Out.Equal(decimal.RequireFromString("2500")) {
		t.Fatalf("expected payroll out 2500, got %s", payroll.Out)
	}
	card := result.Category(core.Classification{Kind: core.ClassificationCardExpense})
	if !card.Out.Equal(decimal.RequireFromString("55.2")) {
		t.Fatalf("expected card out 55.20 without double counting, got %s", card.Out)
	}
	if result.SkippedCount != 1 || result.FallbackQueries != 1 {
		t.Fatalf("unexpected skipped=%d fallbacks=%d", result.SkippedCount, result.FallbackQueries)
	}
}

func TestBuildTransfer(t *testing.T) {
	provider := newTestProvider(t, devkit.NewFakeExecutor())
	req, err := provider.BuildTransfer(core.TransferRequest{
		RequestID: "req-9",
		SourceRef: "chk",
		TargetRef: "recipient-1",
		Amount:    decimal.RequireFromString("250"),
		Currency:  "usd",
	})
	if err != nil {
		t.Fatalf("build transfer: %v", err)
	}
	if req.URL != testBaseURL+"/account/chk/transactions" {
		t.Fatalf("unexpected url %s", req.URL)
	}
	var payload map[string]any
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["idempotencyKey"] != "req-9" || payload["recipientId"] != "recipient-1" || payload["paymentMethod"] != "ach" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	if _, err := provider.BuildTransfer(core.TransferRequest{Currency: "EUR"}); !core.IsKind(err, core.ErrorPermanentRequest) {
		t.Fatalf("expected non USD transfer to be rejected, got %v", err)
	}
}

func TestParseTransferAndDuplicates(t *testing.T) {
	provider := newTestProvider(t, devkit.NewFakeExecutor())
	result, err := provider.ParseTransfer(core.TransferRequest{RequestID: "req-9"}, core.TransportResponse{
		StatusCode: 200,
		Body:       []byte(`{"id":"m-9","amount":-250,"status":"pending","createdAt":"2026-03-10T10:00:00Z"}`),
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if result.TransferID != "m-9" || result.State != core.TransferStatePending || !result.Amount.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("unexpected result %+v", result)
	}
	if !provider.IsDuplicate(core.TransportResponse{StatusCode: 400, Body: []byte(`{"errors":[{"message":"Idempotency key already used"}]}`)}) {
		t.Fatalf("expected idempotency conflict to be a duplicate")
	}
	if provider.IsDuplicate(core.TransportResponse{StatusCode: 500, Body: []byte(`{"message":"idempotency store down"}`)}) {
		t.Fatalf("server errors are never duplicates")
	}
	if _, ok := any(provider).(core.TransferLookup); ok {
		t.Fatalf("mercury has no lookup by idempotency key")
	}
}
