package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/notify"
	"github.com/shopspring/decimal"
)

// fakeBank records submissions by idempotency key and answers a repeated key
// with a 409 duplicate signal.
type fakeBank struct {
	mu        sync.Mutex
	seen      map[string]core.TransferResult
	requests  []core.TransportRequest
	respond   func(req core.TransportRequest) (core.TransportResponse, error)
	transfers int
}

func newFakeBank() *fakeBank {
	return &fakeBank{seen: map[string]core.TransferResult{}}
}

func (b *fakeBank) Execute(_ context.Context, _ string, req core.TransportRequest) (core.TransportResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	if b.respond != nil {
		return b.respond(req)
	}
	if _, ok := b.seen[req.Idempotency]; ok {
		return core.TransportResponse{StatusCode: http.StatusConflict, Body: []byte(`{"code":"duplicate_request"}`)}, nil
	}
	b.transfers++
	id := "tr_" + req.Idempotency
	createdAt := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	b.seen[req.Idempotency] = core.TransferResult{TransferID: id, State: core.TransferStateCompleted, CreatedAt: &createdAt}
	body, _ := json.Marshal(map[string]string{"id": id, "state": "completed"})
	return core.TransportResponse{StatusCode: http.StatusOK, Body: body}, nil
}

type fakeTransferProvider struct {
	bank *fakeBank
}

func (fakeTransferProvider) ID() string { return "revolut" }

func (fakeTransferProvider) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilityTransfer, core.CapabilityExchange}
}

func (fakeTransferProvider) BuildTransfer(req core.TransferRequest) (core.TransportRequest, error) {
	body, _ := json.Marshal(map[string]string{"request_id": req.RequestID, "amount": req.Amount.String()})
	return core.TransportRequest{Method: http.MethodPost, URL: "https://bank.example/transfer", Body: body}, nil
}

func (fakeTransferProvider) ParseTransfer(_ core.TransferRequest, res core.TransportResponse) (core.TransferResult, error) {
	payload := map[string]string{}
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return core.TransferResult{}, err
	}
	return core.TransferResult{TransferID: payload["id"], State: core.TransferState(payload["state"])}, nil
}

func (fakeTransferProvider) BuildExchange(req core.ExchangeRequest) (core.TransportRequest, error) {
	return core.TransportRequest{Method: http.MethodPost, URL: "https://bank.example/exchange"}, nil
}

func (p fakeTransferProvider) ParseExchange(_ core.ExchangeRequest, res core.TransportResponse) (core.TransferResult, error) {
	return p.ParseTransfer(core.TransferRequest{}, res)
}

func (fakeTransferProvider) IsDuplicate(res core.TransportResponse) bool {
	return res.StatusCode == http.StatusConflict
}

func (p fakeTransferProvider) LookupTransfer(_ context.Context, requestID string) (core.TransferResult, bool, error) {
	p.bank.mu.Lock()
	defer p.bank.mu.Unlock()
	result, ok := p.bank.seen[requestID]
	return result, ok, nil
}

type recordingDispatcher struct {
	mu       sync.Mutex
	messages []notify.Message
	result   notify.DeliveryResult
}

func (d *recordingDispatcher) Dispatch(_ context.Context, _ string, message notify.Message) notify.DeliveryResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, message)
	return d.result
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []core.TransferEntry
	err     error
}

func (j *recordingJournal) RecordTransfer(_ context.Context, entry core.TransferEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	return j.err
}

func validRequest() core.TransferRequest {
	return core.TransferRequest{
		RequestID: "req-42",
		SourceRef: "acc-main",
		TargetRef: "cp-jane",
		Amount:    decimal.RequireFromString("150.00"),
		Currency:  "usd",
	}
}

func TestEngine_SubmitIsIdempotentForSameRequestID(t *testing.T) {
	bank := newFakeBank()
	provider := fakeTransferProvider{bank: bank}
	engine := NewEngine(bank)

	first, err := engine.Submit(context.Background(), provider, validRequest())
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := engine.Submit(context.Background(), provider, validRequest())
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}

	if first.Duplicate {
		t.Fatalf("first submission must not be a duplicate")
	}
	if !second.Duplicate {
		t.Fatalf("second submission must be reported as duplicate")
	}
	if first.TransferID != second.TransferID || second.State != core.TransferStateCompleted {
		t.Fatalf("expected original transfer state, got %#v vs %#v", first, second)
	}
	if bank.transfers != 1 {
		t.Fatalf("expected exactly one transfer at the provider, got %d", bank.transfers)
	}
	for _, req := range bank.requests {
		if req.Class != core.OperationMoney || req.Retryable || req.Idempotency != "req-42" {
			t.Fatalf("unexpected outgoing request %#v", req)
		}
	}
}

func TestEngine_GeneratesRequestID(t *testing.T) {
	bank := newFakeBank()
	engine := NewEngine(bank, WithIDGenerator(func() string { return "generated-1" }))
	req := validRequest()
	req.RequestID = ""
	result, err := engine.Submit(context.Background(), fakeTransferProvider{bank: bank}, req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.RequestID != "generated-1" || result.TransferID != "tr_generated-1" {
		t.Fatalf("unexpected result %#v", result)
	}
	if result.Currency != "USD" || result.Amount.String() != "150" {
		t.Fatalf("expected request amount and currency to be echoed, got %#v", result)
	}
}

func TestEngine_ValidationNamesPrecondition(t *testing.T) {
	bank := newFakeBank()
	engine := NewEngine(bank)
	cases := map[string]func(*core.TransferRequest){
		"source_ref": func(r *core.TransferRequest) { r.SourceRef = " " },
		"target_ref": func(r *core.TransferRequest) { r.TargetRef = "" },
		"amount":     func(r *core.TransferRequest) { r.Amount = decimal.Zero },
		"currency":   func(r *core.TransferRequest) { r.Currency = "" },
	}
	for field, mutate := range cases {
		req := validRequest()
		mutate(&req)
		_, err := engine.Submit(context.Background(), fakeTransferProvider{bank: bank}, req)
		if !core.IsKind(err, core.ErrorPermanentRequest) {
			t.Fatalf("%s: expected permanent request error, got %v", field, err)
		}
	}
	negative := validRequest()
	negative.Amount = decimal.RequireFromString("-1")
	if _, err := engine.Submit(context.Background(), fakeTransferProvider{bank: bank}, negative); !core.IsKind(err, core.ErrorPermanentRequest) {
		t.Fatalf("expected negative amount to be rejected, got %v", err)
	}
	if len(bank.requests) != 0 {
		t.Fatalf("invalid requests must not reach the provider")
	}
}

func TestEngine_MapsProviderFailures(t *testing.T) {
	cases := []struct {
		name string
		res  core.TransportResponse
		err  error
		want string
	}{
		{name: "client error", res: core.TransportResponse{StatusCode: http.StatusUnprocessableEntity, Body: []byte(`{"message":"insufficient balance"}`)}, want: core.ErrorPermanentRequest},
		{name: "server error", res: core.TransportResponse{StatusCode: http.StatusBadGateway}, want: core.ErrorTransientProvider},
		{name: "timeout", err: core.NewOutcomeUnknownError("revolut", "req-42", "timed out"), want: core.ErrorOutcomeUnknown},
	}
	for _, tc := range cases {
		bank := newFakeBank()
		bank.respond = func(core.TransportRequest) (core.TransportResponse, error) { return tc.res, tc.err }
		_, err := NewEngine(bank).Submit(context.Background(), fakeTransferProvider{bank: bank}, validRequest())
		if !core.IsKind(err, tc.want) {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.want, err)
		}
	}
}

func TestEngine_NotificationDoesNotAffectOutcome(t *testing.T) {
	bank := newFakeBank()
	dispatcher := &recordingDispatcher{result: notify.DeliveryResult{Delivered: false}}
	engine := NewEngine(bank, WithNotifier(dispatcher, "ops"))

	result, err := engine.Submit(context.Background(), fakeTransferProvider{bank: bank}, validRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.State != core.TransferStateCompleted {
		t.Fatalf("unexpected state %q", result.State)
	}
	if len(dispatcher.messages) != 1 {
		t.Fatalf("expected one notification, got %d", len(dispatcher.messages))
	}

	if _, err := engine.Submit(context.Background(), fakeTransferProvider{bank: bank}, validRequest()); err != nil {
		t.Fatalf("duplicate submit: %v", err)
	}
	if len(dispatcher.messages) != 1 {
		t.Fatalf("duplicates must not notify again")
	}
}

func TestEngine_ExchangeValidation(t *testing.T) {
	bank := newFakeBank()
	engine := NewEngine(bank)
	req := core.ExchangeRequest{
		SourceRef:      "acc-usd",
		TargetRef:      "acc-eur",
		SourceCurrency: "USD",
		TargetCurrency: "usd",
		Amount:         decimal.RequireFromString("10"),
	}
	if _, err := engine.Exchange(context.Background(), fakeTransferProvider{bank: bank}, req); !core.IsKind(err, core.ErrorPermanentRequest) {
		t.Fatalf("expected same currency exchange to be rejected, got %v", err)
	}
	req.TargetCurrency = "EUR"
	req.RequestID = "fx-1"
	result, err := engine.Exchange(context.Background(), fakeTransferProvider{bank: bank}, req)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if result.TransferID != "tr_fx-1" || result.Currency != "USD" {
		t.Fatalf("unexpected exchange result %#v", result)
	}
}

func TestEngine_JournalsAttemptsThatReachTheProvider(t *testing.T) {
	bank := newFakeBank()
	journal := &recordingJournal{}
	engine := NewEngine(bank, WithJournal(journal))
	provider := fakeTransferProvider{bank: bank}

	if _, err := engine.Submit(context.Background(), provider, validRequest()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := engine.Submit(context.Background(), provider, validRequest()); err != nil {
		t.Fatalf("duplicate submit: %v", err)
	}
	invalid := validRequest()
	invalid.Amount = decimal.Zero
	if _, err := engine.Submit(context.Background(), provider, invalid); err == nil {
		t.Fatalf("expected validation failure")
	}
	bank.respond = func(core.TransportRequest) (core.TransportResponse, error) {
		return core.TransportResponse{}, core.NewOutcomeUnknownError("revolut", "req-43", "timed out")
	}
	timedOut := validRequest()
	timedOut.RequestID = "req-43"
	if _, err := engine.Submit(context.Background(), provider, timedOut); !core.IsKind(err, core.ErrorOutcomeUnknown) {
		t.Fatalf("expected outcome unknown, got %v", err)
	}

	if len(journal.entries) != 3 {
		t.Fatalf("expected three journal entries, got %d", len(journal.entries))
	}
	first, dup, unknown := journal.entries[0], journal.entries[1], journal.entries[2]
	if first.State != core.TransferStateCompleted || first.TransferID != "tr_req-42" || first.Operation != "transfer" || first.Duplicate {
		t.Fatalf("unexpected first entry %#v", first)
	}
	if !dup.Duplicate || dup.RequestID != "req-42" {
		t.Fatalf("unexpected duplicate entry %#v", dup)
	}
	if unknown.State != core.TransferStateUnknown || unknown.ErrorCode != core.ErrorOutcomeUnknown {
		t.Fatalf("unexpected timed out entry %#v", unknown)
	}
}

func TestEngine_JournalFailureDoesNotAffectOutcome(t *testing.T) {
	bank := newFakeBank()
	journal := &recordingJournal{err: errors.New("disk full")}
	result, err := NewEngine(bank, WithJournal(journal)).Submit(context.Background(), fakeTransferProvider{bank: bank}, validRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.State != core.TransferStateCompleted {
		t.Fatalf("unexpected state %q", result.State)
	}
}
