// Package transfer executes idempotent money movement through a provider's
// transfer and exchange endpoints.
package transfer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/notify"
	"github.com/nestorgt/go-settlement/transport"
	"github.com/shopspring/decimal"
)

type Option func(*Engine)

func WithNotifier(dispatcher notify.Dispatcher, recipientID string) Option {
	return func(e *Engine) {
		e.notifier = dispatcher
		e.recipientID = strings.TrimSpace(recipientID)
	}
}

// WithJournal records every attempt that reached the provider.
func WithJournal(journal core.TransferJournal) Option {
	return func(e *Engine) {
		e.journal = journal
	}
}

func WithObserver(observer core.Observer) Option {
	return func(e *Engine) {
		e.observer = observer
	}
}

func WithIDGenerator(next func() string) Option {
	return func(e *Engine) {
		if next != nil {
			e.newID = next
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine submits transfers and exchanges. Every request carries a request
// id that the provider uses to deduplicate retries.
type Engine struct {
	executor    core.Executor
	notifier    notify.Dispatcher
	recipientID string
	journal     core.TransferJournal
	observer    core.Observer
	newID       func() string
	now         func() time.Time
}

func NewEngine(executor core.Executor, opts ...Option) *Engine {
	engine := &Engine{
		executor: executor,
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	return engine
}

// Submit moves req.Amount from SourceRef to TargetRef. A timeout yields an
// OutcomeUnknown error; retry it only with the same request id.
func (e *Engine) Submit(ctx context.Context, provider core.TransferProvider, req core.TransferRequest) (result core.TransferResult, err error) {
	if provider == nil {
		return core.TransferResult{}, core.NewPermanentRequestError("", "provider", "transfer provider is required")
	}
	req = normalizeTransfer(req)
	if req.RequestID == "" {
		req.RequestID = e.newID()
	}
	startedAt := time.Now()
	sent := false
	defer func() {
		e.observe(ctx, startedAt, "transfer_submit", provider.ID(), req.RequestID, result, err)
		if sent {
			e.record(ctx, core.TransferEntry{
				RequestID:  req.RequestID,
				ProviderID: provider.ID(),
				Operation:  "transfer",
				SourceRef:  req.SourceRef,
				TargetRef:  req.TargetRef,
				Amount:     req.Amount,
				Currency:   req.Currency,
			}, result, err)
		}
	}()

	if err := validateTransfer(provider.ID(), req); err != nil {
		return core.TransferResult{}, err
	}
	outgoing, err := provider.BuildTransfer(req)
	if err != nil {
		return core.TransferResult{}, err
	}
	sent = true
	res, err := e.send(ctx, provider.ID(), req.RequestID, outgoing)
	if err != nil {
		return core.TransferResult{}, err
	}
	if provider.IsDuplicate(res) {
		return e.duplicate(ctx, provider, req.RequestID, req.Amount, req.Currency), nil
	}
	if err := transport.StatusError(provider.ID(), res); err != nil {
		return core.TransferResult{}, err
	}
	result, err = provider.ParseTransfer(req, res)
	if err != nil {
		return core.TransferResult{}, err
	}
	result = e.complete(result, provider.ID(), req.RequestID, req.Amount, req.Currency)
	e.notify(ctx, result, fmt.Sprintf("Transfer %s %s sent from %s to %s", result.Amount.StringFixed(2), result.Currency, req.SourceRef, req.TargetRef))
	return result, nil
}

// Exchange converts between two currency pockets of the same provider.
func (e *Engine) Exchange(ctx context.Context, provider core.ExchangeProvider, req core.ExchangeRequest) (result core.TransferResult, err error) {
	if provider == nil {
		return core.TransferResult{}, core.NewPermanentRequestError("", "provider", "exchange provider is required")
	}
	req = normalizeExchange(req)
	if req.RequestID == "" {
		req.RequestID = e.newID()
	}
	startedAt := time.Now()
	sent := false
	defer func() {
		e.observe(ctx, startedAt, "exchange_submit", provider.ID(), req.RequestID, result, err)
		if sent {
			e.record(ctx, core.TransferEntry{
				RequestID:  req.RequestID,
				ProviderID: provider.ID(),
				Operation:  "exchange",
				SourceRef:  req.SourceRef,
				TargetRef:  req.TargetRef,
				Amount:     req.Amount,
				Currency:   req.SourceCurrency,
			}, result, err)
		}
	}()

	if err := validateExchange(provider.ID(), req); err != nil {
		return core.TransferResult{}, err
	}
	outgoing, err := provider.BuildExchange(req)
	if err != nil {
		return core.TransferResult{}, err
	}
	sent = true
	res, err := e.send(ctx, provider.ID(), req.RequestID, outgoing)
	if err != nil {
		return core.TransferResult{}, err
	}
	if provider.IsDuplicate(res) {
		return e.duplicate(ctx, provider, req.RequestID, req.Amount, req.SourceCurrency), nil
	}
	if err := transport.StatusError(provider.ID(), res); err != nil {
		return core.TransferResult{}, err
	}
	result, err = provider.ParseExchange(req, res)
	if err != nil {
		return core.TransferResult{}, err
	}
	result = e.complete(result, provider.ID(), req.RequestID, req.Amount, req.SourceCurrency)
	e.notify(ctx, result, fmt.Sprintf("Exchange %s %s to %s completed", result.Amount.StringFixed(2), req.SourceCurrency, req.TargetCurrency))
	return result, nil
}

func (e *Engine) send(ctx context.Context, providerID string, requestID string, outgoing core.TransportRequest) (core.TransportResponse, error) {
	if e.executor == nil {
		return core.TransportResponse{}, core.NewCapabilityUnsupportedError(providerID, core.CapabilityTransfer)
	}
	outgoing.Class = core.OperationMoney
	outgoing.Retryable = false
	outgoing.Idempotency = requestID
	return e.executor.Execute(ctx, providerID, outgoing)
}

// duplicate resolves the original transfer behind a duplicate signal. The
// submission is a success either way.
func (e *Engine) duplicate(ctx context.Context, provider core.Provider, requestID string, amount decimal.Decimal, currency string) core.TransferResult {
	result := core.TransferResult{
		RequestID:  requestID,
		ProviderID: provider.ID(),
		State:      core.TransferStateUnknown,
		Amount:     amount,
		Currency:   currency,
	}
	if lookup, ok := provider.(core.TransferLookup); ok {
		original, found, err := lookup.LookupTransfer(ctx, requestID)
		switch {
		case err != nil:
			e.observer.Warn(ctx, "duplicate transfer lookup failed", map[string]any{
				"provider_id": provider.ID(),
				"request_id":  requestID,
				"error":       err.Error(),
			})
		case found:
			result = e.complete(original, provider.ID(), requestID, amount, currency)
		}
	}
	result.Duplicate = true
	return result
}

func (e *Engine) complete(result core.TransferResult, providerID string, requestID string, amount decimal.Decimal, currency string) core.TransferResult {
	result.RequestID = requestID
	result.ProviderID = providerID
	if result.State == "" {
		result.State = core.TransferStatePending
	}
	if result.Amount.IsZero() {
		result.Amount = amount
	}
	if result.Currency == "" {
		result.Currency = currency
	}
	if result.CreatedAt == nil {
		createdAt := e.now()
		result.CreatedAt = &createdAt
	}
	return result
}

func (e *Engine) notify(ctx context.Context, result core.TransferResult, body string) {
	if e.notifier == nil {
		return
	}
	delivery := e.notifier.Dispatch(ctx, e.recipientID, notify.Message{
		Subject: fmt.Sprintf("%s %s", result.ProviderID, result.State),
		Body:    body,
		Metadata: map[string]any{
			"provider_id": result.ProviderID,
			"request_id":  result.RequestID,
			"transfer_id": result.TransferID,
		},
	})
	if !delivery.Delivered || delivery.Partial {
		e.observer.Warn(ctx, "transfer notification not fully delivered", map[string]any{
			"provider_id": result.ProviderID,
			"request_id":  result.RequestID,
			"partial":     delivery.Partial,
		})
	}
}

// record journals an attempt. Journal failures are logged and never change
// the outcome returned to the caller.
func (e *Engine) record(ctx context.Context, entry core.TransferEntry, result core.TransferResult, err error) {
	if e.journal == nil {
		return
	}
	entry.RecordedAt = e.now()
	if err != nil {
		entry.State = core.TransferStateFailed
		entry.ErrorCode = core.ErrorKind(err)
		if entry.ErrorCode == core.ErrorOutcomeUnknown {
			entry.State = core.TransferStateUnknown
		}
	} else {
		entry.State = result.State
		entry.TransferID = result.TransferID
		entry.Duplicate = result.Duplicate
	}
	if journalErr := e.journal.RecordTransfer(ctx, entry); journalErr != nil {
		e.observer.Warn(ctx, "transfer journal write failed", map[string]any{
			"provider_id": entry.ProviderID,
			"request_id":  entry.RequestID,
			"error":       journalErr.Error(),
		})
	}
}

func (e *Engine) observe(ctx context.Context, startedAt time.Time, operation string, providerID string, requestID string, result core.TransferResult, err error) {
	e.observer.ObserveOperation(ctx, startedAt, operation, err, map[string]any{
		"provider_id": providerID,
		"request_id":  requestID,
		"class":       string(core.OperationMoney),
		"duplicate":   result.Duplicate,
		"state":       string(result.State),
	})
}
