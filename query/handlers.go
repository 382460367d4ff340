package query

import (
	"context"
	"io"

	"github.com/nestorgt/go-settlement/balance"
	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/reconcile"
)

type BalanceReader interface {
	Summary(ctx context.Context) balance.Report
	ProviderSummary(ctx context.Context, providerID string) (core.Balance, error)
}

type LedgerReader interface {
	PeriodLedger(ctx context.Context, providerID string, month int, year int) (core.PeriodLedger, error)
}

type StatementReader interface {
	StatementLedger(ctx context.Context, providerID string, month int, year int, statement io.Reader) (core.PeriodLedger, error)
}

type AssetReader interface {
	Assets(ctx context.Context, providerID string) ([]core.Asset, error)
}

type TransferHistoryReader interface {
	TransferHistory(ctx context.Context, providerID string, requestID string) ([]core.TransferEntry, error)
}

type SummaryQuery struct {
	reader BalanceReader
}

func NewSummaryQuery(reader BalanceReader) *SummaryQuery {
	return &SummaryQuery{reader: reader}
}

func (q *SummaryQuery) Query(ctx context.Context, _ SummaryMessage) (balance.Report, error) {
	if q == nil || q.reader == nil {
		return balance.Report{}, queryDependencyError("query: balance reader is required")
	}
	return q.reader.Summary(ctx), nil
}

type ProviderSummaryQuery struct {
	reader BalanceReader
}

func NewProviderSummaryQuery(reader BalanceReader) *ProviderSummaryQuery {
	return &ProviderSummaryQuery{reader: reader}
}

func (q *ProviderSummaryQuery) Query(ctx context.Context, msg ProviderSummaryMessage) (core.Balance, error) {
	if q == nil || q.reader == nil {
		return core.Balance{}, queryDependencyError("query: balance reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.Balance{}, err
	}
	return q.reader.ProviderSummary(ctx, msg.ProviderID)
}

type PeriodLedgerQuery struct {
	reader LedgerReader
}

func NewPeriodLedgerQuery(reader LedgerReader) *PeriodLedgerQuery {
	return &PeriodLedgerQuery{reader: reader}
}

func (q *PeriodLedgerQuery) Query(ctx context.Context, msg PeriodLedgerMessage) (core.PeriodLedger, error) {
	if q == nil || q.reader == nil {
		return core.PeriodLedger{}, queryDependencyError("query: ledger reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.PeriodLedger{}, err
	}
	return q.reader.PeriodLedger(ctx, msg.ProviderID, msg.Month, msg.Year)
}

type StatementLedgerQuery struct {
	reader StatementReader
}

func NewStatementLedgerQuery(reader StatementReader) *StatementLedgerQuery {
	return &StatementLedgerQuery{reader: reader}
}

func (q *StatementLedgerQuery) Query(ctx context.Context, msg StatementLedgerMessage) (core.PeriodLedger, error) {
	if q == nil || q.reader == nil {
		return core.PeriodLedger{}, queryDependencyError("query: statement reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.PeriodLedger{}, err
	}
	return q.reader.StatementLedger(ctx, msg.ProviderID, msg.Month, msg.Year, msg.Statement)
}

type AssetsQuery struct {
	reader AssetReader
}

func NewAssetsQuery(reader AssetReader) *AssetsQuery {
	return &AssetsQuery{reader: reader}
}

func (q *AssetsQuery) Query(ctx context.Context, msg AssetsMessage) ([]core.Asset, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: asset reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.Assets(ctx, msg.ProviderID)
}

// ReconcileQuery runs the matcher. It needs no collaborator.
type ReconcileQuery struct{}

func NewReconcileQuery() *ReconcileQuery {
	return &ReconcileQuery{}
}

func (*ReconcileQuery) Query(_ context.Context, msg ReconcileMessage) (reconcile.Result, error) {
	if err := msg.Validate(); err != nil {
		return reconcile.Result{}, err
	}
	return reconcile.Reconcile(msg.Request)
}

type TransferHistoryQuery struct {
	reader TransferHistoryReader
}

func NewTransferHistoryQuery(reader TransferHistoryReader) *TransferHistoryQuery {
	return &TransferHistoryQuery{reader: reader}
}

func (q *TransferHistoryQuery) Query(ctx context.Context, msg TransferHistoryMessage) ([]core.TransferEntry, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: transfer history reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.TransferHistory(ctx, msg.ProviderID, msg.RequestID)
}
