package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/nestorgt/go-settlement/balance"
	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/reconcile"
)

var (
	_ gocmd.Querier[SummaryMessage, balance.Report]               = (*SummaryQuery)(nil)
	_ gocmd.Querier[ProviderSummaryMessage, core.Balance]         = (*ProviderSummaryQuery)(nil)
	_ gocmd.Querier[PeriodLedgerMessage, core.PeriodLedger]       = (*PeriodLedgerQuery)(nil)
	_ gocmd.Querier[StatementLedgerMessage, core.PeriodLedger]    = (*StatementLedgerQuery)(nil)
	_ gocmd.Querier[AssetsMessage, []core.Asset]                  = (*AssetsQuery)(nil)
	_ gocmd.Querier[ReconcileMessage, reconcile.Result]           = (*ReconcileQuery)(nil)
	_ gocmd.Querier[TransferHistoryMessage, []core.TransferEntry] = (*TransferHistoryQuery)(nil)
)
