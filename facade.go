package settlement

import (
	"fmt"

	"github.com/nestorgt/go-settlement/adapters/gocommand"
	"github.com/nestorgt/go-settlement/balance"
	settlementcommand "github.com/nestorgt/go-settlement/command"
	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/httpapi"
	settlementquery "github.com/nestorgt/go-settlement/query"
	"github.com/nestorgt/go-settlement/reconcile"
)

// CommandQueryService is the engine surface behind the command and query
// handlers.
type CommandQueryService interface {
	settlementcommand.MoneyMovementService
	settlementquery.BalanceReader
	settlementquery.LedgerReader
	settlementquery.StatementReader
	settlementquery.AssetReader
	settlementquery.TransferHistoryReader
}

type Commands struct {
	SubmitTransfer *settlementcommand.SubmitTransferCommand
	SubmitExchange *settlementcommand.SubmitExchangeCommand
}

type Queries struct {
	Summary         *settlementquery.SummaryQuery
	ProviderSummary *settlementquery.ProviderSummaryQuery
	PeriodLedger    *settlementquery.PeriodLedgerQuery
	StatementLedger *settlementquery.StatementLedgerQuery
	Assets          *settlementquery.AssetsQuery
	Reconcile       *settlementquery.ReconcileQuery
	TransferHistory *settlementquery.TransferHistoryQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("settlement: command/query service is required")
	}
	facade := &Facade{service: service}
	facade.commands = Commands{
		SubmitTransfer: settlementcommand.NewSubmitTransferCommand(service),
		SubmitExchange: settlementcommand.NewSubmitExchangeCommand(service),
	}
	facade.queries = Queries{
		Summary:         settlementquery.NewSummaryQuery(service),
		ProviderSummary: settlementquery.NewProviderSummaryQuery(service),
		PeriodLedger:    settlementquery.NewPeriodLedgerQuery(service),
		StatementLedger: settlementquery.NewStatementLedgerQuery(service),
		Assets:          settlementquery.NewAssetsQuery(service),
		Reconcile:       settlementquery.NewReconcileQuery(),
		TransferHistory: settlementquery.NewTransferHistoryQuery(service),
	}
	return facade, nil
}

// Facade exposes the engine through its command and query handlers.
func (e *Engine) Facade() *Facade {
	facade, _ := NewFacade(e)
	return facade
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// HTTPHandlers returns the handler set the HTTP router serves.
func (f *Facade) HTTPHandlers() httpapi.Handlers {
	if f == nil {
		return httpapi.Handlers{}
	}
	return httpapi.Handlers{
		SubmitTransfer:  f.commands.SubmitTransfer,
		SubmitExchange:  f.commands.SubmitExchange,
		Summary:         f.queries.Summary,
		ProviderSummary: f.queries.ProviderSummary,
		PeriodLedger:    f.queries.PeriodLedger,
		StatementLedger: f.queries.StatementLedger,
		Assets:          f.queries.Assets,
		Reconcile:       f.queries.Reconcile,
		TransferHistory: f.queries.TransferHistory,
	}
}

// Subscribe registers every handler with the go-command registry behind bus,
// subscribes it to the process dispatcher and initializes the registry.
func (f *Facade) Subscribe(bus *gocommand.Bus) error {
	if f == nil {
		return fmt.Errorf("settlement: facade is nil")
	}
	if bus == nil {
		return fmt.Errorf("settlement: command bus is required")
	}
	steps := []func() error{
		func() error {
			return gocommand.RegisterCommand[settlementcommand.SubmitTransferMessage](bus, f.commands.SubmitTransfer)
		},
		func() error {
			return gocommand.RegisterCommand[settlementcommand.SubmitExchangeMessage](bus, f.commands.SubmitExchange)
		},
		func() error {
			return gocommand.RegisterQuery[settlementquery.SummaryMessage, balance.Report](bus, f.queries.Summary)
		},
		func() error {
			return gocommand.RegisterQuery[settlementquery.ProviderSummaryMessage, core.Balance](bus, f.queries.ProviderSummary)
		},
		func() error {
			return gocommand.RegisterQuery[settlementquery.PeriodLedgerMessage, core.PeriodLedger](bus, f.queries.PeriodLedger)
		},
		func() error {
			return gocommand.RegisterQuery[settlementquery.StatementLedgerMessage, core.PeriodLedger](bus, f.queries.StatementLedger)
		},
		func() error {
			return gocommand.RegisterQuery[settlementquery.AssetsMessage, []core.Asset](bus, f.queries.Assets)
		},
		func() error {
			return gocommand.RegisterQuery[settlementquery.ReconcileMessage, reconcile.Result](bus, f.queries.Reconcile)
		},
		func() error {
			return gocommand.RegisterQuery[settlementquery.TransferHistoryMessage, []core.TransferEntry](bus, f.queries.TransferHistory)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			bus.Close()
			return err
		}
	}
	return bus.Adapter().Initialize()
}

var _ CommandQueryService = (*Engine)(nil)
