package query

import (
	"io"
	"strings"

	"github.com/nestorgt/go-settlement/reconcile"
)

const (
	TypeSummary         = "settlement.query.balance.summary"
	TypeProviderSummary = "settlement.query.balance.provider"
	TypePeriodLedger    = "settlement.query.ledger.period"
	TypeAssets          = "settlement.query.assets"
	TypeReconcile       = "settlement.query.reconcile"
	TypeTransferHistory = "settlement.query.transfer.history"
	TypeStatementLedger = "settlement.query.ledger.statement"
)

type SummaryMessage struct{}

func (SummaryMessage) Type() string { return TypeSummary }

func (SummaryMessage) Validate() error { return nil }

type ProviderSummaryMessage struct {
	ProviderID string
}

func (ProviderSummaryMessage) Type() string { return TypeProviderSummary }

func (m ProviderSummaryMessage) Validate() error {
	return requireProvider(m.ProviderID)
}

type PeriodLedgerMessage struct {
	ProviderID string
	Month      int
	Year       int
}

func (PeriodLedgerMessage) Type() string { return TypePeriodLedger }

func (m PeriodLedgerMessage) Validate() error {
	if err := requireProvider(m.ProviderID); err != nil {
		return err
	}
	return validatePeriod(m.Month, m.Year)
}

// StatementLedgerMessage classifies an exported CSV statement instead of
// the live transaction history.
type StatementLedgerMessage struct {
	ProviderID string
	Month      int
	Year       int
	Statement  io.Reader
}

func (StatementLedgerMessage) Type() string { return TypeStatementLedger }

func (m StatementLedgerMessage) Validate() error {
	if err := requireProvider(m.ProviderID); err != nil {
		return err
	}
	if m.Statement == nil {
		return queryValidationError("statement", "statement body is required")
	}
	return validatePeriod(m.Month, m.Year)
}

type AssetsMessage struct {
	ProviderID string
}

func (AssetsMessage) Type() string { return TypeAssets }

func (m AssetsMessage) Validate() error {
	return requireProvider(m.ProviderID)
}

type ReconcileMessage struct {
	Request reconcile.Request
}

func (ReconcileMessage) Type() string { return TypeReconcile }

func (m ReconcileMessage) Validate() error {
	if len(m.Request.Candidates) > reconcile.MaxCandidates {
		return queryValidationError("candidates", "at most 20 candidates are accepted")
	}
	if m.Request.Tolerance.IsNegative() {
		return queryValidationError("tolerance", "tolerance must not be negative")
	}
	return nil
}

type TransferHistoryMessage struct {
	ProviderID string
	RequestID  string
}

func (TransferHistoryMessage) Type() string { return TypeTransferHistory }

func (m TransferHistoryMessage) Validate() error {
	if err := requireProvider(m.ProviderID); err != nil {
		return err
	}
	if strings.TrimSpace(m.RequestID) == "" {
		return queryValidationError("request_id", "request id is required")
	}
	return nil
}

func validatePeriod(month int, year int) error {
	if month < 1 || month > 12 {
		return queryValidationError("month", "month must be between 1 and 12")
	}
	if year < 2000 || year > 2100 {
		return queryValidationError("year", "year must be between 2000 and 2100")
	}
	return nil
}

func requireProvider(providerID string) error {
	if strings.TrimSpace(providerID) == "" {
		return queryValidationError("provider_id", "provider id is required")
	}
	return nil
}
