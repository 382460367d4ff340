package sqlstore

import (
	"time"

	"github.com/nestorgt/go-settlement/core"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type credentialRecord struct {
	bun.BaseModel `bun:"table:settlement_credentials,alias:scr"`

	ID           string     `bun:"id,pk"`
	ProviderID   string     `bun:"provider_id,notnull"`
	AuthMethod   string     `bun:"auth_method,notnull"`
	AccessToken  string     `bun:"access_token,notnull"`
	RefreshToken string     `bun:"refresh_token,notnull"`
	ExpiresAt    *time.Time `bun:"expires_at,nullzero"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type balanceSnapshotRecord struct {
	bun.BaseModel `bun:"table:settlement_balance_snapshots,alias:sbs"`

	ID         string                     `bun:"id,pk"`
	ProviderID string                     `bun:"provider_id,notnull"`
	Accounts   []core.AccountBalance      `bun:"accounts,type:jsonb,notnull"`
	Totals     map[string]decimal.Decimal `bun:"totals,type:jsonb,notnull"`
	FetchedAt  time.Time                  `bun:"fetched_at,notnull"`
	CreatedAt  time.Time                  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type transferRecord struct {
	bun.BaseModel `bun:"table:settlement_transfers,alias:st"`

	ID         string    `bun:"id,pk"`
	RequestID  string    `bun:"request_id,notnull"`
	ProviderID string    `bun:"provider_id,notnull"`
	Operation  string    `bun:"operation,notnull"`
	SourceRef  string    `bun:"source_ref,notnull"`
	TargetRef  string    `bun:"target_ref,notnull"`
	Amount     string    `bun:"amount,notnull"`
	Currency   string    `bun:"currency,notnull"`
	State      string    `bun:"state,notnull"`
	TransferID string    `bun:"transfer_id,notnull"`
	Duplicate  bool      `bun:"duplicate,notnull"`
	ErrorCode  string    `bun:"error_code,notnull"`
	RecordedAt time.Time `bun:"recorded_at,notnull"`
}

func (r *credentialRecord) toDomain() core.Credential {
	if r == nil {
		return core.Credential{}
	}
	return core.Credential{
		ProviderID:   r.ProviderID,
		AuthMethod:   core.AuthMethod(r.AuthMethod),
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    copyTimePointer(r.ExpiresAt),
	}
}

func (r *balanceSnapshotRecord) toDomain() core.Balance {
	if r == nil {
		return core.Balance{}
	}
	balance := core.Balance{
		ProviderID: r.ProviderID,
		Accounts:   append([]core.AccountBalance(nil), r.Accounts...),
		Totals:     make(map[string]decimal.Decimal, len(r.Totals)),
		FetchedAt:  r.FetchedAt.UTC(),
	}
	for currency, amount := range r.Totals {
		balance.Totals[currency] = amount
	}
	return balance
}

func newBalanceSnapshotRecord(balance core.Balance, now time.Time) *balanceSnapshotRecord {
	totals := make(map[string]decimal.Decimal, len(balance.Totals))
	for currency, amount := range balance.Totals {
		totals[currency] = amount
	}
	accounts := append([]core.AccountBalance(nil), balance.Accounts...)
	if accounts == nil {
		accounts = []core.AccountBalance{}
	}
	fetchedAt := balance.FetchedAt.UTC()
	if fetchedAt.IsZero() {
		fetchedAt = now
	}
	return &balanceSnapshotRecord{
		ProviderID: balance.ProviderID,
		Accounts:   accounts,
		Totals:     totals,
		FetchedAt:  fetchedAt,
		CreatedAt:  now,
	}
}

func (r *transferRecord) toDomain() core.TransferEntry {
	if r == nil {
		return core.TransferEntry{}
	}
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		amount = decimal.Zero
	}
	return core.TransferEntry{
		RequestID:  r.RequestID,
		ProviderID: r.ProviderID,
		Operation:  r.Operation,
		SourceRef:  r.SourceRef,
		TargetRef:  r.TargetRef,
		Amount:     amount,
		Currency:   r.Currency,
		State:      core.TransferState(r.State),
		TransferID: r.TransferID,
		Duplicate:  r.Duplicate,
		ErrorCode:  r.ErrorCode,
		RecordedAt: r.RecordedAt.UTC(),
	}
}

func newTransferRecord(entry core.TransferEntry) *transferRecord {
	return &transferRecord{
		RequestID:  entry.RequestID,
		ProviderID: entry.ProviderID,
		Operation:  entry.Operation,
		SourceRef:  entry.SourceRef,
		TargetRef:  entry.TargetRef,
		Amount:     entry.Amount.String(),
		Currency:   entry.Currency,
		State:      string(entry.State),
		TransferID: entry.TransferID,
		Duplicate:  entry.Duplicate,
		ErrorCode:  entry.ErrorCode,
		RecordedAt: entry.RecordedAt.UTC(),
	}
}

func copyTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	out := value.UTC()
	return &out
}
