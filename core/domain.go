package core

import (
	"crypto/tls"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type AuthMethod string

const (
	AuthMethodJWTAssertionMTLS  AuthMethod = "jwt_assertion_mtls"
	AuthMethodClientCredentials AuthMethod = "client_credentials"
	AuthMethodStaticBearer      AuthMethod = "static_bearer"
	AuthMethodSessionScrape     AuthMethod = "session_scrape"
)

func (m AuthMethod) Valid() bool {
	switch m {
	case AuthMethodJWTAssertionMTLS,
		AuthMethodClientCredentials,
		AuthMethodStaticBearer,
		AuthMethodSessionScrape:
		return true
	default:
		return false
	}
}

// Credential is an immutable token snapshot. Refreshing produces a new value.
type Credential struct {
	ProviderID   string     `json:"provider_id"`
	AuthMethod   AuthMethod `json:"auth_method"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func (c Credential) IsZero() bool {
	return strings.TrimSpace(c.AccessToken) == ""
}

// Fingerprint identifies a credential value without exposing the token.
func (c Credential) Fingerprint() string {
	token := strings.TrimSpace(c.AccessToken)
	if len(token) > 8 {
		token = token[len(token)-8:]
	}
	expiry := "none"
	if c.ExpiresAt != nil {
		expiry = c.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%s:%s:%s", c.ProviderID, token, expiry)
}

func (c Credential) Clone() Credential {
	out := c
	out.ExpiresAt = cloneTimePointer(c.ExpiresAt)
	return out
}

// AuthContext is the material attached to a single outgoing call.
type AuthContext struct {
	Headers     map[string]string
	Certificate *tls.Certificate
}

func BearerAuthContext(token string) AuthContext {
	return AuthContext{
		Headers: map[string]string{
			"Authorization": "Bearer " + strings.TrimSpace(token),
		},
	}
}

type TransactionKind string

const (
	TransactionKindCard            TransactionKind = "card_payment"
	TransactionKindTransfer        TransactionKind = "transfer"
	TransactionKindOutgoingPayment TransactionKind = "outgoing_payment"
	TransactionKindIncomingPayment TransactionKind = "incoming_payment"
	TransactionKindInternal        TransactionKind = "internal_transfer"
	TransactionKindExchange        TransactionKind = "exchange"
	TransactionKindFee             TransactionKind = "fee"
	TransactionKindOther           TransactionKind = "other"
)

// Descriptors holds the free-text fields used for classification.
type Descriptors struct {
	Description  string `json:"description,omitempty"`
	Reference    string `json:"reference,omitempty"`
	Counterparty string `json:"counterparty,omitempty"`
	Merchant     string `json:"merchant,omitempty"`
	BankNote     string `json:"bank_note,omitempty"`
}

func (d Descriptors) Joined() string {
	parts := make([]string, 0, 5)
	for _, value := range []string{d.Description, d.Reference, d.Counterparty, d.Merchant, d.BankNote} {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " | ")
}

type Transaction struct {
	ID          string          `json:"id"`
	ProviderID  string          `json:"provider_id"`
	AccountRef  string          `json:"account_ref,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Timestamp   time.Time       `json:"timestamp"`
	Kind        TransactionKind `json:"kind"`
	State       string          `json:"state,omitempty"`
	CardFlag    bool            `json:"card_flag,omitempty"`
	Descriptors Descriptors     `json:"descriptors"`
}

type ClassificationKind string

const (
	ClassificationCardExpense           ClassificationKind = "card_expense"
	ClassificationInternalTransfer      ClassificationKind = "internal_transfer"
	ClassificationExternalTransferNamed ClassificationKind = "external_transfer_named"
	ClassificationExternalTransferOther ClassificationKind = "external_transfer_other"
	ClassificationUncategorized         ClassificationKind = "uncategorized"
)

// Classification is the single category a transaction maps to. Tag is set
// only for ClassificationExternalTransferNamed.
type Classification struct {
	Kind ClassificationKind `json:"kind"`
	Tag  string             `json:"tag,omitempty"`
}

func (c Classification) Key() string {
	if c.Kind == ClassificationExternalTransferNamed && strings.TrimSpace(c.Tag) != "" {
		return string(c.Kind) + ":" + strings.TrimSpace(c.Tag)
	}
	return string(c.Kind)
}

// Aggregated reports whether transactions of this classification count
// towards ledger buckets.
func (c Classification) Aggregated() bool {
	return c.Kind != ClassificationInternalTransfer
}

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

type LedgerLine struct {
	TransactionID string          `json:"transaction_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Direction     Direction       `json:"direction"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
}

type CategoryTotals struct {
	Classification Classification  `json:"classification"`
	In             decimal.Decimal `json:"in"`
	Out            decimal.Decimal `json:"out"`
	Lines          []LedgerLine    `json:"lines"`
}

type PeriodLedger struct {
	ProviderID      string                     `json:"provider_id"`
	Month           int                        `json:"month"`
	Year            int                        `json:"year"`
	PeriodStart     time.Time                  `json:"period_start"`
	PeriodEnd       time.Time                  `json:"period_end"`
	Categories      map[string]*CategoryTotals `json:"categories"`
	TotalCount      int                        `json:"total_count"`
	BucketedCount   int                        `json:"bucketed_count"`
	InternalCount   int                        `json:"internal_count"`
	AmbiguousCount  int                        `json:"ambiguous_count"`
	SkippedCount    int                        `json:"skipped_count"`
	PagesFetched    int                        `json:"pages_fetched"`
	FallbackQueries int                        `json:"fallback_queries"`
	// Errors lists fetch failures that left the ledger incomplete.
	Errors []ProviderError `json:"errors,omitempty"`
}

func NewPeriodLedger(providerID string, start time.Time, end time.Time) PeriodLedger {
	start = start.UTC()
	return PeriodLedger{
		ProviderID:  strings.TrimSpace(providerID),
		Month:       int(start.Month()),
		Year:        start.Year(),
		PeriodStart: start,
		PeriodEnd:   end.UTC(),
		Categories:  map[string]*CategoryTotals{},
	}
}

// Category returns the totals for a classification, or zero totals.
func (l PeriodLedger) Category(c Classification) CategoryTotals {
	if totals, ok := l.Categories[c.Key()]; ok && totals != nil {
		return *totals
	}
	return CategoryTotals{Classification: c, In: decimal.Zero, Out: decimal.Zero}
}

func (l PeriodLedger) CategoryKeys() []string {
	keys := make([]string, 0, len(l.Categories))
	for key := range l.Categories {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MonthPeriod returns [first day of month, first day of next month) in UTC.
func MonthPeriod(month int, year int) (time.Time, time.Time, error) {
	if month < 1 || month > 12 {
		return time.Time{}, time.Time{}, fmt.Errorf("core: month %d out of range", month)
	}
	if year < 2000 || year > 2100 {
		return time.Time{}, time.Time{}, fmt.Errorf("core: year %d out of range", year)
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0), nil
}

type TransferRequest struct {
	RequestID string          `json:"request_id"`
	SourceRef string          `json:"source_ref"`
	TargetRef string          `json:"target_ref"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference,omitempty"`
}

type ExchangeRequest struct {
	RequestID      string          `json:"request_id"`
	SourceRef      string          `json:"source_ref"`
	TargetRef      string          `json:"target_ref"`
	SourceCurrency string          `json:"source_currency"`
	TargetCurrency string          `json:"target_currency"`
	Amount         decimal.Decimal `json:"amount"`
	Reference      string          `json:"reference,omitempty"`
}

type TransferState string

const (
	TransferStatePending   TransferState = "pending"
	TransferStateCompleted TransferState = "completed"
	TransferStateFailed    TransferState = "failed"
	TransferStateUnknown   TransferState = "unknown"
)

type TransferResult struct {
	RequestID  string          `json:"request_id"`
	ProviderID string          `json:"provider_id"`
	TransferID string          `json:"transfer_id,omitempty"`
	State      TransferState   `json:"state"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Duplicate  bool            `json:"duplicate"`
	CreatedAt  *time.Time      `json:"created_at,omitempty"`
}

// TransferEntry is one journaled transfer or exchange attempt. ErrorCode is
// the text code of the failure, empty on success.
type TransferEntry struct {
	RequestID  string          `json:"request_id"`
	ProviderID string          `json:"provider_id"`
	Operation  string          `json:"operation"`
	SourceRef  string          `json:"source_ref"`
	TargetRef  string          `json:"target_ref"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	State      TransferState   `json:"state"`
	TransferID string          `json:"transfer_id,omitempty"`
	Duplicate  bool            `json:"duplicate"`
	ErrorCode  string          `json:"error_code,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

type AccountBalance struct {
	ID       string          `json:"id"`
	Name     string          `json:"name,omitempty"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

type Balance struct {
	ProviderID string                     `json:"provider_id"`
	Accounts   []AccountBalance           `json:"accounts"`
	Totals     map[string]decimal.Decimal `json:"totals"`
	FetchedAt  time.Time                  `json:"fetched_at"`
	Stale      bool                       `json:"stale"`
}

// WithTotals recomputes per-currency totals from the account list.
func (b Balance) WithTotals() Balance {
	totals := make(map[string]decimal.Decimal, len(b.Accounts))
	for _, account := range b.Accounts {
		currency := strings.ToUpper(strings.TrimSpace(account.Currency))
		totals[currency] = totals[currency].Add(account.Amount)
	}
	for currency, amount := range totals {
		totals[currency] = RoundMoney(amount)
	}
	b.Totals = totals
	return b
}

type Asset struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	ValueUSD decimal.Decimal `json:"value_usd"`
}

type ProviderError struct {
	ProviderID string `json:"provider_id"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

// RoundMoney rounds to two decimal places. Apply after summation.
func RoundMoney(value decimal.Decimal) decimal.Decimal {
	return value.Round(2)
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := value.UTC()
	return &clone
}
