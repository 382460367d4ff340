// Package ledger fetches a provider's transaction history for a period,
// classifies every transaction and aggregates the results into a
// PeriodLedger.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nestorgt/go-settlement/core"
	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 100
	maxPageLimit    = 20
)

type Option func(*Classifier)

func WithRules(rules ...Rule) Option {
	return func(c *Classifier) {
		if len(rules) > 0 {
			c.rules = append([]Rule(nil), rules...)
		}
	}
}

func WithObserver(observer core.Observer) Option {
	return func(c *Classifier) {
		c.observer = observer
	}
}

type Classifier struct {
	rules    []Rule
	pageSize int
	maxPages int
	observer core.Observer
}

func NewClassifier(cfg core.ClassifierConfig, opts ...Option) *Classifier {
	classifier := &Classifier{
		rules:    DefaultRules(MarkersFromConfig(cfg)),
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
	}
	if classifier.pageSize <= 0 {
		classifier.pageSize = defaultPageSize
	}
	if classifier.maxPages <= 0 || classifier.maxPages > maxPageLimit {
		classifier.maxPages = maxPageLimit
	}
	for _, opt := range opts {
		if opt != nil {
			opt(classifier)
		}
	}
	return classifier
}

// Fetch collects the transactions of every account in [start, end) and
// classifies them. An empty accountRefs asks the provider for its accounts.
// Failures after the first primary page are reported on the ledger instead
// of failing the call.
func (c *Classifier) Fetch(
	ctx context.Context,
	provider core.TransactionProvider,
	accountRefs []string,
	start time.Time,
	end time.Time,
) (ledger core.PeriodLedger, err error) {
	if provider == nil {
		return core.PeriodLedger{}, core.NewPermanentRequestError("", "provider", "transaction provider is required")
	}
	if !end.After(start) {
		return core.PeriodLedger{}, core.NewPermanentRequestError(provider.ID(), "period", "period end must be after period start")
	}
	startedAt := time.Now()
	defer func() {
		c.observer.ObserveOperation(ctx, startedAt, "ledger_fetch", err, map[string]any{
			"provider_id":   provider.ID(),
			"period_start":  start.UTC().Format(time.RFC3339),
			"total_count":   ledger.TotalCount,
			"ambiguous":     ledger.AmbiguousCount,
			"pages_fetched": ledger.PagesFetched,
		})
	}()

	refs := normalizeRefs(accountRefs)
	if len(refs) == 0 {
		refs, err = provider.AccountRefs(ctx)
		if err != nil {
			return core.PeriodLedger{}, err
		}
		refs = normalizeRefs(refs)
	}

	run := newFetchRun(provider.ID())
	for _, ref := range refs {
		primary := core.TransactionQuery{
			AccountRef: ref,
			From:       start.UTC(),
			To:         end.UTC(),
			PageSize:   c.pageSize,
		}
		if err := c.paginate(ctx, provider, primary, run); err != nil {
			return core.PeriodLedger{}, err
		}
		for _, fallback := range provider.FallbackQueries(primary) {
			run.fallbacks++
			page, fetchErr := provider.FetchTransactions(ctx, fallback)
			if fetchErr != nil {
				run.fail(fetchErr, fmt.Sprintf("fallback query %q for %s", fallback.Variant, ref))
				continue
			}
			run.add(page.Transactions)
		}
	}

	ledger = c.ClassifyTransactions(provider.ID(), run.transactions, start, end)
	ledger.PagesFetched = run.pages
	ledger.FallbackQueries = run.fallbacks
	ledger.Errors = run.errors
	return ledger, nil
}

// paginate walks the primary listing until a short page, the page limit, or
// one page past the first page that reaches before the period start.
func (c *Classifier) paginate(ctx context.Context, provider core.TransactionProvider, query core.TransactionQuery, run *fetchRun) error {
	extraPageUsed := false
	for index := 0; index < c.maxPages; index++ {
		query.PageIndex = index
		page, err := provider.FetchTransactions(ctx, query)
		if err != nil {
			if index == 0 {
				return err
			}
			run.fail(err, fmt.Sprintf("page %d for %s", index+1, query.AccountRef))
			return nil
		}
		run.pages++
		run.add(page.Transactions)

		if len(page.Transactions) < query.PageSize {
			return nil
		}
		if query.Cursor != "" && page.NextCursor == "" {
			return nil
		}
		if extraPageUsed {
			return nil
		}
		if oldest, ok := oldestTimestamp(page.Transactions); ok && oldest.Before(query.From) {
			extraPageUsed = true
		}
		query.Cursor = page.NextCursor
	}
	return nil
}

// ClassifyTransactions builds a ledger from already fetched transactions.
// Duplicates by id, transactions outside [start, end) and transactions not
// in a completed state are dropped first.
func (c *Classifier) ClassifyTransactions(providerID string, transactions []core.Transaction, start time.Time, end time.Time) core.PeriodLedger {
	ledger := core.NewPeriodLedger(providerID, start, end)
	start = start.UTC()
	end = end.UTC()

	seen := map[string]struct{}{}
	kept := make([]core.Transaction, 0, len(transactions))
	for _, tx := range transactions {
		key := transactionKey(tx)
		if _, duplicate := seen[key]; duplicate {
			continue
		}
		seen[key] = struct{}{}
		timestamp := tx.Timestamp.UTC()
		if timestamp.Before(start) || !timestamp.Before(end) || !Completed(tx.State) {
			ledger.SkippedCount++
			continue
		}
		kept = append(kept, tx)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if !kept[i].Timestamp.Equal(kept[j].Timestamp) {
			return kept[i].Timestamp.Before(kept[j].Timestamp)
		}
		return kept[i].ID < kept[j].ID
	})

	for _, tx := range kept {
		classification, ambiguous := Classify(c.rules, tx)
		ledger.TotalCount++
		if ambiguous {
			ledger.AmbiguousCount++
			c.observer.Warn(context.Background(), "transaction matches more than one classification rule", map[string]any{
				"provider_id":    providerID,
				"transaction_id": tx.ID,
				"classification": classification.Key(),
			})
		}
		if !classification.Aggregated() {
			ledger.InternalCount++
			continue
		}
		ledger.BucketedCount++
		addLine(&ledger, classification, tx)
	}
	for _, totals := range ledger.Categories {
		totals.In = core.RoundMoney(totals.In)
		totals.Out = core.RoundMoney(totals.Out)
	}
	return ledger
}

func addLine(ledger *core.PeriodLedger, classification core.Classification, tx core.Transaction) {
	key := classification.Key()
	totals, ok := ledger.Categories[key]
	if !ok {
		totals = &core.CategoryTotals{
			Classification: classification,
			In:             decimal.Zero,
			Out:            decimal.Zero,
			Lines:          []core.LedgerLine{},
		}
		ledger.Categories[key] = totals
	}
	amount := tx.Amount.Abs()
	direction := core.DirectionIn
	if tx.Amount.IsNegative() {
		direction = core.DirectionOut
		totals.Out = totals.Out.Add(amount)
	} else {
		totals.In = totals.In.Add(amount)
	}
	totals.Lines = append(totals.Lines, core.LedgerLine{
		TransactionID: tx.ID,
		Timestamp:     tx.Timestamp.UTC(),
		Direction:     direction,
		Amount:        amount,
		Currency:      strings.ToUpper(tx.Currency),
		Description:   tx.Descriptors.Joined(),
	})
}

var completedStates = map[string]struct{}{
	"":          {},
	"completed": {},
	"complete":  {},
	"posted":    {},
	"settled":   {},
	"sent":      {},
	"succeeded": {},
	"success":   {},
}

// Completed reports whether a provider state counts as a settled
// transaction. An empty state means the provider lists only settled ones.
func Completed(state string) bool {
	_, ok := completedStates[strings.ToLower(strings.TrimSpace(state))]
	return ok
}

type fetchRun struct {
	providerID   string
	seen         map[string]struct{}
	transactions []core.Transaction
	pages        int
	fallbacks    int
	errors       []core.ProviderError
}

func newFetchRun(providerID string) *fetchRun {
	return &fetchRun{providerID: providerID, seen: map[string]struct{}{}}
}

func (r *fetchRun) add(transactions []core.Transaction) {
	for _, tx := range transactions {
		key := transactionKey(tx)
		if _, ok := r.seen[key]; ok {
			continue
		}
		r.seen[key] = struct{}{}
		if tx.ProviderID == "" {
			tx.ProviderID = r.providerID
		}
		r.transactions = append(r.transactions, tx)
	}
}

func (r *fetchRun) fail(err error, what string) {
	r.errors = append(r.errors, core.ProviderError{
		ProviderID: r.providerID,
		Kind:       core.ErrorKind(err),
		Message:    what + ": " + err.Error(),
	})
}

// transactionKey identifies a transaction for deduplication. Providers that
// omit ids fall back to a content key.
func transactionKey(tx core.Transaction) string {
	if id := strings.TrimSpace(tx.ID); id != "" {
		return id
	}
	return fmt.Sprintf("%s|%s|%s|%s", tx.Timestamp.UTC().Format(time.RFC3339Nano), tx.Amount.String(), tx.Currency, tx.Descriptors.Joined())
}

func oldestTimestamp(transactions []core.Transaction) (time.Time, bool) {
	var oldest time.Time
	for i, tx := range transactions {
		if i == 0 || tx.Timestamp.Before(oldest) {
			oldest = tx.Timestamp
		}
	}
	return oldest, len(transactions) > 0
}

func normalizeRefs(refs []string) []string {
	out := make([]string, 0, len(refs))
	seen := map[string]struct{}{}
	for _, ref := range refs {
		trimmed := strings.TrimSpace(ref)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
