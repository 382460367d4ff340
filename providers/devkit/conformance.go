package devkit

import (
	"context"
	"fmt"
	"strings"

	"github.com/nestorgt/go-settlement/core"
)

// ValidateBalanceProviderConformance checks that a balance is attributed to
// the provider and that totals cover every account currency.
func ValidateBalanceProviderConformance(ctx context.Context, provider core.BalanceProvider) (core.Balance, error) {
	if provider == nil {
		return core.Balance{}, fmt.Errorf("devkit: balance provider is required")
	}
	if strings.TrimSpace(provider.ID()) == "" {
		return core.Balance{}, fmt.Errorf("devkit: provider id is required")
	}
	if !core.Supports(provider, core.CapabilityBalances) {
		return core.Balance{}, fmt.Errorf("devkit: provider %q does not declare the balances capability", provider.ID())
	}
	balance, err := provider.FetchBalance(ctx)
	if err != nil {
		return core.Balance{}, err
	}
	if balance.ProviderID != provider.ID() {
		return balance, fmt.Errorf("devkit: balance provider id %q, want %q", balance.ProviderID, provider.ID())
	}
	if balance.FetchedAt.IsZero() {
		return balance, fmt.Errorf("devkit: balance fetched_at is required")
	}
	for _, account := range balance.Accounts {
		if strings.TrimSpace(account.Currency) == "" {
			return balance, fmt.Errorf("devkit: account %q has no currency", account.ID)
		}
		if _, ok := balance.Totals[strings.ToUpper(account.Currency)]; !ok {
			return balance, fmt.Errorf("devkit: missing total for %s", account.Currency)
		}
	}
	return balance, nil
}

// ValidateTransactionProviderConformance fetches one page and checks the
// fields the classifier depends on.
func ValidateTransactionProviderConformance(
	ctx context.Context,
	provider core.TransactionProvider,
	query core.TransactionQuery,
) (core.TransactionPage, error) {
	if provider == nil {
		return core.TransactionPage{}, fmt.Errorf("devkit: transaction provider is required")
	}
	if !core.Supports(provider, core.CapabilityTransactions) {
		return core.TransactionPage{}, fmt.Errorf("devkit: provider %q does not declare the transactions capability", provider.ID())
	}
	page, err := provider.FetchTransactions(ctx, query)
	if err != nil {
		return page, err
	}
	for _, tx := range page.Transactions {
		switch {
		case strings.TrimSpace(tx.ID) == "":
			return page, fmt.Errorf("devkit: transaction without id")
		case tx.ProviderID != provider.ID():
			return page, fmt.Errorf("devkit: transaction %s provider id %q", tx.ID, tx.ProviderID)
		case tx.Timestamp.IsZero():
			return page, fmt.Errorf("devkit: transaction %s has no timestamp", tx.ID)
		case tx.Kind == "":
			return page, fmt.Errorf("devkit: transaction %s has no kind", tx.ID)
		case strings.TrimSpace(tx.Currency) == "":
			return page, fmt.Errorf("devkit: transaction %s has no currency", tx.ID)
		}
	}
	return page, nil
}
