package balance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nestorgt/go-settlement/core"
	"golang.org/x/sync/errgroup"
)

const DefaultStaleness = 6 * time.Hour

// Report is the outcome of one fan-out. Success holds when at least one
// provider produced a balance, fresh or stale.
type Report struct {
	Results map[string]core.Balance `json:"results"`
	Errors  []core.ProviderError    `json:"errors"`
	Success bool                    `json:"success"`
}

type Option func(*Aggregator)

// WithSnapshotStore sets the last good value store. Without one a memory
// store is used.
func WithSnapshotStore(store SnapshotStore) Option {
	return func(a *Aggregator) {
		if store != nil {
			a.store = store
		}
	}
}

func WithStaleness(bound time.Duration) Option {
	return func(a *Aggregator) {
		if bound > 0 {
			a.staleness = bound
		}
	}
}

func WithObserver(observer core.Observer) Option {
	return func(a *Aggregator) {
		a.observer = observer
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

type Aggregator struct {
	store     SnapshotStore
	staleness time.Duration
	observer  core.Observer
	now       func() time.Time
}

func NewAggregator(opts ...Option) *Aggregator {
	aggregator := &Aggregator{
		store:     NewMemorySnapshotStore(),
		staleness: DefaultStaleness,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(aggregator)
		}
	}
	return aggregator
}

// FetchAll queries every provider concurrently. A failing provider never
// cancels or delays the others.
func (a *Aggregator) FetchAll(ctx context.Context, providers []core.BalanceProvider) Report {
	startedAt := time.Now()
	report := Report{Results: map[string]core.Balance{}, Errors: []core.ProviderError{}}

	var (
		group errgroup.Group
		mu    sync.Mutex
	)
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		group.Go(func() error {
			balance, err := a.Fetch(ctx, provider)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors = append(report.Errors, core.ProviderError{
					ProviderID: provider.ID(),
					Kind:       core.ErrorKind(err),
					Message:    err.Error(),
				})
			}
			if err == nil || balance.Stale {
				report.Results[provider.ID()] = balance
			}
			return nil
		})
	}
	_ = group.Wait()

	sort.Slice(report.Errors, func(i, j int) bool {
		return report.Errors[i].ProviderID < report.Errors[j].ProviderID
	})
	report.Success = len(report.Results) > 0
	a.observer.ObserveOperation(ctx, startedAt, "balance_fetch_all", nil, map[string]any{
		"providers": len(providers),
		"results":   len(report.Results),
		"errors":    len(report.Errors),
	})
	return report
}

// Fetch queries one provider. When the provider keeps a last good balance
// and the live query fails, a snapshot within the staleness bound is
// returned with Stale set alongside the original error.
func (a *Aggregator) Fetch(ctx context.Context, provider core.BalanceProvider) (balance core.Balance, err error) {
	if provider == nil {
		return core.Balance{}, core.NewPermanentRequestError("", "provider", "balance provider is required")
	}
	providerID := strings.TrimSpace(provider.ID())
	startedAt := time.Now()
	defer func() {
		a.observer.ObserveOperation(ctx, startedAt, "balance_fetch", err, map[string]any{
			"provider_id": providerID,
			"stale":       balance.Stale,
		})
	}()

	balance, err = a.fetchLive(ctx, provider)
	cacheable := cachesLastGood(provider)
	if err == nil {
		balance = a.finalize(providerID, balance)
		if cacheable {
			if saveErr := a.store.SaveSnapshot(ctx, balance); saveErr != nil {
				a.observer.Warn(ctx, "balance snapshot not saved", map[string]any{
					"provider_id": providerID,
					"error":       saveErr.Error(),
				})
			}
		}
		return balance, nil
	}
	if !cacheable {
		return core.Balance{}, err
	}

	snapshot, ok, loadErr := a.store.LatestSnapshot(ctx, providerID)
	if loadErr != nil {
		a.observer.Warn(ctx, "balance snapshot not loaded", map[string]any{
			"provider_id": providerID,
			"error":       loadErr.Error(),
		})
		return core.Balance{}, err
	}
	if !ok || a.now().UTC().Sub(snapshot.FetchedAt) > a.staleness {
		return core.Balance{}, err
	}
	snapshot.Stale = true
	return snapshot, err
}

// fetchLive turns a panicking provider into an internal error so the rest
// of the fan-out still completes.
func (a *Aggregator) fetchLive(ctx context.Context, provider core.BalanceProvider) (balance core.Balance, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			a.observer.Error(ctx, "balance provider panicked", map[string]any{
				"provider_id": provider.ID(),
				"panic":       fmt.Sprint(recovered),
			})
			balance = core.Balance{}
			err = core.WrapProviderError(fmt.Errorf("panic: %v", recovered), provider.ID(), core.ErrorInternal, "balance provider panicked")
		}
	}()
	return provider.FetchBalance(ctx)
}

func (a *Aggregator) finalize(providerID string, balance core.Balance) core.Balance {
	if strings.TrimSpace(balance.ProviderID) == "" {
		balance.ProviderID = providerID
	}
	if balance.FetchedAt.IsZero() {
		balance.FetchedAt = a.now().UTC()
	}
	balance.Stale = false
	return balance.WithTotals()
}

func cachesLastGood(provider core.BalanceProvider) bool {
	policy, ok := provider.(core.BalanceCachePolicy)
	return ok && policy.CachesLastGoodBalance()
}
