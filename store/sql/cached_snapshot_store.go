package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/nestorgt/go-settlement/balance"
	"github.com/nestorgt/go-settlement/core"
	"github.com/shopspring/decimal"
)

const balanceSnapshotCacheKeyPrefix = "go-settlement::balance_snapshot::v1"

// CachedSnapshotStore fronts a snapshot store with an in-process cache.
// Saves write through and evict the provider's entry.
type CachedSnapshotStore struct {
	base  balance.SnapshotStore
	cache repositorycache.CacheService
}

type cachedSnapshot struct {
	Balance core.Balance
	Found   bool
}

func NewCachedSnapshotStore(base balance.SnapshotStore, cacheService repositorycache.CacheService) (*CachedSnapshotStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base snapshot store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: snapshot cache service is required")
	}
	return &CachedSnapshotStore{base: base, cache: cacheService}, nil
}

// BalanceSnapshotCacheKey returns
// go-settlement::balance_snapshot::v1::<provider> with the provider id
// URL-path escaped.
func BalanceSnapshotCacheKey(providerID string) (string, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return "", fmt.Errorf("sqlstore: snapshot provider id is required")
	}
	return balanceSnapshotCacheKeyPrefix + "::" + url.PathEscape(providerID), nil
}

func (s *CachedSnapshotStore) LatestSnapshot(ctx context.Context, providerID string) (core.Balance, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Balance{}, false, fmt.Errorf("sqlstore: cached snapshot store is not configured")
	}
	cacheKey, err := BalanceSnapshotCacheKey(providerID)
	if err != nil {
		return core.Balance{}, false, err
	}
	entry, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedSnapshot, error) {
		snapshot, found, fetchErr := s.base.LatestSnapshot(ctx, strings.TrimSpace(providerID))
		if fetchErr != nil {
			return cachedSnapshot{}, fetchErr
		}
		return cachedSnapshot{Balance: cloneBalance(snapshot), Found: found}, nil
	})
	if err != nil {
		return core.Balance{}, false, err
	}
	return cloneBalance(entry.Balance), entry.Found, nil
}

func (s *CachedSnapshotStore) SaveSnapshot(ctx context.Context, snapshot core.Balance) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached snapshot store is not configured")
	}
	cacheKey, err := BalanceSnapshotCacheKey(snapshot.ProviderID)
	if err != nil {
		return err
	}
	if err := s.base.SaveSnapshot(ctx, snapshot); err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneBalance(in core.Balance) core.Balance {
	out := in
	out.Accounts = append([]core.AccountBalance(nil), in.Accounts...)
	if in.Totals != nil {
		out.Totals = make(map[string]decimal.Decimal, len(in.Totals))
		for currency, amount := range in.Totals {
			out.Totals[currency] = amount
		}
	}
	return out
}
