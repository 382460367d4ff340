package balance

import (
	"context"
	"strings"
	"sync"

	"github.com/nestorgt/go-settlement/core"
	"github.com/shopspring/decimal"
)

// SnapshotStore keeps the last successful balance per provider.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, balance core.Balance) error
	LatestSnapshot(ctx context.Context, providerID string) (core.Balance, bool, error)
}

type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]core.Balance
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: map[string]core.Balance{}}
}

func (s *MemorySnapshotStore) SaveSnapshot(_ context.Context, balance core.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[strings.TrimSpace(balance.ProviderID)] = cloneBalance(balance)
	return nil
}

func (s *MemorySnapshotStore) LatestSnapshot(_ context.Context, providerID string) (core.Balance, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	balance, ok := s.snapshots[strings.TrimSpace(providerID)]
	if !ok {
		return core.Balance{}, false, nil
	}
	return cloneBalance(balance), true, nil
}

func cloneBalance(balance core.Balance) core.Balance {
	out := balance
	out.Accounts = append([]core.AccountBalance(nil), balance.Accounts...)
	if balance.Totals != nil {
		out.Totals = make(map[string]decimal.Decimal, len(balance.Totals))
		for currency, amount := range balance.Totals {
			out.Totals[currency] = amount
		}
	}
	return out
}

var _ SnapshotStore = (*MemorySnapshotStore)(nil)
