package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/nestorgt/go-settlement/core"
	"github.com/shopspring/decimal"
)

type stubSnapshotStore struct {
	mu        sync.Mutex
	snapshot  core.Balance
	found     bool
	getCalls  int
	saveCalls int
	getErr    error
}

func (s *stubSnapshotStore) LatestSnapshot(_ context.Context, _ string) (core.Balance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return core.Balance{}, false, s.getErr
	}
	return cloneBalance(s.snapshot), s.found, nil
}

func (s *stubSnapshotStore) SaveSnapshot(_ context.Context, snapshot core.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	s.snapshot = cloneBalance(snapshot)
	s.found = true
	return nil
}

func TestCachedSnapshotStore_MissFetchThenHit(t *testing.T) {
	base := &stubSnapshotStore{
		found: true,
		snapshot: core.Balance{
			ProviderID: "nexo",
			Totals:     map[string]decimal.Decimal{"USD": decimal.NewFromInt(900)},
			FetchedAt:  time.Now().UTC(),
		},
	}
	store, err := NewCachedSnapshotStore(base, newTestCacheService(t))
	if err != nil {
		t.Fatalf("new cached snapshot store: %v", err)
	}

	if _, _, err := store.LatestSnapshot(context.Background(), "nexo"); err != nil {
		t.Fatalf("first get: %v", err)
	}
	got, found, err := store.LatestSnapshot(context.Background(), "nexo")
	if err != nil || !found {
		t.Fatalf("second get: found=%v err=%v", found, err)
	}
	if base.getCalls != 1 {
		t.Fatalf("expected second get to be cache hit, base get calls=%d", base.getCalls)
	}
	if !got.Totals["USD"].Equal(decimal.NewFromInt(900)) {
		t.Fatalf("unexpected cached total %s", got.Totals["USD"])
	}

	got.Totals["USD"] = decimal.Zero
	again, _, _ := store.LatestSnapshot(context.Background(), "nexo")
	if !again.Totals["USD"].Equal(decimal.NewFromInt(900)) {
		t.Fatalf("cached value must not be mutated by callers")
	}
}

func TestCachedSnapshotStore_SaveEvicts(t *testing.T) {
	base := &stubSnapshotStore{}
	store, err := NewCachedSnapshotStore(base, newTestCacheService(t))
	if err != nil {
		t.Fatalf("new cached snapshot store: %v", err)
	}

	if _, found, err := store.LatestSnapshot(context.Background(), "nexo"); err != nil || found {
		t.Fatalf("expected cached miss, found=%v err=%v", found, err)
	}
	err = store.SaveSnapshot(context.Background(), core.Balance{
		ProviderID: "nexo",
		Totals:     map[string]decimal.Decimal{"USD": decimal.NewFromInt(5)},
	})
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	got, found, err := store.LatestSnapshot(context.Background(), "nexo")
	if err != nil || !found {
		t.Fatalf("get after save: found=%v err=%v", found, err)
	}
	if base.getCalls != 2 || !got.Totals["USD"].Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected refetch after save, calls=%d got=%+v", base.getCalls, got)
	}
}

func TestCachedSnapshotStore_PropagatesBaseErrors(t *testing.T) {
	failure := errors.New("database unavailable")
	store, err := NewCachedSnapshotStore(&stubSnapshotStore{getErr: failure}, newTestCacheService(t))
	if err != nil {
		t.Fatalf("new cached snapshot store: %v", err)
	}
	if _, _, err := store.LatestSnapshot(context.Background(), "nexo"); !errors.Is(err, failure) {
		t.Fatalf("expected base error propagation, got %v", err)
	}
}

func TestBalanceSnapshotCacheKey(t *testing.T) {
	key, err := BalanceSnapshotCacheKey(" nexo/eu ")
	if err != nil {
		t.Fatalf("build cache key: %v", err)
	}
	if key != "go-settlement::balance_snapshot::v1::nexo%2Feu" {
		t.Fatalf("unexpected cache key %q", key)
	}
	if _, err := BalanceSnapshotCacheKey(" "); err == nil {
		t.Fatalf("expected empty provider to be rejected")
	}
}

func newTestCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
