package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/nestorgt/go-settlement/core"
	"github.com/uptrace/bun"
)

const defaultSnapshotRetention = 10

// BalanceSnapshotStore persists last good balances. Only the newest
// snapshots of each provider are retained.
type BalanceSnapshotStore struct {
	db        *bun.DB
	repo      repository.Repository[*balanceSnapshotRecord]
	retention int
	now       func() time.Time
}

func NewBalanceSnapshotStore(db *bun.DB) (*BalanceSnapshotStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*balanceSnapshotRecord](db, balanceSnapshotHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid balance snapshot repository wiring: %w", err)
		}
	}
	return &BalanceSnapshotStore{
		db:        db,
		repo:      repo,
		retention: defaultSnapshotRetention,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *BalanceSnapshotStore) SaveSnapshot(ctx context.Context, balance core.Balance) error {
	if s == nil || s.repo == nil || s.db == nil {
		return fmt.Errorf("sqlstore: balance snapshot store is not configured")
	}
	balance.ProviderID = strings.TrimSpace(balance.ProviderID)
	if balance.ProviderID == "" {
		return fmt.Errorf("sqlstore: snapshot provider id is required")
	}
	record := newBalanceSnapshotRecord(balance, s.now())
	record.ID = uuid.NewString()
	if _, err := s.repo.Create(ctx, record); err != nil {
		return err
	}
	return s.prune(ctx, balance.ProviderID)
}

func (s *BalanceSnapshotStore) LatestSnapshot(ctx context.Context, providerID string) (core.Balance, bool, error) {
	if s == nil || s.repo == nil {
		return core.Balance{}, false, fmt.Errorf("sqlstore: balance snapshot store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider_id", "=", strings.TrimSpace(providerID)),
		repository.OrderBy("fetched_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Balance{}, false, err
	}
	if len(records) == 0 {
		return core.Balance{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

func (s *BalanceSnapshotStore) prune(ctx context.Context, providerID string) error {
	if s.retention <= 0 {
		return nil
	}
	keep := s.db.NewSelect().
		Model((*balanceSnapshotRecord)(nil)).
		Column("id").
		Where("provider_id = ?", providerID).
		OrderExpr("fetched_at DESC").
		Limit(s.retention)
	_, err := s.db.NewDelete().
		Model((*balanceSnapshotRecord)(nil)).
		Where("provider_id = ?", providerID).
		Where("id NOT IN (?)", keep).
		Exec(ctx)
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
