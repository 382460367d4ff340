package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/nestorgt/go-settlement/core"
	"github.com/uptrace/bun"
)

// TransferJournalStore appends one row per transfer or exchange attempt.
type TransferJournalStore struct {
	db   *bun.DB
	repo repository.Repository[*transferRecord]
	now  func() time.Time
}

func NewTransferJournalStore(db *bun.DB) (*TransferJournalStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*transferRecord](db, transferHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid transfer repository wiring: %w", err)
		}
	}
	return &TransferJournalStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *TransferJournalStore) RecordTransfer(ctx context.Context, entry core.TransferEntry) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: transfer journal is not configured")
	}
	entry.RequestID = strings.TrimSpace(entry.RequestID)
	entry.ProviderID = strings.TrimSpace(entry.ProviderID)
	if entry.RequestID == "" || entry.ProviderID == "" {
		return fmt.Errorf("sqlstore: transfer entry requires provider and request ids")
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = s.now()
	}
	record := newTransferRecord(entry)
	record.ID = uuid.NewString()
	_, err := s.repo.Create(ctx, record)
	return err
}

// History returns every attempt made with requestID, oldest first.
func (s *TransferJournalStore) History(ctx context.Context, providerID string, requestID string) ([]core.TransferEntry, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: transfer journal is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider_id", "=", strings.TrimSpace(providerID)),
		repository.SelectBy("request_id", "=", strings.TrimSpace(requestID)),
		repository.OrderBy("recorded_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.TransferEntry, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// Unresolved lists the latest attempts still in unknown state, newest first.
// Operators retry these with the same request id.
func (s *TransferJournalStore) Unresolved(ctx context.Context, limit int) ([]core.TransferEntry, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: transfer journal is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("state", "=", string(core.TransferStateUnknown)),
		repository.OrderBy("recorded_at DESC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.TransferEntry, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
