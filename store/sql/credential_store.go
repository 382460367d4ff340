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

// CredentialStore keeps the latest credential of each provider. It is the
// shared durable cache option for deployments running several engine
// processes against one database.
type CredentialStore struct {
	db   *bun.DB
	repo repository.Repository[*credentialRecord]
	now  func() time.Time
}

func NewCredentialStore(db *bun.DB) (*CredentialStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*credentialRecord](db, credentialHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid credential repository wiring: %w", err)
		}
	}
	return &CredentialStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Load returns the stored credential of providerID. A missing row is not
// an error.
func (s *CredentialStore) Load(ctx context.Context, providerID string) (core.Credential, bool, error) {
	if s == nil || s.repo == nil {
		return core.Credential{}, false, fmt.Errorf("sqlstore: credential store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider_id", "=", strings.TrimSpace(providerID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Credential{}, false, err
	}
	if len(records) == 0 {
		return core.Credential{}, false, nil
	}
	cred := records[0].toDomain()
	if cred.IsZero() {
		return core.Credential{}, false, nil
	}
	return cred, true, nil
}

// Save replaces the stored credential of cred.ProviderID.
func (s *CredentialStore) Save(ctx context.Context, cred core.Credential) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	providerID := strings.TrimSpace(cred.ProviderID)
	if providerID == "" {
		return fmt.Errorf("sqlstore: credential provider id is required")
	}
	now := s.now()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &credentialRecord{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.provider_id = ?", providerID).
			Limit(1).
			Scan(ctx)
		created := false
		switch {
		case isNoRows(err):
			created = true
			record = &credentialRecord{
				ID:         uuid.NewString(),
				ProviderID: providerID,
				CreatedAt:  now,
			}
		case err != nil:
			return err
		}
		record.AuthMethod = string(cred.AuthMethod)
		record.AccessToken = cred.AccessToken
		record.RefreshToken = cred.RefreshToken
		record.ExpiresAt = copyTimePointer(cred.ExpiresAt)
		record.UpdatedAt = now

		if created {
			_, err = tx.NewInsert().Model(record).Exec(ctx)
			return err
		}
		_, err = tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx)
		return err
	})
}

// ForProvider returns the broker facing cache bound to providerID.
func (s *CredentialStore) ForProvider(providerID string) core.CredentialCache {
	return providerCredentialCache{store: s, providerID: strings.TrimSpace(providerID)}
}

type providerCredentialCache struct {
	store      *CredentialStore
	providerID string
}

func (c providerCredentialCache) Load(ctx context.Context) (core.Credential, bool, error) {
	return c.store.Load(ctx, c.providerID)
}

func (c providerCredentialCache) Save(ctx context.Context, cred core.Credential) error {
	cred.ProviderID = c.providerID
	return c.store.Save(ctx, cred)
}
