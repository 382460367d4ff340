package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds every store over one bun database.
type RepositoryFactory struct {
	db *bun.DB

	credentialStore *CredentialStore
	snapshotStore   *BalanceSnapshotStore
	journalStore    *TransferJournalStore
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	if client == nil {
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	}
	return NewRepositoryFactoryFromDB(client.DB())
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	factory := &RepositoryFactory{db: db}
	if err := factory.initStores(); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) CredentialStore() *CredentialStore {
	if f == nil {
		return nil
	}
	return f.credentialStore
}

func (f *RepositoryFactory) BalanceSnapshotStore() *BalanceSnapshotStore {
	if f == nil {
		return nil
	}
	return f.snapshotStore
}

func (f *RepositoryFactory) TransferJournalStore() *TransferJournalStore {
	if f == nil {
		return nil
	}
	return f.journalStore
}

func (f *RepositoryFactory) initStores() error {
	credentialStore, err := NewCredentialStore(f.db)
	if err != nil {
		return err
	}
	f.credentialStore = credentialStore
	snapshotStore, err := NewBalanceSnapshotStore(f.db)
	if err != nil {
		return err
	}
	f.snapshotStore = snapshotStore
	journalStore, err := NewTransferJournalStore(f.db)
	if err != nil {
		return err
	}
	f.journalStore = journalStore
	return nil
}
