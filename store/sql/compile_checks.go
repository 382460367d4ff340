package sqlstore

import (
	"github.com/nestorgt/go-settlement/balance"
	"github.com/nestorgt/go-settlement/core"
)

var (
	_ balance.SnapshotStore = (*BalanceSnapshotStore)(nil)
	_ balance.SnapshotStore = (*CachedSnapshotStore)(nil)
	_ core.TransferJournal  = (*TransferJournalStore)(nil)
	_ core.CredentialCache  = providerCredentialCache{}
)
