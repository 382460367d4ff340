package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// modelHandlers wires a record keyed by a string uuid column named id.
// idField returns nil for a nil record.
func modelHandlers[T any](newRecord func() T, idField func(T) *string) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			id := idField(record)
			if id == nil {
				return uuid.Nil
			}
			return parseUUID(*id)
		},
		SetID: func(record T, value uuid.UUID) {
			if id := idField(record); id != nil {
				*id = value.String()
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record T) string {
			id := idField(record)
			if id == nil {
				return ""
			}
			return strings.TrimSpace(*id)
		},
	}
}

func credentialHandlers() repository.ModelHandlers[*credentialRecord] {
	return modelHandlers(
		func() *credentialRecord { return &credentialRecord{} },
		func(record *credentialRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func balanceSnapshotHandlers() repository.ModelHandlers[*balanceSnapshotRecord] {
	return modelHandlers(
		func() *balanceSnapshotRecord { return &balanceSnapshotRecord{} },
		func(record *balanceSnapshotRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func transferHandlers() repository.ModelHandlers[*transferRecord] {
	return modelHandlers(
		func() *transferRecord { return &transferRecord{} },
		func(record *transferRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
