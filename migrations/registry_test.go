package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
	settlement "github.com/nestorgt/go-settlement"
)

func TestSources_ResolvesBothDialects(t *testing.T) {
	sources, err := Sources(nil)
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	for _, source := range sources {
		if len(source.Versions) == 0 || source.Versions[0] != "00001_settlement_core" {
			t.Fatalf("unexpected %s versions %v", source.Dialect, source.Versions)
		}
		if _, err := fs.Stat(source.FS, source.Versions[0]+".up.sql"); err != nil {
			t.Fatalf("expected %s up migration: %v", source.Dialect, err)
		}
	}
	if sources[0].Dialect != DialectPostgres || sources[1].Dialect != DialectSQLite {
		t.Fatalf("unexpected dialect order %q, %q", sources[0].Dialect, sources[1].Dialect)
	}
}

func TestSources_RequiresDownMigration(t *testing.T) {
	root := fstest.MapFS{
		"data/sql/migrations/00001_core.up.sql":        {Data: []byte("CREATE TABLE a (id TEXT);")},
		"data/sql/migrations/00001_core.down.sql":      {Data: []byte("DROP TABLE a;")},
		"data/sql/migrations/sqlite/00001_core.up.sql": {Data: []byte("CREATE TABLE a (id TEXT);")},
	}
	if _, err := Sources(root); err == nil || !strings.Contains(err.Error(), "no down migration") {
		t.Fatalf("expected missing down migration error, got %v", err)
	}
}

func TestRegister_LimitsToSelectedDialects(t *testing.T) {
	var calls []string
	registered, err := Register(context.Background(), func(_ context.Context, dialect string, label string, _ fs.FS) error {
		if label != SourceLabel {
			t.Fatalf("unexpected source label %q", label)
		}
		calls = append(calls, dialect)
		return nil
	}, WithDialects(" SQLite "))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(calls) != 1 || calls[0] != DialectSQLite {
		t.Fatalf("expected one sqlite registration, got %v", calls)
	}
	if len(registered) != 1 || registered[0].Path != "data/sql/migrations/sqlite" {
		t.Fatalf("unexpected registered sources %+v", registered)
	}
}

func TestRegister_UnknownDialectFails(t *testing.T) {
	_, err := Register(context.Background(), func(context.Context, string, string, fs.FS) error { return nil }, WithDialects("mysql"))
	if err == nil {
		t.Fatalf("expected unknown dialect to fail")
	}
}

func TestRegister_RequiresRegisterFunc(t *testing.T) {
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected missing register func to fail")
	}
}

func TestCoreMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := settlement.GetMigrationsFS()
	paths := []string{
		"data/sql/migrations/00001_settlement_core.up.sql",
		"data/sql/migrations/00001_settlement_core.down.sql",
		"data/sql/migrations/sqlite/00001_settlement_core.up.sql",
		"data/sql/migrations/sqlite/00001_settlement_core.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestSQLiteCoreMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-settlement-core?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	sqliteMigrations, err := fs.Sub(settlement.GetMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	ctx := context.Background()
	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_settlement_core.up.sql"); err != nil {
		t.Fatalf("apply up migration: %v", err)
	}

	insertCredential := `INSERT INTO settlement_credentials (id, provider_id, auth_method, access_token) VALUES (?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insertCredential, "c1", "revolut", "jwt_mtls", "token-1"); err != nil {
		t.Fatalf("insert credential: %v", err)
	}
	if _, err := db.ExecContext(ctx, insertCredential, "c2", "revolut", "jwt_mtls", "token-2"); err == nil {
		t.Fatalf("expected one credential row per provider")
	}

	for _, table := range []string{"settlement_balance_snapshots", "settlement_transfers"} {
		var name string
		if err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name); err != nil {
			t.Fatalf("expected table %s: %v", table, err)
		}
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_settlement_core.down.sql"); err != nil {
		t.Fatalf("apply down migration: %v", err)
	}
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE 'settlement_%'").Scan(&count); err != nil {
		t.Fatalf("count tables: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback to drop every table, %d left", count)
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
