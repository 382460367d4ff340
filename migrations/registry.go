// Package migrations hands the embedded schema to a migration runner, one
// filesystem per SQL dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"sort"
	"strings"

	settlement "github.com/nestorgt/go-settlement"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	// SourceLabel identifies this schema to runners that track several.
	SourceLabel = "go-settlement"

	migrationsDir = "data/sql/migrations"
)

// Source is the migration set of one dialect. Versions lists the migration
// names without the .up.sql suffix, in apply order.
type Source struct {
	Dialect  string
	Path     string
	FS       fs.FS
	Versions []string
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*registerOptions)

type registerOptions struct {
	root     fs.FS
	dialects []string
}

// WithDialects limits registration to the named dialects.
func WithDialects(dialects ...string) Option {
	return func(o *registerOptions) {
		next := make([]string, 0, len(dialects))
		for _, dialect := range dialects {
			dialect = strings.ToLower(strings.TrimSpace(dialect))
			if dialect != "" && !slices.Contains(next, dialect) {
				next = append(next, dialect)
			}
		}
		if len(next) > 0 {
			o.dialects = next
		}
	}
}

// WithRoot replaces the embedded schema, mostly for tests.
func WithRoot(root fs.FS) Option {
	return func(o *registerOptions) {
		if root != nil {
			o.root = root
		}
	}
}

// Sources resolves the postgres schema at data/sql/migrations and the sqlite
// variant below it. Every up migration must have a matching down file.
func Sources(root fs.FS) ([]Source, error) {
	if root == nil {
		root = settlement.GetMigrationsFS()
	}
	layout := []struct {
		dialect string
		path    string
	}{
		{dialect: DialectPostgres, path: migrationsDir},
		{dialect: DialectSQLite, path: migrationsDir + "/sqlite"},
	}

	sources := make([]Source, 0, len(layout))
	for _, entry := range layout {
		sub, err := fs.Sub(root, entry.path)
		if err != nil {
			return nil, fmt.Errorf("migrations: resolve %s schema: %w", entry.dialect, err)
		}
		versions, err := pairedVersions(sub)
		if err != nil {
			return nil, fmt.Errorf("migrations: %s schema at %s: %w", entry.dialect, entry.path, err)
		}
		sources = append(sources, Source{
			Dialect:  entry.dialect,
			Path:     entry.path,
			FS:       sub,
			Versions: versions,
		})
	}
	return sources, nil
}

// Register passes each selected dialect's schema to registerFn and returns
// the sources it registered.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) ([]Source, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	options := registerOptions{dialects: []string{DialectPostgres, DialectSQLite}}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	sources, err := Sources(options.root)
	if err != nil {
		return nil, err
	}
	registered := make([]Source, 0, len(options.dialects))
	for _, source := range sources {
		if !slices.Contains(options.dialects, source.Dialect) {
			continue
		}
		if err := registerFn(ctx, source.Dialect, SourceLabel, source.FS); err != nil {
			return registered, fmt.Errorf("migrations: register %s: %w", source.Dialect, err)
		}
		registered = append(registered, source)
	}
	if len(registered) == 0 {
		return nil, fmt.Errorf("migrations: no schema for dialects %s", strings.Join(options.dialects, ", "))
	}
	return registered, nil
}

func pairedVersions(fsys fs.FS) ([]string, error) {
	ups, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("no *.up.sql files")
	}
	versions := make([]string, 0, len(ups))
	for _, up := range ups {
		version := strings.TrimSuffix(up, ".up.sql")
		if _, err := fs.Stat(fsys, version+".down.sql"); err != nil {
			return nil, fmt.Errorf("%s has no down migration", up)
		}
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions, nil
}
