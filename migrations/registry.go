// Package migrations hands the embedded credential schema to a migration
// runner, one filesystem per SQL dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	credentials "github.com/goliatone/go-credentials"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	schemaRoot = "data/sql/migrations"
)

type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type Registration struct {
	SourceLabel       string
	ValidationTargets []string
	Filesystems       []FilesystemSpec
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

func WithDialectSourceLabel(label string) Option {
	return func(r *Registration) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			r.SourceLabel = trimmed
		}
	}
}

// WithValidationTargets limits registration to the named dialects.
func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		if next := normalizeDialects(targets); len(next) > 0 {
			r.ValidationTargets = next
		}
	}
}

// WithFilesystems replaces the embedded schema, e.g. with a host
// application's extended copy.
func WithFilesystems(filesystems ...FilesystemSpec) Option {
	return func(r *Registration) {
		copied := make([]FilesystemSpec, 0, len(filesystems))
		for _, spec := range filesystems {
			dialect := strings.ToLower(strings.TrimSpace(spec.Dialect))
			if dialect == "" || spec.FS == nil {
				continue
			}
			copied = append(copied, FilesystemSpec{Dialect: dialect, Path: spec.Path, FS: spec.FS})
		}
		if len(copied) > 0 {
			r.Filesystems = copied
		}
	}
}

// DialectForDriver maps a database/sql driver name to a schema dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "pgx", "pq":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: no schema for driver %q", driver)
	}
}

// Filesystems returns the postgres schema at the root of data/sql/migrations
// and the sqlite variant under its sqlite directory. Each must hold at least
// one *.up.sql file.
func Filesystems(sources ...fs.FS) ([]FilesystemSpec, error) {
	root := credentials.GetCoreMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}
	base, basePath, err := locateSchema(root)
	if err != nil {
		return nil, err
	}
	sqliteFS, err := fs.Sub(base, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}
	sqlitePath := DialectSQLite
	if basePath != "." {
		sqlitePath = basePath + "/" + DialectSQLite
	}

	specs := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: basePath, FS: base},
		{Dialect: DialectSQLite, Path: sqlitePath, FS: sqliteFS},
	}
	for _, spec := range specs {
		matches, err := fs.Glob(spec.FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: glob %s %s: %w", spec.Dialect, spec.Path, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", spec.Dialect, spec.Path)
		}
	}
	return specs, nil
}

// Register calls registerFn once for every filesystem whose dialect is a
// validation target.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel:       "go-credentials",
		ValidationTargets: []string{DialectPostgres, DialectSQLite},
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}
	filesystems, err := Filesystems()
	if err != nil {
		return reg, err
	}
	reg.Filesystems = filesystems
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	if strings.TrimSpace(reg.SourceLabel) == "" {
		return reg, fmt.Errorf("migrations: source label is required")
	}

	for _, spec := range reg.Filesystems {
		if !slices.Contains(reg.ValidationTargets, spec.Dialect) {
			continue
		}
		if err := registerFn(ctx, spec.Dialect, reg.SourceLabel, spec.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", spec.Dialect, spec.Path, err)
		}
	}
	return reg, nil
}

// Apply registers the schema of a single dialect with register and then runs
// migrate.
func Apply(ctx context.Context, dialect string, register func(fs.FS), migrate func(context.Context) error) error {
	if register == nil || migrate == nil {
		return fmt.Errorf("migrations: register and migrate functions are required")
	}
	dialect = strings.ToLower(strings.TrimSpace(dialect))
	registered := 0
	_, err := Register(ctx, func(_ context.Context, target string, _ string, fsys fs.FS) error {
		if target != dialect {
			return nil
		}
		register(fsys)
		registered++
		return nil
	}, WithValidationTargets(dialect))
	if err != nil {
		return err
	}
	if registered == 0 {
		return fmt.Errorf("migrations: no schema registered for dialect %q", dialect)
	}
	if err := migrate(ctx); err != nil {
		return fmt.Errorf("migrations: migrate %s: %w", dialect, err)
	}
	return nil
}

func locateSchema(root fs.FS) (fs.FS, string, error) {
	sub, err := fs.Sub(root, schemaRoot)
	if err == nil {
		if _, statErr := fs.Stat(sub, "."); statErr == nil {
			return sub, schemaRoot, nil
		}
	}
	if matches, globErr := fs.Glob(root, "*.sql"); globErr == nil && len(matches) > 0 {
		return root, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: %s not found", schemaRoot)
}

func normalizeDialects(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.ToLower(strings.TrimSpace(value))
		if trimmed == "" || slices.Contains(out, trimmed) {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
