package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	credentials "github.com/goliatone/go-credentials"
	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}

	var postgresFound bool
	var sqliteFound bool
	for _, entry := range filesystems {
		matches, globErr := fs.Glob(entry.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", entry.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", entry.Dialect)
		}
		switch entry.Dialect {
		case DialectPostgres:
			postgresFound = true
		case DialectSQLite:
			sqliteFound = true
		}
	}

	if !postgresFound {
		t.Fatalf("expected postgres filesystem")
	}
	if !sqliteFound {
		t.Fatalf("expected sqlite filesystem")
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	reg, err := Register(context.Background(), func(_ context.Context, dialect string, _ string, _ fs.FS) error {
		calls = append(calls, dialect)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 registration call, got %d", len(calls))
	}
	if calls[0] != DialectSQLite {
		t.Fatalf("expected sqlite registration, got %q", calls[0])
	}
	if reg.SourceLabel != "go-credentials" {
		t.Fatalf("expected default source label, got %q", reg.SourceLabel)
	}
}

func TestRegister_RequiresRegisterFunc(t *testing.T) {
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected missing register function to fail")
	}
}

func TestCoreSchemaMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := credentials.GetCoreMigrationsFS()
	paths := []string{
		"data/sql/migrations/00001_credentials_core_schema.up.sql",
		"data/sql/migrations/00001_credentials_core_schema.down.sql",
		"data/sql/migrations/sqlite/00001_credentials_core_schema.up.sql",
		"data/sql/migrations/sqlite/00001_credentials_core_schema.down.sql",
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

func TestSQLiteCoreSchemaMigration_ApplyAndRollback(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", "file:migrations-core-schema?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	sqliteMigrations, err := fs.Sub(credentials.GetCoreMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_credentials_core_schema.up.sql"); err != nil {
		t.Fatalf("apply core schema up: %v", err)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO credential_workspaces (id, display_name) VALUES (?, ?)`, "ws_1", "Acme"); err != nil {
		t.Fatalf("insert workspace: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO credential_workspaces (id, display_name) VALUES (?, ?)`, "ws_2", "Acme"); err == nil {
		t.Fatalf("expected duplicate display name to be rejected")
	}

	insertLink := `INSERT INTO credential_links (id, workspace_id, service_kind, payload) VALUES (?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insertLink, "l_1", "ws_1", "gmail", []byte("{}")); err != nil {
		t.Fatalf("insert link: %v", err)
	}
	if _, err := db.ExecContext(ctx, insertLink, "l_2", "ws_1", "gmail", []byte("{}")); err == nil {
		t.Fatalf("expected second link for the same kind to be rejected")
	}
	if _, err := db.ExecContext(ctx, insertLink, "l_3", "ws_1", "calendar", []byte("{}")); err == nil {
		t.Fatalf("expected unknown service kind to be rejected")
	}
	if _, err := db.ExecContext(ctx, insertLink, "l_4", "ws_missing", "drive", []byte("{}")); err == nil {
		t.Fatalf("expected link without workspace to be rejected")
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_credentials_core_schema.down.sql"); err != nil {
		t.Fatalf("apply core schema down: %v", err)
	}
	var count int
	if err := db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('credential_workspaces', 'credential_links')`,
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master after down migration: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected credential tables to be dropped, found %d", count)
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

func TestApply_RegistersOneDialectThenMigrates(t *testing.T) {
	var registered int
	migrated := false
	err := Apply(context.Background(), " SQLite ", func(fsys fs.FS) {
		if matches, _ := fs.Glob(fsys, "*.up.sql"); len(matches) > 0 {
			registered++
		}
	}, func(context.Context) error {
		if registered != 1 {
			t.Fatalf("expected schema registration before migrate, got %d", registered)
		}
		migrated = true
		return nil
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !migrated {
		t.Fatalf("expected migrate to run")
	}
}

func TestApply_RejectsUnknownDialect(t *testing.T) {
	err := Apply(context.Background(), "mysql", func(fs.FS) {}, func(context.Context) error {
		t.Fatalf("expected migrate to be skipped")
		return nil
	})
	if err == nil {
		t.Fatalf("expected unknown dialect to fail")
	}
}

func TestDialectForDriver(t *testing.T) {
	for driver, want := range map[string]string{
		"postgres": DialectPostgres,
		"pgx":      DialectPostgres,
		"sqlite3":  DialectSQLite,
	} {
		got, err := DialectForDriver(driver)
		if err != nil || got != want {
			t.Fatalf("DialectForDriver(%q) = %q, %v", driver, got, err)
		}
	}
	if _, err := DialectForDriver("oracle"); err == nil {
		t.Fatalf("expected unsupported driver to fail")
	}
}
