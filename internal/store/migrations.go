package store

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"

	"github.com/fieldlite/credvault/pkg/schema"
)

//go:embed migrations/001_initial_schema.sql
var initialSchema string

// schemaMigrations are applied in version order. Each entry runs inside a
// single transaction and is recorded in schema_version on commit.
var schemaMigrations = []struct {
	version int
	name    string
	script  string
}{
	{1, "initial_schema", initialSchema},
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return schema.NewError(schema.ErrCodeStore, "create schema_version table").WithCause(err)
	}

	var applied int
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&applied); err != nil {
		return schema.NewError(schema.ErrCodeStore, "read applied schema version").WithCause(err)
	}

	for _, m := range schemaMigrations {
		if m.version <= applied {
			continue
		}
		if err := applyMigration(ctx, db, m.version, m.name, m.script); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, version int, name, script string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "begin migration %d", version).WithCause(err)
	}
	defer tx.Rollback()

	for _, stmt := range sqlStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore,
				"apply migration %d (%s)", version, name).WithCause(err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, name) VALUES (?, ?)`, version, name); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "record migration %d", version).WithCause(err)
	}
	if err := tx.Commit(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "commit migration %d", version).WithCause(err)
	}
	return nil
}

// sqlStatements splits an embedded script on semicolons and drops blank or
// comment-only chunks. The embedded scripts never put semicolons inside
// string literals, so a plain split is enough.
func sqlStatements(script string) []string {
	var stmts []string
	for _, chunk := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(chunk); containsSQL(stmt) {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

func containsSQL(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return true
		}
	}
	return false
}
