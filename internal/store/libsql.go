package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/fieldlite/credvault/internal/cipher"
	"github.com/fieldlite/credvault/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

const credentialColumns = `id, tenant_id, account_sid, auth_token, encryption_version, last_migration, is_active, created_at, updated_at`

// --- Credentials ---

func (s *LibSQLStore) CreateCredential(ctx context.Context, cred *TenantCredential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_credentials (`+credentialColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.ID, cred.TenantID, cred.AccountSID, cred.AuthToken,
		nullStr(cred.EncryptionVersion), nullTime(cred.LastMigration),
		boolInt(cred.IsActive), timeOrNow(cred.CreatedAt), timeOrNow(cred.UpdatedAt),
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "insert credential").WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetCredential(ctx context.Context, id string) (*TenantCredential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM tenant_credentials WHERE id = ?`, id)
	cred, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("credential", id)
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

func (s *LibSQLStore) GetActiveCredential(ctx context.Context, tenantID string) (*TenantCredential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM tenant_credentials
		 WHERE tenant_id = ? AND is_active = 1
		 ORDER BY updated_at DESC LIMIT 1`, tenantID)
	cred, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("active credential for tenant", tenantID)
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

func (s *LibSQLStore) ListCredentials(ctx context.Context, tenantID string) ([]*TenantCredential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM tenant_credentials
		 WHERE tenant_id = ? ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list credentials").WithCause(err)
	}
	defer rows.Close()
	return collectCredentials(rows)
}

func (s *LibSQLStore) UpdateCredential(ctx context.Context, cred *TenantCredential) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenant_credentials
		 SET account_sid = ?, auth_token = ?, encryption_version = ?,
		     last_migration = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		cred.AccountSID, cred.AuthToken, nullStr(cred.EncryptionVersion),
		nullTime(cred.LastMigration), boolInt(cred.IsActive), time.Now().UTC(),
		cred.ID,
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "update credential").WithCause(err)
	}
	return checkRowsAffected(res, "credential", cred.ID)
}

// --- Migration bookkeeping ---

func (s *LibSQLStore) ListPendingMigration(ctx context.Context, tenantID string) ([]*TenantCredential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM tenant_credentials
		 WHERE tenant_id = ? AND (encryption_version IS NULL OR encryption_version != ?)
		 ORDER BY created_at ASC`, tenantID, schema.VersionCurrent)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list pending migration").WithCause(err)
	}
	defer rows.Close()
	return collectCredentials(rows)
}

func (s *LibSQLStore) ListTenantsPendingMigration(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT tenant_id FROM tenant_credentials
		 WHERE encryption_version IS NULL OR encryption_version != ?
		 ORDER BY tenant_id ASC`, schema.VersionCurrent)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list tenants pending migration").WithCause(err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

func (s *LibSQLStore) MarkMigrated(ctx context.Context, id, newToken string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenant_credentials
		 SET auth_token = ?, encryption_version = ?, last_migration = ?, updated_at = ?
		 WHERE id = ?`,
		newToken, schema.VersionCurrent, at.UTC(), at.UTC(), id,
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "mark migrated").WithCause(err)
	}
	return checkRowsAffected(res, "credential", id)
}

// --- Reporting ---

// TenantStatuses classifies every credential through the storage-boundary
// parser and aggregates per-tenant counts. Classification lives in Go, not
// SQL: the legacy-vs-plaintext split depends on the hex-triple shape.
func (s *LibSQLStore) TenantStatuses(ctx context.Context) ([]schema.TenantStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, auth_token, encryption_version, last_migration
		 FROM tenant_credentials ORDER BY tenant_id ASC`)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "tenant statuses").WithCause(err)
	}
	defer rows.Close()

	var statuses []schema.TenantStatus
	var cur *schema.TenantStatus
	for rows.Next() {
		var (
			tenantID, token string
			version         sql.NullString
			lastMigration   sql.NullTime
		)
		if err := rows.Scan(&tenantID, &token, &version, &lastMigration); err != nil {
			return nil, err
		}
		if cur == nil || cur.TenantID != tenantID {
			statuses = append(statuses, schema.TenantStatus{TenantID: tenantID})
			cur = &statuses[len(statuses)-1]
		}
		cur.CredentialCount++

		sc, perr := cipher.ParseStored(token, version.String)
		switch {
		case perr != nil:
			// Tagged current but malformed: corrupted storage, still a
			// record that needs operator attention via migration.
			cur.LegacyCount++
		case sc.Format == cipher.FormatCurrent:
			cur.CurrentCount++
		case sc.Format == cipher.FormatLegacy:
			cur.LegacyCount++
		default:
			cur.PlaintextCount++
		}
		if lastMigration.Valid {
			t := lastMigration.Time
			if cur.LastMigration == nil || t.After(*cur.LastMigration) {
				cur.LastMigration = &t
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range statuses {
		statuses[i].MigrationRequired = statuses[i].LegacyCount > 0 || statuses[i].PlaintextCount > 0
	}
	return statuses, nil
}

// --- Scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*TenantCredential, error) {
	cred := &TenantCredential{}
	var (
		version       sql.NullString
		lastMigration sql.NullTime
		active        int
	)
	err := row.Scan(&cred.ID, &cred.TenantID, &cred.AccountSID, &cred.AuthToken,
		&version, &lastMigration, &active, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return nil, err
	}
	cred.EncryptionVersion = version.String
	if lastMigration.Valid {
		cred.LastMigration = &lastMigration.Time
	}
	cred.IsActive = active != 0
	return cred, nil
}

func collectCredentials(rows *sql.Rows) ([]*TenantCredential, error) {
	var creds []*TenantCredential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.CredError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
