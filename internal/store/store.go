package store

import (
	"context"
	"time"

	"github.com/fieldlite/credvault/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Credentials
	CreateCredential(ctx context.Context, cred *TenantCredential) error
	GetCredential(ctx context.Context, id string) (*TenantCredential, error)
	GetActiveCredential(ctx context.Context, tenantID string) (*TenantCredential, error)
	ListCredentials(ctx context.Context, tenantID string) ([]*TenantCredential, error)
	UpdateCredential(ctx context.Context, cred *TenantCredential) error

	// Migration bookkeeping
	ListPendingMigration(ctx context.Context, tenantID string) ([]*TenantCredential, error)
	ListTenantsPendingMigration(ctx context.Context) ([]string, error)
	MarkMigrated(ctx context.Context, id, newToken string, at time.Time) error

	// Reporting
	TenantStatuses(ctx context.Context) ([]schema.TenantStatus, error)

	// Audit (append-only)
	AppendMigrationEvent(ctx context.Context, event *MigrationEvent) error
	MigrationEvents(ctx context.Context, tenantID string, since int64) ([]*MigrationEvent, error)
}
