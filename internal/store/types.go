package store

import "time"

// TenantCredential is the persisted Twilio credential record for a tenant.
// AccountSID is a public identifier and doubles as the encryption salt;
// AuthToken holds either a serialized ciphertext or, for records not yet
// migrated, a raw plaintext token. EncryptionVersion is "v2" for values
// written by the current scheme and empty or another tag for older rows.
type TenantCredential struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	AccountSID        string     `json:"account_sid"`
	AuthToken         string     `json:"auth_token"`
	EncryptionVersion string     `json:"encryption_version,omitempty"`
	LastMigration     *time.Time `json:"last_migration,omitempty"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Migration audit event types.
const (
	EventSelfHeal       = "self_heal"
	EventForceMigration = "force_migration"
	EventSweep          = "sweep"
)

// Migration audit outcomes.
const (
	OutcomeMigrated = "migrated"
	OutcomeFailed   = "failed"
)

// MigrationEvent is an immutable audit entry for a re-encryption attempt.
// Sequence increases monotonically per tenant.
type MigrationEvent struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	CredentialID string    `json:"credential_id"`
	EventType    string    `json:"event_type"`
	Outcome      string    `json:"outcome"`
	Detail       string    `json:"detail,omitempty"`
	WasLegacy    bool      `json:"was_legacy"`
	Sequence     int64     `json:"sequence"`
	Timestamp    time.Time `json:"timestamp"`
}
