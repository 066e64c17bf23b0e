package schema

import "time"

// HealthStatus is the overall verdict of a health report.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
)

// AlertLevel classifies the severity of a single alert.
type AlertLevel string

const (
	AlertCritical AlertLevel = "critical"
	AlertWarning  AlertLevel = "warning"
	AlertInfo     AlertLevel = "info"
)

// Encryption method labels as recorded in the metrics method distribution
// and in the tenant credential store's encryption_version column.
const (
	MethodPlaintext = "plaintext"
	MethodLegacy    = "legacy"
	MethodPBKDF2    = "pbkdf2"

	// VersionCurrent is the encryption_version tag written on every
	// successful (re-)encryption with the current scheme.
	VersionCurrent = "v2"
)

// Alert is a single rule that fired while evaluating a metrics snapshot.
// Rules are evaluated in a fixed order; multiple alerts may fire at once.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Message string     `json:"message"`
	Metric  string     `json:"metric"`
	Value   float64    `json:"value"`
}

// Scores are the derived percentages of a health report.
type Scores struct {
	Overall         float64 `json:"overall"`
	SuccessRate     float64 `json:"success_rate"`
	CacheEfficiency float64 `json:"cache_efficiency"`
}

// TenantStatus summarizes the encryption state of one tenant's credentials.
type TenantStatus struct {
	TenantID          string     `json:"tenant_id"`
	CredentialCount   int        `json:"credential_count"`
	CurrentCount      int        `json:"current_count"`
	LegacyCount       int        `json:"legacy_count"`
	PlaintextCount    int        `json:"plaintext_count"`
	MigrationRequired bool       `json:"migration_required"`
	LastMigration     *time.Time `json:"last_migration,omitempty"`
}

// Trends groups metric names by their observed direction.
type Trends struct {
	Improving []string `json:"improving"`
	Degrading []string `json:"degrading"`
	Stable    []string `json:"stable"`
}

// HealthReport is the admin endpoint payload: a point-in-time view of the
// credential subsystem assembled from the process-wide counters and the
// tenant credential store.
type HealthReport struct {
	Status          HealthStatus   `json:"status"`
	GeneratedAt     time.Time      `json:"generated_at"`
	Metrics         map[string]any `json:"metrics"`
	Scores          Scores         `json:"scores"`
	Alerts          []Alert        `json:"alerts"`
	Recommendations []string       `json:"recommendations"`
	TenantStatus    []TenantStatus `json:"tenant_status"`
	Trends          Trends         `json:"trends"`
}

// Maintenance action discriminators accepted by the admin API.
const (
	ActionClearCache     = "clear_cache"
	ActionResetMetrics   = "reset_metrics"
	ActionForceMigration = "force_migration"
)

// MaintenanceRequest is the admin maintenance action payload.
type MaintenanceRequest struct {
	Action   string `json:"action"`
	TenantID string `json:"tenant_id,omitempty"`
}

// MaintenanceResult reports the outcome of a maintenance action.
type MaintenanceResult struct {
	Action    string           `json:"action"`
	OK        bool             `json:"ok"`
	Message   string           `json:"message"`
	Migration *MigrationResult `json:"migration,omitempty"`
}

// MigrationResult aggregates a bulk re-encryption run for one tenant.
// MigratedCount reflects true successes only; failed records appear in
// Details with their error message.
type MigrationResult struct {
	TenantID      string            `json:"tenant_id"`
	MigratedCount int               `json:"migrated_count"`
	Details       []MigrationDetail `json:"details"`
}

// MigrationDetail is the per-record outcome of a migration batch.
type MigrationDetail struct {
	CredentialID string `json:"credential_id"`
	Status       string `json:"status"` // "migrated" | "failed"
	WasLegacy    bool   `json:"was_legacy"`
	Error        string `json:"error,omitempty"`
}
