// Package migration drives credential format convergence: resolving tokens
// with opportunistic self-healing on read, bulk re-encryption per tenant,
// and a scheduled sweep that upgrades stragglers in the background.
package migration

import (
	"context"
	"log/slog"
	"time"

	"github.com/fieldlite/credvault/internal/cipher"
	"github.com/fieldlite/credvault/internal/logging"
	"github.com/fieldlite/credvault/internal/store"
	"github.com/fieldlite/credvault/pkg/schema"
)

// Config configures a Migrator.
type Config struct {
	Store  store.Store
	Cipher *cipher.Cipher
	Logger *slog.Logger

	// Production enables fail-closed behavior: a credential that cannot be
	// decrypted is a hard error, never substituted.
	Production bool
	// FallbackToken, when set and Production is false, is returned in place
	// of a credential that failed to decrypt. Operator escape hatch only.
	FallbackToken string
}

// Migrator owns the self-healing and bulk upgrade flows.
type Migrator struct {
	store         store.Store
	cipher        *cipher.Cipher
	logger        *slog.Logger
	production    bool
	fallbackToken string
}

// NewMigrator creates a Migrator.
func NewMigrator(cfg Config) *Migrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Migrator{
		store:         cfg.Store,
		cipher:        cfg.Cipher,
		logger:        cfg.Logger,
		production:    cfg.Production,
		fallbackToken: cfg.FallbackToken,
	}
}

// ResolveToken loads the tenant's active credential and returns the usable
// plaintext auth token. Stored values are classified once at the storage
// boundary; plaintext and legacy values are upgraded in place after the
// token is recovered (self-healing on read). An upgrade failure is logged
// but never fails the resolve: the caller already has a working token.
func (m *Migrator) ResolveToken(ctx context.Context, tenantID string) (string, error) {
	ctx = logging.WithIDs(ctx, tenantID, "", "resolve_token")
	log := logging.LogWith(ctx, m.logger)

	cred, err := m.store.GetActiveCredential(ctx, tenantID)
	if err != nil {
		return "", err
	}

	sc, err := cipher.ParseStored(cred.AuthToken, cred.EncryptionVersion)
	if err != nil {
		log.Error("stored credential is corrupt", slog.String("reason", err.Error()))
		return m.failOrFallback(log, err, tenantID)
	}

	switch sc.Format {
	case cipher.FormatPlaintext:
		// Supported but flagged state: the raw value is usable now and
		// queued for immediate upgrade.
		m.selfHeal(ctx, cred, log)
		return cred.AuthToken, nil

	case cipher.FormatLegacy:
		token, err := m.cipher.Decrypt(cred.AuthToken, cred.AccountSID)
		if err != nil {
			log.Error("legacy credential failed to decrypt", slog.String("reason", err.Error()))
			return m.failOrFallback(log, err, tenantID)
		}
		m.selfHeal(ctx, cred, log)
		return token, nil

	default: // FormatCurrent
		token, err := m.cipher.Decrypt(cred.AuthToken, cred.AccountSID)
		if err != nil {
			log.Error("credential failed to decrypt", slog.String("reason", err.Error()))
			return m.failOrFallback(log, err, tenantID)
		}
		return token, nil
	}
}

// failOrFallback applies the failure policy: fail closed in production,
// otherwise honor a configured operator override token.
func (m *Migrator) failOrFallback(log *slog.Logger, cause error, tenantID string) (string, error) {
	if !m.production && m.fallbackToken != "" {
		log.Warn("using operator fallback token after decrypt failure")
		return m.fallbackToken, nil
	}
	return "", schema.NewError(schema.ErrCodeIntegrity,
		"credential configuration error: reconfigure the tenant's Twilio credentials").
		WithTenant(tenantID).WithCause(cause)
}

// selfHeal re-encrypts a non-current credential under the current scheme
// and persists it. Best effort: errors are logged and audited, the caller's
// resolve proceeds with the already-recovered token. Concurrent heals of
// the same record are a benign race: both writes yield a valid ciphertext
// for the same plaintext.
func (m *Migrator) selfHeal(ctx context.Context, cred *store.TenantCredential, log *slog.Logger) {
	res, err := m.cipher.ReencryptWithEnhancedSecurity(cred.AuthToken, cred.AccountSID)
	if err != nil {
		log.Error("self-healing re-encryption failed", slog.String("reason", err.Error()))
		m.audit(ctx, cred, store.EventSelfHeal, store.OutcomeFailed, err.Error(), false)
		return
	}

	if err := m.store.MarkMigrated(ctx, cred.ID, res.NewEncrypted, time.Now().UTC()); err != nil {
		log.Error("persisting self-healed credential failed", slog.String("reason", err.Error()))
		m.audit(ctx, cred, store.EventSelfHeal, store.OutcomeFailed, err.Error(), res.WasLegacy)
		return
	}

	log.Info("credential upgraded to current encryption format",
		slog.Bool("was_legacy", res.WasLegacy))
	m.audit(ctx, cred, store.EventSelfHeal, store.OutcomeMigrated, "", res.WasLegacy)
}

// ForceMigration re-encrypts every credential of a tenant that is not
// already in the current format. Intended for elevated-privilege callers;
// authorization is enforced upstream. One corrupt record never aborts the
// batch: failures land in the detail list and the loop continues.
func (m *Migrator) ForceMigration(ctx context.Context, tenantID string) (*schema.MigrationResult, error) {
	return m.migrateTenant(ctx, tenantID, store.EventForceMigration)
}

func (m *Migrator) migrateTenant(ctx context.Context, tenantID, eventType string) (*schema.MigrationResult, error) {
	ctx = logging.WithIDs(ctx, tenantID, "", eventType)
	log := logging.LogWith(ctx, m.logger)

	pending, err := m.store.ListPendingMigration(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	result := &schema.MigrationResult{
		TenantID: tenantID,
		Details:  make([]schema.MigrationDetail, 0, len(pending)),
	}

	for _, cred := range pending {
		detail := schema.MigrationDetail{CredentialID: cred.ID}

		res, err := m.cipher.ReencryptWithEnhancedSecurity(cred.AuthToken, cred.AccountSID)
		if err == nil {
			err = m.store.MarkMigrated(ctx, cred.ID, res.NewEncrypted, time.Now().UTC())
		}
		if err != nil {
			detail.Status = store.OutcomeFailed
			detail.Error = err.Error()
			log.Error("credential migration failed",
				slog.String("credential_id", cred.ID), slog.String("reason", err.Error()))
			m.audit(ctx, cred, eventType, store.OutcomeFailed, err.Error(), false)
		} else {
			detail.Status = store.OutcomeMigrated
			detail.WasLegacy = res.WasLegacy
			result.MigratedCount++
			m.audit(ctx, cred, eventType, store.OutcomeMigrated, "", res.WasLegacy)
		}
		result.Details = append(result.Details, detail)
	}

	log.Info("tenant migration batch finished",
		slog.Int("pending", len(pending)), slog.Int("migrated", result.MigratedCount))
	return result, nil
}

func (m *Migrator) audit(ctx context.Context, cred *store.TenantCredential, eventType, outcome, detail string, wasLegacy bool) {
	err := m.store.AppendMigrationEvent(ctx, &store.MigrationEvent{
		TenantID:     cred.TenantID,
		CredentialID: cred.ID,
		EventType:    eventType,
		Outcome:      outcome,
		Detail:       detail,
		WasLegacy:    wasLegacy,
	})
	if err != nil {
		logging.LogWith(ctx, m.logger).Error("append migration audit event failed",
			slog.String("reason", err.Error()))
	}
}
