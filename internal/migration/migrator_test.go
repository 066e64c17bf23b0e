package migration

import (
	"context"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldlite/credvault/internal/cipher"
	"github.com/fieldlite/credvault/internal/health"
	"github.com/fieldlite/credvault/internal/store"
	"github.com/fieldlite/credvault/pkg/schema"
)

const testSecret = "migration-test-secret"

// fakeStore is an in-memory store.Store for migrator tests.
type fakeStore struct {
	mu     sync.Mutex
	creds  map[string]*store.TenantCredential
	events []*store.MigrationEvent

	markErr map[string]error // credential ID -> forced MarkMigrated error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		creds:   make(map[string]*store.TenantCredential),
		markErr: make(map[string]error),
	}
}

func (f *fakeStore) CreateCredential(_ context.Context, cred *store.TenantCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *cred
	f.creds[cred.ID] = &cp
	return nil
}

func (f *fakeStore) GetCredential(_ context.Context, id string) (*store.TenantCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "credential %q not found", id)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) GetActiveCredential(_ context.Context, tenantID string) (*store.TenantCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.creds {
		if c.TenantID == tenantID && c.IsActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "active credential for tenant %q not found", tenantID)
}

func (f *fakeStore) ListCredentials(_ context.Context, tenantID string) ([]*store.TenantCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.TenantCredential
	for _, c := range f.creds {
		if c.TenantID == tenantID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateCredential(_ context.Context, cred *store.TenantCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.creds[cred.ID]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "credential %q not found", cred.ID)
	}
	cp := *cred
	f.creds[cred.ID] = &cp
	return nil
}

func (f *fakeStore) ListPendingMigration(_ context.Context, tenantID string) ([]*store.TenantCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.TenantCredential
	for _, c := range f.creds {
		if c.TenantID == tenantID && c.EncryptionVersion != schema.VersionCurrent {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ListTenantsPendingMigration(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, c := range f.creds {
		if c.EncryptionVersion != schema.VersionCurrent {
			if _, ok := seen[c.TenantID]; !ok {
				seen[c.TenantID] = struct{}{}
				out = append(out, c.TenantID)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStore) MarkMigrated(_ context.Context, id, newToken string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.markErr[id]; ok {
		return err
	}
	c, ok := f.creds[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "credential %q not found", id)
	}
	c.AuthToken = newToken
	c.EncryptionVersion = schema.VersionCurrent
	c.LastMigration = &at
	return nil
}

func (f *fakeStore) TenantStatuses(context.Context) ([]schema.TenantStatus, error) {
	return nil, nil
}

func (f *fakeStore) AppendMigrationEvent(_ context.Context, event *store.MigrationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *event
	cp.Sequence = int64(len(f.events) + 1)
	f.events = append(f.events, &cp)
	return nil
}

func (f *fakeStore) MigrationEvents(_ context.Context, tenantID string, since int64) ([]*store.MigrationEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.MigrationEvent
	for _, ev := range f.events {
		if ev.TenantID == tenantID && ev.Sequence > since {
			out = append(out, ev)
		}
	}
	return out, nil
}

func testCipher(t *testing.T) *cipher.Cipher {
	t.Helper()
	c, err := cipher.New(cipher.Config{
		AppSecret:  testSecret,
		Iterations: 1000,
		Counters:   health.NewCounters(),
	})
	require.NoError(t, err)
	return c
}

// legacyEncrypt reproduces a ciphertext written under the legacy SHA-256
// key derivation.
func legacyEncrypt(t *testing.T, plaintext, salt string) string {
	t.Helper()
	sum := sha256.Sum256([]byte(testSecret + salt))
	block, err := aes.NewCipher(sum[:])
	require.NoError(t, err)
	aead, err := stdcipher.NewGCM(block)
	require.NoError(t, err)

	nonce := make([]byte, aead.NonceSize())
	_, err = rand.Read(nonce)
	require.NoError(t, err)

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	tagStart := len(sealed) - aead.Overhead()
	return hex.EncodeToString(nonce) + ":" +
		hex.EncodeToString(sealed[tagStart:]) + ":" +
		hex.EncodeToString(sealed[:tagStart])
}

func seedCredential(t *testing.T, fs *fakeStore, tenantID, token, version string) *store.TenantCredential {
	t.Helper()
	cred := &store.TenantCredential{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		AccountSID:        "AC" + tenantID,
		AuthToken:         token,
		EncryptionVersion: version,
		IsActive:          true,
	}
	require.NoError(t, fs.CreateCredential(context.Background(), cred))
	return cred
}

func testMigrator(t *testing.T, fs *fakeStore, production bool, fallback string) *Migrator {
	t.Helper()
	return NewMigrator(Config{
		Store:         fs,
		Cipher:        testCipher(t),
		Production:    production,
		FallbackToken: fallback,
	})
}

func TestResolveToken_Current(t *testing.T) {
	fs := newFakeStore()
	m := testMigrator(t, fs, true, "")
	ctx := context.Background()

	encrypted, err := m.cipher.Encrypt("the-token", "ACtenant-1")
	require.NoError(t, err)
	seedCredential(t, fs, "tenant-1", encrypted, schema.VersionCurrent)

	token, err := m.ResolveToken(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "the-token", token)

	// Already current: no self-heal, no audit events.
	assert.Empty(t, fs.events)
}

func TestResolveToken_LegacySelfHeals(t *testing.T) {
	fs := newFakeStore()
	m := testMigrator(t, fs, true, "")
	ctx := context.Background()

	cred := seedCredential(t, fs, "tenant-1", legacyEncrypt(t, "old-token", "ACtenant-1"), "")

	token, err := m.ResolveToken(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "old-token", token)

	// Record was upgraded in place.
	upgraded, err := fs.GetCredential(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.VersionCurrent, upgraded.EncryptionVersion)
	require.NotNil(t, upgraded.LastMigration)
	assert.True(t, cipher.IsEncrypted(upgraded.AuthToken))
	assert.NotEqual(t, cred.AuthToken, upgraded.AuthToken)

	require.Len(t, fs.events, 1)
	assert.Equal(t, store.EventSelfHeal, fs.events[0].EventType)
	assert.Equal(t, store.OutcomeMigrated, fs.events[0].Outcome)
	assert.True(t, fs.events[0].WasLegacy)

	// The upgraded value resolves again with the same salt.
	token, err = m.ResolveToken(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "old-token", token)
}

func TestResolveToken_PlaintextSelfHeals(t *testing.T) {
	fs := newFakeStore()
	m := testMigrator(t, fs, true, "")
	ctx := context.Background()

	cred := seedCredential(t, fs, "tenant-1", "abc123rawtoken", "")

	token, err := m.ResolveToken(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "abc123rawtoken", token)

	upgraded, err := fs.GetCredential(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.VersionCurrent, upgraded.EncryptionVersion)
	assert.True(t, cipher.IsEncrypted(upgraded.AuthToken))

	require.Len(t, fs.events, 1)
	assert.False(t, fs.events[0].WasLegacy)
}

func TestResolveToken_SelfHealPersistFailureStillResolves(t *testing.T) {
	fs := newFakeStore()
	m := testMigrator(t, fs, true, "")
	ctx := context.Background()

	cred := seedCredential(t, fs, "tenant-1", "abc123rawtoken", "")
	fs.markErr[cred.ID] = schema.NewError(schema.ErrCodeStore, "disk full")

	// The token is still returned; the failed heal is audited.
	token, err := m.ResolveToken(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "abc123rawtoken", token)

	require.Len(t, fs.events, 1)
	assert.Equal(t, store.OutcomeFailed, fs.events[0].Outcome)
}

func TestResolveToken_DecryptFailureFailsClosedInProduction(t *testing.T) {
	fs := newFakeStore()
	m := testMigrator(t, fs, true, "env-override-token")
	ctx := context.Background()

	// Encrypted under a different salt: structurally valid, undecryptable.
	other := testCipher(t)
	bad, err := other.Encrypt("token", "wrong-salt")
	require.NoError(t, err)
	seedCredential(t, fs, "tenant-1", bad, schema.VersionCurrent)

	_, err = m.ResolveToken(ctx, "tenant-1")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeIntegrity, schema.CodeOf(err))
	// The error shown to callers carries no cryptographic detail.
	assert.NotContains(t, err.Error(), "gcm")
}

func TestResolveToken_FallbackOutsideProduction(t *testing.T) {
	fs := newFakeStore()
	m := testMigrator(t, fs, false, "env-override-token")
	ctx := context.Background()

	other := testCipher(t)
	bad, err := other.Encrypt("token", "wrong-salt")
	require.NoError(t, err)
	seedCredential(t, fs, "tenant-1", bad, schema.VersionCurrent)

	token, err := m.ResolveToken(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "env-override-token", token)
}

func TestResolveToken_NoCredential(t *testing.T) {
	fs := newFakeStore()
	m := testMigrator(t, fs, true, "")

	_, err := m.ResolveToken(context.Background(), "tenant-1")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestForceMigration_MixedBatch(t *testing.T) {
	fs := newFakeStore()
	m := testMigrator(t, fs, true, "")
	ctx := context.Background()

	legacy := seedCredential(t, fs, "tenant-1", legacyEncrypt(t, "legacy-token", "ACtenant-1"), "")
	plain := seedCredential(t, fs, "tenant-1", "raw-token", "")

	// Encrypted under a different app secret: classifies as encrypted but
	// cannot decrypt. Must fail on its own without aborting the batch.
	corruptCipher, err := cipher.New(cipher.Config{AppSecret: "other-secret", Iterations: 1000})
	require.NoError(t, err)
	corruptToken, err := corruptCipher.Encrypt("x", "ACtenant-1")
	require.NoError(t, err)
	corrupt := seedCredential(t, fs, "tenant-1", corruptToken, "")

	// Already current: must be skipped entirely.
	current, err := m.cipher.Encrypt("current-token", "ACtenant-1")
	require.NoError(t, err)
	seedCredential(t, fs, "tenant-1", current, schema.VersionCurrent)

	result, err := m.ForceMigration(ctx, "tenant-1")
	require.NoError(t, err)

	assert.Equal(t, 2, result.MigratedCount)
	require.Len(t, result.Details, 3)

	byID := make(map[string]schema.MigrationDetail)
	for _, d := range result.Details {
		byID[d.CredentialID] = d
	}
	assert.Equal(t, store.OutcomeMigrated, byID[legacy.ID].Status)
	assert.True(t, byID[legacy.ID].WasLegacy)
	assert.Equal(t, store.OutcomeMigrated, byID[plain.ID].Status)
	assert.False(t, byID[plain.ID].WasLegacy)
	assert.Equal(t, store.OutcomeFailed, byID[corrupt.ID].Status)
	assert.NotEmpty(t, byID[corrupt.ID].Error)

	// Migrated records decrypt under the current scheme.
	got, err := fs.GetCredential(ctx, legacy.ID)
	require.NoError(t, err)
	pt, err := m.cipher.Decrypt(got.AuthToken, "ACtenant-1")
	require.NoError(t, err)
	assert.Equal(t, "legacy-token", pt)

	// One audit event per processed record.
	events, err := fs.MigrationEvents(ctx, "tenant-1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, store.EventForceMigration, ev.EventType)
	}
}

func TestForceMigration_NothingPending(t *testing.T) {
	fs := newFakeStore()
	m := testMigrator(t, fs, true, "")

	result, err := m.ForceMigration(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.MigratedCount)
	assert.Empty(t, result.Details)
}
