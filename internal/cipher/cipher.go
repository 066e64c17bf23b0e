// Package cipher implements versioned authenticated encryption for tenant
// credentials. Values are encrypted with AES-256-GCM under a key derived
// from a fixed application secret and a per-tenant salt, and serialized as
// hex(iv):hex(tag):hex(ciphertext). Legacy ciphertexts (same wire shape,
// older key derivation) remain decryptable and are upgraded in place by
// the self-healing re-encryption path.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/fieldlite/credvault/internal/health"
	"github.com/fieldlite/credvault/pkg/schema"
)

const (
	defaultIterations = 100_000
	keyLen            = 32
	saltPrefix        = "credvault:"
)

// Config configures a Cipher.
type Config struct {
	// AppSecret is the fixed application-wide secret all tenant keys are
	// derived from. Changing it invalidates every stored ciphertext.
	AppSecret string
	// Iterations is the PBKDF2 iteration count (default 100_000).
	Iterations int
	Counters   *health.Counters
	Logger     *slog.Logger
}

// Cipher performs tenant-scoped authenticated encryption.
// Safe for concurrent use; derived keys are cached per (mode, salt).
type Cipher struct {
	secret     string
	iterations int
	counters   *health.Counters
	logger     *slog.Logger

	mu       sync.RWMutex
	keyCache map[string][]byte
}

// ReencryptResult is the outcome of a self-healing upgrade.
type ReencryptResult struct {
	NewEncrypted string
	// WasLegacy is true when the input was an encrypted value (as opposed
	// to raw plaintext). Feeds audit logging and the method distribution.
	WasLegacy bool
}

// New creates a Cipher. AppSecret is required.
func New(cfg Config) (*Cipher, error) {
	if cfg.AppSecret == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "app secret is required")
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = defaultIterations
	}
	if cfg.Counters == nil {
		cfg.Counters = health.NewCounters()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cipher{
		secret:     cfg.AppSecret,
		iterations: cfg.Iterations,
		counters:   cfg.Counters,
		logger:     cfg.Logger,
		keyCache:   make(map[string][]byte),
	}, nil
}

// deriveKey returns the AES-256 key for a salt. mode selects the current
// PBKDF2 derivation or the legacy single-pass SHA-256 derivation kept for
// backward-compatible decryption. Identical (secret, salt, mode) inputs
// always derive the identical key, so no per-tenant key store is needed.
func (c *Cipher) deriveKey(salt, mode string) ([]byte, error) {
	cacheKey := mode + "\x00" + salt

	c.mu.RLock()
	key, ok := c.keyCache[cacheKey]
	c.mu.RUnlock()
	if ok {
		c.counters.CacheHits.Add(1)
		return key, nil
	}
	c.counters.CacheMisses.Add(1)

	switch mode {
	case schema.MethodPBKDF2:
		key = pbkdf2.Key([]byte(c.secret), []byte(saltPrefix+salt), c.iterations, keyLen, sha256.New)
	case schema.MethodLegacy:
		sum := sha256.Sum256([]byte(c.secret + salt))
		key = sum[:]
	default:
		return nil, schema.NewErrorf(schema.ErrCodeCipher, "unknown key derivation mode %q", mode)
	}

	c.mu.Lock()
	c.keyCache[cacheKey] = key
	c.mu.Unlock()
	return key, nil
}

// ClearKeyCache drops all cached derived keys. Derivation is deterministic,
// so this affects performance only.
func (c *Cipher) ClearKeyCache() {
	c.mu.Lock()
	c.keyCache = make(map[string][]byte)
	c.mu.Unlock()
}

func (c *Cipher) aead(salt, mode string) (stdcipher.AEAD, error) {
	key, err := c.deriveKey(salt, mode)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeCipher, "aes cipher").WithCause(err)
	}
	aead, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeCipher, "gcm").WithCause(err)
	}
	return aead, nil
}

// Encrypt encrypts a plaintext secret under the current scheme.
// A fresh random nonce is generated on every call; two encryptions of the
// same plaintext and salt never produce the same serialized value.
// Internal failures surface as a generic cipher error; the specific reason
// is logged, not returned.
func (c *Cipher) Encrypt(plaintext, salt string) (string, error) {
	c.counters.EncryptionAttempts.Add(1)

	out, err := c.encrypt(plaintext, salt)
	if err != nil {
		c.counters.EncryptionFailures.Add(1)
		c.logger.Error("encryption failed", slog.String("reason", err.Error()))
		return "", schema.NewError(schema.ErrCodeCipher, "failed to encrypt data")
	}

	c.counters.EncryptionSuccesses.Add(1)
	c.counters.RecordMethod(schema.MethodPBKDF2)
	return out, nil
}

func (c *Cipher) encrypt(plaintext, salt string) (string, error) {
	aead, err := c.aead(salt, schema.MethodPBKDF2)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", schema.NewError(schema.ErrCodeCipher, "generate nonce").WithCause(err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	tagStart := len(sealed) - aead.Overhead()
	ct, tag := sealed[:tagStart], sealed[tagStart:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt decrypts a stored value with the salt used at encryption time.
// A value that does not parse as an iv:tag:ciphertext hex triple is a
// format error, never treated as plaintext: classification is the caller's
// job via IsEncrypted or ParseStored before calling Decrypt.
//
// The current key derivation is tried first; on authentication failure the
// legacy derivation is tried, and a success there is counted as a fallback
// decryption. Failure of both is an integrity error: wrong key, tampering,
// or corrupted storage.
func (c *Cipher) Decrypt(stored, salt string) (string, error) {
	c.counters.DecryptionAttempts.Add(1)

	iv, tag, ct, ok := splitSegments(stored)
	if !ok {
		c.counters.DecryptionFailures.Add(1)
		return "", schema.NewError(schema.ErrCodeFormat,
			"stored value is not a valid iv:tag:ciphertext hex triple")
	}

	sealed := append(append([]byte{}, ct...), tag...)

	plaintext, err := c.open(iv, sealed, salt, schema.MethodPBKDF2)
	if err == nil {
		c.counters.DecryptionSuccesses.Add(1)
		c.counters.RecordMethod(schema.MethodPBKDF2)
		return plaintext, nil
	}

	plaintext, legacyErr := c.open(iv, sealed, salt, schema.MethodLegacy)
	if legacyErr == nil {
		c.counters.DecryptionSuccesses.Add(1)
		c.counters.FallbackDecryptions.Add(1)
		c.counters.RecordMethod(schema.MethodLegacy)
		return plaintext, nil
	}

	c.counters.DecryptionFailures.Add(1)
	c.logger.Error("decryption failed under both derivations",
		slog.String("pbkdf2_reason", err.Error()),
		slog.String("legacy_reason", legacyErr.Error()))
	return "", schema.NewError(schema.ErrCodeIntegrity,
		"authentication failed: wrong key or tampered ciphertext")
}

func (c *Cipher) open(nonce, sealed []byte, salt, mode string) (string, error) {
	aead, err := c.aead(salt, mode)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", schema.NewErrorf(schema.ErrCodeFormat,
			"iv must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeIntegrity, "gcm open").WithCause(err)
	}
	return string(plaintext), nil
}

// ReencryptWithEnhancedSecurity upgrades a stored value to the current
// scheme. Values classified as plaintext are encrypted directly; encrypted
// values must decrypt, and a decrypt failure propagates loudly rather than
// re-encrypting garbage over the tenant's only working credential.
func (c *Cipher) ReencryptWithEnhancedSecurity(stored, salt string) (ReencryptResult, error) {
	var plaintext string
	wasLegacy := IsEncrypted(stored)

	if wasLegacy {
		var err error
		plaintext, err = c.Decrypt(stored, salt)
		if err != nil {
			return ReencryptResult{}, err
		}
	} else {
		plaintext = stored
	}

	newEncrypted, err := c.Encrypt(plaintext, salt)
	if err != nil {
		return ReencryptResult{}, err
	}

	// Record the plaintext use only once the upgrade actually happened, so
	// a failed encrypt cannot inflate the count that forces critical status.
	if !wasLegacy {
		c.counters.RecordMethod(schema.MethodPlaintext)
	}
	c.counters.SelfHealingReencryptions.Add(1)
	return ReencryptResult{NewEncrypted: newEncrypted, WasLegacy: wasLegacy}, nil
}
