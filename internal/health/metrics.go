package health

import (
	"sync/atomic"

	"github.com/fieldlite/credvault/pkg/schema"
)

// Counters is the shared mutable state fed by every cipher operation.
// It is an explicitly-owned, injected object rather than package-level
// globals so tests can reset it and hosts can scope it as they see fit.
// All fields are atomic; counts are monotone between resets and
// advisory-accurate under concurrency.
type Counters struct {
	EncryptionAttempts  atomic.Int64
	EncryptionSuccesses atomic.Int64
	EncryptionFailures  atomic.Int64

	DecryptionAttempts  atomic.Int64
	DecryptionSuccesses atomic.Int64
	DecryptionFailures  atomic.Int64

	// FallbackDecryptions counts decrypts that only succeeded with the
	// secondary (legacy) key derivation.
	FallbackDecryptions atomic.Int64

	// SelfHealingReencryptions counts successful upgrade re-encryptions.
	SelfHealingReencryptions atomic.Int64

	// Method usage distribution.
	PlaintextUses atomic.Int64
	LegacyUses    atomic.Int64
	PBKDF2Uses    atomic.Int64

	// Key-derivation cache behavior.
	CacheHits   atomic.Int64
	CacheMisses atomic.Int64
}

// NewCounters returns a zeroed Counters instance.
func NewCounters() *Counters {
	return &Counters{}
}

// RecordMethod increments the usage count for an encryption method label.
// Unknown labels are ignored.
func (c *Counters) RecordMethod(method string) {
	switch method {
	case schema.MethodPlaintext:
		c.PlaintextUses.Add(1)
	case schema.MethodLegacy:
		c.LegacyUses.Add(1)
	case schema.MethodPBKDF2:
		c.PBKDF2Uses.Add(1)
	}
}

// Reset zeroes every counter. Used by the reset_metrics maintenance action
// and between tests.
func (c *Counters) Reset() {
	c.EncryptionAttempts.Store(0)
	c.EncryptionSuccesses.Store(0)
	c.EncryptionFailures.Store(0)
	c.DecryptionAttempts.Store(0)
	c.DecryptionSuccesses.Store(0)
	c.DecryptionFailures.Store(0)
	c.FallbackDecryptions.Store(0)
	c.SelfHealingReencryptions.Store(0)
	c.PlaintextUses.Store(0)
	c.LegacyUses.Store(0)
	c.PBKDF2Uses.Store(0)
	c.CacheHits.Store(0)
	c.CacheMisses.Store(0)
}

// Snapshot is a point-in-time copy of the counters with derived
// percentages. Derived values are computed at read time, never stored.
type Snapshot struct {
	EncryptionAttempts  int64 `json:"encryption_attempts"`
	EncryptionSuccesses int64 `json:"encryption_successes"`
	EncryptionFailures  int64 `json:"encryption_failures"`

	DecryptionAttempts  int64 `json:"decryption_attempts"`
	DecryptionSuccesses int64 `json:"decryption_successes"`
	DecryptionFailures  int64 `json:"decryption_failures"`

	FallbackDecryptions      int64 `json:"fallback_decryptions"`
	SelfHealingReencryptions int64 `json:"self_healing_reencryptions"`

	MethodUsage map[string]int64 `json:"method_usage"`

	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
}

// Snapshot copies the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		EncryptionAttempts:  c.EncryptionAttempts.Load(),
		EncryptionSuccesses: c.EncryptionSuccesses.Load(),
		EncryptionFailures:  c.EncryptionFailures.Load(),

		DecryptionAttempts:  c.DecryptionAttempts.Load(),
		DecryptionSuccesses: c.DecryptionSuccesses.Load(),
		DecryptionFailures:  c.DecryptionFailures.Load(),

		FallbackDecryptions:      c.FallbackDecryptions.Load(),
		SelfHealingReencryptions: c.SelfHealingReencryptions.Load(),

		MethodUsage: map[string]int64{
			schema.MethodPlaintext: c.PlaintextUses.Load(),
			schema.MethodLegacy:    c.LegacyUses.Load(),
			schema.MethodPBKDF2:    c.PBKDF2Uses.Load(),
		},

		CacheHits:   c.CacheHits.Load(),
		CacheMisses: c.CacheMisses.Load(),
	}
}

// SuccessRate is the combined encrypt+decrypt success percentage.
// Defined as 100 when there have been no attempts.
func (s Snapshot) SuccessRate() float64 {
	attempts := s.EncryptionAttempts + s.DecryptionAttempts
	if attempts == 0 {
		return 100
	}
	successes := s.EncryptionSuccesses + s.DecryptionSuccesses
	return float64(successes) / float64(attempts) * 100
}

// CacheEfficiency is the key-derivation cache hit percentage.
// Defined as 100 when the cache has never been consulted.
func (s Snapshot) CacheEfficiency() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 100
	}
	return float64(s.CacheHits) / float64(total) * 100
}

// SecurityScore is a 0-100 indicator weighting method usage: current
// (pbkdf2) usage scores 100, legacy 40, plaintext 0. With no recorded
// usage the score is 100.
func (s Snapshot) SecurityScore() float64 {
	p := s.MethodUsage[schema.MethodPBKDF2]
	l := s.MethodUsage[schema.MethodLegacy]
	t := s.MethodUsage[schema.MethodPlaintext]
	total := p + l + t
	if total == 0 {
		return 100
	}
	return (100*float64(p) + 40*float64(l)) / float64(total)
}
