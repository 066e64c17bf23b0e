package cipher

import (
	"encoding/hex"
	"strings"

	"github.com/fieldlite/credvault/pkg/schema"
)

// Format tags the classification of a stored credential value.
type Format int

const (
	// FormatPlaintext is a raw, never-encrypted value.
	FormatPlaintext Format = iota
	// FormatLegacy is a well-formed ciphertext predating the current scheme.
	FormatLegacy
	// FormatCurrent is a ciphertext produced by the current scheme.
	FormatCurrent
)

func (f Format) String() string {
	switch f {
	case FormatLegacy:
		return schema.MethodLegacy
	case FormatCurrent:
		return schema.MethodPBKDF2
	default:
		return schema.MethodPlaintext
	}
}

// StoredCredential is the parsed form of a stored auth_token value.
// Encrypted forms carry the decoded wire segments; plaintext carries only Raw.
// It is produced by ParseStored, the single classification point at the
// storage boundary. Downstream code switches on Format instead of
// re-deriving shape checks.
type StoredCredential struct {
	Format     Format
	Raw        string
	IV         []byte
	AuthTag    []byte
	Ciphertext []byte
}

// splitSegments decodes a candidate iv:tag:ciphertext hex triple.
// Returns false if the shape or any hex segment is invalid. The iv and tag
// segments must be non-empty; the ciphertext segment may be empty, since
// GCM-sealing an empty plaintext yields only the tag.
func splitSegments(s string) (iv, tag, ct []byte, ok bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nil, nil, nil, false
	}
	var err error
	if iv, err = hex.DecodeString(parts[0]); err != nil || len(parts[0]) == 0 {
		return nil, nil, nil, false
	}
	if tag, err = hex.DecodeString(parts[1]); err != nil || len(parts[1]) == 0 {
		return nil, nil, nil, false
	}
	if ct, err = hex.DecodeString(parts[2]); err != nil {
		return nil, nil, nil, false
	}
	return iv, tag, ct, true
}

// IsEncrypted reports whether a stored value has the versioned encrypted
// shape: exactly three colon-delimited hex segments with non-empty iv and
// tag. This is a structural check only; a well-formed-but-wrong-key
// ciphertext is indistinguishable from a valid one until decryption
// verifies the tag.
func IsEncrypted(value string) bool {
	_, _, _, ok := splitSegments(value)
	return ok
}

// ParseStored classifies a stored value using its shape and the
// encryption_version tag persisted alongside it. A value tagged with the
// current version that does not parse as a hex triple is a hard format
// error, never plaintext: a v2 tag is a promise about shape, and a broken
// promise means corrupted storage.
func ParseStored(raw, versionTag string) (StoredCredential, error) {
	iv, tag, ct, ok := splitSegments(raw)
	if !ok {
		if versionTag == schema.VersionCurrent {
			return StoredCredential{}, schema.NewErrorf(schema.ErrCodeFormat,
				"value tagged %q does not parse as iv:tag:ciphertext", schema.VersionCurrent)
		}
		return StoredCredential{Format: FormatPlaintext, Raw: raw}, nil
	}

	f := FormatLegacy
	if versionTag == schema.VersionCurrent {
		f = FormatCurrent
	}
	return StoredCredential{
		Format:     f,
		Raw:        raw,
		IV:         iv,
		AuthTag:    tag,
		Ciphertext: ct,
	}, nil
}
