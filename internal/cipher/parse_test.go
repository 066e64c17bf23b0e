package cipher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldlite/credvault/pkg/schema"
)

func TestIsEncrypted(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"valid triple", "a1b2:c3d4:e5f6", true},
		{"raw token", "abc123rawtoken", false},
		{"empty", "", false},
		{"two segments", "a1b2:c3d4", false},
		{"four segments", "a1:b2:c3:d4", false},
		{"non-hex segment", "not:a:validhexvalue", false},
		{"empty iv", ":c3d4:e5f6", false},
		{"empty tag", "a1b2::e5f6", false},
		{"empty ciphertext", "a1b2:c3d4:", true}, // empty plaintext seals to tag only
		{"uppercase hex", "A1B2:C3D4:E5F6", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsEncrypted(tc.value))
		})
	}
}

func TestIsEncrypted_RealCiphertext(t *testing.T) {
	c, _ := testCipher(t)
	encrypted, err := c.Encrypt("x", "AC001")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(encrypted))
}

func TestParseStored(t *testing.T) {
	t.Run("current", func(t *testing.T) {
		sc, err := ParseStored("a1b2:c3d4:e5f6", schema.VersionCurrent)
		require.NoError(t, err)
		assert.Equal(t, FormatCurrent, sc.Format)
		assert.Equal(t, []byte{0xa1, 0xb2}, sc.IV)
		assert.Equal(t, []byte{0xc3, 0xd4}, sc.AuthTag)
		assert.Equal(t, []byte{0xe5, 0xf6}, sc.Ciphertext)
	})

	t.Run("legacy without tag", func(t *testing.T) {
		sc, err := ParseStored("a1b2:c3d4:e5f6", "")
		require.NoError(t, err)
		assert.Equal(t, FormatLegacy, sc.Format)
	})

	t.Run("plaintext", func(t *testing.T) {
		sc, err := ParseStored("abc123rawtoken", "")
		require.NoError(t, err)
		assert.Equal(t, FormatPlaintext, sc.Format)
		assert.Equal(t, "abc123rawtoken", sc.Raw)
	})

	t.Run("tagged current but malformed is a hard error", func(t *testing.T) {
		_, err := ParseStored("abc123rawtoken", schema.VersionCurrent)
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeFormat, schema.CodeOf(err))
	})
}

func TestFormat_String(t *testing.T) {
	assert.Equal(t, schema.MethodPlaintext, FormatPlaintext.String())
	assert.Equal(t, schema.MethodLegacy, FormatLegacy.String())
	assert.Equal(t, schema.MethodPBKDF2, FormatCurrent.String())
}
