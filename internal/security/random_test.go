package security

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecureToken(t *testing.T) {
	tok, err := GenerateSecureToken(16)
	require.NoError(t, err)
	assert.Len(t, tok, 32)
	_, err = hex.DecodeString(tok)
	assert.NoError(t, err)

	other, err := GenerateSecureToken(16)
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)

	def, err := GenerateSecureToken(0)
	require.NoError(t, err)
	assert.Len(t, def, 64)
}

func TestGenerateBackupCodes_Alphabet(t *testing.T) {
	codes, err := GenerateBackupCodes(200)
	require.NoError(t, err)
	require.Len(t, codes, 200)
	for _, c := range codes {
		require.Len(t, c, 8)
		for _, r := range c {
			assert.True(t, (r >= 'A' && r <= 'Z') || (r >= '2' && r <= '9'), "unexpected rune %q in %s", r, c)
			assert.NotContains(t, "0O1I", string(r))
		}
	}
}

func TestNormalizeBackupCode(t *testing.T) {
	assert.Equal(t, "ABCD2345", NormalizeBackupCode(" abcd-2345\n"))
	assert.Equal(t, "ABCD2345", NormalizeBackupCode("ab cd 23 45"))
}

func TestComputeHash(t *testing.T) {
	got, err := ComputeHash("abc", "")
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", got)

	got, err = ComputeHash("abc", "SHA1")
	require.NoError(t, err)
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", got)

	got, err = ComputeHash("abc", "sha512")
	require.NoError(t, err)
	assert.Len(t, got, 128)

	_, err = ComputeHash("abc", "md5")
	assert.ErrorIs(t, err, ErrUnsupportedHash)
}

func TestTokenHashEqual(t *testing.T) {
	stored := HashToken("refresh-token-value")
	assert.Len(t, stored, 64)
	assert.True(t, TokenHashEqual("refresh-token-value", stored))
	assert.False(t, TokenHashEqual("other-value", stored))
	assert.False(t, TokenHashEqual("refresh-token-value", ""))
}
