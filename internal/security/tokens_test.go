package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenProvider_IssueAndValidateAccess(t *testing.T) {
	p := NewTestTokenProvider()
	token, exp, err := p.IssueAccess(AccessClaims{
		UserID:            "u1",
		Role:              "admin",
		SessionID:         "s1",
		Permissions:       []string{"projects:write"},
		DeviceFingerprint: "abcdef0123456789",
		IPAddress:         "1.2.3.4",
	})
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := p.ValidateAccess(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "s1", claims.SessionID)
	assert.Equal(t, []string{"projects:write"}, claims.Permissions)
	assert.Equal(t, TokenTypeAccess, claims.Type)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenProvider_IssueAndValidateRefresh(t *testing.T) {
	p := NewTestTokenProvider()
	token, _, err := p.IssueRefresh("u1", "s1", "fp")
	require.NoError(t, err)

	claims, err := p.ValidateRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "s1", claims.SessionID)
	assert.Equal(t, "fp", claims.DeviceFingerprint)
	assert.Equal(t, TokenTypeRefresh, claims.Type)
}

func TestTokenProvider_KindsAreNotInterchangeable(t *testing.T) {
	p := NewTestTokenProvider()
	access, _, err := p.IssueAccess(AccessClaims{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	refresh, _, err := p.IssueRefresh("u1", "s1", "fp")
	require.NoError(t, err)

	_, err = p.ValidateRefresh(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = p.ValidateAccess(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenProvider_Expired(t *testing.T) {
	p := NewTestTokenProvider()
	now := time.Now().UTC()
	p.SetClock(func() time.Time { return now })
	token, _, err := p.IssueAccess(AccessClaims{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)

	now = now.Add(16 * time.Minute)
	_, err = p.ValidateAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenProvider_WrongIssuerOrAudience(t *testing.T) {
	p := NewTestTokenProvider()
	other := NewTokenProvider(testAccessSecret, testRefreshSecret, "other-issuer", "test-audience", time.Minute, time.Hour)
	token, _, err := other.IssueAccess(AccessClaims{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	_, err = p.ValidateAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other = NewTokenProvider(testAccessSecret, testRefreshSecret, "test-issuer", "other-audience", time.Minute, time.Hour)
	token, _, err = other.IssueAccess(AccessClaims{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	_, err = p.ValidateAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenProvider_WrongSecret(t *testing.T) {
	p := NewTestTokenProvider()
	other := NewTokenProvider("another-access-secret-value-0123456789", testRefreshSecret, "test-issuer", "test-audience", time.Minute, time.Hour)
	token, _, err := other.IssueAccess(AccessClaims{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	_, err = p.ValidateAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenProvider_RejectsAlgNone(t *testing.T) {
	p := NewTestTokenProvider()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "test-issuer",
			Audience:  jwt.ClaimStrings{"test-audience"},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		UserID:    "u1",
		SessionID: "s1",
		Type:      TokenTypeAccess,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	tok.Header["kid"] = AccessKeyID
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = p.ValidateAccess(s)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenProvider_RejectsWrongKeyID(t *testing.T) {
	p := NewTestTokenProvider()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "test-issuer",
			Audience:  jwt.ClaimStrings{"test-audience"},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		UserID: "u1", SessionID: "s1", Type: TokenTypeAccess,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = "access-v0"
	s, err := tok.SignedString([]byte(testAccessSecret))
	require.NoError(t, err)

	_, err = p.ValidateAccess(s)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenProvider_VerifyAccessIgnoringExpiry(t *testing.T) {
	p := NewTestTokenProvider()
	now := time.Now().UTC()
	p.SetClock(func() time.Time { return now })
	token, _, err := p.IssueAccess(AccessClaims{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = p.ValidateAccess(token)
	require.ErrorIs(t, err, ErrInvalidToken)
	claims, err := p.VerifyAccessIgnoringExpiry(token)
	require.NoError(t, err)
	assert.Equal(t, "s1", claims.SessionID)

	refresh, _, err := p.IssueRefresh("u1", "s1", "fp")
	require.NoError(t, err)
	_, err = p.VerifyAccessIgnoringExpiry(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	forged := jwt.NewWithClaims(jwt.SigningMethodNone, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "test-issuer", Audience: jwt.ClaimStrings{"test-audience"}},
		UserID:           "victim",
		SessionID:        "victim-session",
		Type:             TokenTypeAccess,
	})
	forged.Header["kid"] = AccessKeyID
	unsigned, err := forged.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = p.VerifyAccessIgnoringExpiry(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewTokenProvider(testAccessSecret, testRefreshSecret, "test-issuer", "other-audience", time.Minute, time.Hour)
	wrongAud, _, err := other.IssueAccess(AccessClaims{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	_, err = p.VerifyAccessIgnoringExpiry(wrongAud)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenProvider_Garbage(t *testing.T) {
	p := NewTestTokenProvider()
	for _, s := range []string{"", "invalid-token", "a.b.c"} {
		_, err := p.ValidateAccess(s)
		assert.ErrorIs(t, err, ErrInvalidToken)
		_, err = p.ValidateRefresh(s)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}

func TestDecode_Unverified(t *testing.T) {
	other := NewTokenProvider("unrelated-secret-0123456789abcdef0123", "unrelated-refresh-0123456789abcdef01", "x", "y", time.Minute, time.Hour)
	token, _, err := other.IssueAccess(AccessClaims{UserID: "u9", SessionID: "s9"})
	require.NoError(t, err)

	claims, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "s9", claims.SessionID)
	assert.Equal(t, "u9", claims.UserID)

	_, err = Decode("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
