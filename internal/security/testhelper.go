package security

import "time"

// Fixed secrets for unit tests only. Do not use in production.
const (
	testAccessSecret  = "test-access-secret-0123456789abcdef0123456789"
	testRefreshSecret = "test-refresh-secret-0123456789abcdef012345678"
	testPepper        = "test-pepper-0123456789abcdef0123456789abcdef"
)

// NewTestTokenProvider returns a TokenProvider with fixed test secrets.
// For unit tests only. Callers must not use in production.
func NewTestTokenProvider() *TokenProvider {
	return NewTokenProvider(testAccessSecret, testRefreshSecret, "test-issuer", "test-audience", 15*time.Minute, 24*time.Hour)
}

// NewTestEncryptor returns an Encryptor with a fixed pepper and cheap work
// factors. For unit tests only.
func NewTestEncryptor(opts ...Option) *Encryptor {
	e, err := NewEncryptor(testPepper, 1000, append([]Option{WithBcryptCost(4)}, opts...)...)
	if err != nil {
		panic(err)
	}
	return e
}
