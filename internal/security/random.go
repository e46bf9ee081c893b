package security

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"math/big"
	"strings"
)

const (
	backupCodeLength   = 8
	backupCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// ErrUnsupportedHash is returned by ComputeHash for an unknown algorithm name.
var ErrUnsupportedHash = errors.New("security: unsupported hash algorithm")

// backupCodeRemap replaces characters that are easy to misread.
var backupCodeRemap = strings.NewReplacer("0", "8", "O", "P", "1", "7", "I", "J")

// GenerateSecureToken returns length random bytes, hex encoded.
func GenerateSecureToken(length int) (string, error) {
	if length <= 0 {
		length = 32
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("security: read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateBackupCodes returns count codes of eight upper-case alphanumerics
// with no 0, O, 1 or I.
func GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, 0, count)
	max := big.NewInt(int64(len(backupCodeAlphabet)))
	for i := 0; i < count; i++ {
		var sb strings.Builder
		for j := 0; j < backupCodeLength; j++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, fmt.Errorf("security: read random: %w", err)
			}
			sb.WriteByte(backupCodeAlphabet[n.Int64()])
		}
		codes = append(codes, backupCodeRemap.Replace(sb.String()))
	}
	return codes, nil
}

// NormalizeBackupCode strips whitespace and dashes and upper-cases code.
func NormalizeBackupCode(code string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '-':
			return -1
		}
		return r
	}, code))
}

// ComputeHash returns the hex digest of data. algorithm is sha256 (default when empty), sha512 or sha1.
func ComputeHash(data, algorithm string) (string, error) {
	var h hash.Hash
	switch strings.ToLower(algorithm) {
	case "", "sha256":
		h = sha256.New()
	case "sha512":
		h = sha512.New()
	case "sha1":
		h = sha1.New()
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedHash, algorithm)
	}
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashToken returns the hex SHA-256 of token, used to key blacklist and
// one-time code records without storing the raw value.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenHashEqual compares the hash of provided with storedHash in constant time.
func TokenHashEqual(provided, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashToken(provided)), []byte(storedHash)) == 1
}
