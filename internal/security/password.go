package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"
)

const passwordSaltBytes = 16

// Hasher hashes and verifies passwords using bcrypt. Callers must not log or
// persist plaintext passwords.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost clamped to 4–31.
// Zero selects cost 12.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = 12
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash produces a bcrypt hash of input.
func (h *Hasher) Hash(input []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(input, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies input against the stored hash in constant time.
func (h *Hasher) Compare(hash string, input []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), input)
}

// HashPassword returns a bcrypt hash of HMAC-SHA256(pepper, password||salt) and the salt used.
// An empty salt is replaced by a fresh random one.
func (e *Encryptor) HashPassword(password, salt string) (hash, usedSalt string, err error) {
	if salt == "" {
		salt, err = GenerateSecureToken(passwordSaltBytes)
		if err != nil {
			return "", "", err
		}
	}
	hash, err = e.hasher.Hash(e.seasonPassword(password, salt))
	if err != nil {
		return "", "", err
	}
	return hash, salt, nil
}

// VerifyPassword reports whether password and salt match hash. Every error is a mismatch.
func (e *Encryptor) VerifyPassword(password, hash, salt string) bool {
	if hash == "" {
		return false
	}
	return e.hasher.Compare(hash, e.seasonPassword(password, salt)) == nil
}

// seasonPassword keeps the bcrypt input at 44 bytes regardless of password length.
func (e *Encryptor) seasonPassword(password, salt string) []byte {
	mac := hmac.New(sha256.New, e.pepper)
	mac.Write([]byte(password))
	mac.Write([]byte(salt))
	return []byte(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}
