package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	masterKeySalt = "portfolio-cms/master-key/v1"
	keyLen        = 32
	valueSaltLen  = 32
	// The master key is already uniformly random, so per-value derivation runs far fewer rounds.
	valueKeyIterations = 1000
)

var (
	// ErrDecryptionFailed is the single error returned for every decryption failure.
	ErrDecryptionFailed = errors.New("decryption failed or data corrupted")
	// ErrEmptyPepper is returned when the encryptor is built without a pepper.
	ErrEmptyPepper = errors.New("security: pepper must not be empty")
)

// Encryptor performs symmetric encryption, password hashing and device
// fingerprinting with a master key derived once from the configured pepper.
// It is safe for concurrent use.
type Encryptor struct {
	masterKey []byte
	pepper    []byte
	hasher    *Hasher
	nowF      func() time.Time
}

// Option configures an Encryptor.
type Option func(*Encryptor)

// WithBcryptCost sets the bcrypt cost used by HashPassword.
func WithBcryptCost(cost int) Option {
	return func(e *Encryptor) { e.hasher = NewHasher(cost) }
}

// WithClock overrides the clock used for device fingerprint hour buckets.
func WithClock(now func() time.Time) Option {
	return func(e *Encryptor) { e.nowF = now }
}

// NewEncryptor derives the master key from pepper with PBKDF2-SHA512 over iterations rounds.
func NewEncryptor(pepper string, iterations int, opts ...Option) (*Encryptor, error) {
	if pepper == "" {
		return nil, ErrEmptyPepper
	}
	if iterations <= 0 {
		iterations = 100000
	}
	e := &Encryptor{
		masterKey: pbkdf2.Key([]byte(pepper), []byte(masterKeySalt), iterations, keyLen, sha512.New),
		pepper:    []byte(pepper),
		hasher:    NewHasher(0),
		nowF:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Encrypt seals plaintext with AES-256-GCM under a key derived from a fresh random salt.
// context is bound as additional data and must be supplied again to Decrypt.
// The result is base64(salt):base64(nonce||ciphertext).
func (e *Encryptor) Encrypt(plaintext, context string) (string, error) {
	salt := make([]byte, valueSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("security: read salt: %w", err)
	}
	gcm, err := e.valueCipher(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("security: read nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), []byte(context))
	return base64.StdEncoding.EncodeToString(salt) + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any malformed input, wrong context or tampering yields ErrDecryptionFailed.
func (e *Encryptor) Decrypt(encoded, context string) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 2 {
		return "", ErrDecryptionFailed
	}
	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(salt) == 0 {
		return "", ErrDecryptionFailed
	}
	sealed, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrDecryptionFailed
	}
	gcm, err := e.valueCipher(salt)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	if len(sealed) < gcm.NonceSize()+gcm.Overhead() {
		return "", ErrDecryptionFailed
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, []byte(context))
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

func (e *Encryptor) valueCipher(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(e.masterKey, salt, valueKeyIterations, keyLen, sha512.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
