// Package twofactor implements TOTP enrollment and verification with encrypted backup codes.
package twofactor

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"portfolio-cms/backend/internal/security"
)

const (
	period     = 30
	secretSize = 20
	codeDigits = otp.DigitsSix
)

// Disabler clears a user's persisted 2FA state.
type Disabler interface {
	DisableTwoFactor(ctx context.Context, userID string) error
}

// SessionRevoker ends every session of a user.
type SessionRevoker interface {
	RevokeAllUserSessions(ctx context.Context, userID string) int
}

// Config holds the tunables of Service. Zero values take the noted defaults.
type Config struct {
	// Issuer labels the account in authenticator apps.
	Issuer string
	// Window is how many 30s steps either side of now are accepted.
	Window uint
	// BackupCodeCount is the number of codes per enrollment (default 10).
	BackupCodeCount int
	// SetupTTL bounds a pending enrollment (default 10m).
	SetupTTL time.Duration
	// SweepInterval is the tick of Run (default 10m).
	SweepInterval time.Duration
	// EmergencyCodeTTL bounds an emergency disable code (default 24h).
	EmergencyCodeTTL time.Duration
}

// Service runs TOTP enrollment, verification and backup code handling.
type Service struct {
	enc      *security.Encryptor
	store    PendingStore
	disabler Disabler
	revoker  SessionRevoker
	cfg      Config
	logger   *zap.Logger
	nowF     func() time.Time
}

// NewService returns a Service. disabler and revoker may be nil, in which case Disable2FA fails.
func NewService(enc *security.Encryptor, store PendingStore, disabler Disabler, revoker SessionRevoker, logger *zap.Logger, cfg Config) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "Portfolio CMS"
	}
	if cfg.BackupCodeCount <= 0 {
		cfg.BackupCodeCount = 10
	}
	if cfg.SetupTTL <= 0 {
		cfg.SetupTTL = 10 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
	if cfg.EmergencyCodeTTL <= 0 {
		cfg.EmergencyCodeTTL = 24 * time.Hour
	}
	return &Service{
		enc:      enc,
		store:    store,
		disabler: disabler,
		revoker:  revoker,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "twofactor")),
		nowF:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the clock used for TOTP steps and setup expiry. For tests.
func (s *Service) SetClock(now func() time.Time) { s.nowF = now }

func secretContext(userID string) string { return "totp:" + userID }
func backupContext(userID string) string { return "backup:" + userID }

// InitializeSetup starts enrollment for userID. The plaintext backup codes in
// the result are not retrievable again; the pending record keeps them encrypted.
func (s *Service) InitializeSetup(ctx context.Context, userID, email string) (*SetupResult, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.Issuer,
		AccountName: email,
		Period:      period,
		SecretSize:  secretSize,
		Digits:      codeDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("twofactor: generate secret: %w", err)
	}
	plain, encrypted, err := s.newBackupCodes(userID)
	if err != nil {
		return nil, err
	}
	qr, err := qrDataURL(key)
	if err != nil {
		return nil, err
	}
	token, err := security.GenerateSecureToken(32)
	if err != nil {
		return nil, err
	}
	setup := &PendingSetup{
		UserID:      userID,
		Secret:      key.Secret(),
		BackupCodes: encrypted,
		CreatedAt:   s.nowF(),
	}
	if err := s.store.PutSetup(ctx, token, setup, s.cfg.SetupTTL); err != nil {
		return nil, fmt.Errorf("twofactor: store setup: %w", err)
	}
	s.logger.Info("2fa setup started", zap.String("user_id", userID))
	return &SetupResult{
		Secret:      key.Secret(),
		QRCodeURL:   qr,
		BackupCodes: plain,
		SetupToken:  token,
	}, nil
}

// VerifySetup confirms enrollment with a code from the authenticator. On
// success the decrypted backup codes are returned one final time along with
// the secret and encrypted codes to persist.
func (s *Service) VerifySetup(ctx context.Context, setupToken, code string) *VerifySetupResult {
	fail := &VerifySetupResult{}
	setup, err := s.store.GetSetup(ctx, setupToken)
	if err != nil {
		s.logger.Error("load setup failed", zap.Error(err))
		return fail
	}
	if setup == nil || setup.Verified {
		return fail
	}
	now := s.nowF()
	if now.Sub(setup.CreatedAt) > s.cfg.SetupTTL {
		_ = s.store.DeleteSetup(ctx, setupToken)
		return fail
	}
	if !s.validateTOTP(setup.Secret, code, now) {
		return fail
	}

	plain := make([]string, 0, len(setup.BackupCodes))
	for _, enc := range setup.BackupCodes {
		p, err := s.enc.Decrypt(enc, backupContext(setup.UserID))
		if err != nil {
			s.logger.Error("decrypt pending backup code failed", zap.String("user_id", setup.UserID), zap.Error(err))
			return fail
		}
		plain = append(plain, p)
	}

	claimed, err := s.store.MarkSetupVerified(ctx, setupToken)
	if err != nil {
		s.logger.Error("mark setup verified failed", zap.String("user_id", setup.UserID), zap.Error(err))
		return fail
	}
	if !claimed {
		return fail
	}
	s.logger.Info("2fa setup verified", zap.String("user_id", setup.UserID))
	return &VerifySetupResult{
		Success:              true,
		BackupCodes:          plain,
		UserID:               setup.UserID,
		Secret:               setup.Secret,
		EncryptedBackupCodes: setup.BackupCodes,
	}
}

// VerifySetupBySecret finishes the pending enrollment of userID when secret
// matches the one issued for it.
func (s *Service) VerifySetupBySecret(ctx context.Context, userID, secret, code string) *VerifySetupResult {
	token, setup, err := s.store.FindSetupByUser(ctx, userID)
	if err != nil {
		s.logger.Error("find setup failed", zap.String("user_id", userID), zap.Error(err))
		return &VerifySetupResult{}
	}
	if setup == nil || subtle.ConstantTimeCompare([]byte(setup.Secret), []byte(secret)) != 1 {
		return &VerifySetupResult{}
	}
	return s.VerifySetup(ctx, token, code)
}

// VerifyCode checks code against the TOTP secret and then against the
// encrypted backup codes. A matching backup code is cleared in backupCodes and
// its slot reported in BackupCodeIndex; the caller must persist the change.
// Every slot is checked regardless of where a match is.
func (s *Service) VerifyCode(ctx context.Context, userID, code, secret string, backupCodes []string) VerifyResult {
	if secret != "" && s.validateTOTP(secret, code, s.nowF()) {
		return VerifyResult{IsValid: true, RemainingBackupCodes: countCodes(backupCodes), BackupCodeIndex: -1}
	}

	candidate := []byte(security.NormalizeBackupCode(code))
	match := -1
	for i, enc := range backupCodes {
		if enc == "" {
			continue
		}
		plain, err := s.enc.Decrypt(enc, backupContext(userID))
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(plain), candidate) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return VerifyResult{Error: ErrInvalidCode.Error(), RemainingBackupCodes: countCodes(backupCodes), BackupCodeIndex: -1}
	}
	backupCodes[match] = ""
	remaining := countCodes(backupCodes)
	s.logger.Info("backup code used", zap.String("user_id", userID), zap.Int("remaining", remaining))
	return VerifyResult{IsValid: true, UsedBackupCode: true, RemainingBackupCodes: remaining, BackupCodeIndex: match}
}

// RegenerateBackupCodes returns a fresh set of codes and their encrypted form.
func (s *Service) RegenerateBackupCodes(ctx context.Context, userID string) (plain, encrypted []string, err error) {
	plain, encrypted, err = s.newBackupCodes(userID)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("backup codes regenerated", zap.String("user_id", userID))
	return plain, encrypted, nil
}

// Disable2FA clears the user's 2FA state and revokes every session.
func (s *Service) Disable2FA(ctx context.Context, userID string) bool {
	if s.disabler == nil {
		s.logger.Error("disable 2fa: no persistence configured", zap.String("user_id", userID))
		return false
	}
	if err := s.disabler.DisableTwoFactor(ctx, userID); err != nil {
		s.logger.Error("disable 2fa failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	if s.revoker != nil {
		s.revoker.RevokeAllUserSessions(ctx, userID)
	}
	s.logger.Info("2fa disabled", zap.String("user_id", userID))
	return true
}

// GenerateEmergencyDisableCode issues a single-use code that lets userID turn 2FA
// off without an authenticator. Only its hash is kept.
func (s *Service) GenerateEmergencyDisableCode(ctx context.Context, userID string) (string, error) {
	code, err := security.GenerateSecureToken(16)
	if err != nil {
		return "", err
	}
	code = strings.ToUpper(code)
	if err := s.store.PutEmergencyCode(ctx, userID, security.HashToken(code), s.cfg.EmergencyCodeTTL); err != nil {
		return "", fmt.Errorf("twofactor: store emergency code: %w", err)
	}
	s.logger.Warn("emergency disable code issued", zap.String("user_id", userID))
	return code, nil
}

// VerifyEmergencyDisableCode consumes the emergency code of userID if code matches it.
func (s *Service) VerifyEmergencyDisableCode(ctx context.Context, userID, code string) bool {
	hash := security.HashToken(strings.ToUpper(strings.TrimSpace(code)))
	ok, err := s.store.ConsumeEmergencyCode(ctx, userID, hash)
	if err != nil {
		s.logger.Error("consume emergency code failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return ok
}

// EncryptSecret encrypts a TOTP secret for storage on the user record.
func (s *Service) EncryptSecret(secret, userID string) (string, error) {
	return s.enc.Encrypt(secret, secretContext(userID))
}

// DecryptSecret reverses EncryptSecret.
func (s *Service) DecryptSecret(encrypted, userID string) (string, error) {
	return s.enc.Decrypt(encrypted, secretContext(userID))
}

// Run sweeps expired pending records every SweepInterval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.Sweep(ctx)
			if err != nil {
				s.logger.Error("pending setup sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Debug("pending setups swept", zap.Int("count", n))
			}
		}
	}
}

func (s *Service) validateTOTP(secret, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    period,
		Skew:      s.cfg.Window,
		Digits:    codeDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func (s *Service) newBackupCodes(userID string) (plain, encrypted []string, err error) {
	plain, err = security.GenerateBackupCodes(s.cfg.BackupCodeCount)
	if err != nil {
		return nil, nil, err
	}
	encrypted = make([]string, len(plain))
	for i, c := range plain {
		encrypted[i], err = s.enc.Encrypt(c, backupContext(userID))
		if err != nil {
			return nil, nil, fmt.Errorf("twofactor: encrypt backup code: %w", err)
		}
	}
	return plain, encrypted, nil
}

func countCodes(codes []string) int {
	n := 0
	for _, c := range codes {
		if c != "" {
			n++
		}
	}
	return n
}
