package twofactor

import (
	"errors"
	"time"
)

// ErrInvalidCode is the only failure reason reported for a rejected code.
var ErrInvalidCode = errors.New("invalid verification code")

// PendingSetup is an enrollment that has been started but not persisted to the user yet.
type PendingSetup struct {
	UserID string `json:"userId"`
	Secret string `json:"secret"`
	// BackupCodes are encrypted with the backup:<userID> context.
	BackupCodes []string  `json:"backupCodes"`
	CreatedAt   time.Time `json:"createdAt"`
	Verified    bool      `json:"verified"`
}

// SetupResult is returned once when enrollment starts. BackupCodes are plaintext.
type SetupResult struct {
	Secret      string   `json:"secret"`
	QRCodeURL   string   `json:"qrCode"`
	BackupCodes []string `json:"backupCodes"`
	SetupToken  string   `json:"setupToken"`
}

// VerifySetupResult carries everything the caller persists after a successful
// enrollment. On failure only Success is set.
type VerifySetupResult struct {
	Success              bool     `json:"success"`
	BackupCodes          []string `json:"backupCodes,omitempty"`
	UserID               string   `json:"-"`
	Secret               string   `json:"-"`
	EncryptedBackupCodes []string `json:"-"`
}

// VerifyResult reports the outcome of a login-time code check.
type VerifyResult struct {
	IsValid              bool   `json:"isValid"`
	UsedBackupCode       bool   `json:"usedBackupCode"`
	RemainingBackupCodes int    `json:"remainingBackupCodes"`
	Error                string `json:"error,omitempty"`

	// BackupCodeIndex is the slot of the matched backup code, or -1.
	BackupCodeIndex int `json:"-"`
}
