package httpapi

import (
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"portfolio-cms/backend/internal/audit"
	auditdomain "portfolio-cms/backend/internal/audit/domain"
	"portfolio-cms/backend/internal/httpapi/middleware"
	"portfolio-cms/backend/internal/twofactor"
)

const (
	msgInvalidCode        = "Invalid verification code"
	msgTwoFactorEnabled   = "Two-factor authentication is already enabled"
	msgTwoFactorNotActive = "Two-factor authentication is not enabled"

	// PermissionManageUsers allows issuing emergency disable codes for other users.
	PermissionManageUsers = "users:manage"
)

type setupResponse struct {
	Success bool `json:"success"`
	*twofactor.SetupResult
}

// SetupTwoFactor starts enrollment for the caller.
func (h *Handler) SetupTwoFactor(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, middleware.MsgAuthRequired)
		return
	}
	u, err := h.users.GetByID(r.Context(), p.UserID)
	if err != nil || u == nil {
		h.logger.Error("2fa setup: load user failed", zap.String("user_id", p.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, middleware.MsgAuthError)
		return
	}
	if u.TwoFactorEnabled {
		writeError(w, http.StatusConflict, msgTwoFactorEnabled)
		return
	}
	res, err := h.twoFactor.InitializeSetup(r.Context(), u.ID, u.Email)
	if err != nil {
		h.logger.Error("2fa setup failed", zap.String("user_id", u.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to start two-factor setup")
		return
	}
	writeOK(w, setupResponse{Success: true, SetupResult: res})
}

type verifySetupRequest struct {
	SetupToken string `json:"setupToken,omitempty"`
	Secret     string `json:"secret,omitempty"`
	Code       string `json:"code"`
}

// VerifySetup completes enrollment and persists the encrypted secret and codes.
// The plaintext backup codes are in the response this one time.
func (h *Handler) VerifySetup(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, middleware.MsgAuthRequired)
		return
	}
	var req verifySetupRequest
	if err := decode(r, &req); err != nil || req.Code == "" || (req.SetupToken == "" && req.Secret == "") {
		writeError(w, http.StatusBadRequest, "Verification code and setup token are required")
		return
	}
	ctx := r.Context()

	var res *twofactor.VerifySetupResult
	if req.SetupToken != "" {
		res = h.twoFactor.VerifySetup(ctx, req.SetupToken, req.Code)
	} else {
		res = h.twoFactor.VerifySetupBySecret(ctx, p.UserID, req.Secret, req.Code)
	}
	if !res.Success || res.UserID != p.UserID {
		h.events.LogEvent(ctx, clientEvent(r, audit.Event{
			Type:     auditdomain.EventTwoFactorFailed,
			UserID:   p.UserID,
			Metadata: map[string]any{"stage": "setup"},
		}))
		writeError(w, http.StatusBadRequest, msgInvalidCode)
		return
	}

	encSecret, err := h.twoFactor.EncryptSecret(res.Secret, p.UserID)
	if err != nil {
		h.logger.Error("2fa verify-setup: encrypt secret failed", zap.String("user_id", p.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, middleware.MsgAuthError)
		return
	}
	if err := h.users.EnableTwoFactor(ctx, p.UserID, encSecret, res.EncryptedBackupCodes); err != nil {
		h.logger.Error("2fa verify-setup: persist failed", zap.String("user_id", p.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, middleware.MsgAuthError)
		return
	}
	h.events.LogEvent(ctx, clientEvent(r, audit.Event{Type: auditdomain.EventTwoFactorEnabled, UserID: p.UserID}))
	writeOK(w, res)
}

type codeRequest struct {
	Code string `json:"code"`
}

type verifyResponse struct {
	Success              bool `json:"success"`
	UsedBackupCode       bool `json:"usedBackupCode"`
	RemainingBackupCodes int  `json:"remainingBackupCodes"`
}

// VerifyTwoFactor checks a TOTP or backup code for the caller, e.g. before a
// sensitive action. A consumed backup code is persisted.
func (h *Handler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, middleware.MsgAuthRequired)
		return
	}
	var req codeRequest
	if err := decode(r, &req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "Verification code is required")
		return
	}
	u, err := h.users.GetByID(r.Context(), p.UserID)
	if err != nil || u == nil {
		writeError(w, http.StatusInternalServerError, middleware.MsgAuthError)
		return
	}
	if !u.TwoFactorEnabled {
		writeError(w, http.StatusBadRequest, msgTwoFactorNotActive)
		return
	}
	res, ok := h.checkSecondFactor(r, u.ID, u.TOTPSecret, u.BackupCodes, req.Code)
	if !ok {
		writeError(w, http.StatusBadRequest, msgInvalidCode)
		return
	}
	writeOK(w, verifyResponse{Success: true, UsedBackupCode: res.UsedBackupCode, RemainingBackupCodes: res.RemainingBackupCodes})
}

type backupCodesResponse struct {
	Success     bool     `json:"success"`
	BackupCodes []string `json:"backupCodes"`
}

// RegenerateBackupCodes replaces every backup code after re-verifying the caller.
func (h *Handler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, middleware.MsgAuthRequired)
		return
	}
	var req codeRequest
	if err := decode(r, &req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "Verification code is required")
		return
	}
	ctx := r.Context()
	u, err := h.users.GetByID(ctx, p.UserID)
	if err != nil || u == nil {
		writeError(w, http.StatusInternalServerError, middleware.MsgAuthError)
		return
	}
	if !u.TwoFactorEnabled {
		writeError(w, http.StatusBadRequest, msgTwoFactorNotActive)
		return
	}
	if _, ok := h.checkSecondFactor(r, u.ID, u.TOTPSecret, u.BackupCodes, req.Code); !ok {
		writeError(w, http.StatusBadRequest, msgInvalidCode)
		return
	}
	plain, encrypted, err := h.twoFactor.RegenerateBackupCodes(ctx, u.ID)
	if err == nil {
		err = h.users.UpdateBackupCodes(ctx, u.ID, encrypted)
	}
	if err != nil {
		h.logger.Error("regenerate backup codes failed", zap.String("user_id", u.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, middleware.MsgAuthError)
		return
	}
	h.events.LogEvent(ctx, clientEvent(r, audit.Event{Type: auditdomain.EventBackupCodesRegenerated, UserID: u.ID}))
	writeOK(w, backupCodesResponse{Success: true, BackupCodes: plain})
}

type disableRequest struct {
	Code          string `json:"code,omitempty"`
	EmergencyCode string `json:"emergencyCode,omitempty"`
}

// DisableTwoFactor turns 2FA off after a TOTP, backup or emergency code, and
// revokes every session of the caller.
func (h *Handler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, middleware.MsgAuthRequired)
		return
	}
	var req disableRequest
	if err := decode(r, &req); err != nil || (req.Code == "" && req.EmergencyCode == "") {
		writeError(w, http.StatusBadRequest, "Verification code is required")
		return
	}
	ctx := r.Context()
	u, err := h.users.GetByID(ctx, p.UserID)
	if err != nil || u == nil {
		writeError(w, http.StatusInternalServerError, middleware.MsgAuthError)
		return
	}
	if !u.TwoFactorEnabled {
		writeError(w, http.StatusBadRequest, msgTwoFactorNotActive)
		return
	}

	verified := false
	if req.EmergencyCode != "" {
		verified = h.twoFactor.VerifyEmergencyDisableCode(ctx, u.ID, req.EmergencyCode)
	} else {
		_, verified = h.checkSecondFactor(r, u.ID, u.TOTPSecret, u.BackupCodes, req.Code)
	}
	if !verified {
		writeError(w, http.StatusBadRequest, msgInvalidCode)
		return
	}
	if !h.twoFactor.Disable2FA(ctx, u.ID) {
		writeError(w, http.StatusInternalServerError, middleware.MsgAuthError)
		return
	}
	h.events.LogEvent(ctx, clientEvent(r, audit.Event{
		Type:     auditdomain.EventTwoFactorDisabled,
		UserID:   u.ID,
		Metadata: map[string]any{"emergency": req.EmergencyCode != ""},
	}))
	writeOK(w, messageResponse{Success: true, Message: "Two-factor authentication disabled"})
}

type emergencyRequest struct {
	UserID string `json:"userId"`
}

type emergencyResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
}

// IssueEmergencyCode lets a user manager issue a single-use code that disables
// 2FA for a user who lost their authenticator.
func (h *Handler) IssueEmergencyCode(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, middleware.MsgAuthRequired)
		return
	}
	if !p.HasPermission(PermissionManageUsers) {
		writeError(w, http.StatusForbidden, middleware.MsgAccessDenied)
		return
	}
	var req emergencyRequest
	if err := decode(r, &req); err != nil || strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "User id is required")
		return
	}
	code, err := h.twoFactor.GenerateEmergencyDisableCode(r.Context(), req.UserID)
	if err != nil {
		h.logger.Error("issue emergency code failed", zap.String("user_id", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, middleware.MsgAuthError)
		return
	}
	writeOK(w, emergencyResponse{Success: true, Code: code})
}

// checkSecondFactor verifies code against the user's encrypted secret and
// backup codes. A matched backup code counts only if this request is the one
// that clears it in the repository.
func (h *Handler) checkSecondFactor(r *http.Request, userID, encSecret string, encCodes []string, code string) (twofactor.VerifyResult, bool) {
	ctx := r.Context()
	secret := ""
	if encSecret != "" {
		s, err := h.twoFactor.DecryptSecret(encSecret, userID)
		if err != nil {
			h.logger.Error("decrypt totp secret failed", zap.String("user_id", userID), zap.Error(err))
		} else {
			secret = s
		}
	}
	codes := slices.Clone(encCodes)
	res := h.twoFactor.VerifyCode(ctx, userID, code, secret, codes)
	if !res.IsValid {
		h.events.LogEvent(ctx, clientEvent(r, audit.Event{Type: auditdomain.EventTwoFactorFailed, UserID: userID}))
		return res, false
	}
	if res.UsedBackupCode {
		idx := res.BackupCodeIndex
		spent, err := h.users.ConsumeBackupCode(ctx, userID, idx, encCodes[idx])
		if err != nil {
			h.logger.Error("persist consumed backup code failed", zap.String("user_id", userID), zap.Error(err))
			return res, false
		}
		if !spent {
			h.logger.Warn("backup code already spent", zap.String("user_id", userID))
			h.events.LogEvent(ctx, clientEvent(r, audit.Event{
				Type:     auditdomain.EventTwoFactorFailed,
				UserID:   userID,
				Metadata: map[string]any{"reason": "backup_code_reused"},
			}))
			return res, false
		}
		h.events.LogEvent(ctx, clientEvent(r, audit.Event{
			Type:     auditdomain.EventBackupCodeUsed,
			UserID:   userID,
			Metadata: map[string]any{"remaining": res.RemainingBackupCodes},
		}))
	}
	return res, true
}
