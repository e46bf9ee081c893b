package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"portfolio-cms/backend/internal/audit"
	auditdomain "portfolio-cms/backend/internal/audit/domain"
	"portfolio-cms/backend/internal/httpapi/middleware"
	"portfolio-cms/backend/internal/session/domain"
)

const (
	msgInvalidCredentials = "Invalid credentials"
	msgTwoFactorRequired  = "Two-factor code required"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// Code is a TOTP code or a backup code; required when 2FA is enabled.
	Code string `json:"code,omitempty"`
}

type tokenResponse struct {
	Success bool `json:"success"`
	*domain.TokenPair
	UsedBackupCode       bool `json:"usedBackupCode,omitempty"`
	RemainingBackupCodes *int `json:"remainingBackupCodes,omitempty"`
}

type loginChallenge struct {
	Success           bool   `json:"success"`
	Error             string `json:"error"`
	RequiresTwoFactor bool   `json:"requiresTwoFactor"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Login verifies email and password, then the second factor when enabled, and
// issues a token pair bound to the calling device.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}
	ctx := r.Context()
	ip := middleware.ClientIP(r)

	u, err := h.users.GetByEmail(ctx, req.Email)
	if err != nil {
		h.logger.Error("login: load user failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, middleware.MsgAuthError)
		return
	}
	if !u.Active() || !h.passwords.VerifyPassword(req.Password, u.PasswordHash, u.PasswordSalt) {
		meta := map[string]any{"email": strings.ToLower(strings.TrimSpace(req.Email))}
		uid := ""
		if u != nil {
			uid = u.ID
		}
		h.events.LogEvent(ctx, clientEvent(r, audit.Event{Type: auditdomain.EventLoginFailure, UserID: uid, Metadata: meta}))
		writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
		return
	}

	resp := tokenResponse{Success: true}
	if u.TwoFactorEnabled {
		if strings.TrimSpace(req.Code) == "" {
			middleware.WriteJSON(w, http.StatusUnauthorized, loginChallenge{Error: msgTwoFactorRequired, RequiresTwoFactor: true})
			return
		}
		res, ok := h.checkSecondFactor(r, u.ID, u.TOTPSecret, u.BackupCodes, req.Code)
		if !ok {
			writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
			return
		}
		if res.UsedBackupCode {
			resp.UsedBackupCode = true
			remaining := res.RemainingBackupCodes
			resp.RemainingBackupCodes = &remaining
		}
	}

	pair, err := h.sessions.GenerateTokenPair(ctx,
		domain.Principal{ID: u.ID, Role: u.Role, Permissions: u.Permissions},
		middleware.DeviceInfo(r, ip))
	if err != nil {
		h.logger.Error("login: issue tokens failed", zap.String("user_id", u.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, middleware.MsgAuthError)
		return
	}
	h.events.LogEvent(ctx, clientEvent(r, audit.Event{
		Type:     auditdomain.EventLoginSuccess,
		UserID:   u.ID,
		Metadata: map[string]any{"sessionId": pair.SessionID, "twoFactor": u.TwoFactorEnabled},
	}))
	resp.TokenPair = pair
	writeOK(w, resp)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh rotates a refresh token into a new pair on a new session.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "Refresh token is required")
		return
	}
	pair := h.sessions.RefreshAccessToken(r.Context(), req.RefreshToken, middleware.DeviceInfo(r, middleware.ClientIP(r)))
	if pair == nil {
		h.events.LogEvent(r.Context(), clientEvent(r, audit.Event{
			Type:     auditdomain.EventTokenInvalid,
			Metadata: map[string]any{"path": r.URL.Path, "kind": "refresh"},
		}))
		writeError(w, http.StatusUnauthorized, middleware.MsgInvalidToken)
		return
	}
	userID := ""
	if claims := h.sessions.ExtractPayload(pair.AccessToken); claims != nil {
		userID = claims.UserID
	}
	h.events.LogEvent(r.Context(), clientEvent(r, audit.Event{
		Type:     auditdomain.EventTokenRefreshed,
		UserID:   userID,
		Metadata: map[string]any{"sessionId": pair.SessionID},
	}))
	writeOK(w, tokenResponse{Success: true, TokenPair: pair})
}

// Logout revokes the presented access token and its session. It answers 200
// whether or not a session was found; only storage failures are 500.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		writeOK(w, messageResponse{Success: false, Message: "No active session"})
		return
	}
	// The session is only revoked for a token we signed; anything else is
	// just blacklisted.
	var userID, sessionID string
	if claims := h.sessions.VerifiedPayload(token); claims != nil {
		userID, sessionID = claims.UserID, claims.SessionID
	}
	if !h.sessions.RevokeToken(r.Context(), token, sessionID) {
		middleware.WriteJSON(w, http.StatusInternalServerError, messageResponse{Success: false, Message: "Logout failed"})
		return
	}
	h.events.LogEvent(r.Context(), clientEvent(r, audit.Event{
		Type:     auditdomain.EventLogout,
		UserID:   userID,
		Metadata: map[string]any{"sessionId": sessionID},
	}))
	writeOK(w, messageResponse{Success: true, Message: "Logged out successfully"})
}

type sessionsResponse struct {
	Success  bool             `json:"success"`
	Sessions []domain.Summary `json:"sessions"`
	Current  string           `json:"currentSessionId,omitempty"`
}

// ListSessions returns the caller's active sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, middleware.MsgAuthRequired)
		return
	}
	writeOK(w, sessionsResponse{
		Success:  true,
		Sessions: h.sessions.GetActiveSessions(r.Context(), p.UserID),
		Current:  p.SessionID,
	})
}

type revokeAllResponse struct {
	Success bool `json:"success"`
	Revoked int  `json:"revoked"`
}

// RevokeSessions signs the caller out everywhere, including the current session.
func (h *Handler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, middleware.MsgAuthRequired)
		return
	}
	n := h.sessions.RevokeAllUserSessions(r.Context(), p.UserID)
	if token := middleware.BearerToken(r); token != "" {
		h.sessions.RevokeToken(r.Context(), token, "")
	}
	h.events.LogEvent(r.Context(), clientEvent(r, audit.Event{
		Type:     auditdomain.EventSessionsRevoked,
		UserID:   p.UserID,
		Metadata: map[string]any{"count": n},
	}))
	writeOK(w, revokeAllResponse{Success: true, Revoked: n})
}
