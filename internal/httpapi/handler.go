// Package httpapi exposes the auth endpoints of the admin API over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"portfolio-cms/backend/internal/audit"
	"portfolio-cms/backend/internal/authctx"
	"portfolio-cms/backend/internal/httpapi/middleware"
	"portfolio-cms/backend/internal/security"
	"portfolio-cms/backend/internal/session/domain"
	"portfolio-cms/backend/internal/twofactor"
	userrepo "portfolio-cms/backend/internal/user/repository"
)

const maxBodyBytes = 64 << 10

// SessionManager is the session service surface the handlers use.
type SessionManager interface {
	GenerateTokenPair(ctx context.Context, p domain.Principal, device security.DeviceInfo) (*domain.TokenPair, error)
	ValidateAccessToken(ctx context.Context, token string, device *security.DeviceInfo) *security.AccessClaims
	RefreshAccessToken(ctx context.Context, refreshToken string, device security.DeviceInfo) *domain.TokenPair
	RevokeToken(ctx context.Context, token, sessionID string) bool
	RevokeAllUserSessions(ctx context.Context, userID string) int
	GetActiveSessions(ctx context.Context, userID string) []domain.Summary
	ExtractPayload(token string) *security.AccessClaims
	VerifiedPayload(token string) *security.AccessClaims
}

// PasswordVerifier checks a password against its stored hash and salt.
type PasswordVerifier interface {
	VerifyPassword(password, hash, salt string) bool
}

// HealthCheck is one readiness check, e.g. a DB ping.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators of Handler. Events and Logger may be nil.
type Deps struct {
	Sessions  SessionManager
	TwoFactor *twofactor.Service
	Users     userrepo.Repository
	Passwords PasswordVerifier
	Events    audit.EventLogger
	Logger    *zap.Logger
	// Checks run on /healthz, keyed by name.
	Checks map[string]HealthCheck
}

// Handler serves the auth endpoints.
type Handler struct {
	sessions  SessionManager
	twoFactor *twofactor.Service
	users     userrepo.Repository
	passwords PasswordVerifier
	events    audit.EventLogger
	logger    *zap.Logger
	checks    map[string]HealthCheck
}

func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Events == nil {
		d.Events = audit.Nop{}
	}
	return &Handler{
		sessions:  d.Sessions,
		twoFactor: d.TwoFactor,
		users:     d.Users,
		passwords: d.Passwords,
		events:    d.Events,
		logger:    d.Logger.With(zap.String("component", "httpapi")),
		checks:    d.Checks,
	}
}

var errBadBody = errors.New("invalid request body")

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errBadBody
	}
	return nil
}

// principal returns the caller set by the auth middleware.
func principal(r *http.Request) (authctx.Principal, bool) {
	p, ok := authctx.PrincipalFrom(r.Context())
	return p, ok && p.UserID != ""
}

// clientEvent fills the request-derived fields of an event.
func clientEvent(r *http.Request, e audit.Event) audit.Event {
	e.IP = middleware.ClientIP(r)
	e.UserAgent = r.Header.Get("User-Agent")
	return e
}

func writeOK(w http.ResponseWriter, v any) {
	middleware.WriteJSON(w, http.StatusOK, v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	middleware.WriteError(w, status, msg)
}
