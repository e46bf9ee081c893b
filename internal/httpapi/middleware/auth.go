package middleware

import (
	"context"
	"mime"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"portfolio-cms/backend/internal/abuse"
	"portfolio-cms/backend/internal/audit"
	"portfolio-cms/backend/internal/audit/domain"
	"portfolio-cms/backend/internal/authctx"
	"portfolio-cms/backend/internal/security"
)

// TokenValidator is the slice of the session service the middleware needs.
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string, device *security.DeviceInfo) *security.AccessClaims
}

// AbuseChecker screens a request before any token work.
type AbuseChecker interface {
	Check(ctx context.Context, req abuse.Request) abuse.Decision
}

// AuthOptions tune the Authenticator.
type AuthOptions struct {
	// StrictIP rejects tokens presented from an address other than the one they were issued to.
	StrictIP bool
	// HoneypotField is the hidden form field name; the X-Honeypot header is always checked.
	HoneypotField string
}

// Authenticator guards routes with abuse screening and bearer token validation.
type Authenticator struct {
	tokens   TokenValidator
	checker  AbuseChecker
	events   audit.EventLogger
	logger   *zap.Logger
	strictIP bool
	honeypot string
}

// NewAuthenticator returns an Authenticator. checker may be nil to skip abuse screening.
func NewAuthenticator(tokens TokenValidator, checker AbuseChecker, events audit.EventLogger, logger *zap.Logger, opts AuthOptions) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = audit.Nop{}
	}
	return &Authenticator{
		tokens:   tokens,
		checker:  checker,
		events:   events,
		logger:   logger.With(zap.String("component", "auth_middleware")),
		strictIP: opts.StrictIP,
		honeypot: opts.HoneypotField,
	}
}

// rejection is a short-circuit response from one of the checks.
type rejection struct {
	status int
	msg    string
}

// Screen runs only the abuse checks. Used on public endpoints such as login.
func (a *Authenticator) Screen(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rej *rejection
		if !a.guard(w, r, func() {
			rej = a.screen(r, ClientIP(r))
		}) {
			return
		}
		if rej != nil {
			WriteError(w, rej.status, rej.msg)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Require rejects the request unless it passes the abuse checks and carries a
// valid access token. On success the principal is in the request context.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			rej *rejection
			ctx context.Context
		)
		if !a.guard(w, r, func() {
			ctx, rej = a.authenticate(r)
		}) {
			return
		}
		if rej != nil {
			WriteError(w, rej.status, rej.msg)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// guard runs fn and turns a panic into a 500. It reports whether fn completed.
func (a *Authenticator) guard(w http.ResponseWriter, r *http.Request, fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("panic in auth middleware",
				zap.Any("error", rec),
				zap.ByteString("stack", debug.Stack()),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path))
			WriteError(w, http.StatusInternalServerError, MsgAuthError)
			ok = false
		}
	}()
	fn()
	return true
}

func (a *Authenticator) authenticate(r *http.Request) (context.Context, *rejection) {
	ctx := r.Context()
	ip := ClientIP(r)
	ua := r.Header.Get("User-Agent")

	if rej := a.screen(r, ip); rej != nil {
		return nil, rej
	}

	token := BearerToken(r)
	if token == "" {
		return nil, &rejection{http.StatusUnauthorized, MsgAuthRequired}
	}

	device := DeviceInfo(r, ip)
	claims := a.tokens.ValidateAccessToken(ctx, token, &device)
	if claims == nil {
		a.events.LogEvent(ctx, audit.Event{
			Type:      domain.EventTokenInvalid,
			IP:        ip,
			UserAgent: ua,
			Metadata:  map[string]any{"path": r.URL.Path, "method": r.Method},
		})
		return nil, &rejection{http.StatusUnauthorized, MsgInvalidToken}
	}

	if a.strictIP && claims.IPAddress != ip {
		a.events.LogEvent(ctx, audit.Event{
			Type:      domain.EventSuspiciousActivity,
			UserID:    claims.UserID,
			IP:        ip,
			UserAgent: ua,
			Metadata: map[string]any{
				"reason":    "ip_mismatch",
				"tokenIp":   claims.IPAddress,
				"requestIp": ip,
				"sessionId": claims.SessionID,
			},
		})
		return nil, &rejection{http.StatusForbidden, MsgAccessDenied}
	}

	return authctx.WithPrincipal(ctx, authctx.FromClaims(claims)), nil
}

// screen returns a 403 rejection if the abuse policy denies the request.
func (a *Authenticator) screen(r *http.Request, ip string) *rejection {
	if a.checker == nil {
		return nil
	}
	ua := r.Header.Get("User-Agent")
	decision := a.checker.Check(r.Context(), abuse.Request{
		IP:        ip,
		UserAgent: ua,
		Country:   r.Header.Get("CF-IPCountry"),
		Honeypot:  a.honeypotValue(r),
	})
	if decision.Allowed {
		return nil
	}
	a.events.LogEvent(r.Context(), audit.Event{
		Type:      domain.EventSuspiciousActivity,
		IP:        ip,
		UserAgent: ua,
		Metadata: map[string]any{
			"reasons": decision.Reasons,
			"path":    r.URL.Path,
		},
	})
	return &rejection{http.StatusForbidden, MsgAccessDenied}
}

// honeypotValue reads the X-Honeypot header, then the configured form field of
// url-encoded and multipart bodies.
func (a *Authenticator) honeypotValue(r *http.Request) string {
	if v := r.Header.Get("X-Honeypot"); v != "" {
		return v
	}
	if a.honeypot == "" || r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	switch mt {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return ""
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return ""
		}
	default:
		return ""
	}
	return r.PostForm.Get(a.honeypot)
}
