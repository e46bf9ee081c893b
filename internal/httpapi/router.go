package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"portfolio-cms/backend/internal/audit"
	"portfolio-cms/backend/internal/httpapi/middleware"
)

// RouterConfig wires the middleware around the handlers.
type RouterConfig struct {
	Auth *middleware.Authenticator
	// LoginLimiter guards login and refresh; APILimiter everything else under /api.
	LoginLimiter middleware.Allower
	APILimiter   middleware.Allower
	Events       audit.EventLogger
	Logger       *zap.Logger
	// ServiceName names the otelhttp spans.
	ServiceName string
}

// NewRouter returns the HTTP handler of the auth API.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "portfolio-cms"
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders(middleware.DefaultSecurityHeaders))

	r.Get("/healthz", h.Health)

	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.LoginLimiter, "login", cfg.Events, cfg.Logger))
			r.Use(cfg.Auth.Screen)
			r.Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.APILimiter, "api", cfg.Events, cfg.Logger))
			r.With(cfg.Auth.Screen).Post("/logout", h.Logout)

			r.Group(func(r chi.Router) {
				r.Use(cfg.Auth.Require)
				r.Get("/sessions", h.ListSessions)
				r.Delete("/sessions", h.RevokeSessions)
				r.Route("/2fa", func(r chi.Router) {
					r.Post("/setup", h.SetupTwoFactor)
					r.Post("/verify-setup", h.VerifySetup)
					r.Post("/verify", h.VerifyTwoFactor)
					r.Post("/backup-codes", h.RegenerateBackupCodes)
					r.Post("/disable", h.DisableTwoFactor)
					r.Post("/emergency-code", h.IssueEmergencyCode)
				})
			})
		})
	})

	return otelhttp.NewHandler(r, cfg.ServiceName,
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}
