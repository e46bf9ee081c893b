// Package authctx carries the authenticated principal through a request context.
// It is shared by the HTTP middleware and the gRPC interceptors.
package authctx

import (
	"context"
	"slices"

	"portfolio-cms/backend/internal/security"
)

type contextKey struct{ name string }

var principalKey = contextKey{"principal"}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID      string
	Role        string
	SessionID   string
	Permissions []string
	// IPAddress is the address bound into the access token.
	IPAddress string
}

// FromClaims builds a Principal from validated access token claims.
func FromClaims(c *security.AccessClaims) Principal {
	return Principal{
		UserID:      c.UserID,
		Role:        c.Role,
		SessionID:   c.SessionID,
		Permissions: slices.Clone(c.Permissions),
		IPAddress:   c.IPAddress,
	}
}

// HasPermission reports whether p was granted perm. The "admin" role holds every permission.
func (p Principal) HasPermission(perm string) bool {
	return p.Role == "admin" || slices.Contains(p.Permissions, perm)
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal from ctx and true if set; otherwise the zero value and false.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// UserID returns the authenticated user id from ctx and true if set.
func UserID(ctx context.Context) (string, bool) {
	p, ok := PrincipalFrom(ctx)
	return p.UserID, ok && p.UserID != ""
}

// SessionID returns the session id from ctx and true if set.
func SessionID(ctx context.Context) (string, bool) {
	p, ok := PrincipalFrom(ctx)
	return p.SessionID, ok && p.SessionID != ""
}
