package interceptors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"portfolio-cms/backend/internal/abuse"
	"portfolio-cms/backend/internal/audit"
	"portfolio-cms/backend/internal/audit/domain"
	"portfolio-cms/backend/internal/authctx"
	"portfolio-cms/backend/internal/security"
)

// TokenValidator checks an access token against the session store and the caller's device.
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string, device *security.DeviceInfo) *security.AccessClaims
}

// AbuseChecker screens a call before any token work.
type AbuseChecker interface {
	Check(ctx context.Context, req abuse.Request) abuse.Decision
}

// AuthOptions tune AuthUnary.
type AuthOptions struct {
	// Checker screens protected calls by IP, user agent, country and honeypot. Nil skips screening.
	Checker AbuseChecker
	// StrictIP rejects tokens presented from an address other than the one they were issued to.
	StrictIP bool
}

// AuthUnary returns a unary server interceptor that validates the Bearer access
// token from gRPC metadata and puts the caller's principal in the context.
// publicMethods is the set of full method names that do not require a token;
// an invalid token on a public method is ignored and public methods are not
// screened. Protected calls go through the abuse checker first. Rejections are
// recorded as TOKEN_INVALID or SUSPICIOUS_ACTIVITY events when events is non-nil.
func AuthUnary(tokens TokenValidator, publicMethods map[string]bool, events audit.EventLogger, opts AuthOptions) grpc.UnaryServerInterceptor {
	if events == nil {
		events = audit.Nop{}
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		token := BearerToken(ctx)
		public := publicMethods[info.FullMethod]
		ip := ClientIP(ctx)
		device := DeviceInfo(ctx, ip)

		if !public && opts.Checker != nil {
			decision := opts.Checker.Check(ctx, abuse.Request{
				IP:        ip,
				UserAgent: device.UserAgent,
				Country:   incomingValue(ctx, "cf-ipcountry"),
				Honeypot:  incomingValue(ctx, "x-honeypot"),
			})
			if !decision.Allowed {
				events.LogEvent(ctx, audit.Event{
					Type:      domain.EventSuspiciousActivity,
					IP:        ip,
					UserAgent: device.UserAgent,
					Metadata: map[string]any{
						"reasons": decision.Reasons,
						"method":  info.FullMethod,
					},
				})
				return nil, status.Error(codes.PermissionDenied, "access denied")
			}
		}

		if token == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		claims := tokens.ValidateAccessToken(ctx, token, &device)
		if claims == nil {
			if public {
				return handler(ctx, req)
			}
			events.LogEvent(ctx, audit.Event{
				Type:      domain.EventTokenInvalid,
				IP:        ip,
				UserAgent: device.UserAgent,
				Metadata:  map[string]any{"method": info.FullMethod},
			})
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		if opts.StrictIP && !public && claims.IPAddress != ip {
			events.LogEvent(ctx, audit.Event{
				Type:      domain.EventSuspiciousActivity,
				UserID:    claims.UserID,
				IP:        ip,
				UserAgent: device.UserAgent,
				Metadata: map[string]any{
					"reason":    "ip_mismatch",
					"tokenIp":   claims.IPAddress,
					"requestIp": ip,
					"sessionId": claims.SessionID,
					"method":    info.FullMethod,
				},
			})
			return nil, status.Error(codes.PermissionDenied, "access denied")
		}

		return handler(authctx.WithPrincipal(ctx, authctx.FromClaims(claims)), req)
	}
}

func incomingValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	return first(md, key)
}
