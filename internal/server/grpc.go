package server

import (
	"context"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"portfolio-cms/backend/internal/audit"
	"portfolio-cms/backend/internal/server/interceptors"
	"portfolio-cms/backend/internal/session/domain"
)

// Sessions is the part of the session service the gRPC API needs.
type Sessions interface {
	interceptors.TokenValidator
	GetActiveSessions(ctx context.Context, userID string) []domain.Summary
	RevokeAllUserSessions(ctx context.Context, userID string) int
	RevokeToken(ctx context.Context, token, sessionID string) bool
}

// Deps holds the dependencies of the gRPC server.
type Deps struct {
	Sessions Sessions
	// Events receives TOKEN_INVALID and SESSIONS_REVOKED events. Nil discards them.
	Events audit.EventLogger
	Logger *zap.Logger
	// Health is the standard health service; NewServer creates one when nil.
	Health *health.Server
	// Checker screens every protected call before its token is read. Nil skips screening.
	Checker interceptors.AbuseChecker
	// StrictIP rejects tokens used from an address other than the one they were issued to.
	StrictIP bool
}

// publicMethods do not require a Bearer token.
var publicMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// NewServer returns a gRPC server with auth and logging interceptors, OTel
// instrumentation and every service registered.
func NewServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	if deps.Events == nil {
		deps.Events = audit.Nop{}
	}
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		// Auth runs first so the logger sees the principal. Rejected calls
		// show up as audit events instead.
		grpc.ChainUnaryInterceptor(
			interceptors.AuthUnary(deps.Sessions, publicMethods, deps.Events, interceptors.AuthOptions{
				Checker:  deps.Checker,
				StrictIP: deps.StrictIP,
			}),
			interceptors.LoggingUnary(deps.Logger, publicMethods),
		),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers the health and session services.
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	if deps.Health == nil {
		deps.Health = health.NewServer()
	}
	if deps.Events == nil {
		deps.Events = audit.Nop{}
	}
	healthpb.RegisterHealthServer(s, deps.Health)
	RegisterSessionServiceServer(s, &sessionServer{sessions: deps.Sessions, events: deps.Events})
}
