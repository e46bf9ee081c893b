package server

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"portfolio-cms/backend/internal/audit"
	auditdomain "portfolio-cms/backend/internal/audit/domain"
	"portfolio-cms/backend/internal/authctx"
	"portfolio-cms/backend/internal/server/interceptors"
)

// Full method names of SessionService.
const (
	SessionServiceName                       = "portfolio.session.v1.SessionService"
	SessionService_ListSessions_FullMethod   = "/" + SessionServiceName + "/ListSessions"
	SessionService_RevokeSessions_FullMethod = "/" + SessionServiceName + "/RevokeSessions"
)

// SessionServiceServer lets an authenticated caller manage its own sessions.
// Responses are JSON-shaped Structs matching the HTTP API.
type SessionServiceServer interface {
	ListSessions(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	RevokeSessions(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// SessionService_ServiceDesc describes SessionService for grpc.ServiceRegistrar.
var SessionService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListSessions", Handler: listSessionsHandler},
		{MethodName: "RevokeSessions", Handler: revokeSessionsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "portfolio/session/v1/session.proto",
}

// RegisterSessionServiceServer registers srv with s.
func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&SessionService_ServiceDesc, srv)
}

func listSessionsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServiceServer).ListSessions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SessionService_ListSessions_FullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SessionServiceServer).ListSessions(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func revokeSessionsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServiceServer).RevokeSessions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SessionService_RevokeSessions_FullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SessionServiceServer).RevokeSessions(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// SessionServiceClient is the client side of SessionService.
type SessionServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSessionServiceClient returns a client calling over cc.
func NewSessionServiceClient(cc grpc.ClientConnInterface) *SessionServiceClient {
	return &SessionServiceClient{cc: cc}
}

func (c *SessionServiceClient) ListSessions(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SessionService_ListSessions_FullMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SessionServiceClient) RevokeSessions(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SessionService_RevokeSessions_FullMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type sessionServer struct {
	sessions Sessions
	events   audit.EventLogger
}

func (s *sessionServer) ListSessions(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	p, ok := authctx.PrincipalFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	return toStruct(map[string]any{
		"sessions":         s.sessions.GetActiveSessions(ctx, p.UserID),
		"currentSessionId": p.SessionID,
	})
}

func (s *sessionServer) RevokeSessions(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	p, ok := authctx.PrincipalFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	n := s.sessions.RevokeAllUserSessions(ctx, p.UserID)
	if token := interceptors.BearerToken(ctx); token != "" {
		s.sessions.RevokeToken(ctx, token, "")
	}
	s.events.LogEvent(ctx, audit.Event{
		Type:     auditdomain.EventSessionsRevoked,
		UserID:   p.UserID,
		IP:       interceptors.ClientIP(ctx),
		Metadata: map[string]any{"count": n, "transport": "grpc"},
	})
	return toStruct(map[string]any{"revoked": n})
}

// toStruct converts v to a Struct through its JSON encoding.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
