package interceptors

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"portfolio-cms/backend/internal/authctx"
)

// LoggingUnary returns a unary server interceptor that logs each RPC with its
// status code and duration. skipMethods is the set of full method names not to
// log (e.g. health checks). Failed RPCs other than client errors log at Warn.
func LoggingUnary(logger *zap.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", ClientIP(ctx)),
		}
		if uid, ok := authctx.UserID(ctx); ok {
			fields = append(fields, zap.String("user_id", uid))
		}
		switch code {
		case codes.OK, codes.Canceled, codes.InvalidArgument, codes.NotFound,
			codes.Unauthenticated, codes.PermissionDenied, codes.AlreadyExists:
			logger.Info("grpc request", fields...)
		default:
			logger.Warn("grpc request", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}
